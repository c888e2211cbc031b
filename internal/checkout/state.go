package checkout

// State is a checkout lifecycle step
type State string

const (
	StateIdle                         State = "IDLE"
	StateReviewingCart                State = "REVIEWING_CART"
	StateEnteringDetails              State = "ENTERING_DETAILS"
	StateValidating                   State = "VALIDATING"
	StateSubmitting                   State = "SUBMITTING"
	StateAwaitingExternalConfirmation State = "AWAITING_EXTERNAL_CONFIRMATION"
	StateInvoiceReady                 State = "INVOICE_READY"
	StateCompleted                    State = "COMPLETED"
	StateCancelled                    State = "CANCELLED"
)

var transitions = map[State][]State{
	StateIdle:                         {StateReviewingCart},
	StateReviewingCart:                {StateEnteringDetails, StateCancelled},
	StateEnteringDetails:              {StateValidating, StateCancelled},
	StateValidating:                   {StateSubmitting, StateEnteringDetails, StateCancelled},
	StateSubmitting:                   {StateInvoiceReady, StateAwaitingExternalConfirmation, StateEnteringDetails, StateCancelled},
	StateAwaitingExternalConfirmation: {StateInvoiceReady, StateEnteringDetails, StateCancelled},
	StateInvoiceReady:                 {StateCompleted},
	StateCompleted:                    {StateIdle, StateReviewingCart},
	StateCancelled:                    {StateIdle, StateReviewingCart},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session has ended
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Cancellable reports whether Cancel is accepted in this state
func (s State) Cancellable() bool {
	return CanTransition(s, StateCancelled)
}

func (s State) String() string {
	return string(s)
}
