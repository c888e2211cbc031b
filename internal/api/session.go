package api

import (
	"context"
	"sync"
	"time"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/notify"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one shopper's browsing state: a catalog snapshot, a cart and
// the checkout running over it
type Session struct {
	ID       string
	UserID   string
	Checkout *checkout.Machine
	Notices  *notify.Buffer

	mu       sync.Mutex
	catalog  catalog.Snapshot
	loaded   bool
	lastSeen time.Time
}

// Snapshot returns the session's catalog, loading it on first use, after a
// degraded load or when refresh is set
func (s *Session) Snapshot(ctx context.Context, src catalog.ProductSource, timeout time.Duration, refresh bool) catalog.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded || s.catalog.Degraded || refresh {
		s.catalog = catalog.Load(ctx, src, timeout, s.Notices)
		s.loaded = true
	}
	return s.catalog
}

type profileResolver interface {
	Resolve(ctx context.Context, userID string) (*checkout.CustomerProfile, error)
}

// Sessions is the registry of live shopper sessions
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idle     time.Duration
	profiles profileResolver
	machine  checkout.Config
	now      func() time.Time
	logger   *zap.Logger
}

// NewSessions creates a registry. machine is the template every session's
// checkout is built from.
func NewSessions(machine checkout.Config, profiles profileResolver, idle time.Duration) *Sessions {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Sessions{
		sessions: make(map[string]*Session),
		idle:     idle,
		profiles: profiles,
		machine:  machine,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Get returns the session for id, creating a new one when id is unknown.
// A session is bound to the user it was created for.
func (r *Sessions) Get(ctx context.Context, id, userID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok && s.UserID == userID {
		s.lastSeen = r.now()
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	var profile *checkout.CustomerProfile
	if userID != "" && r.profiles != nil {
		p, err := r.profiles.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	s = &Session{
		ID:      uuid.New().String(),
		UserID:  userID,
		Notices: &notify.Buffer{},
	}
	cfg := r.machine
	cfg.Profile = profile
	cfg.Sink = notify.LogSink{Logger: r.logger, Next: s.Notices}
	s.Checkout = checkout.NewMachine(cart.New(), cfg)

	r.mu.Lock()
	s.lastSeen = r.now()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Debug("Session created", zap.String("session_id", s.ID), zap.Bool("signed_in", profile != nil))
	return s, nil
}

// Len returns the number of live sessions
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle longer than the configured timeout. An
// abandoned checkout is cancelled so a pending card payment releases its
// stock.
func (r *Sessions) Sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.idle)

	var expired []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		if s.Checkout.State().Cancellable() {
			if err := s.Checkout.Cancel(ctx); err != nil {
				r.logger.Warn("Failed to cancel idle checkout", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
	}
	if len(expired) > 0 {
		r.logger.Info("Expired idle sessions", zap.Int("count", len(expired)))
	}
}
