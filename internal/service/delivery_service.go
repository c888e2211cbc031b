package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/invoice"
	"storefront/internal/mailer"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DeliveryService e-mails finalized invoices
type DeliveryService struct {
	sender   mailer.Sender
	validate *validator.Validate
	now      func() time.Time
	logger   *zap.Logger
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(sender mailer.Sender) *DeliveryService {
	return &DeliveryService{
		sender:   sender,
		validate: validator.New(),
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Deliver renders req and sends it to the customer. A mail failure is
// reported in the response, not as an error.
func (ds *DeliveryService) Deliver(ctx context.Context, req models.DeliveryRequest) (models.DeliveryResponse, error) {
	ctx, span := util.StartSpan(ctx, "DeliveryService.Deliver")
	defer span.End()

	if err := ds.validate.Struct(req); err != nil {
		return models.DeliveryResponse{Error: "invalid delivery request: " + err.Error()}, nil
	}

	view := invoice.ViewFromDelivery(req, ds.now())
	html, err := invoice.RenderHTML(view)
	if err != nil {
		util.RecordError(span, err)
		return models.DeliveryResponse{}, fmt.Errorf("failed to render invoice: %w", err)
	}

	subject := "Your invoice"
	if view.ID != "" {
		subject = "Invoice " + view.ID
	}

	err = ds.sender.Send(ctx, mailer.Message{
		ToAddress: req.CustomerEmail,
		ToName:    req.CustomerName,
		Subject:   subject,
		Text:      invoice.RenderText(view),
		HTML:      html,
	})
	if err != nil {
		ds.logger.Warn("Invoice e-mail not sent",
			zap.String("invoice_id", view.ID),
			zap.Error(err))
		return models.DeliveryResponse{Error: err.Error()}, nil
	}

	ds.logger.Info("Invoice e-mailed", zap.String("invoice_id", view.ID))
	return models.DeliveryResponse{Success: true, EmailSent: true}, nil
}
