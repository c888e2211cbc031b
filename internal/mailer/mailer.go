// Package mailer sends transactional e-mail through SendGrid or Postmark.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/util"

	"github.com/keighl/postmark"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("mail delivery is not configured")

// Message is a single outgoing e-mail
type Message struct {
	ToAddress string
	ToName    string
	Subject   string
	Text      string
	HTML      string
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures the mail provider
type Config struct {
	Provider       string
	SendGridAPIKey string
	PostmarkToken  string
	FromAddress    string
	FromName       string
}

// New returns the sender for cfg, or a Disabled sender when no credentials are set
func New(cfg Config) Sender {
	switch {
	case cfg.Provider == "postmark" && cfg.PostmarkToken != "":
		return NewPostmark(cfg.PostmarkToken, cfg.FromAddress, cfg.FromName)
	case cfg.SendGridAPIKey != "":
		return NewSendGrid(cfg.SendGridAPIKey, cfg.FromAddress, cfg.FromName)
	}
	util.GetLogger().Warn("No mail provider configured, invoice e-mails are disabled")
	return Disabled{}
}

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid sends mail through the SendGrid v3 API
type SendGrid struct {
	client sendGridClient
	from   *mail.Email
	logger *zap.Logger
}

// NewSendGrid creates a SendGrid sender
func NewSendGrid(apiKey, fromAddress, fromName string) *SendGrid {
	return newSendGrid(sendgrid.NewSendClient(apiKey), fromAddress, fromName)
}

func newSendGrid(client sendGridClient, fromAddress, fromName string) *SendGrid {
	return &SendGrid{
		client: client,
		from:   mail.NewEmail(fromName, fromAddress),
		logger: util.GetLogger(),
	}
}

// Send delivers msg; any non-2xx response is an error
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	ctx, span := util.StartSpan(ctx, "SendGrid.Send")
	defer span.End()

	to := mail.NewEmail(msg.ToName, msg.ToAddress)
	message := mail.NewSingleEmail(s.from, msg.Subject, to, msg.Text, msg.HTML)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("sendgrid rejected message: status %d: %s", resp.StatusCode, resp.Body)
		util.RecordError(span, err)
		return err
	}

	s.logger.Info("Email sent",
		zap.String("provider", "sendgrid"),
		zap.String("subject", msg.Subject),
		zap.Int("status", resp.StatusCode))
	return nil
}

type postmarkClient interface {
	SendEmail(email postmark.Email) (postmark.EmailResponse, error)
}

// Postmark sends mail through the Postmark API
type Postmark struct {
	client postmarkClient
	from   string
	logger *zap.Logger
}

// NewPostmark creates a Postmark sender
func NewPostmark(serverToken, fromAddress, fromName string) *Postmark {
	return newPostmark(postmark.NewClient(serverToken, ""), fromAddress, fromName)
}

func newPostmark(client postmarkClient, fromAddress, fromName string) *Postmark {
	from := fromAddress
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromAddress)
	}
	return &Postmark{client: client, from: from, logger: util.GetLogger()}
}

// Send delivers msg. The Postmark client takes no context, so cancellation
// is only checked before the call.
func (p *Postmark) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to := msg.ToAddress
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.ToAddress)
	}

	resp, err := p.client.SendEmail(postmark.Email{
		From:     p.from,
		To:       to,
		Subject:  msg.Subject,
		HtmlBody: msg.HTML,
		TextBody: msg.Text,
		Tag:      "invoice",
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.ErrorCode != 0 {
		return fmt.Errorf("postmark rejected message: code %d: %s", resp.ErrorCode, resp.Message)
	}

	p.logger.Info("Email sent",
		zap.String("provider", "postmark"),
		zap.String("subject", msg.Subject),
		zap.String("message_id", resp.MessageID))
	return nil
}

// Disabled fails every send with ErrNotConfigured
type Disabled struct{}

func (Disabled) Send(context.Context, Message) error { return ErrNotConfigured }
