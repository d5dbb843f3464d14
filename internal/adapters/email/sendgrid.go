package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender sends emails via the SendGrid v3 API.
type SendGridSender struct {
	client  *sendgrid.Client
	from    *sgmail.Email
	replyTo string
}

// NewSendGridSender creates a SendGrid-backed sender.
// PRE: apiKey is a valid SendGrid key; from parses as an RFC 5322 address
// POST: Returns a ready-to-use sender
func NewSendGridSender(apiKey, from, replyTo string) (*SendGridSender, error) {
	addr, err := parseAddress(from)
	if err != nil {
		return nil, err
	}
	return &SendGridSender{
		client:  sendgrid.NewSendClient(apiKey),
		from:    addr,
		replyTo: replyTo,
	}, nil
}

// Send sends a single email via SendGrid, one personalization per recipient list.
// PRE: req has at least one recipient and a subject
// POST: Email is accepted by SendGrid; returns the X-Message-Id header as the message ID
func (s *SendGridSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	from := s.from
	if req.From != "" {
		addr, err := parseAddress(req.From)
		if err != nil {
			return SendResult{}, err
		}
		from = addr
	}

	p := sgmail.NewPersonalization()
	for _, to := range req.To {
		p.AddTos(sgmail.NewEmail("", to))
	}
	m := sgmail.NewV3Mail()
	m.SetFrom(from)
	m.Subject = req.Subject
	m.AddPersonalizations(p)
	if req.Text != "" {
		m.AddContent(sgmail.NewContent("text/plain", req.Text))
	}
	m.AddContent(sgmail.NewContent("text/html", req.HTML))
	if replyTo := firstNonEmpty(req.ReplyTo, s.replyTo); replyTo != "" {
		m.SetReplyTo(sgmail.NewEmail("", replyTo))
	}

	res, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		slog.Error("sendgrid_send_failed", "error", err, "to", req.To, "subject", req.Subject)
		return SendResult{}, fmt.Errorf("sendgrid send failed: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		slog.Error("sendgrid_send_rejected", "status", res.StatusCode, "body", res.Body, "to", req.To)
		return SendResult{}, fmt.Errorf("sendgrid rejected message: status %d", res.StatusCode)
	}

	var id string
	if ids := res.Headers["X-Message-Id"]; len(ids) > 0 {
		id = ids[0]
	}
	slog.Info("sendgrid_sent", "message_id", id, "to", req.To, "subject", req.Subject)
	return SendResult{MessageID: id, SentAt: time.Now()}, nil
}

func parseAddress(s string) (*sgmail.Email, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", s, err)
	}
	return sgmail.NewEmail(addr.Name, addr.Address), nil
}
