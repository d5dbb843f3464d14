package orchestrators

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"robolearn/internal/adapters/email"
	identityAdapter "robolearn/internal/adapters/identity"
	"robolearn/internal/domain/account"
	"robolearn/internal/domain/identity"
	domainOutbox "robolearn/internal/domain/outbox"
)

// OutboxStoreForNotify is the outbox surface notifications need.
type OutboxStoreForNotify interface {
	Save(ctx context.Context, e domainOutbox.Entry) error
}

// NotifyDeps holds dependencies for sending notification emails.
type NotifyDeps struct {
	Sender     email.Sender
	Outbox     OutboxStoreForNotify // nil: failed sends are only logged
	GenerateID func() string
	Now        func() time.Time
}

// NotifyInput names a template, its data and the recipient.
type NotifyInput struct {
	To       string
	Template string
	Data     any
}

// EmailPayload is the outbox JSON for a rendered email awaiting delivery.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// ExecuteSendNotification renders and sends one email. A failed send is queued in the
// outbox for background retry, so only render and queue failures are returned.
// PRE: input.Template is an email template name, input.To is non-empty
// POST: Email sent, or an outbox entry exists for it
func ExecuteSendNotification(ctx context.Context, input NotifyInput, deps NotifyDeps) error {
	msg, err := email.Render(input.Template, input.Data)
	if err != nil {
		return err
	}
	res, sendErr := deps.Sender.Send(ctx, msg.Request(input.To))
	if sendErr == nil {
		slog.Info("email_event", "event", "sent", "template", input.Template, "message_id", res.MessageID)
		return nil
	}

	slog.Warn("email_event", "event", "send_failed", "template", input.Template, "error", sendErr)
	if deps.Outbox == nil {
		return fmt.Errorf("send %s: %w", input.Template, sendErr)
	}
	payload, err := json.Marshal(EmailPayload{To: input.To, Subject: msg.Subject, HTML: msg.HTML, Text: msg.Text})
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}
	entry := domainOutbox.Entry{
		ID:         deps.GenerateID(),
		ActionType: domainOutbox.ActionTypeEmail,
		Payload:    string(payload),
		Status:     domainOutbox.StatusPending,
		CreatedAt:  deps.Now(),
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := deps.Outbox.Save(ctx, entry); err != nil {
		return fmt.Errorf("queue %s after send failure: %w", input.Template, err)
	}
	slog.Info("email_event", "event", "queued", "template", input.Template, "outbox_id", entry.ID)
	return nil
}

// linkTemplates maps link code types to email templates.
var linkTemplates = map[identityAdapter.CodeType]string{
	identityAdapter.CodeSignup:    email.TemplateConfirmSignup,
	identityAdapter.CodeMagicLink: email.TemplateMagicLink,
	identityAdapter.CodeRecovery:  email.TemplateResetPassword,
}

// ExecuteSendAuthLink emails a confirmation, magic or recovery link.
// PRE: typ has an email template (OAuth codes are never mailed)
// POST: Email sent or queued
func ExecuteSendAuthLink(ctx context.Context, typ identityAdapter.CodeType, user identity.User, link string, deps NotifyDeps) error {
	tmpl, ok := linkTemplates[typ]
	if !ok {
		return fmt.Errorf("no email template for link type %q", typ)
	}
	name, _ := user.Metadata[account.MetaFullName].(string)
	if name == "" {
		name, _, _ = strings.Cut(user.Email, "@")
	}
	return ExecuteSendNotification(ctx, NotifyInput{
		To:       user.Email,
		Template: tmpl,
		Data:     struct{ Name, Link string }{Name: name, Link: link},
	}, deps)
}

// NewLinkMailer adapts ExecuteSendAuthLink to the identity provider's mailer hook.
func NewLinkMailer(deps NotifyDeps) identityAdapter.LinkMailer {
	return func(ctx context.Context, typ identityAdapter.CodeType, user identity.User, link string) error {
		return ExecuteSendAuthLink(ctx, typ, user, link, deps)
	}
}
