// Package app assembles the stores, identity provider and notifier from Config.
// Both the HTTP server and the admin CLI start from here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"robolearn/internal/adapters/captcha"
	"robolearn/internal/adapters/email"
	identityAdapter "robolearn/internal/adapters/identity"
	"robolearn/internal/adapters/metrics"
	"robolearn/internal/adapters/oauth"
	"robolearn/internal/adapters/storage"
	accountStore "robolearn/internal/adapters/storage/account"
	approvalStore "robolearn/internal/adapters/storage/approval"
	identityStore "robolearn/internal/adapters/storage/identity"
	outboxStore "robolearn/internal/adapters/storage/outbox"
	"robolearn/internal/application/orchestrators"
	"robolearn/internal/config"
	"robolearn/internal/domain/identity"
	domainOutbox "robolearn/internal/domain/outbox"
)

// App is the wired application.
type App struct {
	Config    config.Config
	DB        *storage.TimedDB
	Collector *metrics.Collector

	Accounts  *accountStore.SQLiteStore
	Approvals *approvalStore.SQLiteStore
	Users     *identityStore.SQLiteStore
	Outbox    *outboxStore.SQLiteStore

	Sender   email.Sender
	Notify   func(ctx context.Context, input orchestrators.NotifyInput) error
	Identity *identityAdapter.LocalProvider
	Verifier captcha.Verifier // nil when the challenge is not configured

	closers []func() error
}

// Overrides replaces collaborators that tests or the CLI supply themselves.
type Overrides struct {
	Sender   email.Sender                 // nil: chosen from Config
	Sessions identityAdapter.SessionStore // nil: Redis when configured, else memory
	Now      func() time.Time             // nil: time.Now
}

// New opens and migrates the database, then wires every collaborator.
// PRE: cfg came from config.Load
// POST: Returns a ready App; Close releases the database and session store
func New(ctx context.Context, cfg config.Config, ov Overrides) (*App, error) {
	now := ov.Now
	if now == nil {
		now = time.Now
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	a := &App{Config: cfg, Collector: metrics.NewCollector()}
	a.DB = storage.NewTimedDB(db, a.Collector, cfg.SlowQueryMs)
	a.closers = append(a.closers, a.DB.Close)

	a.Accounts = accountStore.NewSQLiteStore(a.DB)
	a.Approvals = approvalStore.NewSQLiteStore(a.DB)
	a.Users = identityStore.NewSQLiteStore(a.DB)
	a.Outbox = outboxStore.NewSQLiteStore(a.DB)

	a.Sender = ov.Sender
	if a.Sender == nil {
		if a.Sender, err = newSender(cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	notifyDeps := orchestrators.NotifyDeps{Sender: a.Sender, Outbox: a.Outbox, GenerateID: uuid.NewString, Now: now}
	a.Notify = func(ctx context.Context, in orchestrators.NotifyInput) error {
		return orchestrators.ExecuteSendNotification(ctx, in, notifyDeps)
	}

	sessions := ov.Sessions
	if sessions == nil {
		if sessions, err = a.newSessionStore(ctx, now); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.ChallengeEnabled() {
		a.Verifier = captcha.NewRecaptchaVerifier(cfg.RecaptchaSecret)
	}

	a.Identity = identityAdapter.NewLocalProvider(identityAdapter.Options{
		Users:                    a.Users,
		Sessions:                 sessions,
		Codes:                    identityAdapter.NewLinkCodes([]byte(cfg.TokenSecret), now),
		Mailer:                   orchestrators.NewLinkMailer(notifyDeps),
		Provision:                a.provision(now),
		OAuth:                    oauthClients(cfg),
		RequireEmailConfirmation: cfg.RequireEmailConfirmation,
		Now:                      now,
		GenerateID:               uuid.NewString,
	})
	return a, nil
}

// SiteURL is the absolute base for emailed links when no request is at hand.
func (a *App) SiteURL() string {
	if a.Config.SiteURL != "" {
		return a.Config.SiteURL
	}
	addr := a.Config.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// OutboxProcessor returns a processor that retries queued emails with the configured sender.
func (a *App) OutboxProcessor() *orchestrators.OutboxProcessor {
	return orchestrators.NewOutboxProcessor(a.Outbox, map[string]orchestrators.ActionExecutor{
		domainOutbox.ActionTypeEmail: &orchestrators.EmailExecutor{Sender: a.Sender},
	}, time.Now)
}

// RawDB exposes the underlying pool for migrations.
func (a *App) RawDB() *sql.DB {
	return a.DB.RawDB()
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) provision(now func() time.Time) identityAdapter.ProvisionFunc {
	return func(ctx context.Context, u identity.User) error {
		_, err := orchestrators.ExecuteProvisionProfile(ctx, orchestrators.ProvisionProfileInput{
			UserID:   u.ID,
			Email:    u.Email,
			Metadata: u.Metadata,
		}, orchestrators.ProvisionProfileDeps{
			Accounts:   a.Accounts,
			Approvals:  a.Approvals,
			Users:      a.Users,
			Notify:     a.Notify,
			SiteURL:    a.SiteURL(),
			GenerateID: uuid.NewString,
			Now:        now,
		})
		return err
	}
}

// newSessionStore uses Redis when configured; the in-memory store is swept every few minutes
// until Close.
func (a *App) newSessionStore(ctx context.Context, now func() time.Time) (identityAdapter.SessionStore, error) {
	if a.Config.RedisURL == "" {
		ms := identityAdapter.NewMemorySessionStore(now)
		stopCh := make(chan struct{})
		ms.StartSweeper(5*time.Minute, stopCh)
		a.closers = append(a.closers, func() error { close(stopCh); return nil })
		return ms, nil
	}
	rs, err := identityAdapter.NewRedisSessionStore(ctx, a.Config.RedisURL, now)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.closers = append(a.closers, rs.Close)
	slog.Info("session store configured", "backend", "redis")
	return rs, nil
}

// newSender prefers Resend, then SendGrid; without either, mail is logged and dropped.
func newSender(cfg config.Config) (email.Sender, error) {
	switch {
	case cfg.ResendKey != "":
		slog.Info("email sender configured", "provider", "resend")
		return email.NewResendSender(cfg.ResendKey, cfg.EmailFrom, cfg.ReplyTo), nil
	case cfg.SendGridKey != "":
		slog.Info("email sender configured", "provider", "sendgrid")
		return email.NewSendGridSender(cfg.SendGridKey, cfg.EmailFrom, cfg.ReplyTo)
	}
	if cfg.IsProduction() {
		slog.Warn("email delivery is disabled in production: set ROBOLEARN_RESEND_KEY or ROBOLEARN_SENDGRID_KEY")
	}
	return email.NewNoopSender(), nil
}

func oauthClients(cfg config.Config) map[string]identityAdapter.OAuthClient {
	clients := map[string]identityAdapter.OAuthClient{}
	if !cfg.GoogleEnabled() {
		return clients
	}
	if cfg.SiteURL == "" {
		slog.Warn("google sign-in disabled: ROBOLEARN_SITE_URL is required for the callback URL")
		return clients
	}
	clients[oauth.ProviderGoogle] = oauth.NewGoogle(oauth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.SiteURL + "/auth/google/callback",
	})
	return clients
}
