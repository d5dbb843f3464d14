package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"robolearn/internal/adapters/oauth"
	identityStore "robolearn/internal/adapters/storage/identity"
	"robolearn/internal/domain/account"
	domain "robolearn/internal/domain/identity"
)

// UserStore is the persistence the provider needs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, u domain.User) error
	Save(ctx context.Context, u domain.User) error
	MarkCodeUsed(ctx context.Context, jti string, now time.Time) (bool, error)
}

// OAuthClient is a third-party sign-in provider.
type OAuthClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (oauth.Profile, error)
}

// LinkMailer delivers an emailed link of the given type to user.
type LinkMailer func(ctx context.Context, typ CodeType, user domain.User, link string) error

// ProvisionFunc makes sure a user has an application profile. It runs after a user is
// created and again on every sign-in, so a failed first attempt is retried.
type ProvisionFunc func(ctx context.Context, user domain.User) error

// Options wires a LocalProvider.
type Options struct {
	Users                    UserStore
	Sessions                 SessionStore
	Codes                    *LinkCodes
	Mailer                   LinkMailer    // nil: links are only logged
	Provision                ProvisionFunc // nil: skipped
	OAuth                    map[string]OAuthClient
	RequireEmailConfirmation bool
	Now                      func() time.Time
	GenerateID               func() string
}

// LocalProvider is the in-process identity provider: accounts, passwords, emailed
// links, OAuth and sessions. User-facing failures are *domain.AuthError values.
type LocalProvider struct {
	opts Options
}

// NewLocalProvider creates a provider.
// PRE: Users, Sessions, Codes, Now and GenerateID are set
// POST: Returns a ready provider
func NewLocalProvider(opts Options) *LocalProvider {
	if opts.OAuth == nil {
		opts.OAuth = map[string]OAuthClient{}
	}
	return &LocalProvider{opts: opts}
}

// SignUp creates a password user carrying registration metadata.
// PRE: redirectBase is the absolute site origin used in emailed links
// POST: User stored; confirmation link sent when confirmation is required; provisioning attempted
func (p *LocalProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any, redirectBase string) (domain.User, error) {
	user, err := p.createPasswordUser(ctx, email, password, metadata, !p.opts.RequireEmailConfirmation)
	if err != nil {
		return domain.User{}, err
	}
	if !user.IsConfirmed() {
		p.sendLink(ctx, user, CodeSignup, redirectBase, "")
	}
	return user, nil
}

// CreateConfirmedUser creates a user whose email needs no confirmation, for administrative provisioning.
// PRE: password meets the minimum length
// POST: User stored and provisioned; no email sent
func (p *LocalProvider) CreateConfirmedUser(ctx context.Context, email, password string, metadata map[string]any) (domain.User, error) {
	return p.createPasswordUser(ctx, email, password, metadata, true)
}

func (p *LocalProvider) createPasswordUser(ctx context.Context, email, password string, metadata map[string]any, confirmed bool) (domain.User, error) {
	now := p.opts.Now()
	user := domain.User{
		ID:        p.opts.GenerateID(),
		Email:     domain.NormalizeEmail(email),
		Metadata:  metadata,
		CreatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return domain.User{}, domain.ErrInvalidEmailFormat
	}
	if len(password) < domain.MinPasswordLength {
		return domain.User{}, domain.ErrWeakPassword
	}
	if _, err := p.opts.Users.GetByEmail(ctx, user.Email); err == nil {
		return domain.User{}, domain.ErrUserAlreadyRegistered
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}
	if err := user.SetPassword(password); err != nil {
		return domain.User{}, err
	}
	if confirmed {
		user.Confirm(now)
	}
	if err := p.opts.Users.Create(ctx, user); err != nil {
		if errors.Is(err, identityStore.ErrEmailTaken) {
			return domain.User{}, domain.ErrUserAlreadyRegistered
		}
		return domain.User{}, err
	}
	slog.Info("auth_event", "event", "signup", "user_id", user.ID, "confirmed", user.IsConfirmed())
	p.provision(ctx, user)
	return user, nil
}

// SignInWithPassword checks credentials and starts a session.
// PRE: none
// POST: Session created, or ErrInvalidCredentials / ErrUserLocked / ErrEmailNotConfirmed
func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (domain.Session, error) {
	user, err := p.opts.Users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Info("auth_event", "event", "login_failed", "reason", "unknown_email")
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, err
	}
	now := p.opts.Now()
	if user.IsLocked(now) {
		slog.Warn("auth_event", "event", "login_locked", "user_id", user.ID)
		return domain.Session{}, domain.ErrUserLocked
	}
	if err := user.CheckPassword(password); err != nil {
		user.RecordFailedLogin(now)
		if err := p.opts.Users.Save(ctx, user); err != nil {
			return domain.Session{}, err
		}
		slog.Info("auth_event", "event", "login_failed", "user_id", user.ID, "failed_logins", user.FailedLogins)
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if p.opts.RequireEmailConfirmation && !user.IsConfirmed() {
		return domain.Session{}, domain.ErrEmailNotConfirmed
	}
	if user.FailedLogins > 0 {
		user.ResetFailedLogins()
		if err := p.opts.Users.Save(ctx, user); err != nil {
			return domain.Session{}, err
		}
	}
	return p.startSession(ctx, user, false, "password")
}

// SignInWithOTP emails a one-time sign-in link. Unknown emails succeed silently.
// PRE: redirectBase is the absolute site origin
// POST: Magic link sent to known users
func (p *LocalProvider) SignInWithOTP(ctx context.Context, email, redirectBase string) error {
	user, err := p.opts.Users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Info("auth_event", "event", "magic_link_unknown_email")
		return nil
	}
	if err != nil {
		return err
	}
	p.sendLink(ctx, user, CodeMagicLink, redirectBase, "")
	return nil
}

// ResetPasswordForEmail emails a recovery link that lands on /reset-password. Unknown emails succeed silently.
// PRE: redirectBase is the absolute site origin
// POST: Recovery link sent to known users
func (p *LocalProvider) ResetPasswordForEmail(ctx context.Context, email, redirectBase string) error {
	user, err := p.opts.Users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Info("auth_event", "event", "reset_unknown_email")
		return nil
	}
	if err != nil {
		return err
	}
	p.sendLink(ctx, user, CodeRecovery, redirectBase, "/reset-password")
	return nil
}

// ExchangeCodeForSession redeems a link code.
// Signup, magic-link and OAuth codes confirm the email; recovery codes start a recovery session.
// PRE: none
// POST: Code spent and session created, or ErrInvalidLink
func (p *LocalProvider) ExchangeCodeForSession(ctx context.Context, code string) (domain.Session, error) {
	claims, err := p.opts.Codes.Parse(code)
	if err != nil {
		slog.Info("auth_event", "event", "exchange_failed", "reason", err.Error())
		return domain.Session{}, domain.ErrInvalidLink
	}
	now := p.opts.Now()
	first, err := p.opts.Users.MarkCodeUsed(ctx, claims.ID, now)
	if err != nil {
		return domain.Session{}, err
	}
	if !first {
		slog.Info("auth_event", "event", "exchange_failed", "reason", "code_reused", "user_id", claims.Subject)
		return domain.Session{}, domain.ErrInvalidLink
	}
	user, err := p.opts.Users.GetByID(ctx, claims.Subject)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && user.Email != claims.Email) {
		return domain.Session{}, domain.ErrInvalidLink
	}
	if err != nil {
		return domain.Session{}, err
	}
	if !user.IsConfirmed() {
		user.Confirm(now)
		if err := p.opts.Users.Save(ctx, user); err != nil {
			return domain.Session{}, err
		}
		slog.Info("auth_event", "event", "email_confirmed", "user_id", user.ID)
	}
	return p.startSession(ctx, user, claims.Type == CodeRecovery, string(claims.Type))
}

// OAuthURL returns the provider's consent URL.
// PRE: state is an unguessable value the caller also stores in a cookie
// POST: Returns the URL or ErrProviderDisabled
func (p *LocalProvider) OAuthURL(provider, state string) (string, error) {
	client, ok := p.opts.OAuth[provider]
	if !ok {
		return "", domain.ErrProviderDisabled
	}
	return client.AuthCodeURL(state), nil
}

// OAuthEnabled reports whether a provider is configured.
func (p *LocalProvider) OAuthEnabled(provider string) bool {
	_, ok := p.opts.OAuth[provider]
	return ok
}

// SignInWithOAuth finishes an OAuth round trip. The user is found or created by verified
// email and a short-lived exchange code is returned for /auth/callback.
// PRE: code came from the provider redirect
// POST: Returns an oauth link code, or ErrProviderDisabled / ErrInvalidLink
func (p *LocalProvider) SignInWithOAuth(ctx context.Context, provider, code string) (string, error) {
	client, ok := p.opts.OAuth[provider]
	if !ok {
		return "", domain.ErrProviderDisabled
	}
	profile, err := client.Exchange(ctx, code)
	if err != nil {
		slog.Warn("auth_event", "event", "oauth_failed", "provider", provider, "error", err)
		return "", domain.ErrInvalidLink
	}

	user, err := p.opts.Users.GetByEmail(ctx, profile.Email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		now := p.opts.Now()
		user = domain.User{
			ID:        p.opts.GenerateID(),
			Email:     domain.NormalizeEmail(profile.Email),
			Metadata:  map[string]any{},
			CreatedAt: now,
		}
		if profile.Name != "" {
			user.Metadata[account.MetaFullName] = profile.Name
		}
		user.Confirm(now)
		if err := p.opts.Users.Create(ctx, user); err != nil {
			return "", err
		}
		slog.Info("auth_event", "event", "signup", "provider", provider, "user_id", user.ID)
		p.provision(ctx, user)
	case err != nil:
		return "", err
	}
	return p.opts.Codes.Issue(user.ID, user.Email, CodeOAuth, p.opts.GenerateID())
}

// GetSession resolves a session token.
// PRE: none
// POST: Returns the live session or ErrSessionMissing
func (p *LocalProvider) GetSession(ctx context.Context, token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, domain.ErrSessionMissing
	}
	s, ok, err := p.opts.Sessions.Get(ctx, token)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, domain.ErrSessionMissing
	}
	if s.IsExpired(p.opts.Now()) {
		p.opts.Sessions.Delete(ctx, token)
		return domain.Session{}, domain.ErrSessionMissing
	}
	return s, nil
}

// GetUser loads the user behind a session.
func (p *LocalProvider) GetUser(ctx context.Context, userID string) (domain.User, error) {
	return p.opts.Users.GetByID(ctx, userID)
}

// UpdatePassword sets a new password for the session's user.
// PRE: token names a live session
// POST: Password replaced and lockout cleared, or ErrWeakPassword / ErrSessionMissing
func (p *LocalProvider) UpdatePassword(ctx context.Context, token, newPassword string) error {
	s, err := p.GetSession(ctx, token)
	if err != nil {
		return err
	}
	if len(newPassword) < domain.MinPasswordLength {
		return domain.ErrWeakPassword
	}
	user, err := p.opts.Users.GetByID(ctx, s.UserID)
	if err != nil {
		return err
	}
	if err := user.SetPassword(newPassword); err != nil {
		return err
	}
	user.ResetFailedLogins()
	if err := p.opts.Users.Save(ctx, user); err != nil {
		return err
	}
	slog.Info("auth_event", "event", "password_updated", "user_id", user.ID, "recovery", s.Recovery)
	return nil
}

// SetPasswordByEmail replaces a user's password without a session, confirms the email and
// clears any lockout. Used by the admin CLI.
// PRE: none
// POST: Password replaced, or domain.ErrNotFound / ErrWeakPassword
func (p *LocalProvider) SetPasswordByEmail(ctx context.Context, email, newPassword string) error {
	if len(newPassword) < domain.MinPasswordLength {
		return domain.ErrWeakPassword
	}
	user, err := p.opts.Users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if err := user.SetPassword(newPassword); err != nil {
		return err
	}
	user.ResetFailedLogins()
	if !user.IsConfirmed() {
		user.Confirm(p.opts.Now())
	}
	if err := p.opts.Users.Save(ctx, user); err != nil {
		return err
	}
	slog.Info("auth_event", "event", "password_set_by_admin", "user_id", user.ID)
	return nil
}

// UpdateUserMetadata merges keys into the session user's metadata.
// PRE: token names a live session
// POST: Returns the updated user
func (p *LocalProvider) UpdateUserMetadata(ctx context.Context, token string, patch map[string]any) (domain.User, error) {
	s, err := p.GetSession(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	user, err := p.opts.Users.GetByID(ctx, s.UserID)
	if err != nil {
		return domain.User{}, err
	}
	user.MergeMetadata(patch)
	if err := p.opts.Users.Save(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// SignOut ends a session. Unknown tokens are not an error.
func (p *LocalProvider) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	slog.Info("auth_event", "event", "logout")
	return p.opts.Sessions.Delete(ctx, token)
}

func (p *LocalProvider) startSession(ctx context.Context, user domain.User, recovery bool, method string) (domain.Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return domain.Session{}, fmt.Errorf("generate session token: %w", err)
	}
	now := p.opts.Now()
	s := domain.Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Recovery:  recovery,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.SessionLifetime),
	}
	if err := p.opts.Sessions.Create(ctx, s); err != nil {
		return domain.Session{}, err
	}
	if _, ok := user.Metadata[domain.MetaFirstLoginAt]; !ok {
		user.MergeMetadata(map[string]any{domain.MetaFirstLoginAt: now.UTC().Format(time.RFC3339)})
		if err := p.opts.Users.Save(ctx, user); err != nil {
			slog.Warn("auth_event", "event", "first_login_not_recorded", "user_id", user.ID, "error", err)
		}
	}
	slog.Info("auth_event", "event", "login_success", "method", method, "user_id", user.ID, "recovery", recovery)
	p.provision(ctx, user)
	return s, nil
}

func (p *LocalProvider) provision(ctx context.Context, user domain.User) {
	if p.opts.Provision == nil {
		return
	}
	if err := p.opts.Provision(ctx, user); err != nil {
		slog.Warn("auth_event", "event", "provision_failed", "user_id", user.ID, "error", err)
	}
}

// sendLink issues a code and mails the callback link. Mail failures are logged, not returned.
func (p *LocalProvider) sendLink(ctx context.Context, user domain.User, typ CodeType, redirectBase, next string) {
	code, err := p.opts.Codes.Issue(user.ID, user.Email, typ, p.opts.GenerateID())
	if err != nil {
		slog.Error("auth_event", "event", "link_issue_failed", "type", string(typ), "error", err)
		return
	}
	link := CallbackLink(redirectBase, code, next)
	if p.opts.Mailer == nil {
		slog.Info("auth_event", "event", "link_not_mailed", "type", string(typ), "user_id", user.ID)
		return
	}
	if err := p.opts.Mailer(ctx, typ, user, link); err != nil {
		slog.Warn("auth_event", "event", "link_mail_failed", "type", string(typ), "user_id", user.ID, "error", err)
	}
}

// CallbackLink builds base/auth/callback?code=...&next=...
func CallbackLink(base, code, next string) string {
	q := url.Values{"code": {code}}
	if next != "" {
		q.Set("next", next)
	}
	return strings.TrimRight(base, "/") + "/auth/callback?" + q.Encode()
}
