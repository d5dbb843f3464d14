package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"robolearn/internal/adapters/captcha"
	"robolearn/internal/domain/account"
	"robolearn/internal/domain/identity"
	"robolearn/internal/domain/registration"
)

// RegisterSuccessMessage is shown after a successful registration and carried to the login page.
const RegisterSuccessMessage = "Account created successfully! Please check your email to verify your account."

// RegisterRedirectDelay is how long the success message stays before moving to the login page.
const RegisterRedirectDelay = 3 * time.Second

// ChallengeActionRegister is the reCAPTCHA action name for the registration form.
const ChallengeActionRegister = "register"

// IdentityForRegister is the identity provider surface registration needs.
type IdentityForRegister interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any, redirectBase string) (identity.User, error)
}

// RegisterInput carries the submitted form and request context.
type RegisterInput struct {
	Form           registration.Form
	ChallengeToken string
	RemoteIP       string
	RedirectBase   string // absolute origin for emailed links
}

// RegisterDeps holds dependencies for Register.
type RegisterDeps struct {
	Identity IdentityForRegister
	Verifier captcha.Verifier // nil disables the bot challenge
}

// RegisterResult tells the caller what to show next.
type RegisterResult struct {
	UserID        string
	Message       string
	RedirectTo    string
	RedirectAfter time.Duration
}

// ExecuteRegister validates the form locally, runs the best-effort bot challenge and
// creates the identity with registration metadata.
// PRE: none
// POST: On success an identity exists (profile provisioning is triggered by the provider).
// Errors: *registration.ValidationError for local checks (no provider call made),
// *identity.AuthError for provider and challenge rejections, anything else is unexpected.
func ExecuteRegister(ctx context.Context, input RegisterInput, deps RegisterDeps) (RegisterResult, error) {
	form := input.Form
	form.Normalize()
	if err := form.Validate(); err != nil {
		slog.Info("auth_event", "event", "register_invalid", "reason", err.Error())
		return RegisterResult{}, err
	}

	if err := checkChallenge(ctx, input, deps.Verifier); err != nil {
		return RegisterResult{}, err
	}

	meta := form.Metadata()
	user, err := deps.Identity.SignUp(ctx, form.Email, form.Password, account.EncodeMetadata(meta), input.RedirectBase)
	if err != nil {
		var authErr *identity.AuthError
		if errors.As(err, &authErr) {
			slog.Info("auth_event", "event", "register_rejected", "reason", authErr.Message)
			return RegisterResult{}, authErr
		}
		return RegisterResult{}, fmt.Errorf("sign up: %w", err)
	}

	slog.Info("auth_event", "event", "register", "user_id", user.ID, "account_type", string(meta.AccountType()))
	return RegisterResult{
		UserID:        user.ID,
		Message:       RegisterSuccessMessage,
		RedirectTo:    "/login?message=" + url.QueryEscape(RegisterSuccessMessage),
		RedirectAfter: RegisterRedirectDelay,
	}, nil
}

// checkChallenge only blocks when the challenge provider explicitly rejects the token.
// A missing token or an unreachable provider lets registration continue.
func checkChallenge(ctx context.Context, input RegisterInput, verifier captcha.Verifier) error {
	if verifier == nil {
		return nil
	}
	if input.ChallengeToken == "" {
		slog.Warn("auth_event", "event", "challenge_skipped", "reason", "no_token")
		return nil
	}
	err := verifier.Verify(ctx, input.ChallengeToken, ChallengeActionRegister, input.RemoteIP)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, captcha.ErrRejected):
		slog.Warn("auth_event", "event", "challenge_rejected", "error", err)
		return identity.ErrBotCheckFailed
	default:
		slog.Warn("auth_event", "event", "challenge_skipped", "reason", "verify_failed", "error", err)
		return nil
	}
}
