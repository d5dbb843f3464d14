package orchestrators

import (
	"context"
	"errors"
	"log/slog"

	"robolearn/internal/domain/identity"
	"robolearn/internal/domain/registration"
)

// Reset-password outcomes shown to the user.
const (
	MsgInvalidResetLink = "Invalid or expired reset link. Please request a new password reset."
	MsgPasswordUpdated  = "Password updated successfully. Please sign in with your new password."
)

// ErrInvalidResetLink is returned when the session is missing or was not opened by a recovery link.
var ErrInvalidResetLink = &identity.AuthError{Message: MsgInvalidResetLink}

// IdentityForPassword is the identity provider surface a password reset needs.
type IdentityForPassword interface {
	GetSession(ctx context.Context, token string) (identity.Session, error)
	UpdatePassword(ctx context.Context, token, newPassword string) error
	SignOut(ctx context.Context, token string) error
}

// ResetPasswordInput carries the new password and the recovery session token.
type ResetPasswordInput struct {
	SessionToken    string
	Password        string
	ConfirmPassword string
}

// ResetPasswordDeps holds dependencies for ResetPassword.
type ResetPasswordDeps struct {
	Identity IdentityForPassword
}

// CheckRecoverySession reports whether token belongs to a session opened from a recovery link.
func CheckRecoverySession(ctx context.Context, token string, id IdentityForPassword) error {
	s, err := id.GetSession(ctx, token)
	if err != nil || !s.Recovery {
		return ErrInvalidResetLink
	}
	return nil
}

// ExecuteResetPassword sets a new password from a recovery session, then ends the session
// so the user signs in again with the new password.
// PRE: SessionToken is a recovery session
// POST: Password replaced and session ended; *registration.ValidationError or ErrInvalidResetLink otherwise
func ExecuteResetPassword(ctx context.Context, input ResetPasswordInput, deps ResetPasswordDeps) error {
	if err := CheckRecoverySession(ctx, input.SessionToken, deps.Identity); err != nil {
		return err
	}
	if err := registration.ValidateNewPassword(input.Password, input.ConfirmPassword); err != nil {
		return err
	}
	if err := deps.Identity.UpdatePassword(ctx, input.SessionToken, input.Password); err != nil {
		if errors.Is(err, identity.ErrSessionMissing) {
			return ErrInvalidResetLink
		}
		return err
	}
	if err := deps.Identity.SignOut(ctx, input.SessionToken); err != nil {
		slog.Warn("auth_event", "event", "reset_signout_failed", "error", err)
	}
	return nil
}

// IdentityForMetadata updates free-form user metadata.
type IdentityForMetadata interface {
	UpdateUserMetadata(ctx context.Context, token string, patch map[string]any) (identity.User, error)
}

// ExecuteDismissWelcome records that the user has seen the welcome banner.
// PRE: token is a live session
// POST: has_seen_welcome is true in the user's metadata
func ExecuteDismissWelcome(ctx context.Context, token string, id IdentityForMetadata) error {
	user, err := id.UpdateUserMetadata(ctx, token, map[string]any{identity.MetaHasSeenWelcome: true})
	if err != nil {
		return err
	}
	slog.Info("auth_event", "event", "welcome_dismissed", "user_id", user.ID)
	return nil
}
