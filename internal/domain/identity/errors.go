package identity

// AuthError is a user-facing failure reported by the identity provider.
// Its message is shown to the user verbatim.
type AuthError struct {
	Message string
}

// Error implements error.
func (e *AuthError) Error() string { return e.Message }

// Provider errors
var (
	ErrUserAlreadyRegistered = &AuthError{Message: "User already registered"}
	ErrInvalidCredentials    = &AuthError{Message: "Invalid login credentials"}
	ErrEmailNotConfirmed     = &AuthError{Message: "Email not confirmed"}
	ErrUserLocked            = &AuthError{Message: "Too many failed attempts. Try again in 15 minutes."}
	ErrWeakPassword          = &AuthError{Message: "Password should be at least 6 characters"}
	ErrInvalidEmailFormat    = &AuthError{Message: "Unable to validate email address: invalid format"}
	ErrInvalidLink           = &AuthError{Message: "Email link is invalid or has expired"}
	ErrSessionMissing        = &AuthError{Message: "Auth session missing!"}
	ErrProviderDisabled      = &AuthError{Message: "Provider is not enabled"}
	ErrBotCheckFailed        = &AuthError{Message: "Bot verification failed. Please try again."}
)
