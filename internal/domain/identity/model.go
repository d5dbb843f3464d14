package identity

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Credential rules.
const (
	MinPasswordLength = 6
	MaxEmailLength    = 254
	MaxFailedLogins   = 5
	LockoutDuration   = 15 * time.Minute
	SessionLifetime   = 24 * time.Hour
)

// Metadata keys owned by the dashboard rather than registration.
const (
	MetaHasSeenWelcome = "has_seen_welcome"
	MetaFirstLoginAt   = "first_login_at"
)

// BcryptCost is the hashing cost for new passwords. Tests lower it.
var BcryptCost = 12

// Domain errors
var (
	ErrNotFound         = errors.New("user not found")
	ErrEmptyEmail       = errors.New("email cannot be empty")
	ErrInvalidEmail     = errors.New("email must contain '@'")
	ErrEmailTooLong     = errors.New("email cannot exceed 254 characters")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	ErrWrongPassword    = errors.New("incorrect password")
)

// User is a credential record: who can sign in and how.
type User struct {
	ID               string
	Email            string
	PasswordHash     string // empty for OAuth-only users
	EmailConfirmedAt time.Time
	Metadata         map[string]any
	FailedLogins     int
	LockedUntil      time.Time
	CreatedAt        time.Time
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks if the User has valid data.
// PRE: User struct is populated
// POST: Returns nil if valid, error otherwise
func (u *User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return ErrEmptyEmail
	}
	if len(u.Email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if !strings.Contains(u.Email, "@") {
		return ErrInvalidEmail
	}
	return nil
}

// SetPassword hashes and stores a password using bcrypt.
// PRE: plaintext is at least MinPasswordLength characters
// POST: PasswordHash is set to bcrypt hash
func (u *User) SetPassword(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), BcryptCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
// PRE: none
// INVARIANT: User fields are not mutated
func (u *User) CheckPassword(plaintext string) error {
	if u.PasswordHash == "" {
		return ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plaintext)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

// IsLocked returns true if the user is currently locked out.
// INVARIANT: User fields are not mutated
func (u *User) IsLocked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// RecordFailedLogin increments the failed login counter and locks after MaxFailedLogins.
// POST: FailedLogins incremented; LockedUntil set once the limit is reached
func (u *User) RecordFailedLogin(now time.Time) {
	u.FailedLogins++
	if u.FailedLogins >= MaxFailedLogins {
		u.LockedUntil = now.Add(LockoutDuration)
	}
}

// ResetFailedLogins clears the failed login counter and lock.
// POST: FailedLogins is 0, LockedUntil is zero
func (u *User) ResetFailedLogins() {
	u.FailedLogins = 0
	u.LockedUntil = time.Time{}
}

// IsConfirmed returns true once the email address has been confirmed.
// INVARIANT: User fields are not mutated
func (u *User) IsConfirmed() bool {
	return !u.EmailConfirmedAt.IsZero()
}

// Confirm records email confirmation. Confirming twice keeps the first timestamp.
func (u *User) Confirm(now time.Time) {
	if u.EmailConfirmedAt.IsZero() {
		u.EmailConfirmedAt = now
	}
}

// MergeMetadata overlays keys onto the user's metadata.
// POST: every key in patch is set; other keys are untouched
func (u *User) MergeMetadata(patch map[string]any) {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		u.Metadata[k] = v
	}
}

// HasSeenWelcome reports whether the welcome banner was dismissed.
func (u *User) HasSeenWelcome() bool {
	seen, _ := u.Metadata[MetaHasSeenWelcome].(bool)
	return seen
}

// Session is an authenticated browser session.
type Session struct {
	Token     string
	UserID    string
	Email     string
	Recovery  bool // issued from a password-reset link
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired returns true once the session lifetime has elapsed.
// INVARIANT: Session fields are not mutated
func (s Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
