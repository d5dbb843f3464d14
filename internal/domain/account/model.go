package account

import (
	"errors"
	"strings"
	"time"
)

// Max length constants for user-editable fields.
const (
	MaxNameLength  = 120
	MaxEmailLength = 254
)

// Type is the kind of profile an identity owns.
type Type string

// Account type constants
const (
	TypeParent  Type = "parent"
	TypeStudent Type = "student"
)

// Domain errors
var (
	ErrNotFound        = errors.New("account not found")
	ErrInvalidType     = errors.New("account type must be one of: parent, student")
	ErrEmptyUserID     = errors.New("user ID is required")
	ErrEmptyName       = errors.New("full name cannot be empty")
	ErrNameTooLong     = errors.New("full name cannot exceed 120 characters")
	ErrNotStudent      = errors.New("only student accounts can be linked to a parent")
	ErrParentNotParent = errors.New("linked account is not a parent")
	ErrSelfLink        = errors.New("an account cannot be its own parent")
	ErrAlreadyLinked   = errors.New("student is already linked to a different parent")
)

// ParseType converts a raw string into a Type.
// PRE: none
// POST: Returns the Type or ErrInvalidType for anything outside the enumeration
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeParent:
		return TypeParent, nil
	case TypeStudent:
		return TypeStudent, nil
	}
	return "", ErrInvalidType
}

// Account is the application-level profile attached to exactly one identity.
type Account struct {
	ID                   string
	UserID               string
	Type                 Type
	FullName             string
	ParentID             string // empty unless a linked student
	RequestedParentEmail string // parent email a student registered with
	IsVerified           bool
	CreatedAt            time.Time
}

// New builds an Account from registration metadata.
// Parents start verified, students start unverified until a parent approves them.
// PRE: meta is non-nil
// POST: Returns an unsaved Account with Type and FullName taken from meta
func New(id, userID string, meta RegistrationMetadata, now time.Time) Account {
	a := Account{
		ID:        id,
		UserID:    userID,
		Type:      meta.AccountType(),
		FullName:  strings.TrimSpace(meta.Name()),
		CreatedAt: now,
	}
	switch m := meta.(type) {
	case ParentMetadata:
		a.IsVerified = true
	case StudentMetadata:
		a.RequestedParentEmail = strings.ToLower(strings.TrimSpace(m.ParentEmail))
	}
	return a
}

// Validate checks if the Account has valid data.
// PRE: Account struct is populated
// POST: Returns nil if valid, error otherwise
func (a *Account) Validate() error {
	if a.UserID == "" {
		return ErrEmptyUserID
	}
	if a.Type != TypeParent && a.Type != TypeStudent {
		return ErrInvalidType
	}
	if strings.TrimSpace(a.FullName) == "" {
		return ErrEmptyName
	}
	if len(a.FullName) > MaxNameLength {
		return ErrNameTooLong
	}
	if a.ParentID != "" && a.ParentID == a.ID {
		return ErrSelfLink
	}
	return nil
}

// IsParent returns true for parent profiles.
// INVARIANT: Account fields are not mutated
func (a *Account) IsParent() bool {
	return a.Type == TypeParent
}

// IsStudent returns true for student profiles.
// INVARIANT: Account fields are not mutated
func (a *Account) IsStudent() bool {
	return a.Type == TypeStudent
}

// HasParent returns true if the student is linked to a parent.
// INVARIANT: Account fields are not mutated
func (a *Account) HasParent() bool {
	return a.ParentID != ""
}

// LinkParent links a student to a parent profile.
// PRE: a is a student, parent is a parent and a different account
// POST: ParentID is set; linking to the same parent twice is a no-op
func (a *Account) LinkParent(parent Account) error {
	if !a.IsStudent() {
		return ErrNotStudent
	}
	if !parent.IsParent() {
		return ErrParentNotParent
	}
	if parent.ID == a.ID {
		return ErrSelfLink
	}
	if a.ParentID != "" && a.ParentID != parent.ID {
		return ErrAlreadyLinked
	}
	a.ParentID = parent.ID
	return nil
}

// Verify marks the account as verified.
// POST: IsVerified is true
func (a *Account) Verify() {
	a.IsVerified = true
}

// VerificationLabel returns the human-readable verification state.
// INVARIANT: Account fields are not mutated
func (a *Account) VerificationLabel() string {
	if a.IsVerified {
		return "Verified"
	}
	return "Pending verification"
}
