package registration

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"robolearn/internal/domain/account"
)

// User-facing validation messages.
const (
	MsgPasswordMismatch    = "Passwords do not match"
	MsgPasswordTooShort    = "Password must be at least 6 characters long"
	MsgParentEmailRequired = "Parent email is required for student accounts"
	MsgInvalidEmail        = "Please enter a valid email address"
	MsgNameRequired        = "Full name is required"
	MsgNameTooLong         = "Full name cannot exceed 120 characters"
	MsgInvalidAccountType  = "Please choose whether this is a parent or student account"
	MsgInvalidParentEmail  = "Please enter a valid parent email address"
)

// MinPasswordLength is the shortest password the form accepts.
const MinPasswordLength = 6

var validate = validator.New()

// ValidationError is a field-level problem with a submitted form.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements error.
func (e *ValidationError) Error() string { return e.Message }

// Form is the registration form as submitted.
type Form struct {
	Email           string `validate:"required,email,max=254"`
	Password        string
	ConfirmPassword string
	FullName        string `validate:"required,max=120"`
	AccountType     string `validate:"oneof=parent student"`
	ParentEmail     string `validate:"omitempty,email,max=254"`
}

// Normalize trims whitespace and lower-cases email fields.
func (f *Form) Normalize() {
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.FullName = strings.TrimSpace(f.FullName)
	f.AccountType = strings.ToLower(strings.TrimSpace(f.AccountType))
	f.ParentEmail = strings.ToLower(strings.TrimSpace(f.ParentEmail))
	if f.AccountType != string(account.TypeStudent) {
		f.ParentEmail = ""
	}
}

// Validate checks the form without any I/O.
// Password rules come first so the familiar messages win over structural ones.
// PRE: Normalize has been called
// POST: Returns nil or a *ValidationError naming the first offending field
func (f *Form) Validate() error {
	if err := ValidateNewPassword(f.Password, f.ConfirmPassword); err != nil {
		return err
	}
	if f.AccountType == string(account.TypeStudent) && f.ParentEmail == "" {
		return &ValidationError{Field: "ParentEmail", Message: MsgParentEmailRequired}
	}
	if err := validate.Struct(f); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return translate(fieldErrs[0])
		}
		return err
	}
	return nil
}

// Metadata builds the registration payload for the identity record.
// PRE: Validate returned nil
func (f *Form) Metadata() account.RegistrationMetadata {
	if f.AccountType == string(account.TypeStudent) {
		return account.StudentMetadata{FullName: f.FullName, ParentEmail: f.ParentEmail}
	}
	return account.ParentMetadata{FullName: f.FullName}
}

// ValidateNewPassword applies the confirm-and-length rules shared by
// registration and password reset.
func ValidateNewPassword(password, confirm string) error {
	if password != confirm {
		return &ValidationError{Field: "ConfirmPassword", Message: MsgPasswordMismatch}
	}
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "Password", Message: MsgPasswordTooShort}
	}
	return nil
}

func translate(fe validator.FieldError) *ValidationError {
	field := fe.Field()
	switch field {
	case "Email":
		return &ValidationError{Field: field, Message: MsgInvalidEmail}
	case "FullName":
		if fe.Tag() == "max" {
			return &ValidationError{Field: field, Message: MsgNameTooLong}
		}
		return &ValidationError{Field: field, Message: MsgNameRequired}
	case "AccountType":
		return &ValidationError{Field: field, Message: MsgInvalidAccountType}
	case "ParentEmail":
		return &ValidationError{Field: field, Message: MsgInvalidParentEmail}
	}
	return &ValidationError{Field: field, Message: fe.Error()}
}
