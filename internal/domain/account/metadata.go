package account

import (
	"errors"
	"strings"
)

// Metadata keys attached to an identity at sign-up.
const (
	MetaAccountType = "account_type"
	MetaFullName    = "full_name"
	MetaParentEmail = "parent_email"
)

// ErrMissingParentEmail is returned when a student payload carries no parent email.
var ErrMissingParentEmail = errors.New("parent email is required for student accounts")

// RegistrationMetadata is the payload a registration attaches to the new identity.
// It is either ParentMetadata or StudentMetadata.
type RegistrationMetadata interface {
	AccountType() Type
	Name() string
	registrationMetadata()
}

// ParentMetadata is the sign-up payload of a parent.
type ParentMetadata struct {
	FullName string
}

// StudentMetadata is the sign-up payload of a student.
type StudentMetadata struct {
	FullName    string
	ParentEmail string
}

// AccountType implements RegistrationMetadata.
func (ParentMetadata) AccountType() Type { return TypeParent }

// Name implements RegistrationMetadata.
func (m ParentMetadata) Name() string { return m.FullName }

func (ParentMetadata) registrationMetadata() {}

// AccountType implements RegistrationMetadata.
func (StudentMetadata) AccountType() Type { return TypeStudent }

// Name implements RegistrationMetadata.
func (m StudentMetadata) Name() string { return m.FullName }

func (StudentMetadata) registrationMetadata() {}

// EncodeMetadata flattens metadata into the key/value form stored on the identity.
// PRE: meta is non-nil
// POST: Returns a map with account_type and full_name, plus parent_email for students
func EncodeMetadata(meta RegistrationMetadata) map[string]any {
	out := map[string]any{
		MetaAccountType: string(meta.AccountType()),
		MetaFullName:    meta.Name(),
	}
	if s, ok := meta.(StudentMetadata); ok {
		out[MetaParentEmail] = s.ParentEmail
	}
	return out
}

// DecodeMetadata reads registration metadata back from identity key/values.
// PRE: none
// POST: Returns ParentMetadata or StudentMetadata, or an error for unknown types
// and student payloads without a parent email
func DecodeMetadata(raw map[string]any) (RegistrationMetadata, error) {
	typ, err := ParseType(stringValue(raw, MetaAccountType))
	if err != nil {
		return nil, err
	}
	name := stringValue(raw, MetaFullName)
	if typ == TypeParent {
		return ParentMetadata{FullName: name}, nil
	}
	parentEmail := strings.TrimSpace(stringValue(raw, MetaParentEmail))
	if parentEmail == "" {
		return nil, ErrMissingParentEmail
	}
	return StudentMetadata{FullName: name, ParentEmail: parentEmail}, nil
}

func stringValue(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	s, _ := raw[key].(string)
	return s
}
