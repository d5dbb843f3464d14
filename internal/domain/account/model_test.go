package account_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"robolearn/internal/domain/account"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestParseType tests parsing of the closed account type enumeration.
func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    account.Type
		wantErr bool
	}{
		{in: "parent", want: account.TypeParent},
		{in: "student", want: account.TypeStudent},
		{in: " Student ", want: account.TypeStudent},
		{in: "teacher", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := account.ParseType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestNew_FromMetadata tests that parents start verified and students do not.
func TestNew_FromMetadata(t *testing.T) {
	parent := account.New("p1", "u1", account.ParentMetadata{FullName: " Pat "}, fixedTime)
	if !parent.IsParent() || !parent.IsVerified {
		t.Errorf("parent = %+v, want verified parent", parent)
	}
	if parent.FullName != "Pat" {
		t.Errorf("FullName = %q, want Pat", parent.FullName)
	}

	student := account.New("s1", "u2", account.StudentMetadata{FullName: "Ava", ParentEmail: "Parent@X.com"}, fixedTime)
	if !student.IsStudent() || student.IsVerified {
		t.Errorf("student = %+v, want unverified student", student)
	}
	if student.RequestedParentEmail != "parent@x.com" {
		t.Errorf("RequestedParentEmail = %q, want parent@x.com", student.RequestedParentEmail)
	}
	if !student.CreatedAt.Equal(fixedTime) {
		t.Errorf("CreatedAt = %v, want %v", student.CreatedAt, fixedTime)
	}
}

// TestAccount_Validate tests validation of Account.
func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		account account.Account
		wantErr error
	}{
		{
			name:    "valid parent",
			account: account.Account{ID: "a1", UserID: "u1", Type: account.TypeParent, FullName: "Pat"},
		},
		{
			name:    "missing user",
			account: account.Account{ID: "a1", Type: account.TypeParent, FullName: "Pat"},
			wantErr: account.ErrEmptyUserID,
		},
		{
			name:    "bad type",
			account: account.Account{ID: "a1", UserID: "u1", Type: "coach", FullName: "Pat"},
			wantErr: account.ErrInvalidType,
		},
		{
			name:    "blank name",
			account: account.Account{ID: "a1", UserID: "u1", Type: account.TypeStudent, FullName: "  "},
			wantErr: account.ErrEmptyName,
		},
		{
			name:    "name too long",
			account: account.Account{ID: "a1", UserID: "u1", Type: account.TypeStudent, FullName: strings.Repeat("a", 121)},
			wantErr: account.ErrNameTooLong,
		},
		{
			name:    "own parent",
			account: account.Account{ID: "a1", UserID: "u1", Type: account.TypeStudent, FullName: "Ava", ParentID: "a1"},
			wantErr: account.ErrSelfLink,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestAccount_LinkParent tests the parent/student linking invariants.
func TestAccount_LinkParent(t *testing.T) {
	parent := account.Account{ID: "p1", Type: account.TypeParent}
	otherParent := account.Account{ID: "p2", Type: account.TypeParent}
	student := account.Account{ID: "s1", Type: account.TypeStudent}

	tests := []struct {
		name    string
		student account.Account
		target  account.Account
		wantErr error
	}{
		{name: "student to parent", student: student, target: parent},
		{name: "parent cannot be linked", student: parent, target: otherParent, wantErr: account.ErrNotStudent},
		{name: "target must be parent", student: student, target: account.Account{ID: "s2", Type: account.TypeStudent}, wantErr: account.ErrParentNotParent},
		{name: "relink same parent is a no-op", student: account.Account{ID: "s1", Type: account.TypeStudent, ParentID: "p1"}, target: parent},
		{name: "relink different parent", student: account.Account{ID: "s1", Type: account.TypeStudent, ParentID: "p1"}, target: otherParent, wantErr: account.ErrAlreadyLinked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.student
			err := s.LinkParent(tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("LinkParent() = %v, want %v", err, tt.wantErr)
			}
			if err == nil && s.ParentID != tt.target.ID {
				t.Errorf("ParentID = %q, want %q", s.ParentID, tt.target.ID)
			}
		})
	}
}

// TestMetadata_RoundTrip tests encoding and decoding of both metadata variants.
func TestMetadata_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		meta account.RegistrationMetadata
	}{
		{name: "parent", meta: account.ParentMetadata{FullName: "Pat"}},
		{name: "student", meta: account.StudentMetadata{FullName: "Ava", ParentEmail: "parent@x.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := account.DecodeMetadata(account.EncodeMetadata(tt.meta))
			if err != nil {
				t.Fatalf("DecodeMetadata: %v", err)
			}
			if got != tt.meta {
				t.Errorf("got %#v, want %#v", got, tt.meta)
			}
		})
	}
}

// TestDecodeMetadata_Rejects tests malformed metadata payloads.
func TestDecodeMetadata_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		wantErr error
	}{
		{name: "nil", raw: nil, wantErr: account.ErrInvalidType},
		{name: "unknown type", raw: map[string]any{"account_type": "admin"}, wantErr: account.ErrInvalidType},
		{name: "student without parent", raw: map[string]any{"account_type": "student", "full_name": "Ava"}, wantErr: account.ErrMissingParentEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := account.DecodeMetadata(tt.raw); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeMetadata() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
