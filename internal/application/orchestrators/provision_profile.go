package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"robolearn/internal/adapters/email"
	"robolearn/internal/domain/account"
	"robolearn/internal/domain/approval"
	"robolearn/internal/domain/identity"
)

// AccountStoreForProvision defines the account store surface provisioning needs.
type AccountStoreForProvision interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
	GetByUserID(ctx context.Context, userID string) (account.Account, error)
	GetParentByEmail(ctx context.Context, email string) (account.Account, error)
	ListUnlinkedByRequestedParentEmail(ctx context.Context, email string) ([]account.Account, error)
	ListByParent(ctx context.Context, parentID string) ([]account.Account, error)
	Save(ctx context.Context, a account.Account) error
}

// ApprovalStoreForProvision defines the approval store surface provisioning needs.
type ApprovalStoreForProvision interface {
	HasRequest(ctx context.Context, studentProfileID string) (bool, error)
	Create(ctx context.Context, r approval.Request) error
}

// UserLookup resolves identity users by ID.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
}

// ProvisionProfileInput identifies the identity to provision.
type ProvisionProfileInput struct {
	UserID   string
	Email    string
	Metadata map[string]any
}

// ProvisionProfileDeps holds dependencies for ProvisionProfile.
type ProvisionProfileDeps struct {
	Accounts   AccountStoreForProvision
	Approvals  ApprovalStoreForProvision
	Users      UserLookup
	Notify     func(ctx context.Context, input NotifyInput) error // nil: no emails
	SiteURL    string
	GenerateID func() string
	Now        func() time.Time
}

// ExecuteProvisionProfile makes sure an identity has an account and that students are linked
// to their parent with a pending approval request. Safe to run repeatedly: an existing account
// is reused, linking is retried until the parent exists, and a linked student left without any
// request by an earlier failed run gets one.
// PRE: UserID and Email are non-empty
// POST: Account exists; a student whose parent is registered is linked with one pending request;
// a parent has adopted every unlinked student that named their email
func ExecuteProvisionProfile(ctx context.Context, input ProvisionProfileInput, deps ProvisionProfileDeps) (account.Account, error) {
	if input.UserID == "" {
		return account.Account{}, account.ErrEmptyUserID
	}

	acc, err := deps.Accounts.GetByUserID(ctx, input.UserID)
	switch {
	case err == nil:
	case errors.Is(err, account.ErrNotFound):
		acc, err = createAccount(ctx, input, deps)
		if err != nil {
			return account.Account{}, err
		}
	default:
		return account.Account{}, err
	}

	if acc.IsStudent() {
		err = linkStudent(ctx, &acc, input.Email, deps)
	} else {
		err = adoptStudents(ctx, acc, input.Email, deps)
	}
	return acc, err
}

func createAccount(ctx context.Context, input ProvisionProfileInput, deps ProvisionProfileDeps) (account.Account, error) {
	meta, err := metadataOrDefault(input)
	if err != nil {
		return account.Account{}, err
	}
	acc := account.New(deps.GenerateID(), input.UserID, meta, deps.Now())
	if err := acc.Validate(); err != nil {
		return account.Account{}, err
	}
	if err := deps.Accounts.Save(ctx, acc); err != nil {
		return account.Account{}, fmt.Errorf("create account: %w", err)
	}
	slog.Info("account_event", "event", "account_created", "account_id", acc.ID, "user_id", acc.UserID, "account_type", string(acc.Type))
	return acc, nil
}

// metadataOrDefault decodes registration metadata; identities created without it
// (OAuth, admin) become parents named after the email's local part.
func metadataOrDefault(input ProvisionProfileInput) (account.RegistrationMetadata, error) {
	if _, ok := input.Metadata[account.MetaAccountType]; ok {
		return account.DecodeMetadata(input.Metadata)
	}
	name, _ := input.Metadata[account.MetaFullName].(string)
	if strings.TrimSpace(name) == "" {
		name, _, _ = strings.Cut(input.Email, "@")
	}
	return account.ParentMetadata{FullName: name}, nil
}

func linkStudent(ctx context.Context, student *account.Account, studentEmail string, deps ProvisionProfileDeps) error {
	if student.HasParent() {
		return repairLinkedStudent(ctx, *student, studentEmail, deps)
	}
	if student.RequestedParentEmail == "" {
		return nil
	}
	parent, err := deps.Accounts.GetParentByEmail(ctx, student.RequestedParentEmail)
	if errors.Is(err, account.ErrNotFound) {
		slog.Info("account_event", "event", "parent_not_registered", "account_id", student.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if err := student.LinkParent(parent); err != nil {
		slog.Warn("account_event", "event", "link_rejected", "account_id", student.ID, "error", err)
		return nil
	}
	if err := deps.Accounts.Save(ctx, *student); err != nil {
		return fmt.Errorf("link student: %w", err)
	}
	slog.Info("account_event", "event", "student_linked", "account_id", student.ID, "parent_id", parent.ID)
	return requestApproval(ctx, *student, studentEmail, parent, student.RequestedParentEmail, deps)
}

func adoptStudents(ctx context.Context, parent account.Account, parentEmail string, deps ProvisionProfileDeps) error {
	linked, err := deps.Accounts.ListByParent(ctx, parent.ID)
	if err != nil {
		return err
	}
	for _, s := range linked {
		if s.IsVerified {
			continue
		}
		if err := requestApproval(ctx, s, studentEmailOf(ctx, s, deps), parent, parentEmail, deps); err != nil {
			return err
		}
	}

	students, err := deps.Accounts.ListUnlinkedByRequestedParentEmail(ctx, parentEmail)
	if err != nil {
		return err
	}
	for _, s := range students {
		if err := s.LinkParent(parent); err != nil {
			slog.Warn("account_event", "event", "link_rejected", "account_id", s.ID, "error", err)
			continue
		}
		if err := deps.Accounts.Save(ctx, s); err != nil {
			return fmt.Errorf("adopt student %s: %w", s.ID, err)
		}
		slog.Info("account_event", "event", "student_adopted", "account_id", s.ID, "parent_id", parent.ID)

		if err := requestApproval(ctx, s, studentEmailOf(ctx, s, deps), parent, parentEmail, deps); err != nil {
			return err
		}
	}
	return nil
}

// repairLinkedStudent opens the request a linked, unverified student is missing; the link and
// the request are separate writes, so a failure between them leaves this state behind.
func repairLinkedStudent(ctx context.Context, student account.Account, studentEmail string, deps ProvisionProfileDeps) error {
	if student.IsVerified {
		return nil
	}
	parent, err := deps.Accounts.GetByID(ctx, student.ParentID)
	if err != nil {
		return fmt.Errorf("parent of student %s: %w", student.ID, err)
	}
	parentEmail := student.RequestedParentEmail
	if deps.Users != nil {
		if u, err := deps.Users.GetByID(ctx, parent.UserID); err == nil {
			parentEmail = u.Email
		}
	}
	return requestApproval(ctx, student, studentEmail, parent, parentEmail, deps)
}

func studentEmailOf(ctx context.Context, student account.Account, deps ProvisionProfileDeps) string {
	if deps.Users != nil {
		if u, err := deps.Users.GetByID(ctx, student.UserID); err == nil {
			return u.Email
		}
	}
	return "Unknown"
}

// requestApproval opens a pending request for a student that has none, decided or not, and
// emails the parent about it.
func requestApproval(ctx context.Context, student account.Account, studentEmail string, parent account.Account, parentEmail string, deps ProvisionProfileDeps) error {
	exists, err := deps.Approvals.HasRequest(ctx, student.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	req, err := approval.New(deps.GenerateID(), student.ID, parent.ID, deps.Now())
	if err != nil {
		return err
	}
	if err := deps.Approvals.Create(ctx, req); err != nil {
		if errors.Is(err, approval.ErrAlreadyPending) {
			return nil
		}
		return fmt.Errorf("create approval request: %w", err)
	}
	slog.Info("approval_event", "event", "requested", "approval_id", req.ID, "student_id", student.ID, "parent_id", parent.ID)

	if deps.Notify != nil {
		err := deps.Notify(ctx, NotifyInput{
			To:       parentEmail,
			Template: email.TemplateApprovalRequested,
			Data: struct{ ParentName, StudentName, StudentEmail, Link string }{
				ParentName:   parent.FullName,
				StudentName:  student.FullName,
				StudentEmail: studentEmail,
				Link:         strings.TrimRight(deps.SiteURL, "/") + "/dashboard/parent",
			},
		})
		if err != nil {
			slog.Warn("approval_event", "event", "parent_not_notified", "approval_id", req.ID, "error", err)
		}
	}
	return nil
}
