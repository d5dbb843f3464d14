package projections

import (
	"context"
	"errors"

	"robolearn/internal/domain/account"
)

// DashboardAccountStore defines the account store surface needed by the dashboard projection.
type DashboardAccountStore interface {
	GetByUserID(ctx context.Context, userID string) (account.Account, error)
}

// GetDashboardQuery carries input for the dashboard projection.
type GetDashboardQuery struct {
	UserID string
	Email  string
}

// GetDashboardDeps holds dependencies for the dashboard projection.
type GetDashboardDeps struct {
	Accounts DashboardAccountStore
	Users    UserLookup // optional: nil hides the welcome banner
}

// DashboardResult carries the output of the dashboard projection.
type DashboardResult struct {
	Email       string
	ShowWelcome bool

	// Profile; HasProfile is false until provisioning has run.
	HasProfile        bool
	FullName          string
	AccountType       account.Type
	IsVerified        bool
	VerificationLabel string
	HasParent         bool
}

// IsParent reports whether the dashboard belongs to a parent.
func (r DashboardResult) IsParent() bool { return r.AccountType == account.TypeParent }

// IsStudent reports whether the dashboard belongs to a student.
func (r DashboardResult) IsStudent() bool { return r.AccountType == account.TypeStudent }

// QueryGetDashboard assembles the signed-in landing page.
// A missing profile is not an error: the page still greets the user by email.
func QueryGetDashboard(ctx context.Context, query GetDashboardQuery, deps GetDashboardDeps) (DashboardResult, error) {
	result := DashboardResult{Email: query.Email}

	if deps.Users != nil {
		if user, err := deps.Users.GetByID(ctx, query.UserID); err == nil {
			result.ShowWelcome = !user.HasSeenWelcome()
		}
	}

	acc, err := deps.Accounts.GetByUserID(ctx, query.UserID)
	if errors.Is(err, account.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return DashboardResult{}, err
	}
	result.HasProfile = true
	result.FullName = acc.FullName
	result.AccountType = acc.Type
	result.IsVerified = acc.IsVerified
	result.VerificationLabel = acc.VerificationLabel()
	result.HasParent = acc.HasParent()
	return result, nil
}
