package projections

import (
	"context"
	"errors"
	"fmt"

	"robolearn/internal/domain/account"
)

// ErrNotParent is returned when a non-parent opens the parent dashboard.
var ErrNotParent = errors.New("this page is only accessible to parent/guardian accounts")

// GetParentDashboardQuery carries input for the parent dashboard.
type GetParentDashboardQuery struct {
	UserID string
}

// GetParentDashboardDeps holds dependencies for the parent dashboard.
type GetParentDashboardDeps struct {
	Accounts  AccountReader
	Approvals ApprovalLister
	Users     UserLookup
}

// StudentSummary is a linked student on the parent dashboard.
type StudentSummary struct {
	ID         string
	FullName   string
	IsVerified bool
}

// ParentStats counts the parent's linked students.
type ParentStats struct {
	Total    int
	Approved int
	Pending  int
}

// ParentDashboardResult carries the output of the parent dashboard.
type ParentDashboardResult struct {
	Parent    account.Account
	Stats     ParentStats
	Students  []StudentSummary
	Approvals GetParentApprovalsResult
	// ApprovalsErr is set when the approval list failed to load; the rest of the page still renders.
	ApprovalsErr error
}

// QueryGetParentDashboard loads the parent's profile, linked-student stats and approval requests.
// PRE: UserID belongs to the signed-in user
// POST: ErrNotParent when the user has no parent profile
func QueryGetParentDashboard(ctx context.Context, query GetParentDashboardQuery, deps GetParentDashboardDeps) (ParentDashboardResult, error) {
	parent, err := deps.Accounts.GetByUserID(ctx, query.UserID)
	if errors.Is(err, account.ErrNotFound) {
		return ParentDashboardResult{}, ErrNotParent
	}
	if err != nil {
		return ParentDashboardResult{}, err
	}
	if !parent.IsParent() {
		return ParentDashboardResult{}, ErrNotParent
	}

	students, err := deps.Accounts.ListByParent(ctx, parent.ID)
	if err != nil {
		return ParentDashboardResult{}, fmt.Errorf("list linked students: %w", err)
	}
	result := ParentDashboardResult{Parent: parent, Students: make([]StudentSummary, 0, len(students))}
	for _, s := range students {
		result.Students = append(result.Students, StudentSummary{ID: s.ID, FullName: s.FullName, IsVerified: s.IsVerified})
		result.Stats.Total++
		if s.IsVerified {
			result.Stats.Approved++
		} else {
			result.Stats.Pending++
		}
	}

	result.Approvals, result.ApprovalsErr = QueryGetParentApprovals(ctx, GetParentApprovalsQuery{ParentProfileID: parent.ID}, GetParentApprovalsDeps{
		Approvals: deps.Approvals,
		Accounts:  deps.Accounts,
		Users:     deps.Users,
	})
	return result, nil
}
