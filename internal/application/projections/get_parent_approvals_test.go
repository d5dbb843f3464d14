package projections

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"robolearn/internal/domain/account"
	"robolearn/internal/domain/approval"
	"robolearn/internal/domain/identity"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockAccounts struct {
	accounts map[string]account.Account
	listErr  error
}

// GetByID returns a seeded account by ID.
func (m *mockAccounts) GetByID(_ context.Context, id string) (account.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, account.ErrNotFound)
	}
	return a, nil
}

// GetByUserID returns the seeded account owned by userID.
func (m *mockAccounts) GetByUserID(_ context.Context, userID string) (account.Account, error) {
	for _, a := range m.accounts {
		if a.UserID == userID {
			return a, nil
		}
	}
	return account.Account{}, fmt.Errorf("account for user %s: %w", userID, account.ErrNotFound)
}

// ListByParent returns seeded students linked to parentID.
func (m *mockAccounts) ListByParent(_ context.Context, parentID string) ([]account.Account, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []account.Account
	for _, a := range m.accounts {
		if a.ParentID == parentID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockApprovals struct {
	requests []approval.Request
	err      error
}

// ListByParent returns the seeded requests in seed order.
func (m *mockApprovals) ListByParent(_ context.Context, parentID string) ([]approval.Request, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []approval.Request
	for _, r := range m.requests {
		if r.ParentProfileID == parentID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockUsers map[string]identity.User

// GetByID returns a seeded user.
func (m mockUsers) GetByID(_ context.Context, id string) (identity.User, error) {
	u, ok := m[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

// seedFamily builds a parent with three students: two pending, one approved.
func seedFamily() (*mockAccounts, *mockApprovals, mockUsers) {
	accounts := &mockAccounts{accounts: map[string]account.Account{
		"p1": {ID: "p1", UserID: "u-pat", Type: account.TypeParent, FullName: "Pat", IsVerified: true},
		"s1": {ID: "s1", UserID: "u-ava", Type: account.TypeStudent, FullName: "Ava", ParentID: "p1"},
		"s2": {ID: "s2", UserID: "u-bo", Type: account.TypeStudent, FullName: "Bo", ParentID: "p1"},
		"s3": {ID: "s3", UserID: "u-cy", Type: account.TypeStudent, FullName: "Cy", ParentID: "p1", IsVerified: true},
	}}
	approvals := &mockApprovals{requests: []approval.Request{
		{ID: "r3", StudentProfileID: "s3", ParentProfileID: "p1", Status: approval.StatusPending, RequestedAt: fixedNow},
		{ID: "r2", StudentProfileID: "s2", ParentProfileID: "p1", Status: approval.StatusPending, RequestedAt: fixedNow.Add(-time.Hour)},
		{ID: "r1", StudentProfileID: "s3", ParentProfileID: "p1", Status: approval.StatusApproved, RequestedAt: fixedNow.Add(-2 * time.Hour), RespondedAt: fixedNow.Add(-90 * time.Minute), ParentNotes: "welcome"},
		{ID: "rx", StudentProfileID: "s9", ParentProfileID: "p2", Status: approval.StatusPending, RequestedAt: fixedNow},
	}}
	users := mockUsers{
		"u-ava": {ID: "u-ava", Email: "ava@example.com"},
		"u-bo":  {ID: "u-bo", Email: "bo@example.com"},
		"u-cy":  {ID: "u-cy", Email: "cy@example.com"},
	}
	return accounts, approvals, users
}

func TestQueryGetParentApprovals_RowsAndActionability(t *testing.T) {
	accounts, approvals, users := seedFamily()
	res, err := QueryGetParentApprovals(context.Background(), GetParentApprovalsQuery{ParentProfileID: "p1"},
		GetParentApprovalsDeps{Approvals: approvals, Accounts: accounts, Users: users})
	if err != nil {
		t.Fatalf("QueryGetParentApprovals: %v", err)
	}

	wantIDs := []string{"r3", "r2", "r1"}
	if len(res.Rows) != len(wantIDs) {
		t.Fatalf("rows = %d, want %d", len(res.Rows), len(wantIDs))
	}
	for i, id := range wantIDs {
		if res.Rows[i].ID != id {
			t.Errorf("row[%d] = %s, want %s", i, res.Rows[i].ID, id)
		}
	}
	if res.PendingCount != 2 {
		t.Errorf("PendingCount = %d, want 2", res.PendingCount)
	}
	for _, row := range res.Rows {
		if row.Actionable != (row.Status == approval.StatusPending) {
			t.Errorf("row %s actionable = %v with status %s", row.ID, row.Actionable, row.Status)
		}
	}

	decided := res.Rows[2]
	if decided.StudentName != "Cy" || decided.StudentEmail != "cy@example.com" || decided.ParentNotes != "welcome" {
		t.Errorf("decided row = %+v", decided)
	}
	if decided.RespondedAt == nil || !decided.RespondedAt.Equal(fixedNow.Add(-90*time.Minute)) {
		t.Errorf("RespondedAt = %v", decided.RespondedAt)
	}
	if res.Rows[0].RespondedAt != nil {
		t.Errorf("pending row has RespondedAt %v", res.Rows[0].RespondedAt)
	}
}

func TestQueryGetParentApprovals_LookupFailuresDegradeRow(t *testing.T) {
	accounts, approvals, users := seedFamily()
	delete(users, "u-bo")
	delete(accounts.accounts, "s3")

	res, err := QueryGetParentApprovals(context.Background(), GetParentApprovalsQuery{ParentProfileID: "p1"},
		GetParentApprovalsDeps{Approvals: approvals, Accounts: accounts, Users: users})
	if err != nil {
		t.Fatalf("QueryGetParentApprovals: %v", err)
	}
	byID := map[string]ApprovalRow{}
	for _, r := range res.Rows {
		byID[r.ID] = r
	}
	if r := byID["r2"]; r.StudentName != "Bo" || r.StudentEmail != UnknownValue {
		t.Errorf("missing email row = %+v", r)
	}
	if r := byID["r3"]; r.StudentName != UnknownValue || r.StudentEmail != UnknownValue {
		t.Errorf("missing student row = %+v", r)
	}
}

func TestQueryGetParentApprovals_Empty(t *testing.T) {
	accounts, approvals, users := seedFamily()
	res, err := QueryGetParentApprovals(context.Background(), GetParentApprovalsQuery{ParentProfileID: "p-none"},
		GetParentApprovalsDeps{Approvals: approvals, Accounts: accounts, Users: users})
	if err != nil {
		t.Fatalf("QueryGetParentApprovals: %v", err)
	}
	if res.Rows == nil || len(res.Rows) != 0 || res.PendingCount != 0 {
		t.Errorf("result = %+v, want empty non-nil rows", res)
	}
}

func TestQueryGetParentApprovals_QueryFailure(t *testing.T) {
	boom := errors.New("database is locked")
	_, err := QueryGetParentApprovals(context.Background(), GetParentApprovalsQuery{ParentProfileID: "p1"},
		GetParentApprovalsDeps{Approvals: &mockApprovals{err: boom}, Accounts: &mockAccounts{}})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
