package projections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"robolearn/internal/domain/approval"
)

// UnknownValue is shown when a student's name or email cannot be resolved.
const UnknownValue = "Unknown"

// GetParentApprovalsQuery carries input for the approvals projection.
type GetParentApprovalsQuery struct {
	ParentProfileID string
}

// GetParentApprovalsDeps holds dependencies for the approvals projection.
type GetParentApprovalsDeps struct {
	Approvals ApprovalLister
	Accounts  AccountReader
	Users     UserLookup
}

// ApprovalRow is one request as the parent sees it.
type ApprovalRow struct {
	ID               string          `json:"id"`
	StudentProfileID string          `json:"student_profile_id"`
	StudentName      string          `json:"student_name"`
	StudentEmail     string          `json:"student_email"`
	Status           approval.Status `json:"status"`
	RequestedAt      time.Time       `json:"requested_at"`
	RespondedAt      *time.Time      `json:"responded_at,omitempty"`
	ParentNotes      string          `json:"parent_notes,omitempty"`
	Actionable       bool            `json:"actionable"` // only pending rows get approve/deny controls
}

// GetParentApprovalsResult carries the output of the approvals projection.
type GetParentApprovalsResult struct {
	Rows         []ApprovalRow `json:"approvals"`
	PendingCount int           `json:"pending_count"`
}

// QueryGetParentApprovals lists every approval request addressed to a parent, newest first,
// with the student's name and email resolved per row.
// PRE: ParentProfileID is non-empty
// POST: One row per request; a failed name or email lookup shows UnknownValue for that row only
func QueryGetParentApprovals(ctx context.Context, query GetParentApprovalsQuery, deps GetParentApprovalsDeps) (GetParentApprovalsResult, error) {
	requests, err := deps.Approvals.ListByParent(ctx, query.ParentProfileID)
	if err != nil {
		return GetParentApprovalsResult{}, fmt.Errorf("list approval requests: %w", err)
	}

	result := GetParentApprovalsResult{Rows: make([]ApprovalRow, 0, len(requests))}
	for _, r := range requests {
		row := BuildApprovalRow(ctx, r, deps)
		if row.Actionable {
			result.PendingCount++
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

// BuildApprovalRow turns one request into its view row, resolving the student best-effort.
func BuildApprovalRow(ctx context.Context, r approval.Request, deps GetParentApprovalsDeps) ApprovalRow {
	row := ApprovalRow{
		ID:               r.ID,
		StudentProfileID: r.StudentProfileID,
		StudentName:      UnknownValue,
		StudentEmail:     UnknownValue,
		Status:           r.Status,
		RequestedAt:      r.RequestedAt,
		ParentNotes:      r.ParentNotes,
		Actionable:       r.IsPending(),
	}
	if !r.RespondedAt.IsZero() {
		t := r.RespondedAt
		row.RespondedAt = &t
	}
	resolveStudent(ctx, &row, deps)
	return row
}

func resolveStudent(ctx context.Context, row *ApprovalRow, deps GetParentApprovalsDeps) {
	student, err := deps.Accounts.GetByID(ctx, row.StudentProfileID)
	if err != nil {
		slog.Warn("approval_event", "event", "student_lookup_failed", "approval_id", row.ID, "error", err)
		return
	}
	if student.FullName != "" {
		row.StudentName = student.FullName
	}
	if deps.Users == nil {
		return
	}
	user, err := deps.Users.GetByID(ctx, student.UserID)
	if err != nil {
		slog.Warn("approval_event", "event", "student_email_lookup_failed", "approval_id", row.ID, "error", err)
		return
	}
	row.StudentEmail = user.Email
}
