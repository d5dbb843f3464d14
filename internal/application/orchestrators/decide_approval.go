package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"robolearn/internal/adapters/email"
	"robolearn/internal/domain/account"
	"robolearn/internal/domain/approval"
)

// ErrNotYourApproval is returned when a parent acts on another parent's request.
var ErrNotYourApproval = errors.New("this approval request is not addressed to you")

// ApprovalStoreForDecide defines the approval store surface decisions need.
type ApprovalStoreForDecide interface {
	GetByID(ctx context.Context, id string) (approval.Request, error)
	Decide(ctx context.Context, r approval.Request) error
}

// AccountStoreForDecide resolves the student for the decision email.
type AccountStoreForDecide interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
}

// DecideApprovalInput carries a parent's decision.
type DecideApprovalInput struct {
	ParentProfileID string
	ApprovalID      string
	Decision        string
	Notes           string
}

// DecideApprovalDeps holds dependencies for DecideApproval.
type DecideApprovalDeps struct {
	Approvals ApprovalStoreForDecide
	Accounts  AccountStoreForDecide
	Users     UserLookup
	Notify    func(ctx context.Context, input NotifyInput) error // nil: no emails
	SiteURL   string
	Now       func() time.Time
}

// ExecuteDecideApproval approves or denies a pending request addressed to the acting parent.
// PRE: ParentProfileID is the acting parent's profile
// POST: Request is approved (student verified) or denied, committed atomically;
// ErrNotYourApproval, approval.ErrAlreadyDecided or approval.ErrInvalidDecision otherwise
func ExecuteDecideApproval(ctx context.Context, input DecideApprovalInput, deps DecideApprovalDeps) (approval.Request, error) {
	decision, err := approval.ParseDecision(input.Decision)
	if err != nil {
		return approval.Request{}, err
	}
	req, err := deps.Approvals.GetByID(ctx, input.ApprovalID)
	if err != nil {
		return approval.Request{}, err
	}
	if req.ParentProfileID != input.ParentProfileID {
		slog.Warn("approval_event", "event", "foreign_decision", "approval_id", req.ID, "parent_id", input.ParentProfileID)
		return approval.Request{}, ErrNotYourApproval
	}
	if err := req.Decide(decision, input.Notes, deps.Now()); err != nil {
		return approval.Request{}, err
	}
	if err := deps.Approvals.Decide(ctx, req); err != nil {
		return approval.Request{}, err
	}
	slog.Info("approval_event", "event", string(req.Status), "approval_id", req.ID, "student_id", req.StudentProfileID, "parent_id", req.ParentProfileID)

	notifyStudent(ctx, req, deps)
	return req, nil
}

// notifyStudent is best-effort: lookup or send failures are logged only.
func notifyStudent(ctx context.Context, req approval.Request, deps DecideApprovalDeps) {
	if deps.Notify == nil || deps.Accounts == nil || deps.Users == nil {
		return
	}
	student, err := deps.Accounts.GetByID(ctx, req.StudentProfileID)
	if err != nil {
		slog.Warn("approval_event", "event", "student_not_notified", "approval_id", req.ID, "error", err)
		return
	}
	user, err := deps.Users.GetByID(ctx, student.UserID)
	if err != nil {
		slog.Warn("approval_event", "event", "student_not_notified", "approval_id", req.ID, "error", err)
		return
	}
	err = deps.Notify(ctx, NotifyInput{
		To:       user.Email,
		Template: email.TemplateApprovalDecided,
		Data: struct{ StudentName, Decision, Notes, Link string }{
			StudentName: student.FullName,
			Decision:    string(req.Status),
			Notes:       req.ParentNotes,
			Link:        strings.TrimRight(deps.SiteURL, "/") + "/dashboard",
		},
	})
	if err != nil {
		slog.Warn("approval_event", "event", "student_not_notified", "approval_id", req.ID, "error", err)
	}
}
