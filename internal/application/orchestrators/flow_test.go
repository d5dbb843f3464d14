package orchestrators

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	identityAdapter "robolearn/internal/adapters/identity"
	"robolearn/internal/adapters/storage"
	accountStore "robolearn/internal/adapters/storage/account"
	approvalStore "robolearn/internal/adapters/storage/approval"
	identityStore "robolearn/internal/adapters/storage/identity"
	outboxStore "robolearn/internal/adapters/storage/outbox"
	"robolearn/internal/application/projections"
	"robolearn/internal/domain/approval"
	"robolearn/internal/domain/identity"
	"robolearn/internal/domain/registration"
)

func init() {
	identity.BcryptCost = 4
}

type flowHarness struct {
	provider  *identityAdapter.LocalProvider
	accounts  *accountStore.SQLiteStore
	approvals *approvalStore.SQLiteStore
	users     *identityStore.SQLiteStore
	sender    *mockSender
	notify    func(context.Context, NotifyInput) error
}

// newFlowHarness wires the provider, provisioning and notifications over a real SQLite database.
func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "flow.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := &flowHarness{
		accounts:  accountStore.NewSQLiteStore(db),
		approvals: approvalStore.NewSQLiteStore(db),
		users:     identityStore.NewSQLiteStore(db),
		sender:    &mockSender{},
	}
	notifyDeps := NotifyDeps{Sender: h.sender, Outbox: outboxStore.NewSQLiteStore(db), GenerateID: uuid.NewString, Now: fixedClock}
	h.notify = func(ctx context.Context, in NotifyInput) error { return ExecuteSendNotification(ctx, in, notifyDeps) }

	h.provider = identityAdapter.NewLocalProvider(identityAdapter.Options{
		Users:    h.users,
		Sessions: identityAdapter.NewMemorySessionStore(fixedClock),
		Codes:    identityAdapter.NewLinkCodes([]byte("flow-test-secret-flow-test-secret"), fixedClock),
		Mailer:   NewLinkMailer(notifyDeps),
		Provision: func(ctx context.Context, u identity.User) error {
			_, err := ExecuteProvisionProfile(ctx, ProvisionProfileInput{UserID: u.ID, Email: u.Email, Metadata: u.Metadata}, ProvisionProfileDeps{
				Accounts:   h.accounts,
				Approvals:  h.approvals,
				Users:      h.users,
				Notify:     h.notify,
				SiteURL:    "https://robolearn.test",
				GenerateID: uuid.NewString,
				Now:        fixedClock,
			})
			return err
		},
		RequireEmailConfirmation: true,
		Now:                      fixedClock,
		GenerateID:               uuid.NewString,
	})
	return h
}

func (h *flowHarness) register(t *testing.T, form registration.Form) string {
	t.Helper()
	res, err := ExecuteRegister(context.Background(), RegisterInput{Form: form, RedirectBase: "https://robolearn.test"}, RegisterDeps{Identity: h.provider})
	if err != nil {
		t.Fatalf("register %s: %v", form.Email, err)
	}
	return res.UserID
}

// lastLinkCode extracts the code from the most recent email sent to addr.
func (h *flowHarness) lastLinkCode(t *testing.T, addr string) string {
	t.Helper()
	for i := len(h.sender.sent) - 1; i >= 0; i-- {
		req := h.sender.sent[i]
		if req.To[0] != addr {
			continue
		}
		for _, field := range strings.Fields(req.Text) {
			start := strings.Index(field, "https://")
			if start < 0 {
				continue
			}
			u, err := url.Parse(strings.Trim(field[start:], "()<>"))
			if err == nil && u.Query().Get("code") != "" {
				return u.Query().Get("code")
			}
		}
	}
	t.Fatalf("no link emailed to %s", addr)
	return ""
}

// TestFlow_StudentThenParent covers a student registering before their parent, the parent
// picking up the link, and the parent approving exactly once.
func TestFlow_StudentThenParent(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	avaID := h.register(t, registration.Form{
		Email: "ava@example.com", Password: "secret1", ConfirmPassword: "secret1",
		FullName: "Ava", AccountType: "student", ParentEmail: "pat@example.com",
	})
	ava, err := h.accounts.GetByUserID(ctx, avaID)
	if err != nil {
		t.Fatalf("Ava's profile was not provisioned: %v", err)
	}
	if ava.HasParent() || ava.IsVerified {
		t.Fatalf("Ava = %+v, want unlinked and unverified", ava)
	}

	// Unconfirmed sign-in is refused with the provider's message.
	if _, err := h.provider.SignInWithPassword(ctx, "ava@example.com", "secret1"); err != identity.ErrEmailNotConfirmed {
		t.Errorf("sign-in before confirmation = %v", err)
	}

	patID := h.register(t, registration.Form{
		Email: "pat@example.com", Password: "secret2", ConfirmPassword: "secret2",
		FullName: "Pat", AccountType: "parent",
	})
	pat, err := h.accounts.GetByUserID(ctx, patID)
	if err != nil {
		t.Fatalf("Pat's profile: %v", err)
	}
	ava, _ = h.accounts.GetByUserID(ctx, avaID)
	if ava.ParentID != pat.ID {
		t.Fatalf("Ava.ParentID = %q, want %q", ava.ParentID, pat.ID)
	}

	// Pat confirms by link and reviews the request.
	if _, err := h.provider.ExchangeCodeForSession(ctx, h.lastLinkCode(t, "pat@example.com")); err != nil {
		t.Fatalf("confirm Pat: %v", err)
	}
	list, err := projections.QueryGetParentApprovals(ctx, projections.GetParentApprovalsQuery{ParentProfileID: pat.ID},
		projections.GetParentApprovalsDeps{Approvals: h.approvals, Accounts: h.accounts, Users: h.users})
	if err != nil {
		t.Fatalf("QueryGetParentApprovals: %v", err)
	}
	if len(list.Rows) != 1 {
		t.Fatalf("rows = %+v, want one", list.Rows)
	}
	row := list.Rows[0]
	if !row.Actionable || row.StudentName != "Ava" || row.StudentEmail != "ava@example.com" {
		t.Errorf("row = %+v", row)
	}

	decideDeps := DecideApprovalDeps{Approvals: h.approvals, Accounts: h.accounts, Users: h.users, Notify: h.notify, SiteURL: "https://robolearn.test", Now: fixedClock}
	decided, err := ExecuteDecideApproval(ctx, DecideApprovalInput{ParentProfileID: pat.ID, ApprovalID: row.ID, Decision: "approved"}, decideDeps)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided.Status != approval.StatusApproved || !decided.RespondedAt.Equal(fixedNow) {
		t.Errorf("decided = %+v", decided)
	}
	ava, _ = h.accounts.GetByUserID(ctx, avaID)
	if !ava.IsVerified {
		t.Error("Ava not verified after approval")
	}

	_, err = ExecuteDecideApproval(ctx, DecideApprovalInput{ParentProfileID: pat.ID, ApprovalID: row.ID, Decision: "denied"}, decideDeps)
	if !errors.Is(err, approval.ErrAlreadyDecided) {
		t.Errorf("second decision = %v, want ErrAlreadyDecided", err)
	}

	list, _ = projections.QueryGetParentApprovals(ctx, projections.GetParentApprovalsQuery{ParentProfileID: pat.ID},
		projections.GetParentApprovalsDeps{Approvals: h.approvals, Accounts: h.accounts, Users: h.users})
	if list.Rows[0].Actionable || list.Rows[0].Status != approval.StatusApproved {
		t.Errorf("row after approval = %+v", list.Rows[0])
	}

	var subjects []string
	for _, req := range h.sender.sent {
		subjects = append(subjects, req.To[0]+": "+req.Subject)
	}
	joined := strings.Join(subjects, "\n")
	for _, want := range []string{
		"ava@example.com: Confirm your RoboLearn account",
		"pat@example.com: Ava wants to link their RoboLearn account to you",
		"ava@example.com: Your parent has approved your RoboLearn account",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing email %q in\n%s", want, joined)
		}
	}
}

// TestFlow_ParentThenStudentDenied covers the parent registering first and denying the request.
func TestFlow_ParentThenStudentDenied(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	patID := h.register(t, registration.Form{
		Email: "pat@example.com", Password: "secret2", ConfirmPassword: "secret2",
		FullName: "Pat", AccountType: "parent",
	})
	avaID := h.register(t, registration.Form{
		Email: "ava@example.com", Password: "secret1", ConfirmPassword: "secret1",
		FullName: "Ava", AccountType: "student", ParentEmail: "PAT@example.com",
	})
	pat, _ := h.accounts.GetByUserID(ctx, patID)
	ava, _ := h.accounts.GetByUserID(ctx, avaID)
	if ava.ParentID != pat.ID {
		t.Fatalf("Ava.ParentID = %q, want %q", ava.ParentID, pat.ID)
	}

	requests, err := h.approvals.ListByParent(ctx, pat.ID)
	if err != nil || len(requests) != 1 {
		t.Fatalf("requests = %+v, err = %v", requests, err)
	}
	decideDeps := DecideApprovalDeps{Approvals: h.approvals, Accounts: h.accounts, Users: h.users, Now: fixedClock}
	if _, err := ExecuteDecideApproval(ctx, DecideApprovalInput{ParentProfileID: pat.ID, ApprovalID: requests[0].ID, Decision: "denied", Notes: "Not my child"}, decideDeps); err != nil {
		t.Fatalf("deny: %v", err)
	}
	ava, _ = h.accounts.GetByUserID(ctx, avaID)
	if ava.IsVerified {
		t.Error("denial verified the student")
	}
	got, _ := h.approvals.GetByID(ctx, requests[0].ID)
	if got.Status != approval.StatusDenied || got.ParentNotes != "Not my child" || got.RespondedAt.IsZero() {
		t.Errorf("request = %+v", got)
	}

	// A later sign-in re-runs provisioning without opening a second request.
	if _, err := h.provider.ExchangeCodeForSession(ctx, h.lastLinkCode(t, "ava@example.com")); err != nil {
		t.Fatalf("confirm Ava: %v", err)
	}
	if pending, _ := h.approvals.HasPending(ctx, ava.ID); pending {
		t.Error("re-provisioning reopened a denied request")
	}
	if requests, _ := h.approvals.ListByParent(ctx, pat.ID); len(requests) != 1 {
		t.Errorf("requests = %d, want 1", len(requests))
	}
}
