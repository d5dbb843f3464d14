package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"robolearn/internal/adapters/email"
	"robolearn/internal/domain/account"
	"robolearn/internal/domain/approval"
	"robolearn/internal/domain/identity"
	domainOutbox "robolearn/internal/domain/outbox"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// sequentialIDs returns a generator producing prefix-1, prefix-2, ...
func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// --- Mock account store ---

type mockAccountStore struct {
	accounts map[string]account.Account
	emails   map[string]string // userID -> identity email
	saveErr  error
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: map[string]account.Account{}, emails: map[string]string{}}
}

func (m *mockAccountStore) add(a account.Account, email string) {
	m.accounts[a.ID] = a
	m.emails[a.UserID] = email
}

func (m *mockAccountStore) GetByID(_ context.Context, id string) (account.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return a, nil
}

func (m *mockAccountStore) GetByUserID(_ context.Context, userID string) (account.Account, error) {
	for _, a := range m.accounts {
		if a.UserID == userID {
			return a, nil
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (m *mockAccountStore) GetParentByEmail(_ context.Context, email string) (account.Account, error) {
	for _, a := range m.accounts {
		if a.IsParent() && m.emails[a.UserID] == email {
			return a, nil
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (m *mockAccountStore) ListUnlinkedByRequestedParentEmail(_ context.Context, email string) ([]account.Account, error) {
	var out []account.Account
	for _, a := range m.accounts {
		if a.IsStudent() && !a.HasParent() && a.RequestedParentEmail == email {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockAccountStore) ListByParent(_ context.Context, parentID string) ([]account.Account, error) {
	var out []account.Account
	for _, a := range m.accounts {
		if a.ParentID == parentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockAccountStore) Save(_ context.Context, a account.Account) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.accounts[a.ID] = a
	return nil
}

// --- Mock approval store ---

type mockApprovalStore struct {
	requests  map[string]approval.Request
	decideErr error
	createErr []error // returned by successive Create calls until drained
}

func newMockApprovalStore() *mockApprovalStore {
	return &mockApprovalStore{requests: map[string]approval.Request{}}
}

func (m *mockApprovalStore) GetByID(_ context.Context, id string) (approval.Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return approval.Request{}, approval.ErrNotFound
	}
	return r, nil
}

func (m *mockApprovalStore) HasPending(_ context.Context, studentID string) (bool, error) {
	for _, r := range m.requests {
		if r.StudentProfileID == studentID && r.IsPending() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockApprovalStore) HasRequest(_ context.Context, studentID string) (bool, error) {
	for _, r := range m.requests {
		if r.StudentProfileID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockApprovalStore) Create(ctx context.Context, r approval.Request) error {
	if len(m.createErr) > 0 {
		err := m.createErr[0]
		m.createErr = m.createErr[1:]
		if err != nil {
			return err
		}
	}
	if pending, _ := m.HasPending(ctx, r.StudentProfileID); pending {
		return approval.ErrAlreadyPending
	}
	m.requests[r.ID] = r
	return nil
}

func (m *mockApprovalStore) Decide(_ context.Context, r approval.Request) error {
	if m.decideErr != nil {
		return m.decideErr
	}
	if cur := m.requests[r.ID]; !cur.IsPending() {
		return approval.ErrAlreadyDecided
	}
	m.requests[r.ID] = r
	return nil
}

func (m *mockApprovalStore) ListByParent(_ context.Context, parentID string) ([]approval.Request, error) {
	var out []approval.Request
	for _, r := range m.requests {
		if r.ParentProfileID == parentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

// --- Mock user lookup ---

type mockUsers map[string]identity.User

func (m mockUsers) GetByID(_ context.Context, id string) (identity.User, error) {
	u, ok := m[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

// --- Notification recorder ---

type notifyRecorder struct {
	mu   sync.Mutex
	sent []NotifyInput
	err  error
}

func (n *notifyRecorder) notify(_ context.Context, in NotifyInput) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, in)
	return n.err
}

// --- Mock email sender ---

type mockSender struct {
	sent []email.SendRequest
	err  error
}

func (m *mockSender) Send(_ context.Context, req email.SendRequest) (email.SendResult, error) {
	if m.err != nil {
		return email.SendResult{}, m.err
	}
	m.sent = append(m.sent, req)
	return email.SendResult{MessageID: fmt.Sprintf("msg-%d", len(m.sent)), SentAt: fixedNow}, nil
}

// --- Mock outbox store ---

type mockOutboxStore struct {
	entries map[string]domainOutbox.Entry
}

func newMockOutboxStore() *mockOutboxStore {
	return &mockOutboxStore{entries: map[string]domainOutbox.Entry{}}
}

func (m *mockOutboxStore) GetByID(_ context.Context, id string) (domainOutbox.Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return domainOutbox.Entry{}, domainOutbox.ErrNotFound
	}
	return e, nil
}

func (m *mockOutboxStore) Save(_ context.Context, e domainOutbox.Entry) error {
	m.entries[e.ID] = e
	return nil
}

func (m *mockOutboxStore) ListPending(_ context.Context, limit int) ([]domainOutbox.Entry, error) {
	var out []domainOutbox.Entry
	for _, e := range m.entries {
		if e.Status == domainOutbox.StatusPending || e.Status == domainOutbox.StatusRetrying {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockOutboxStore) ListFailed(_ context.Context, _ int) ([]domainOutbox.Entry, error) {
	var out []domainOutbox.Entry
	for _, e := range m.entries {
		if e.Status == domainOutbox.StatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockOutboxStore) DeleteDone(_ context.Context, _ string) (int64, error) {
	return 0, errors.New("not implemented")
}
