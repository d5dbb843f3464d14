package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"robolearn/internal/adapters/email"
	"robolearn/internal/adapters/http/middleware"
	identityAdapter "robolearn/internal/adapters/identity"
	"robolearn/internal/adapters/metrics"
	"robolearn/internal/adapters/storage"
	accountStore "robolearn/internal/adapters/storage/account"
	approvalStore "robolearn/internal/adapters/storage/approval"
	identityStore "robolearn/internal/adapters/storage/identity"
	"robolearn/internal/application/orchestrators"
	"robolearn/internal/domain/account"
	"robolearn/internal/domain/approval"
	"robolearn/internal/domain/identity"
)

func init() {
	identity.BcryptCost = 4
}

const (
	testPassword = "secret123"
	testSiteURL  = "https://robolearn.test"
)

var testCSRFKey = []byte("0123456789abcdef0123456789abcdef")

// recordingSender keeps every email instead of sending it.
type recordingSender struct {
	mu   sync.Mutex
	sent []email.SendRequest
}

// Send implements email.Sender for testing.
func (s *recordingSender) Send(_ context.Context, req email.SendRequest) (email.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return email.SendResult{MessageID: "msg-" + req.To[0]}, nil
}

func (s *recordingSender) subjectsTo(addr string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, req := range s.sent {
		if req.To[0] == addr {
			out = append(out, req.Subject)
		}
	}
	return out
}

type testApp struct {
	handler   http.Handler // full middleware chain
	router    http.Handler // routes behind Auth only, for form posts without CSRF tokens
	provider  *identityAdapter.LocalProvider
	codes     *identityAdapter.LinkCodes
	accounts  *accountStore.SQLiteStore
	approvals *approvalStore.SQLiteStore
	users     *identityStore.SQLiteStore
	sender    *recordingSender
}

// newTestApp wires NewMux over a temp-file SQLite database and the in-house identity provider.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "web.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	collector := metrics.NewCollector()
	tdb := storage.NewTimedDB(db, collector, 0)

	app := &testApp{
		accounts:  accountStore.NewSQLiteStore(tdb),
		approvals: approvalStore.NewSQLiteStore(tdb),
		users:     identityStore.NewSQLiteStore(tdb),
		sender:    &recordingSender{},
		codes:     identityAdapter.NewLinkCodes([]byte("web-test-secret-web-test-secret!!"), nil),
	}
	notifyDeps := orchestrators.NotifyDeps{Sender: app.sender, GenerateID: uuid.NewString, Now: time.Now}
	notifyFn := func(ctx context.Context, in orchestrators.NotifyInput) error {
		return orchestrators.ExecuteSendNotification(ctx, in, notifyDeps)
	}
	app.provider = identityAdapter.NewLocalProvider(identityAdapter.Options{
		Users:    app.users,
		Sessions: identityAdapter.NewMemorySessionStore(nil),
		Codes:    app.codes,
		Mailer:   orchestrators.NewLinkMailer(notifyDeps),
		Provision: func(ctx context.Context, u identity.User) error {
			_, err := orchestrators.ExecuteProvisionProfile(ctx, orchestrators.ProvisionProfileInput{
				UserID: u.ID, Email: u.Email, Metadata: u.Metadata,
			}, orchestrators.ProvisionProfileDeps{
				Accounts:   app.accounts,
				Approvals:  app.approvals,
				Users:      app.users,
				Notify:     notifyFn,
				SiteURL:    testSiteURL,
				GenerateID: uuid.NewString,
				Now:        time.Now,
			})
			return err
		},
		RequireEmailConfirmation: true,
		Now:                      time.Now,
		GenerateID:               uuid.NewString,
	})

	app.handler = NewMux(Options{
		Stores:    &Stores{Accounts: app.accounts, Approvals: app.approvals, Users: app.users},
		Identity:  app.provider,
		Notify:    notifyFn,
		Collector: collector,
		DB:        tdb,
		Settings: Settings{
			SiteURL:   testSiteURL,
			CSRFKey:   testCSRFKey,
			RateLimit: 1000,
		},
	})

	mux := http.NewServeMux()
	registerRoutes(mux)
	app.router = middleware.Auth(app.provider)(mux)
	return app
}

// createUser makes a confirmed identity; provisioning runs through the provider hook.
func (a *testApp) createUser(t *testing.T, addr string, meta account.RegistrationMetadata) identity.User {
	t.Helper()
	u, err := a.provider.CreateConfirmedUser(context.Background(), addr, testPassword, account.EncodeMetadata(meta))
	if err != nil {
		t.Fatalf("create %s: %v", addr, err)
	}
	return u
}

// login signs in with the test password and returns the session cookie.
func (a *testApp) login(t *testing.T, addr string) *http.Cookie {
	t.Helper()
	s, err := a.provider.SignInWithPassword(context.Background(), addr, testPassword)
	if err != nil {
		t.Fatalf("sign in %s: %v", addr, err)
	}
	return &http.Cookie{Name: "robolearn_session", Value: s.Token}
}

// issueCode mints a fresh single-use link code for u.
func (a *testApp) issueCode(t *testing.T, u identity.User, typ identityAdapter.CodeType) string {
	t.Helper()
	code, err := a.codes.Issue(u.ID, u.Email, typ, uuid.NewString())
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	return code
}

// family seeds parent Pat and student Ava with one pending request.
func (a *testApp) family(t *testing.T) (parent, student account.Account, req approval.Request) {
	t.Helper()
	ctx := context.Background()
	pat := a.createUser(t, "pat@example.com", account.ParentMetadata{FullName: "Pat"})
	ava := a.createUser(t, "ava@example.com", account.StudentMetadata{FullName: "Ava", ParentEmail: "pat@example.com"})
	var err error
	if parent, err = a.accounts.GetByUserID(ctx, pat.ID); err != nil {
		t.Fatalf("parent account: %v", err)
	}
	if student, err = a.accounts.GetByUserID(ctx, ava.ID); err != nil {
		t.Fatalf("student account: %v", err)
	}
	reqs, err := a.approvals.ListByParent(ctx, parent.ID)
	if err != nil || len(reqs) != 1 {
		t.Fatalf("pending requests = %v, %v; want exactly one", reqs, err)
	}
	return parent, student, reqs[0]
}

func do(h http.Handler, req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	return do(h, httptest.NewRequest(http.MethodGet, target, nil), cookies...)
}

func postForm(h http.Handler, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(h, req, cookies...)
}

func postJSON(h http.Handler, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(h, req, cookies...)
}

func body(rr *httptest.ResponseRecorder) string {
	b, _ := io.ReadAll(rr.Result().Body)
	return string(b)
}

func assertRedirect(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303 (body %q)", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}
