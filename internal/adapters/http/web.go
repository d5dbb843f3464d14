package web

import (
	"context"
	"net/http"
	"time"

	"robolearn/internal/adapters/captcha"
	"robolearn/internal/adapters/http/middleware"
	"robolearn/internal/adapters/metrics"
	accountStore "robolearn/internal/adapters/storage/account"
	approvalStore "robolearn/internal/adapters/storage/approval"
	"robolearn/internal/application/orchestrators"
	"robolearn/internal/domain/identity"
)

// Stores holds all storage dependencies.
type Stores struct {
	Accounts  accountStore.Store
	Approvals approvalStore.Store
	Users     orchestrators.UserLookup
}

// IdentityProvider is the identity surface the HTTP layer drives.
type IdentityProvider interface {
	middleware.SessionResolver
	orchestrators.IdentityForRegister
	orchestrators.IdentityForPassword
	orchestrators.IdentityForMetadata
	SignInWithPassword(ctx context.Context, email, password string) (identity.Session, error)
	SignInWithOTP(ctx context.Context, email, redirectBase string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectBase string) error
	ExchangeCodeForSession(ctx context.Context, code string) (identity.Session, error)
	OAuthEnabled(provider string) bool
	OAuthURL(provider, state string) (string, error)
	SignInWithOAuth(ctx context.Context, provider, code string) (string, error)
}

// Pinger reports database liveness for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Settings carries the environment-derived knobs the handlers read.
type Settings struct {
	Production       bool
	SiteURL          string // empty: emailed links use the request origin
	RecaptchaSiteKey string // empty: no challenge script on /register
	GAMeasurementID  string // empty: no analytics tag
	CSRFKey          []byte
	TrustedOrigins   []string
	RateLimit        int // requests per second per IP
	SlowRequestMs    int
}

// Options holds everything NewMux wires together.
type Options struct {
	Stores    *Stores
	Identity  IdentityProvider
	Verifier  captcha.Verifier                                               // nil disables the bot challenge
	Notify    func(ctx context.Context, input orchestrators.NotifyInput) error // nil: no approval emails
	Collector *metrics.Collector
	DB        Pinger
	Settings  Settings
}

// Global stores instance (set by NewMux)
var stores *Stores

// Global identity provider (set by NewMux)
var provider IdentityProvider

// Global bot-challenge verifier and notifier (set by NewMux)
var (
	verifier captcha.Verifier
	notify   func(ctx context.Context, input orchestrators.NotifyInput) error
)

// Global metrics collector (set by NewMux)
var collector *metrics.Collector

var dbPinger Pinger

var settings Settings

// RateLimitPerSecond is the fallback per-IP rate limit. Tests can increase this.
var RateLimitPerSecond = 10

// NewMux wires HTTP handlers for the app.
// PRE: opts.Stores and opts.Identity are set; Settings.CSRFKey is 32 bytes
// POST: Returns the full middleware chain around the route table
func NewMux(opts Options) http.Handler {
	stores = opts.Stores
	provider = opts.Identity
	verifier = opts.Verifier
	notify = opts.Notify
	collector = opts.Collector
	dbPinger = opts.DB
	settings = opts.Settings
	middleware.SecureCookies = settings.Production

	mux := http.NewServeMux()
	registerRoutes(mux)

	rate := settings.RateLimit
	if rate <= 0 {
		rate = RateLimitPerSecond
	}
	limiter := middleware.NewRateLimiter(rate, time.Second)

	// Apply middleware: SecurityHeaders -> CSRF -> Auth -> RateLimit -> Timing -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(settings.CSRFKey, settings.Production, settings.TrustedOrigins),
		middleware.Auth(provider),
		middleware.RateLimit(limiter),
		middleware.Timing(collector, settings.SlowRequestMs),
	)
}

// protectedRoutes lists the paths that require a session.
var protectedRoutes = []string{
	"/dashboard",
	"/dashboard/parent",
	"/dashboard/welcome",
	"/api/approvals",
	"/api/approvals/decide",
}

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/{$}", handleLanding)
	mux.HandleFunc("/login", handleLogin)
	mux.HandleFunc("/login/magic-link", handleMagicLink)
	mux.HandleFunc("/login/google", handleGoogleLogin)
	mux.HandleFunc("/auth/google/callback", handleGoogleCallback)
	mux.HandleFunc("/auth/callback", handleAuthCallback)
	mux.HandleFunc("/register", handleRegister)
	mux.HandleFunc("/signup", handleSignup)
	mux.HandleFunc("/forgot-password", handleForgotPassword)
	mux.HandleFunc("/reset-password", handleResetPassword)
	mux.HandleFunc("/verification-pending", handleVerificationPending)
	mux.HandleFunc("/logout", handleLogout)

	protected := map[string]http.HandlerFunc{
		"/dashboard":            handleDashboard,
		"/dashboard/parent":     handleParentDashboard,
		"/dashboard/welcome":    handleDismissWelcome,
		"/api/approvals":        handleAPIApprovals,
		"/api/approvals/decide": handleAPIDecideApproval,
	}
	for _, path := range protectedRoutes {
		mux.Handle(path, middleware.RequireAuth(protected[path]))
	}

	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", collector.Handler())
}
