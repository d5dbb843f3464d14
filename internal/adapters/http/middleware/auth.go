package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"robolearn/internal/domain/identity"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const sessionContextKey contextKey = "session"

const sessionCookieName = "robolearn_session"

// SecureCookies marks session cookies Secure; set in production.
var SecureCookies bool

// SessionResolver looks a session token up with the identity provider.
type SessionResolver interface {
	GetSession(ctx context.Context, token string) (identity.Session, error)
}

// Auth returns middleware that resolves the session cookie on every request and
// stores the session in the request context.
// It does NOT block unauthenticated requests; use RequireAuth for that.
func Auth(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := SessionToken(r); token != "" {
				session, err := resolver.GetSession(r.Context(), token)
				if err == nil {
					r = r.WithContext(ContextWithSession(r.Context(), session))
				} else {
					slog.Debug("auth_event", "event", "session_rejected", "reason", err.Error())
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth returns middleware that sends unauthenticated requests to /login.
// The redirect carries no body so nothing protected leaks to anonymous clients.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetSessionFromContext(r.Context()); !ok {
			w.Header().Set("Location", "/login")
			w.WriteHeader(http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSessionFromContext extracts the session from the request context.
func GetSessionFromContext(ctx context.Context) (identity.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(identity.Session)
	return session, ok
}

// ContextWithSession returns a context with the given session set.
// Intended for use in tests.
func ContextWithSession(ctx context.Context, sess identity.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionToken returns the raw session cookie value, or "".
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// SetSessionCookie sets the session cookie on the response.
// SameSite=Lax so the cookie survives the redirect back from an emailed link or OAuth consent.
func SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		HttpOnly: true,
		Secure:   SecureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   int(identity.SessionLifetime.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		HttpOnly: true,
		Secure:   SecureCookies,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   -1,
	})
}
