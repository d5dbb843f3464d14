package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/csrf"

	"robolearn/internal/adapters/http/middleware"
	"robolearn/internal/domain/identity"
	"robolearn/internal/domain/registration"
)

// timeNow is the clock used by handlers. Tests can override it.
var timeNow = time.Now

//go:embed templates/*.html
var templatesFS embed.FS

// internalError logs the error and returns a generic 500 response.
func internalError(w http.ResponseWriter, err error) {
	logInternal(err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func logInternal(err error) {
	slog.Error("internal_error", "error", err.Error())
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("internal_error", "error", err.Error())
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// userMessage returns the inline text for validation and provider errors, and false for anything else.
func userMessage(err error) (string, bool) {
	var verr *registration.ValidationError
	if errors.As(err, &verr) {
		return verr.Message, true
	}
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		return authErr.Message, true
	}
	return "", false
}

func renderTemplate(w http.ResponseWriter, r *http.Request, templateName string, data any) {
	renderTemplateStatus(w, r, http.StatusOK, templateName, data)
}

func renderTemplateStatus(w http.ResponseWriter, r *http.Request, status int, templateName string, data any) {
	sess, ok := middleware.GetSessionFromContext(r.Context())
	email := ""
	if ok {
		email = sess.Email
	}

	funcMap := template.FuncMap{
		"currentEmail":     func() string { return email },
		"isLoggedIn":       func() bool { return ok },
		"csrfToken":        func() string { return csrf.Token(r) },
		"recaptchaSiteKey": func() string { return settings.RecaptchaSiteKey },
		"gaMeasurementID":  func() string { return settings.GAMeasurementID },
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("Jan 2, 2006 3:04 PM")
		},
	}

	tpl, err := template.New("layout.html").Funcs(funcMap).ParseFS(templatesFS, "templates/layout.html", "templates/"+templateName)
	if err != nil {
		internalError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// requestOrigin is scheme://host as the client addressed this server.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// siteURL is the absolute base for links that leave the browser (emails).
func siteURL(r *http.Request) string {
	if settings.SiteURL != "" {
		return strings.TrimRight(settings.SiteURL, "/")
	}
	return requestOrigin(r)
}

// localPath returns next when it is a same-site path, else fallback.
func localPath(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}

// callbackTarget chooses the absolute redirect after a successful code exchange.
// Development trusts the request origin; behind a proxy the forwarded host wins; otherwise
// the origin is upgraded to https.
func callbackTarget(r *http.Request, next string) string {
	if !settings.Production {
		return requestOrigin(r) + next
	}
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		proto := r.Header.Get("X-Forwarded-Proto")
		if proto == "" {
			proto = "https"
		}
		return proto + "://" + host + next
	}
	return "https://" + r.Host + next
}

// sessionOrRedirect returns the current session; RequireAuth guarantees one on protected routes.
func sessionOrRedirect(w http.ResponseWriter, r *http.Request) (identity.Session, bool) {
	sess, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		w.Header().Set("Location", "/login")
		w.WriteHeader(http.StatusSeeOther)
	}
	return sess, ok
}
