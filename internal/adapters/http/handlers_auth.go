package web

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"robolearn/internal/adapters/http/middleware"
	identityAdapter "robolearn/internal/adapters/identity"
	"robolearn/internal/application/orchestrators"
	"robolearn/internal/domain/identity"
	"robolearn/internal/domain/registration"
)

// Messages shown on the auth pages.
const (
	MsgMagicLinkSent = "Check your email for a magic link to sign in."
	MsgResetLinkSent = "Check your email for a password reset link. The link will expire in 1 hour."
	MsgNoCode        = "No authentication code provided"
	MsgAuthFailed    = "Authentication failed"
)

const (
	oauthStateCookie = "robolearn_oauth_state"
	providerGoogle   = "google"
)

// loginRedirect builds /login with a message or error query parameter.
func loginRedirect(key, msg string) string {
	return "/login?" + url.Values{key: {msg}}.Encode()
}

// handleLanding serves GET /
func handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	renderTemplate(w, r, "landing.html", nil)
}

func loginPage(r *http.Request, extra map[string]any) map[string]any {
	data := map[string]any{
		"Message":       r.URL.Query().Get("message"),
		"Error":         r.URL.Query().Get("error"),
		"GoogleEnabled": provider.OAuthEnabled(providerGoogle),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// handleLogin handles GET (form) and POST (authenticate) for /login
func handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		if _, ok := middleware.GetSessionFromContext(r.Context()); ok {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		renderTemplate(w, r, "login.html", loginPage(r, nil))
		return
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}
		email := identity.NormalizeEmail(r.FormValue("email"))

		sess, err := provider.SignInWithPassword(r.Context(), email, r.FormValue("password"))
		if err != nil {
			msg, ok := userMessage(err)
			if !ok {
				internalError(w, err)
				return
			}
			collector.CountEvent("login", "rejected")
			renderTemplate(w, r, "login.html", loginPage(r, map[string]any{"Error": msg, "Message": "", "Email": email}))
			return
		}

		collector.CountEvent("login", "ok")
		middleware.SetSessionCookie(w, sess.Token)
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	w.WriteHeader(http.StatusMethodNotAllowed)
}

// handleMagicLink handles POST /login/magic-link
func handleMagicLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	email := identity.NormalizeEmail(r.FormValue("email"))
	if !strings.Contains(email, "@") {
		renderTemplate(w, r, "login.html", loginPage(r, map[string]any{"Error": registration.MsgInvalidEmail, "Message": ""}))
		return
	}

	if err := provider.SignInWithOTP(r.Context(), email, siteURL(r)); err != nil {
		msg, ok := userMessage(err)
		if !ok {
			internalError(w, err)
			return
		}
		renderTemplate(w, r, "login.html", loginPage(r, map[string]any{"Error": msg, "Message": "", "Email": email}))
		return
	}
	renderTemplate(w, r, "login.html", loginPage(r, map[string]any{"Message": MsgMagicLinkSent, "Error": ""}))
}

// handleGoogleLogin handles GET /login/google: it sets a state cookie and sends the browser to Google.
func handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := uuid.NewString()
	consentURL, err := provider.OAuthURL(providerGoogle, state)
	if err != nil {
		if msg, ok := userMessage(err); ok {
			http.Redirect(w, r, loginRedirect("error", msg), http.StatusSeeOther)
			return
		}
		internalError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		HttpOnly: true,
		Secure:   middleware.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((10 * time.Minute).Seconds()),
	})
	http.Redirect(w, r, consentURL, http.StatusSeeOther)
}

// handleGoogleCallback handles GET /auth/google/callback.
// It turns the provider's code into a link code and hands over to /auth/callback.
func handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/auth/google", MaxAge: -1})

	q := r.URL.Query()
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") || q.Get("code") == "" {
		collector.CountEvent("oauth", "rejected")
		http.Redirect(w, r, loginRedirect("error", MsgAuthFailed), http.StatusSeeOther)
		return
	}

	code, err := provider.SignInWithOAuth(r.Context(), providerGoogle, q.Get("code"))
	if err != nil {
		collector.CountEvent("oauth", "rejected")
		http.Redirect(w, r, loginRedirect("error", MsgAuthFailed), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, identityAdapter.CallbackLink("", code, ""), http.StatusSeeOther)
}

// handleAuthCallback handles GET /auth/callback: the landing point for every emailed link.
func handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		http.Redirect(w, r, loginRedirect("error", MsgNoCode), http.StatusSeeOther)
		return
	}
	next := localPath(q.Get("next"), "/dashboard")

	sess, err := provider.ExchangeCodeForSession(r.Context(), code)
	if err != nil {
		collector.CountEvent("code_exchange", "rejected")
		http.Redirect(w, r, loginRedirect("error", MsgAuthFailed), http.StatusSeeOther)
		return
	}
	collector.CountEvent("code_exchange", "ok")
	middleware.SetSessionCookie(w, sess.Token)
	http.Redirect(w, r, callbackTarget(r, next), http.StatusSeeOther)
}

// handleSignup sends the legacy /signup path to /register, keeping the method.
func handleSignup(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/register", http.StatusPermanentRedirect)
}

func registerPage(form registration.Form, extra map[string]any) map[string]any {
	if form.AccountType == "" {
		form.AccountType = "parent"
	}
	data := map[string]any{
		"FullName":    form.FullName,
		"Email":       form.Email,
		"AccountType": form.AccountType,
		"ParentEmail": form.ParentEmail,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// handleRegister handles GET (form) and POST (create account) for /register
func handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		renderTemplate(w, r, "register.html", registerPage(registration.Form{AccountType: r.URL.Query().Get("type")}, nil))
		return
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}
		form := registration.Form{
			Email:           r.FormValue("email"),
			Password:        r.FormValue("password"),
			ConfirmPassword: r.FormValue("confirmPassword"),
			FullName:        r.FormValue("fullName"),
			AccountType:     r.FormValue("accountType"),
			ParentEmail:     r.FormValue("parentEmail"),
		}
		input := orchestrators.RegisterInput{
			Form:           form,
			ChallengeToken: r.FormValue("recaptchaToken"),
			RemoteIP:       clientIP(r),
			RedirectBase:   siteURL(r),
		}
		deps := orchestrators.RegisterDeps{
			Identity: provider,
			Verifier: verifier,
		}

		result, err := orchestrators.ExecuteRegister(r.Context(), input, deps)
		if err != nil {
			msg, ok := userMessage(err)
			if !ok {
				collector.CountEvent("register", "error")
				internalError(w, err)
				return
			}
			collector.CountEvent("register", "rejected")
			renderTemplate(w, r, "register.html", registerPage(form, map[string]any{"Error": msg}))
			return
		}

		collector.CountEvent("register", "ok")
		renderTemplate(w, r, "register.html", registerPage(registration.Form{}, map[string]any{
			"Message":         result.Message,
			"RedirectTo":      result.RedirectTo,
			"RedirectSeconds": int(result.RedirectAfter / time.Second),
		}))
		return
	}

	w.WriteHeader(http.StatusMethodNotAllowed)
}

// handleForgotPassword handles GET (form) and POST (send reset link) for /forgot-password
func handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		renderTemplate(w, r, "forgot_password.html", nil)
		return
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}
		email := identity.NormalizeEmail(r.FormValue("email"))
		if !strings.Contains(email, "@") {
			renderTemplate(w, r, "forgot_password.html", map[string]any{"Error": registration.MsgInvalidEmail, "Email": email})
			return
		}
		if err := provider.ResetPasswordForEmail(r.Context(), email, siteURL(r)); err != nil {
			msg, ok := userMessage(err)
			if !ok {
				internalError(w, err)
				return
			}
			renderTemplate(w, r, "forgot_password.html", map[string]any{"Error": msg, "Email": email})
			return
		}
		renderTemplate(w, r, "forgot_password.html", map[string]any{"Message": MsgResetLinkSent})
		return
	}

	w.WriteHeader(http.StatusMethodNotAllowed)
}

// handleResetPassword handles GET (form) and POST (set password) for /reset-password.
// Both require the recovery session opened by the emailed link.
func handleResetPassword(w http.ResponseWriter, r *http.Request) {
	token := middleware.SessionToken(r)

	if r.Method == http.MethodGet {
		if err := orchestrators.CheckRecoverySession(r.Context(), token, provider); err != nil {
			renderTemplate(w, r, "reset_password.html", map[string]any{"Error": orchestrators.MsgInvalidResetLink, "Invalid": true})
			return
		}
		renderTemplate(w, r, "reset_password.html", nil)
		return
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}
		err := orchestrators.ExecuteResetPassword(r.Context(), orchestrators.ResetPasswordInput{
			SessionToken:    token,
			Password:        r.FormValue("password"),
			ConfirmPassword: r.FormValue("confirmPassword"),
		}, orchestrators.ResetPasswordDeps{Identity: provider})
		if err != nil {
			msg, ok := userMessage(err)
			if !ok {
				internalError(w, err)
				return
			}
			renderTemplate(w, r, "reset_password.html", map[string]any{
				"Error":   msg,
				"Invalid": errors.Is(err, orchestrators.ErrInvalidResetLink),
			})
			return
		}
		middleware.ClearSessionCookie(w)
		http.Redirect(w, r, loginRedirect("message", orchestrators.MsgPasswordUpdated), http.StatusSeeOther)
		return
	}

	w.WriteHeader(http.StatusMethodNotAllowed)
}

// handleVerificationPending serves GET /verification-pending
func handleVerificationPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	renderTemplate(w, r, "verification_pending.html", nil)
}

// handleLogout handles POST /logout
func handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if token := middleware.SessionToken(r); token != "" {
		if err := provider.SignOut(r.Context(), token); err != nil {
			internalError(w, err)
			return
		}
	}
	middleware.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
