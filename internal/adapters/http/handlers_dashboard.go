package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"robolearn/internal/application/orchestrators"
	"robolearn/internal/application/projections"
	"robolearn/internal/domain/account"
	"robolearn/internal/domain/approval"
)

// Messages shown on the parent dashboard.
const (
	MsgAccessDenied        = "This page is only accessible to parent/guardian accounts."
	MsgApprovalsLoadFailed = "Failed to load student approval requests"
	MsgApprovalFailed      = "Failed to update approval status"
	MsgNotYourApproval     = "This approval request is not addressed to you."
	MsgAlreadyDecided      = "This request has already been decided."
	MsgApproved            = "Student approved."
	MsgDenied              = "Request denied."
)

// handleDashboard serves GET /dashboard
func handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := sessionOrRedirect(w, r)
	if !ok {
		return
	}

	result, err := projections.QueryGetDashboard(r.Context(),
		projections.GetDashboardQuery{UserID: sess.UserID, Email: sess.Email},
		projections.GetDashboardDeps{Accounts: stores.Accounts, Users: stores.Users},
	)
	if err != nil {
		internalError(w, err)
		return
	}
	renderTemplate(w, r, "dashboard.html", result)
}

// handleDismissWelcome handles POST /dashboard/welcome
func handleDismissWelcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := sessionOrRedirect(w, r)
	if !ok {
		return
	}
	if err := orchestrators.ExecuteDismissWelcome(r.Context(), sess.Token, provider); err != nil {
		internalError(w, err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func approvalsDeps() projections.GetParentApprovalsDeps {
	return projections.GetParentApprovalsDeps{
		Approvals: stores.Approvals,
		Accounts:  stores.Accounts,
		Users:     stores.Users,
	}
}

func decideDeps(r *http.Request) orchestrators.DecideApprovalDeps {
	return orchestrators.DecideApprovalDeps{
		Approvals: stores.Approvals,
		Accounts:  stores.Accounts,
		Users:     stores.Users,
		Notify:    notify,
		SiteURL:   siteURL(r),
		Now:       timeNow,
	}
}

// parentProfile returns the signed-in user's parent profile, or projections.ErrNotParent.
func parentProfile(ctx context.Context, userID string) (account.Account, error) {
	acc, err := stores.Accounts.GetByUserID(ctx, userID)
	if errors.Is(err, account.ErrNotFound) {
		return account.Account{}, projections.ErrNotParent
	}
	if err != nil {
		return account.Account{}, err
	}
	if !acc.IsParent() {
		return account.Account{}, projections.ErrNotParent
	}
	return acc, nil
}

// decisionMessage maps a decision failure onto what the parent sees.
func decisionMessage(err error) (string, int) {
	switch {
	case errors.Is(err, orchestrators.ErrNotYourApproval):
		return MsgNotYourApproval, http.StatusForbidden
	case errors.Is(err, approval.ErrAlreadyDecided):
		return MsgAlreadyDecided, http.StatusConflict
	case errors.Is(err, approval.ErrNotFound):
		return approval.ErrNotFound.Error(), http.StatusNotFound
	case errors.Is(err, approval.ErrInvalidDecision), errors.Is(err, approval.ErrNotesTooLong):
		return err.Error(), http.StatusBadRequest
	}
	return MsgApprovalFailed, http.StatusInternalServerError
}

// handleParentDashboard handles GET (page) and POST (decide one request) for /dashboard/parent
func handleParentDashboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOrRedirect(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		result, err := projections.QueryGetParentDashboard(r.Context(),
			projections.GetParentDashboardQuery{UserID: sess.UserID},
			projections.GetParentDashboardDeps{Accounts: stores.Accounts, Approvals: stores.Approvals, Users: stores.Users},
		)
		if errors.Is(err, projections.ErrNotParent) {
			renderTemplateStatus(w, r, http.StatusForbidden, "access_denied.html", map[string]any{"Message": MsgAccessDenied})
			return
		}
		if err != nil {
			internalError(w, err)
			return
		}
		data := map[string]any{
			"Dashboard": result,
			"Message":   r.URL.Query().Get("message"),
			"Error":     r.URL.Query().Get("error"),
		}
		if result.ApprovalsErr != nil {
			data["ApprovalsError"] = MsgApprovalsLoadFailed
		}
		renderTemplate(w, r, "parent_dashboard.html", data)
		return
	}

	if r.Method == http.MethodPost {
		parent, err := parentProfile(r.Context(), sess.UserID)
		if errors.Is(err, projections.ErrNotParent) {
			renderTemplateStatus(w, r, http.StatusForbidden, "access_denied.html", map[string]any{"Message": MsgAccessDenied})
			return
		}
		if err != nil {
			internalError(w, err)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}

		req, err := orchestrators.ExecuteDecideApproval(r.Context(), orchestrators.DecideApprovalInput{
			ParentProfileID: parent.ID,
			ApprovalID:      r.FormValue("approval_id"),
			Decision:        r.FormValue("decision"),
			Notes:           r.FormValue("notes"),
		}, decideDeps(r))
		if err != nil {
			msg, status := decisionMessage(err)
			collector.CountEvent("approval_decision", "rejected")
			if status == http.StatusInternalServerError {
				internalError(w, err)
				return
			}
			http.Redirect(w, r, "/dashboard/parent?"+url.Values{"error": {msg}}.Encode(), http.StatusSeeOther)
			return
		}

		var msg string
		switch req.Status {
		case approval.StatusApproved:
			msg = MsgApproved
		case approval.StatusDenied:
			msg = MsgDenied
		default:
			internalError(w, fmt.Errorf("approval %s left in status %q", req.ID, req.Status))
			return
		}
		collector.CountEvent("approval_decision", string(req.Status))
		http.Redirect(w, r, "/dashboard/parent?"+url.Values{"message": {msg}}.Encode(), http.StatusSeeOther)
		return
	}

	w.WriteHeader(http.StatusMethodNotAllowed)
}

// handleAPIApprovals serves GET /api/approvals as JSON
func handleAPIApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := sessionOrRedirect(w, r)
	if !ok {
		return
	}
	parent, err := parentProfile(r.Context(), sess.UserID)
	if errors.Is(err, projections.ErrNotParent) {
		writeJSONError(w, http.StatusForbidden, MsgAccessDenied)
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	result, err := projections.QueryGetParentApprovals(r.Context(),
		projections.GetParentApprovalsQuery{ParentProfileID: parent.ID}, approvalsDeps())
	if err != nil {
		logInternal(err)
		writeJSONError(w, http.StatusInternalServerError, MsgApprovalsLoadFailed)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decideRequest is the JSON body of POST /api/approvals/decide.
type decideRequest struct {
	ApprovalID string `json:"approval_id"`
	Decision   string `json:"decision"`
	Notes      string `json:"notes"`
}

// handleAPIDecideApproval handles POST /api/approvals/decide and returns the updated row.
func handleAPIDecideApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := sessionOrRedirect(w, r)
	if !ok {
		return
	}
	parent, err := parentProfile(r.Context(), sess.UserID)
	if errors.Is(err, projections.ErrNotParent) {
		writeJSONError(w, http.StatusForbidden, MsgAccessDenied)
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	var body decideRequest
	if err := strictDecode(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := orchestrators.ExecuteDecideApproval(r.Context(), orchestrators.DecideApprovalInput{
		ParentProfileID: parent.ID,
		ApprovalID:      body.ApprovalID,
		Decision:        body.Decision,
		Notes:           body.Notes,
	}, decideDeps(r))
	if err != nil {
		msg, status := decisionMessage(err)
		collector.CountEvent("approval_decision", "rejected")
		if status == http.StatusInternalServerError {
			logInternal(err)
		}
		writeJSONError(w, status, msg)
		return
	}

	collector.CountEvent("approval_decision", string(req.Status))
	writeJSON(w, http.StatusOK, projections.BuildApprovalRow(r.Context(), req, approvalsDeps()))
}

// handleHealthz reports liveness plus a database ping.
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if dbPinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbPinger.PingContext(ctx); err != nil {
			logInternal(err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
