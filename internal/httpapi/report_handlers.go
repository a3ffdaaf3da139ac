package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"labdesk.org/internal/review"
)

type approveRequest struct {
	Folder string `json:"folder"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// listReports serves the review queue by default; ?status=approved with an
// optional ?folder= lists the filed reports.
func (a *API) listReports(w http.ResponseWriter, r *http.Request) {
	status := review.StatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		var err error
		if status, err = review.ParseStatus(raw); err != nil {
			a.handleError(w, r, err)
			return
		}
	}
	var (
		list []review.Report
		err  error
	)
	if status == review.StatusPending {
		list, err = a.engine.PendingReports(r.Context(), sessionOf(r))
	} else {
		list, err = a.engine.Reports(r.Context(), sessionOf(r), status, r.URL.Query().Get("folder"))
	}
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

func (a *API) submitReport(w http.ResponseWriter, r *http.Request) {
	file, name, err := a.uploadedFile(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	defer file.Close()
	rep, err := a.engine.SubmitReport(r.Context(), sessionOf(r), name, file)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (a *API) getReport(w http.ResponseWriter, r *http.Request) {
	rep, err := a.engine.GetReport(r.Context(), sessionOf(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) approveReport(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.handleError(w, r, err)
		return
	}
	rep, err := a.engine.ApproveReport(r.Context(), sessionOf(r), chi.URLParam(r, "id"), req.Folder)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) rejectReport(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.handleError(w, r, err)
		return
	}
	rep, err := a.engine.RejectReport(r.Context(), sessionOf(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := a.engine.Notifications(r.Context(), sessionOf(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), defaultAuditLimit, maxAuditLimit)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	list, err := a.engine.AuditLog(r.Context(), sessionOf(r), limit)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

func (a *API) listQuotations(w http.ResponseWriter, r *http.Request) {
	list, err := a.engine.Quotations(r.Context(), sessionOf(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}
