package httpapi

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"labdesk.org/internal/maintenance"
)

type registerEquipmentRequest struct {
	Name         string `json:"name"`
	EquipmentNum string `json:"equipment_num"`
	Description  string `json:"description"`
}

type scheduleRequest struct {
	Date string `json:"date"`
	Task string `json:"task"`
}

func (a *API) listEquipment(w http.ResponseWriter, r *http.Request) {
	list, err := a.engine.ListEquipment(r.Context(), sessionOf(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

func (a *API) registerEquipment(w http.ResponseWriter, r *http.Request) {
	var req registerEquipmentRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.handleError(w, r, err)
		return
	}
	eq, err := a.engine.RegisterEquipment(r.Context(), sessionOf(r), req.Name, req.EquipmentNum, req.Description)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, eq)
}

func (a *API) getEquipment(w http.ResponseWriter, r *http.Request) {
	eq, err := a.engine.GetEquipment(r.Context(), sessionOf(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eq)
}

func (a *API) overdueEquipment(w http.ResponseWriter, r *http.Request) {
	ref := maintenance.DateOf(time.Now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := maintenance.ParseDate(raw)
		if err != nil {
			a.handleError(w, r, err)
			return
		}
		ref = d
	}
	list, err := a.engine.ComputeOverdue(r.Context(), sessionOf(r), ref)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  ref,
		"items": orEmpty(list),
	})
}

func (a *API) scheduleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.handleError(w, r, err)
		return
	}
	date, err := maintenance.ParseDate(req.Date)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	entry, err := a.engine.ScheduleMaintenance(r.Context(), sessionOf(r), chi.URLParam(r, "id"), date, req.Task)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// equipmentLog serves both the per-instrument and the global history.
func (a *API) equipmentLog(w http.ResponseWriter, r *http.Request) {
	list, err := a.engine.ListLog(r.Context(), sessionOf(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

func (a *API) pendingMaintenance(w http.ResponseWriter, r *http.Request) {
	list, err := a.engine.ListPending(r.Context(), sessionOf(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

func (a *API) getMaintenanceEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.engine.GetEntry(r.Context(), sessionOf(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) acknowledgeMaintenance(w http.ResponseWriter, r *http.Request) {
	entry, err := a.engine.Acknowledge(r.Context(), sessionOf(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) listSpecifications(w http.ResponseWriter, r *http.Request) {
	list, err := a.engine.ListSpecifications(r.Context(), sessionOf(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

func (a *API) attachSpecification(w http.ResponseWriter, r *http.Request) {
	file, name, err := a.uploadedFile(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	defer file.Close()
	spec, err := a.engine.AttachSpecification(r.Context(), sessionOf(r), chi.URLParam(r, "id"), name, file)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, spec)
}

// uploadedFile returns the "file" part of a multipart form.
func (a *API) uploadedFile(r *http.Request) (multipart.File, string, error) {
	if err := r.ParseMultipartForm(a.opts.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", badInput("upload too large")
		}
		return nil, "", badInput("multipart form with a file field is required")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", badInput("file field is required")
	}
	return file, filepath.Base(header.Filename), nil
}

// orEmpty keeps empty collections encoded as [] rather than null.
func orEmpty[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
