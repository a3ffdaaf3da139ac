package httpapi

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"labdesk.org/internal/library"
)

type folderRequest struct {
	Name string `json:"name"`
}

func (a *API) libraryKind(w http.ResponseWriter, r *http.Request) (library.Kind, bool) {
	kind, err := library.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.handleError(w, r, err)
		return "", false
	}
	return kind, true
}

func (a *API) listLibraryFolders(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.libraryKind(w, r)
	if !ok {
		return
	}
	list, err := a.engine.LibraryFolders(r.Context(), sessionOf(r), kind)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

func (a *API) createLibraryFolder(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.libraryKind(w, r)
	if !ok {
		return
	}
	var req folderRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.handleError(w, r, err)
		return
	}
	f, err := a.engine.CreateLibraryFolder(r.Context(), sessionOf(r), kind, req.Name)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (a *API) listLibraryDocuments(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.libraryKind(w, r)
	if !ok {
		return
	}
	list, err := a.engine.LibraryDocuments(r.Context(), sessionOf(r), kind, r.URL.Query().Get("folder"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orEmpty(list)})
}

// uploadLibraryDocument takes the "file" part plus an optional "folder"
// field; no folder files into the base directory.
func (a *API) uploadLibraryDocument(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.libraryKind(w, r)
	if !ok {
		return
	}
	file, name, err := a.uploadedFile(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	defer file.Close()
	d, err := a.engine.UploadDocument(r.Context(), sessionOf(r), kind, r.FormValue("folder"), name, file)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) downloadDocument(w http.ResponseWriter, r *http.Request) {
	d, body, err := a.engine.OpenDocument(r.Context(), sessionOf(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	defer body.Close()

	ctype := mime.TypeByExtension(filepath.Ext(d.Filename))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Filename}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		a.log.Warn("document download interrupted",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("document_id", d.ID), zap.Error(err))
	}
}

func (a *API) deleteDocument(w http.ResponseWriter, r *http.Request) {
	d, err := a.engine.DeleteDocument(r.Context(), sessionOf(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
