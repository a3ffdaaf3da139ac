// Package httpapi exposes the lab engine over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/auth"
	"labdesk.org/internal/lab"
	"labdesk.org/internal/obs"
	"labdesk.org/internal/stream"
)

const serviceName = "labdesk"

// Readiness reports whether dependencies can serve traffic.
type Readiness interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to Readiness.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Options tunes limits and cross-origin access.
type Options struct {
	Version        string
	MaxBodyBytes   int64
	MaxUploadBytes int64
	LoginRate      float64
	LoginBurst     int
	AllowedOrigins []string
}

func (o *Options) defaults() {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 20 << 20
	}
	if o.LoginRate <= 0 {
		o.LoginRate = 1
	}
	if o.LoginBurst <= 0 {
		o.LoginBurst = 5
	}
}

// API is the HTTP layer.
type API struct {
	engine *lab.Engine
	tokens *auth.TokenIssuer
	ready  Readiness
	hub    *stream.Hub
	log    *zap.Logger
	opts   Options
}

// New wires the API. hub may be nil, which disables the live feed.
func New(engine *lab.Engine, tokens *auth.TokenIssuer, ready Readiness, hub *stream.Hub, log *zap.Logger, opts Options) *API {
	if log == nil {
		log = zap.NewNop()
	}
	if ready == nil {
		ready = ReadyFunc(nil)
	}
	opts.defaults()
	return &API{
		engine: engine,
		tokens: tokens,
		ready:  ready,
		hub:    hub,
		log:    log.Named("http"),
		opts:   opts,
	}
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging(a.log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           600,
	}))
	r.Use(obs.Instrument)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)
		r.With(RateLimit(a.opts.LoginRate, a.opts.LoginBurst)).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Post("/auth/logout", a.handleLogout)
			r.Get("/auth/me", a.handleMe)

			r.Get("/equipment", a.listEquipment)
			r.Post("/equipment", a.registerEquipment)
			r.Get("/equipment/overdue", a.overdueEquipment)
			r.Get("/equipment/{id}", a.getEquipment)
			r.Post("/equipment/{id}/maintenance", a.scheduleMaintenance)
			r.Get("/equipment/{id}/log", a.equipmentLog)
			r.Get("/equipment/{id}/specifications", a.listSpecifications)
			r.With(a.uploadLimit).Post("/equipment/{id}/specifications", a.attachSpecification)

			r.Get("/maintenance/pending", a.pendingMaintenance)
			r.Get("/maintenance/log", a.equipmentLog)
			r.Get("/maintenance/{id}", a.getMaintenanceEntry)
			r.Post("/maintenance/{id}/acknowledge", a.acknowledgeMaintenance)

			r.Get("/reports", a.listReports)
			r.With(a.uploadLimit).Post("/reports", a.submitReport)
			r.Get("/reports/{id}", a.getReport)
			r.Post("/reports/{id}/approve", a.approveReport)
			r.Post("/reports/{id}/reject", a.rejectReport)

			r.Get("/library/documents/{id}", a.downloadDocument)
			r.Delete("/library/documents/{id}", a.deleteDocument)
			r.Get("/library/{kind}/folders", a.listLibraryFolders)
			r.Post("/library/{kind}/folders", a.createLibraryFolder)
			r.Get("/library/{kind}/documents", a.listLibraryDocuments)
			r.With(a.uploadLimit).Post("/library/{kind}/documents", a.uploadLibraryDocument)

			r.Get("/notifications", a.listNotifications)
			r.Get("/notifications/stream", a.Stream)
			r.Get("/audit", a.listAudit)
			r.Get("/quotations", a.listQuotations)
		})
	})
	return r
}

func (a *API) allowedOrigins() []string {
	if len(a.opts.AllowedOrigins) > 0 {
		return a.opts.AllowedOrigins
	}
	return []string{"http://localhost:*", "http://127.0.0.1:*"}
}

// uploadLimit replaces the JSON body limit for multipart routes.
func (a *API) uploadLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.opts.MaxUploadBytes+(1<<16))
		next.ServeHTTP(w, r)
	})
}

// --- health checks ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrSessionAlreadyActive),
		errors.Is(err, apperrors.ErrAlreadyAcknowledged),
		errors.Is(err, apperrors.ErrAlreadyDecided),
		errors.Is(err, apperrors.ErrReviewInProgress),
		errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrEmptyReason), errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrRelocationFailed):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleError writes err using its public message. Validation errors keep
// their detail because it is always composed by this service.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := apperrors.Message(err)
	if errors.Is(err, apperrors.ErrInvalidInput) {
		msg = err.Error()
	}
	code := apperrors.Code(err)
	if errors.Is(err, auth.ErrInvalidToken) {
		code, msg = "invalid_token", "invalid or expired token"
	}
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, r, status, code, msg)
}

func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, a.opts.MaxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badInput("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return badInput("request body too large")
		}
		return badInput("malformed JSON: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return badInput("unexpected data after JSON body")
	}
	return nil
}

func badInput(msg string) error {
	return &inputError{msg: msg}
}

type inputError struct{ msg string }

func (e *inputError) Error() string { return apperrors.ErrInvalidInput.Error() + ": " + e.msg }

func (e *inputError) Unwrap() error { return apperrors.ErrInvalidInput }

func parsePositiveInt(raw string, def, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 || val > max {
		return 0, badInput("limit must be between 1 and " + strconv.Itoa(max))
	}
	return val, nil
}

func sessionOf(r *http.Request) auth.Session {
	sess, _ := auth.SessionFromContext(r.Context())
	return sess
}
