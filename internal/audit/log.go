// Package audit keeps the append-only record of successful user actions.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/ids"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// Store appends immutable entries.
type Store interface {
	AppendAudit(ctx context.Context, e Entry) error
	ListAudit(ctx context.Context, limit int) ([]Entry, error)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Trail writes audit entries to the store and mirrors them to the log.
type Trail struct {
	store Store
	log   *zap.Logger
}

var _ access.Recorder = (*Trail)(nil)

// NewTrail builds a Trail.
func NewTrail(store Store, log *zap.Logger) *Trail {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trail{store: store, log: log.Named("audit")}
}

// Record appends an entry. It is called by the guard after an operation
// succeeds and never for denied attempts.
func (t *Trail) Record(ctx context.Context, userID, action, details string, at time.Time) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("audit action is required")
	}
	e := Entry{
		ID:        ids.NewAt(at),
		UserID:    userID,
		Action:    action,
		Details:   details,
		Timestamp: at.UTC(),
	}
	if err := t.store.AppendAudit(ctx, e); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("audit_id", e.ID),
		zap.String("user_id", userID),
		zap.String("action", action),
		zap.String("details", details),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	t.log.Info("audit", fields...)
	return nil
}

// List returns the newest entries first.
func (t *Trail) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit < 0 || limit > maxListLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", apperrors.ErrInvalidInput, maxListLimit)
	}
	return t.store.ListAudit(ctx, limit)
}
