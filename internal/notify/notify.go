// Package notify stores role-targeted and broadcast notices. Visibility is
// role membership; no per-user read state is kept.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/ids"
)

// Notification is immutable once created. A nil TargetRole is a broadcast.
type Notification struct {
	ID         string       `json:"id"`
	Message    string       `json:"message"`
	TargetRole *access.Role `json:"target_role"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Broadcast reports whether every role can see n.
func (n Notification) Broadcast() bool { return n.TargetRole == nil }

// To targets a single role.
func To(role access.Role) *access.Role { return &role }

// Store persists notifications.
type Store interface {
	InsertNotification(ctx context.Context, n Notification) error
	// ListNotifications returns notifications targeted at role or broadcast,
	// newest first, ties broken by id descending.
	ListNotifications(ctx context.Context, role access.Role) ([]Notification, error)
}

// Publisher receives every stored notification, for live delivery.
type Publisher interface {
	Publish(n Notification)
}

// Service creates and lists notifications.
type Service struct {
	store Store
	log   *zap.Logger
	pub   Publisher
}

// NewService builds a Service.
func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log.Named("notify")}
}

// WithPublisher forwards stored notifications to pub.
func (s *Service) WithPublisher(pub Publisher) *Service {
	s.pub = pub
	return s
}

// Notify appends a notice for target, or for everyone when target is nil.
func (s *Service) Notify(ctx context.Context, message string, target *access.Role, now time.Time) (Notification, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Notification{}, fmt.Errorf("%w: message is required", apperrors.ErrInvalidInput)
	}
	if target != nil && !target.Valid() {
		return Notification{}, fmt.Errorf("%w: unknown role %q", apperrors.ErrInvalidInput, *target)
	}
	n := Notification{
		ID:        ids.NewAt(now),
		Message:   message,
		CreatedAt: now.UTC(),
	}
	if target != nil {
		r := *target
		n.TargetRole = &r
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return Notification{}, err
	}
	s.log.Debug("notification created", zap.String("id", n.ID), zap.Stringp("target_role", (*string)(n.TargetRole)))
	if s.pub != nil {
		s.pub.Publish(n)
	}
	return n, nil
}

// ListFor returns what role can see, most recent first.
func (s *Service) ListFor(ctx context.Context, role access.Role) ([]Notification, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperrors.ErrInvalidInput, role)
	}
	return s.store.ListNotifications(ctx, role)
}
