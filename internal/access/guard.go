package access

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/obs"
)

// Actor identifies who is acting. It is derived from an explicit session and
// never read from ambient state.
type Actor struct {
	UserID   string
	Username string
	Role     Role
}

// Recorder appends to the audit trail.
type Recorder interface {
	Record(ctx context.Context, userID, action, details string, at time.Time) error
}

// Guard enforces the policy around an operation and records successful ones.
type Guard struct {
	audit Recorder
	log   *zap.Logger
	now   func() time.Time
}

// NewGuard builds a guard. A nil logger discards denial logs.
func NewGuard(audit Recorder, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{audit: audit, log: log.Named("guard"), now: time.Now}
}

// WithClock overrides the audit timestamp source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	if now != nil {
		g.now = now
	}
	return g
}

// Check returns ErrPermissionDenied when actor may not perform action.
func (g *Guard) Check(actor Actor, action Action) error {
	if !actor.Role.Valid() || !HasPermission(actor.Role, action) {
		obs.AccessDenied(string(action))
		g.log.Warn("permission denied",
			zap.String("user_id", actor.UserID),
			zap.String("role", string(actor.Role)),
			zap.String("action", string(action)),
		)
		return fmt.Errorf("%w: %s", apperrors.ErrPermissionDenied, action)
	}
	return nil
}

// Op is a gated operation. It returns its result and the audit details
// describing what it did.
type Op[T any] func(ctx context.Context) (T, string, error)

// Run executes op when actor holds action. A denied call returns
// ErrPermissionDenied without invoking op. A failed op is not audited. A
// failed audit write is logged and does not undo the committed operation.
func Run[T any](ctx context.Context, g *Guard, actor Actor, action Action, op Op[T]) (T, error) {
	var zero T
	if err := g.Check(actor, action); err != nil {
		return zero, err
	}
	out, details, err := op(ctx)
	if err != nil {
		return zero, err
	}
	if g.audit != nil {
		if aerr := g.audit.Record(ctx, actor.UserID, string(action), details, g.now().UTC()); aerr != nil {
			g.log.Error("audit write failed",
				zap.String("user_id", actor.UserID),
				zap.String("action", string(action)),
				zap.Error(aerr),
			)
		}
	}
	return out, nil
}

// Do is Run for operations without a result.
func (g *Guard) Do(ctx context.Context, actor Actor, action Action, op func(ctx context.Context) (string, error)) error {
	_, err := Run(ctx, g, actor, action, func(ctx context.Context) (struct{}, string, error) {
		details, err := op(ctx)
		return struct{}{}, details, err
	})
	return err
}
