package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity store.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	UserByUsername(ctx context.Context, username string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// BeginSession sets the session flag in one conditional write, succeeding
	// only when no unexpired session is active. It returns
	// ErrSessionAlreadyActive otherwise and ErrNotFound for unknown users.
	BeginSession(ctx context.Context, userID, sessionID string, now, expiresAt time.Time) error
	// EndSession clears the flag. With a non-empty sessionID only that session
	// is cleared. Clearing an already clear flag is not an error.
	EndSession(ctx context.Context, userID, sessionID string) error
}
