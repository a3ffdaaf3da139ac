package auth

import (
	"time"

	"labdesk.org/internal/access"
)

// User is a provisioned account. The session fields mirror the single-session
// flag kept in the users table.
type User struct {
	ID               string
	Username         string
	PasswordHash     string
	Role             access.Role
	SessionActive    bool
	SessionID        string
	SessionExpiresAt time.Time
	CreatedAt        time.Time
}

// HasActiveSession reports whether the flag is set and not yet expired. A zero
// expiry never lapses.
func (u User) HasActiveSession(now time.Time) bool {
	if !u.SessionActive {
		return false
	}
	return u.SessionExpiresAt.IsZero() || now.Before(u.SessionExpiresAt)
}

// Session is the explicit handle passed into every gated call.
type Session struct {
	ID        string      `json:"session_id"`
	UserID    string      `json:"user_id"`
	Username  string      `json:"username"`
	Role      access.Role `json:"role"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Actor returns the identity the guard checks.
func (s Session) Actor() access.Actor {
	return access.Actor{UserID: s.UserID, Username: s.Username, Role: s.Role}
}
