package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T) (*Manager, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 1, 7, 8, 0, 0, 0, time.UTC)}
	m, err := NewManager(NewMemoryStore(), BcryptHasher{Cost: bcrypt.MinCost},
		WithClock(clk.Now), WithSessionTTL(time.Hour))
	require.NoError(t, err)
	return m, clk
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.CreateUser(ctx, "alice", "correct-horse", access.RoleEngineer)
	require.NoError(t, err)

	_, err = m.Authenticate(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	_, err = m.Authenticate(ctx, "mallory", "correct-horse")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	u, err := m.Authenticate(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, access.RoleEngineer, u.Role)
}

func TestCreateUserValidation(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.CreateUser(ctx, " ", "longenough", access.RoleGuest)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = m.CreateUser(ctx, "bob", "short", access.RoleGuest)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = m.CreateUser(ctx, "bob", "longenough", access.Role("admin"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = m.CreateUser(ctx, "bob", "longenough", access.RoleGuest)
	require.NoError(t, err)
	_, err = m.CreateUser(ctx, "bob", "longenough", access.RoleGuest)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSessionExclusivity(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.CreateUser(ctx, "alice", "correct-horse", access.RoleManager)
	require.NoError(t, err)

	s, err := m.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	_, err = m.Authenticate(ctx, "alice", "correct-horse")
	require.ErrorIs(t, err, apperrors.ErrSessionAlreadyActive)

	require.NoError(t, m.EndSession(ctx, s.UserID))
	require.NoError(t, m.EndSession(ctx, s.UserID), "ending twice must be a no-op")

	_, err = m.Authenticate(ctx, "alice", "correct-horse")
	require.NoError(t, err)
}

func TestConcurrentBeginSessionHasOneWinner(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.CreateUser(ctx, "alice", "correct-horse", access.RoleManager)
	require.NoError(t, err)

	// Both callers pass the check before either sets the flag.
	u1, err := m.Authenticate(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	u2, err := m.Authenticate(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for _, u := range []User{u1, u2} {
		wg.Add(1)
		go func(u User) {
			defer wg.Done()
			_, err := m.BeginSession(ctx, u)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, apperrors.ErrSessionAlreadyActive):
				conflicts.Add(1)
			}
		}(u)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 1, conflicts.Load())
}

func TestExpiredSessionDoesNotBlockLogin(t *testing.T) {
	m, clk := newManager(t)
	ctx := context.Background()
	_, err := m.CreateUser(ctx, "alice", "correct-horse", access.RoleGuest)
	require.NoError(t, err)
	old, err := m.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	fresh, err := m.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)

	_, err = m.Resolve(ctx, old.UserID, old.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	got, err := m.Resolve(ctx, fresh.UserID, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, access.RoleGuest, got.Role)
}

func TestLogoutLeavesNewerSessionAlone(t *testing.T) {
	m, clk := newManager(t)
	ctx := context.Background()
	_, err := m.CreateUser(ctx, "alice", "correct-horse", access.RoleGuest)
	require.NoError(t, err)
	old, err := m.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	fresh, err := m.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, old))
	_, err = m.Resolve(ctx, fresh.UserID, fresh.ID)
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, fresh))
	_, err = m.Resolve(ctx, fresh.UserID, fresh.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestEndAllReleasesIssuedSessions(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		_, err := m.CreateUser(ctx, name, "correct-horse", access.RoleGuest)
		require.NoError(t, err)
		_, err = m.Login(ctx, name, "correct-horse")
		require.NoError(t, err)
	}
	require.NoError(t, m.EndAll(ctx))
	for _, name := range []string{"alice", "bob"} {
		_, err := m.Authenticate(ctx, name, "correct-horse")
		assert.NoError(t, err, name)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)
	now := time.Now().UTC()
	s := Session{ID: "sid-1", UserID: "u-1", Username: "alice", Role: access.RoleManager, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}

	tok, err := issuer.Issue(s)
	require.NoError(t, err)
	claims, err := issuer.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "sid-1", claims.SessionID)
	assert.Equal(t, "manager", claims.Role)

	other, err := NewTokenIssuer("other-secret")
	require.NoError(t, err)
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse(tok[:len(tok)-2] + strings.Repeat("x", 2))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpired(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	tok, err := issuer.Issue(Session{ID: "s", UserID: "u", Role: access.RoleGuest, IssuedAt: past, ExpiresAt: past.Add(time.Hour)})
	require.NoError(t, err)
	_, err = issuer.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("  ")
	assert.Error(t, err)
}
