package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/ids"
)

const (
	defaultSessionTTL = 12 * time.Hour
	minPasswordLength = 8
)

// Manager authenticates accounts and enforces at most one active session per
// account.
type Manager struct {
	store  Store
	hasher PasswordHasher
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu     sync.Mutex
	issued map[string]string // user id -> session id opened by this process
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithSessionTTL bounds how long an abandoned session blocks new logins.
func WithSessionTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log.Named("sessions")
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store Store, hasher PasswordHasher, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	m := &Manager{
		store:  store,
		hasher: hasher,
		ttl:    defaultSessionTTL,
		now:    time.Now,
		log:    zap.NewNop(),
		issued: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateUser provisions an account.
func (m *Manager) CreateUser(ctx context.Context, username, password string, role access.Role) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", apperrors.ErrInvalidInput)
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("%w: unknown role %q", apperrors.ErrInvalidInput, role)
	}
	if len(password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", apperrors.ErrInvalidInput, minPasswordLength)
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           ids.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	m.log.Info("user created", zap.String("user_id", u.ID), zap.String("username", username), zap.String("role", string(role)))
	return u, nil
}

// Authenticate checks credentials. Unknown users and wrong passwords produce
// the same error.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (User, error) {
	u, err := m.store.UserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, apperrors.ErrNotFound) {
		return User{}, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !u.Role.Valid() {
		m.log.Warn("stored role is not recognised", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
		return User{}, apperrors.ErrInvalidCredentials
	}
	if !m.hasher.Verify(u.PasswordHash, password) {
		return User{}, apperrors.ErrInvalidCredentials
	}
	if u.HasActiveSession(m.now()) {
		return User{}, apperrors.ErrSessionAlreadyActive
	}
	return u, nil
}

// BeginSession marks u as logged in. The store applies it as a conditional
// write, so two racing logins cannot both succeed.
func (m *Manager) BeginSession(ctx context.Context, u User) (Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.BeginSession(ctx, u.ID, s.ID, now, s.ExpiresAt); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	m.issued[u.ID] = s.ID
	m.mu.Unlock()
	m.log.Info("session started", zap.String("user_id", u.ID), zap.String("session_id", s.ID))
	return s, nil
}

// Login is Authenticate followed by BeginSession.
func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	u, err := m.Authenticate(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return m.BeginSession(ctx, u)
}

// EndSession clears the account's session flag whatever session holds it.
// Calling it on a clear flag is a no-op.
func (m *Manager) EndSession(ctx context.Context, userID string) error {
	if err := m.store.EndSession(ctx, userID, ""); err != nil {
		return err
	}
	m.forget(userID, "")
	return nil
}

// Logout ends s only; a newer session on the same account is left alone.
func (m *Manager) Logout(ctx context.Context, s Session) error {
	if err := m.store.EndSession(ctx, s.UserID, s.ID); err != nil {
		return err
	}
	m.forget(s.UserID, s.ID)
	m.log.Info("session ended", zap.String("user_id", s.UserID), zap.String("session_id", s.ID))
	return nil
}

// Release force-clears the session flag of username.
func (m *Manager) Release(ctx context.Context, username string) error {
	u, err := m.store.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return err
	}
	return m.EndSession(ctx, u.ID)
}

// Users lists every account.
func (m *Manager) Users(ctx context.Context) ([]User, error) {
	return m.store.ListUsers(ctx)
}

// Resolve checks that sessionID is still the active session of userID and
// returns a fresh handle carrying the stored role.
func (m *Manager) Resolve(ctx context.Context, userID, sessionID string) (Session, error) {
	u, err := m.store.UserByID(ctx, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return Session{}, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if !u.HasActiveSession(m.now()) || u.SessionID != sessionID {
		return Session{}, apperrors.ErrInvalidCredentials
	}
	return Session{
		ID:        sessionID,
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		ExpiresAt: u.SessionExpiresAt,
	}, nil
}

// EndAll ends every session this process opened. Run it on shutdown so a
// terminated server does not leave accounts locked.
func (m *Manager) EndAll(ctx context.Context) error {
	m.mu.Lock()
	open := make(map[string]string, len(m.issued))
	for u, s := range m.issued {
		open[u] = s
	}
	m.mu.Unlock()

	var errs []error
	for userID, sessionID := range open {
		if err := m.store.EndSession(ctx, userID, sessionID); err != nil {
			errs = append(errs, fmt.Errorf("end session of %s: %w", userID, err))
			continue
		}
		m.forget(userID, sessionID)
	}
	return errors.Join(errs...)
}

func (m *Manager) forget(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == "" || m.issued[userID] == sessionID {
		delete(m.issued, userID)
	}
}
