package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"labdesk.org/internal/apperrors"
)

// MemoryStore implements Store with in-process concurrency safety.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]*User
	byUsername map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*User),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[u.Username]; ok {
		return apperrors.ErrConflict
	}
	if _, ok := s.users[u.ID]; ok {
		return apperrors.ErrConflict
	}
	cp := u
	s.users[u.ID] = &cp
	s.byUsername[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) UserByUsername(ctx context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return User{}, apperrors.ErrNotFound
	}
	return *s.users[id], nil
}

func (s *MemoryStore) UserByID(ctx context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, apperrors.ErrNotFound
	}
	return *u, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) BeginSession(ctx context.Context, userID, sessionID string, now, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if u.HasActiveSession(now) {
		return apperrors.ErrSessionAlreadyActive
	}
	u.SessionActive = true
	u.SessionID = sessionID
	u.SessionExpiresAt = expiresAt
	return nil
}

func (s *MemoryStore) EndSession(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if sessionID != "" && u.SessionID != sessionID {
		return nil
	}
	u.SessionActive = false
	u.SessionID = ""
	u.SessionExpiresAt = time.Time{}
	return nil
}
