package notify

import (
	"context"
	"sort"
	"sync"

	"labdesk.org/internal/access"
)

// MemoryStore keeps notifications in process.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Notification
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty notification store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) InsertNotification(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, role access.Role) ([]Notification, error) {
	s.mu.RLock()
	var out []Notification
	for _, n := range s.items {
		if n.TargetRole == nil || *n.TargetRole == role {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
