package quotes

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps quotations in process.
type MemoryStore struct {
	mu     sync.RWMutex
	quotes []Quote
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty quotation store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) InsertQuote(ctx context.Context, q Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, q)
	return nil
}

func (s *MemoryStore) ListQuotes(ctx context.Context) ([]Quote, error) {
	s.mu.RLock()
	out := make([]Quote, len(s.quotes))
	copy(out, s.quotes)
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
