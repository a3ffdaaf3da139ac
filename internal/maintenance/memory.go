package maintenance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"labdesk.org/internal/apperrors"
)

// MemoryStore implements Store with in-process concurrency safety. All
// conditional writes happen under one lock.
type MemoryStore struct {
	mu        sync.RWMutex
	equipment map[string]*Equipment
	entries   map[string]*LogEntry
	specs     []Specification
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		equipment: make(map[string]*Equipment),
		entries:   make(map[string]*LogEntry),
	}
}

func (s *MemoryStore) CreateEquipment(ctx context.Context, e Equipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.equipment {
		if strings.EqualFold(existing.Name, e.Name) || existing.ID == e.ID {
			return apperrors.ErrConflict
		}
	}
	cp := e
	s.equipment[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEquipment(ctx context.Context, id string) (Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.equipment[id]
	if !ok {
		return Equipment{}, apperrors.ErrNotFound
	}
	return *e, nil
}

func (s *MemoryStore) ListEquipment(ctx context.Context) ([]Equipment, error) {
	s.mu.RLock()
	out := make([]Equipment, 0, len(s.equipment))
	for _, e := range s.equipment {
		out = append(out, *e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].EquipmentNum != out[j].EquipmentNum {
			return out[i].EquipmentNum < out[j].EquipmentNum
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ScheduleMaintenance(ctx context.Context, entry LogEntry, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.equipment[entry.EquipmentID]
	if !ok {
		return apperrors.ErrNotFound
	}
	e.NextMaintenance = entry.ScheduledFor
	e.Description = description
	e.Completed = false
	cp := entry
	s.entries[entry.ID] = &cp
	return nil
}

func (s *MemoryStore) AcknowledgeEntry(ctx context.Context, entryID, userID string, at time.Time) (LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return LogEntry{}, apperrors.ErrNotFound
	}
	if !entry.Pending() {
		return LogEntry{}, apperrors.ErrAlreadyAcknowledged
	}
	by, when := userID, at
	entry.AcknowledgedBy, entry.AcknowledgedAt = &by, &when

	pending := false
	for _, other := range s.entries {
		if other.EquipmentID == entry.EquipmentID && other.Pending() {
			pending = true
			break
		}
	}
	if e, ok := s.equipment[entry.EquipmentID]; ok && !pending {
		e.Completed = true
	}
	return copyEntry(entry), nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, id string) (LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return LogEntry{}, apperrors.ErrNotFound
	}
	return copyEntry(entry), nil
}

func (s *MemoryStore) ListPendingEntries(ctx context.Context) ([]LogEntry, error) {
	s.mu.RLock()
	var out []LogEntry
	for _, e := range s.entries {
		if e.Pending() {
			out = append(out, copyEntry(e))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListLogEntries(ctx context.Context, equipmentID string) ([]LogEntry, error) {
	s.mu.RLock()
	var out []LogEntry
	for _, e := range s.entries {
		if equipmentID == "" || e.EquipmentID == equipmentID {
			out = append(out, copyEntry(e))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) EquipmentDueBy(ctx context.Context, cutoff Date) ([]Equipment, error) {
	s.mu.RLock()
	var out []Equipment
	for _, e := range s.equipment {
		if e.Completed || e.NextMaintenance.IsZero() || e.NextMaintenance.After(cutoff) {
			continue
		}
		out = append(out, *e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextMaintenance.Equal(out[j].NextMaintenance) {
			return out[i].NextMaintenance.Before(out[j].NextMaintenance)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AddSpecification(ctx context.Context, spec Specification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.equipment[spec.EquipmentID]; !ok {
		return apperrors.ErrNotFound
	}
	s.specs = append(s.specs, spec)
	return nil
}

func (s *MemoryStore) ListSpecifications(ctx context.Context, equipmentID string) ([]Specification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Specification
	for _, spec := range s.specs {
		if spec.EquipmentID == equipmentID {
			out = append(out, spec)
		}
	}
	return out, nil
}

func copyEntry(e *LogEntry) LogEntry {
	out := *e
	if e.AcknowledgedBy != nil {
		by := *e.AcknowledgedBy
		out.AcknowledgedBy = &by
	}
	if e.AcknowledgedAt != nil {
		at := *e.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	return out
}
