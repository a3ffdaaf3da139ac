package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"labdesk.org/internal/apperrors"
)

// MemoryStore implements Store with in-process concurrency safety.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty report store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*Report)}
}

func (s *MemoryStore) InsertReport(ctx context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; ok {
		return apperrors.ErrConflict
	}
	cp := r
	s.reports[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetReport(ctx context.Context, id string) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return Report{}, apperrors.ErrNotFound
	}
	return copyReport(r), nil
}

func (s *MemoryStore) ListReports(ctx context.Context, f Filter) ([]Report, error) {
	s.mu.RLock()
	var out []Report
	for _, r := range s.reports {
		if r.Status == f.Status && (f.Folder == "" || r.Folder == f.Folder) {
			out = append(out, copyReport(r))
		}
	}
	s.mu.RUnlock()
	if f.Status == StatusPending {
		sort.Slice(out, func(i, j int) bool {
			if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
				return out[i].UploadedAt.Before(out[j].UploadedAt)
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := decidedAt(out[i]), decidedAt(out[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DecideReport(ctx context.Context, id string, d Decision) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return Report{}, apperrors.ErrNotFound
	}
	if err := pendingOnly(r.Status); err != nil {
		return Report{}, err
	}
	at := d.DecidedAt
	r.Status = d.Status
	r.Folder = d.Folder
	r.Reason = d.Reason
	r.DecidedBy = d.DecidedBy
	r.DecidedAt = &at
	return copyReport(r), nil
}

func (s *MemoryStore) CompleteApproval(ctx context.Context, id, archiveName string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return Report{}, apperrors.ErrNotFound
	}
	if r.Status != StatusApproving {
		return Report{}, apperrors.ErrAlreadyDecided
	}
	r.Status = StatusApproved
	r.ArchiveName = archiveName
	return copyReport(r), nil
}

func (s *MemoryStore) RevertApproval(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if r.Status != StatusApproving {
		return apperrors.ErrAlreadyDecided
	}
	r.Status = StatusPending
	r.Folder = ""
	r.DecidedBy = ""
	r.DecidedAt = nil
	return nil
}

func (s *MemoryStore) StaleApprovals(ctx context.Context, cutoff time.Time) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Report
	for _, r := range s.reports {
		if r.Status == StatusApproving && r.DecidedAt != nil && r.DecidedAt.Before(cutoff) {
			out = append(out, copyReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// pendingOnly maps a non-pending status to the error a decision attempt gets.
func pendingOnly(status Status) error {
	switch status {
	case StatusPending:
		return nil
	case StatusApproving:
		return apperrors.ErrReviewInProgress
	}
	return apperrors.ErrAlreadyDecided
}

func decidedAt(r Report) time.Time {
	if r.DecidedAt == nil {
		return time.Time{}
	}
	return *r.DecidedAt
}

func copyReport(r *Report) Report {
	out := *r
	if r.DecidedAt != nil {
		at := *r.DecidedAt
		out.DecidedAt = &at
	}
	return out
}
