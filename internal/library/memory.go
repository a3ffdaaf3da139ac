package library

import (
	"context"
	"sort"
	"sync"

	"labdesk.org/internal/apperrors"
)

type folderKey struct {
	kind Kind
	name string
}

// MemoryStore implements Store in process.
type MemoryStore struct {
	mu      sync.RWMutex
	folders map[folderKey]Folder
	docs    map[string]Document
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty library.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{folders: make(map[folderKey]Folder), docs: make(map[string]Document)}
}

func (s *MemoryStore) CreateFolder(ctx context.Context, f Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := folderKey{f.Kind, f.Name}
	if _, ok := s.folders[key]; ok {
		return apperrors.ErrConflict
	}
	s.folders[key] = f
	return nil
}

func (s *MemoryStore) GetFolder(ctx context.Context, kind Kind, name string) (Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[folderKey{kind, name}]
	if !ok {
		return Folder{}, apperrors.ErrNotFound
	}
	return f, nil
}

func (s *MemoryStore) ListFolders(ctx context.Context, kind Kind) ([]Folder, error) {
	s.mu.RLock()
	var out []Folder
	for key, f := range s.folders {
		if key.kind == kind {
			out = append(out, f)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) InsertDocument(ctx context.Context, d Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[d.ID]; ok {
		return apperrors.ErrConflict
	}
	s.docs[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, apperrors.ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, kind Kind, folder string) ([]Document, error) {
	s.mu.RLock()
	var out []Document
	for _, d := range s.docs {
		if d.Kind == kind && d.Folder == folder {
			out = append(out, d)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, apperrors.ErrNotFound
	}
	delete(s.docs, id)
	return d, nil
}
