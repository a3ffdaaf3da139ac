package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/ids"
	"labdesk.org/internal/obs"
)

const maxFolderName = 100

// Service files, lists and removes library documents.
type Service struct {
	store Store
	filer Filer
	log   *zap.Logger
}

// NewService builds a Service.
func NewService(store Store, filer Filer, log *zap.Logger) (*Service, error) {
	if store == nil || filer == nil {
		return nil, errors.New("library: store and filer are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, filer: filer, log: log.Named("library")}, nil
}

// CreateFolder adds an empty folder to the kind's shelf.
func (s *Service) CreateFolder(ctx context.Context, kind Kind, name, createdBy string, now time.Time) (Folder, error) {
	name, err := folderName(name)
	if err != nil {
		return Folder{}, err
	}
	if name == "" {
		return Folder{}, fmt.Errorf("%w: folder name is required", apperrors.ErrInvalidInput)
	}
	f := Folder{Kind: kind, Name: name, CreatedBy: createdBy, CreatedAt: now.UTC()}
	if err := s.store.CreateFolder(ctx, f); err != nil {
		return Folder{}, err
	}
	obs.Transition("library.folder_created")
	return f, nil
}

// Folders lists the kind's folders by name.
func (s *Service) Folders(ctx context.Context, kind Kind) ([]Folder, error) {
	return s.store.ListFolders(ctx, kind)
}

// Upload files a document into folder, or the base directory when folder is
// empty. The folder must exist. A name already used in the folder is filed
// under a numbered name and both copies are kept.
func (s *Service) Upload(ctx context.Context, kind Kind, folder, filename string, content io.Reader, uploadedBy string, now time.Time) (Document, error) {
	folder, err := s.existingFolder(ctx, kind, folder)
	if err != nil {
		return Document{}, err
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return Document{}, fmt.Errorf("%w: filename is required", apperrors.ErrInvalidInput)
	}
	stagedID, err := s.filer.StageFormat(ctx, filename, content, kind.Format())
	if err != nil {
		return Document{}, err
	}
	dir := archiveDir(kind, folder)
	name, err := s.filer.Relocate(ctx, stagedID, dir)
	if err != nil {
		if derr := s.filer.Discard(ctx, stagedID); derr != nil {
			s.log.Warn("discard staged document", zap.String("staged_id", stagedID), zap.Error(derr))
		}
		return Document{}, fmt.Errorf("%w: %v", apperrors.ErrRelocationFailed, err)
	}
	d := Document{
		ID:          ids.NewAt(now),
		Kind:        kind,
		Folder:      folder,
		Filename:    filename,
		ArchiveName: name,
		UploadedBy:  uploadedBy,
		UploadedAt:  now.UTC(),
	}
	if err := s.store.InsertDocument(ctx, d); err != nil {
		if rerr := s.filer.Remove(context.WithoutCancel(ctx), dir, name); rerr != nil {
			s.log.Error("filed document not recorded and not removed",
				zap.String("folder", dir), zap.String("archive_name", name), zap.Error(rerr))
		}
		return Document{}, err
	}
	obs.Transition("library.uploaded")
	return d, nil
}

// List returns the documents of one folder, newest first.
func (s *Service) List(ctx context.Context, kind Kind, folder string) ([]Document, error) {
	folder, err := s.existingFolder(ctx, kind, folder)
	if err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, kind, folder)
}

// Get returns one document's record.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	return s.store.GetDocument(ctx, id)
}

// Open returns the document with its body; the caller closes the body.
func (s *Service) Open(ctx context.Context, id string) (Document, io.ReadCloser, error) {
	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	body, err := s.filer.Open(ctx, archiveDir(d.Kind, d.Folder), d.ArchiveName)
	if err != nil {
		return Document{}, nil, err
	}
	return d, body, nil
}

// Delete drops the document from the log and then from disk. A file that
// cannot be removed is logged; the document is gone from the library either
// way.
func (s *Service) Delete(ctx context.Context, id string) (Document, error) {
	d, err := s.store.DeleteDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if err := s.filer.Remove(ctx, archiveDir(d.Kind, d.Folder), d.ArchiveName); err != nil {
		s.log.Warn("remove deleted document", zap.String("document_id", id), zap.Error(err))
	}
	obs.Transition("library.deleted")
	return d, nil
}

func (s *Service) existingFolder(ctx context.Context, kind Kind, folder string) (string, error) {
	folder, err := folderName(folder)
	if err != nil || folder == "" {
		return folder, err
	}
	if _, err := s.store.GetFolder(ctx, kind, folder); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", fmt.Errorf("%w: folder %q does not exist", apperrors.ErrNotFound, folder)
		}
		return "", err
	}
	return folder, nil
}

func archiveDir(kind Kind, folder string) string {
	if folder == "" {
		return kind.shelf()
	}
	return kind.shelf() + "/" + folder
}

// folderName validates a single-level folder name. Empty means the base
// directory.
func folderName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", nil
	case name == "." || name == "..",
		strings.ContainsAny(name, `/\`),
		strings.ContainsRune(name, 0),
		!utf8.ValidString(name):
		return "", fmt.Errorf("%w: invalid folder name %q", apperrors.ErrInvalidInput, raw)
	case utf8.RuneCountInString(name) > maxFolderName:
		return "", fmt.Errorf("%w: folder name exceeds %d characters", apperrors.ErrInvalidInput, maxFolderName)
	}
	return name, nil
}
