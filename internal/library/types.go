// Package library keeps the lab's reference documents: procedures and work
// instructions, and completed records such as standards and DVPRs. Documents
// are filed into optional one-level folders per kind.
package library

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/staging"
)

// Kind separates the two shelves of the library.
type Kind string

const (
	KindProcedure Kind = "procedure"
	KindRecord    Kind = "record"
)

// ParseKind accepts the singular or plural form.
func ParseKind(raw string) (Kind, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "s") {
	case string(KindProcedure):
		return KindProcedure, nil
	case string(KindRecord):
		return KindRecord, nil
	}
	return "", fmt.Errorf("%w: unknown document kind %q", apperrors.ErrInvalidInput, raw)
}

// Format is what a kind accepts: records are PDF only, procedures may also be
// office documents.
func (k Kind) Format() staging.Format {
	if k == KindProcedure {
		return staging.Office
	}
	return staging.PDF
}

// shelf is the archive folder holding every document of the kind.
func (k Kind) shelf() string { return "library/" + string(k) + "s" }

// Folder groups documents of one kind. The base directory has no Folder row.
type Folder struct {
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is one filed library document. An empty Folder is the base
// directory.
type Document struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Folder      string    `json:"folder"`
	Filename    string    `json:"filename"`
	ArchiveName string    `json:"archive_name"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Store persists folders and the upload log.
type Store interface {
	// CreateFolder returns ErrConflict when the kind already has the folder.
	CreateFolder(ctx context.Context, f Folder) error
	GetFolder(ctx context.Context, kind Kind, name string) (Folder, error)
	// ListFolders orders by name.
	ListFolders(ctx context.Context, kind Kind) ([]Folder, error)

	InsertDocument(ctx context.Context, d Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	// ListDocuments returns one folder's documents, newest upload first.
	ListDocuments(ctx context.Context, kind Kind, folder string) ([]Document, error)
	// DeleteDocument removes the row and returns what it held.
	DeleteDocument(ctx context.Context, id string) (Document, error)
}

// Filer stores document bodies.
type Filer interface {
	StageFormat(ctx context.Context, name string, content io.Reader, format staging.Format) (string, error)
	Relocate(ctx context.Context, stagedID, folder string) (string, error)
	Discard(ctx context.Context, stagedID string) error
	Open(ctx context.Context, folder, name string) (io.ReadCloser, error)
	Remove(ctx context.Context, folder, name string) error
}
