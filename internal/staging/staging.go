// Package staging keeps uploaded documents on local disk between submission
// and filing.
package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/ids"
)

const (
	incomingDir = "incoming"
	archiveDir  = "approved"

	// DefaultMaxBytes bounds a single document.
	DefaultMaxBytes int64 = 20 << 20
)

// maxCopies bounds how many same-named documents one folder can hold.
const maxCopies = 1000

var (
	pdfMagic = []byte("%PDF")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
	zipMagic = []byte("PK\x03\x04")
)

// Format maps each accepted extension to the bytes a document must start with.
type Format map[string][]byte

var (
	// PDF accepts portable documents only.
	PDF = Format{".pdf": pdfMagic}
	// Office accepts PDF plus legacy and OOXML word processor, spreadsheet and
	// presentation files.
	Office = Format{
		".pdf":  pdfMagic,
		".doc":  oleMagic,
		".xls":  oleMagic,
		".ppt":  oleMagic,
		".docx": zipMagic,
		".xlsx": zipMagic,
		".pptx": zipMagic,
	}
)

// FS stages documents under Root/incoming and files them under
// Root/approved/<folder>.
type FS struct {
	root     string
	maxBytes int64
}

// New prepares the directory layout under root.
func New(root string, maxBytes int64) (*FS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("staging: root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	for _, dir := range []string{incomingDir, archiveDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o750); err != nil {
			return nil, fmt.Errorf("staging: create %s: %w", dir, err)
		}
	}
	return &FS{root: abs, maxBytes: maxBytes}, nil
}

// Stage copies a PDF into the incoming area and returns its staged id.
func (f *FS) Stage(ctx context.Context, name string, content io.Reader) (string, error) {
	return f.StageFormat(ctx, name, content, PDF)
}

// StageFormat is Stage for any document accepted by format.
func (f *FS) StageFormat(ctx context.Context, name string, content io.Reader, format Format) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(name))
	magic, ok := format[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q documents are not accepted", apperrors.ErrInvalidInput, ext)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	head := make([]byte, len(magic))
	n, err := io.ReadFull(content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if !bytes.Equal(head[:n], magic) {
		return "", fmt.Errorf("%w: document content does not match %s", apperrors.ErrInvalidInput, ext)
	}

	tmp, err := os.CreateTemp(filepath.Join(f.root, incomingDir), ".upload-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	body := io.MultiReader(bytes.NewReader(head[:n]), content)
	written, err := io.Copy(tmp, io.LimitReader(body, f.maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if written > f.maxBytes {
		return "", fmt.Errorf("%w: document exceeds %d bytes", apperrors.ErrInvalidInput, f.maxBytes)
	}

	id := ids.New() + "-" + name
	if err := os.Rename(tmp.Name(), filepath.Join(f.root, incomingDir, id)); err != nil {
		return "", err
	}
	return id, nil
}

// Relocate moves a staged document into the archive folder and returns the
// name it was filed under. An existing file is never overwritten: a clash
// gets a numbered name such as "batch7-2.pdf".
func (f *FS) Relocate(ctx context.Context, stagedID, folder string) (string, error) {
	src, err := f.stagedPath(stagedID)
	if err != nil {
		return "", err
	}
	dir, err := secureJoin(filepath.Join(f.root, archiveDir), folder)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	name, err := reserve(dir, originalName(stagedID))
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(src, dst); err == nil {
		return name, nil
	}
	if err := copyOver(src, dst); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return name, nil
}

// Staged reports whether stagedID is still in the incoming area.
func (f *FS) Staged(ctx context.Context, stagedID string) (bool, error) {
	src, err := f.stagedPath(stagedID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(src)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, err
}

// Discard removes a staged document. Missing documents are ignored.
func (f *FS) Discard(ctx context.Context, stagedID string) error {
	src, err := f.stagedPath(stagedID)
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Open returns a filed document for reading.
func (f *FS) Open(ctx context.Context, folder, name string) (io.ReadCloser, error) {
	p, err := f.archived(folder, name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.ErrNotFound
	}
	return file, err
}

// Remove deletes a filed document. Missing documents are ignored.
func (f *FS) Remove(ctx context.Context, folder, name string) error {
	p, err := f.archived(folder, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FS) archived(folder, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return f.ArchivePath(folder, name)
}

// ArchivePath returns where a relocated document lives.
func (f *FS) ArchivePath(folder, name string) (string, error) {
	dir, err := secureJoin(filepath.Join(f.root, archiveDir), folder)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (f *FS) stagedPath(stagedID string) (string, error) {
	if err := validName(stagedID); err != nil {
		return "", err
	}
	return filepath.Join(f.root, incomingDir, stagedID), nil
}

func originalName(stagedID string) string {
	if _, rest, ok := strings.Cut(stagedID, "-"); ok && rest != "" {
		return rest
	}
	return stagedID
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: invalid document name %q", apperrors.ErrInvalidInput, name)
	}
	return nil
}

// secureJoin joins rel under base and refuses results outside base.
func secureJoin(base, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.Contains(rel, `\`) {
		return "", fmt.Errorf("%w: invalid folder %q", apperrors.ErrInvalidInput, rel)
	}
	joined := filepath.Join(base, filepath.FromSlash(rel))
	r, err := filepath.Rel(base, joined)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: folder %q escapes the archive", apperrors.ErrInvalidInput, rel)
	}
	return joined, nil
}

// reserve claims a free name in dir by creating it exclusively.
func reserve(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i <= maxCopies; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		out, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return candidate, out.Close()
	}
	return "", fmt.Errorf("%w: %d documents named %q already filed", apperrors.ErrConflict, maxCopies, name)
}

// copyOver fills the reserved dst from src and removes src.
func copyOver(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
