package sqlstore

import (
	"context"
	"database/sql"

	"labdesk.org/internal/library"
)

var _ library.Store = (*Store)(nil)

const documentColumns = `id, kind, folder, filename, archive_name, uploaded_by, uploaded_at`

func (s *Store) CreateFolder(ctx context.Context, f library.Folder) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into document_folders (kind, name, created_by, created_at) values (?, ?, ?, ?)
	`), string(f.Kind), f.Name, f.CreatedBy, formatTS(f.CreatedAt))
	return mapErr(err)
}

func (s *Store) GetFolder(ctx context.Context, kind library.Kind, name string) (library.Folder, error) {
	return scanFolder(s.db.QueryRowContext(ctx, s.q(`
		select kind, name, created_by, created_at from document_folders where kind = ? and name = ?
	`), string(kind), name))
}

func (s *Store) ListFolders(ctx context.Context, kind library.Kind) ([]library.Folder, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		select kind, name, created_by, created_at from document_folders
		where kind = ?
		order by name
	`), string(kind))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []library.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) InsertDocument(ctx context.Context, d library.Document) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into documents (`+documentColumns+`) values (?, ?, ?, ?, ?, ?, ?)
	`), d.ID, string(d.Kind), d.Folder, d.Filename, d.ArchiveName, d.UploadedBy, formatTS(d.UploadedAt))
	return mapErr(err)
}

func (s *Store) GetDocument(ctx context.Context, id string) (library.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, s.q(`select `+documentColumns+` from documents where id = ?`), id))
}

func (s *Store) ListDocuments(ctx context.Context, kind library.Kind, folder string) ([]library.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		select `+documentColumns+` from documents
		where kind = ? and folder = ?
		order by uploaded_at desc, id desc
	`), string(kind), folder)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []library.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) DeleteDocument(ctx context.Context, id string) (library.Document, error) {
	var out library.Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = scanDocument(tx.QueryRowContext(ctx, s.q(`select `+documentColumns+` from documents where id = ?`), id))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`delete from documents where id = ?`), id)
		return mapErr(err)
	})
	if err != nil {
		return library.Document{}, err
	}
	return out, nil
}

func scanFolder(row scanner) (library.Folder, error) {
	var (
		f       library.Folder
		kind    string
		created string
	)
	if err := row.Scan(&kind, &f.Name, &f.CreatedBy, &created); err != nil {
		return library.Folder{}, mapErr(err)
	}
	f.Kind = library.Kind(kind)
	var err error
	if f.CreatedAt, err = parseTS(created); err != nil {
		return library.Folder{}, err
	}
	return f, nil
}

func scanDocument(row scanner) (library.Document, error) {
	var (
		d        library.Document
		kind     string
		uploaded string
	)
	if err := row.Scan(&d.ID, &kind, &d.Folder, &d.Filename, &d.ArchiveName, &d.UploadedBy, &uploaded); err != nil {
		return library.Document{}, mapErr(err)
	}
	d.Kind = library.Kind(kind)
	var err error
	if d.UploadedAt, err = parseTS(uploaded); err != nil {
		return library.Document{}, err
	}
	return d, nil
}
