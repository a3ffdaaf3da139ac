package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/review"
)

var _ review.Store = (*Store)(nil)

const reportColumns = `id, filename, staged_id, uploaded_by, uploaded_at, status, folder, archive_name, reason, decided_by, decided_at`

func (s *Store) InsertReport(ctx context.Context, r review.Report) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into engineer_reports (id, filename, staged_id, uploaded_by, uploaded_at, status, folder, reason, decided_by)
		values (?, ?, ?, ?, ?, ?, '', '', '')
	`), r.ID, r.Filename, r.StagedID, r.UploadedBy, formatTS(r.UploadedAt), string(r.Status))
	return mapErr(err)
}

func (s *Store) GetReport(ctx context.Context, id string) (review.Report, error) {
	return scanReport(s.db.QueryRowContext(ctx, s.q(`select `+reportColumns+` from engineer_reports where id = ?`), id))
}

func (s *Store) ListReports(ctx context.Context, f review.Filter) ([]review.Report, error) {
	query := `select ` + reportColumns + ` from engineer_reports where status = ?`
	args := []any{string(f.Status)}
	if f.Folder != "" {
		query += ` and folder = ?`
		args = append(args, f.Folder)
	}
	if f.Status == review.StatusPending {
		query += ` order by uploaded_at, id`
	} else {
		query += ` order by decided_at desc, id desc`
	}
	return s.queryReports(ctx, query, args...)
}

func (s *Store) StaleApprovals(ctx context.Context, cutoff time.Time) ([]review.Report, error) {
	return s.queryReports(ctx, `
		select `+reportColumns+` from engineer_reports
		where status = ? and decided_at < ?
		order by id
	`, string(review.StatusApproving), formatTS(cutoff))
}

func (s *Store) queryReports(ctx context.Context, query string, args ...any) ([]review.Report, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []review.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}

// DecideReport applies d only while the report is still pending.
func (s *Store) DecideReport(ctx context.Context, id string, d review.Decision) (review.Report, error) {
	var out review.Report
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			update engineer_reports
			set status = ?, folder = ?, reason = ?, decided_by = ?, decided_at = ?
			where id = ? and status = ?
		`), string(d.Status), d.Folder, d.Reason, d.DecidedBy, nullTS(&d.DecidedAt), id, string(review.StatusPending))
		if err != nil {
			return mapErr(err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.decideMiss(ctx, tx, id)
		}
		out, err = scanReport(tx.QueryRowContext(ctx, s.q(`select `+reportColumns+` from engineer_reports where id = ?`), id))
		return err
	})
	if err != nil {
		return review.Report{}, err
	}
	return out, nil
}

// CompleteApproval closes an approving report as approved.
func (s *Store) CompleteApproval(ctx context.Context, id, archiveName string) (review.Report, error) {
	var out review.Report
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			update engineer_reports
			set status = ?, archive_name = ?
			where id = ? and status = ?
		`), string(review.StatusApproved), archiveName, id, string(review.StatusApproving))
		if err != nil {
			return mapErr(err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.decideMiss(ctx, tx, id)
		}
		out, err = scanReport(tx.QueryRowContext(ctx, s.q(`select `+reportColumns+` from engineer_reports where id = ?`), id))
		return err
	})
	if err != nil {
		return review.Report{}, err
	}
	return out, nil
}

// RevertApproval returns an approving report to pending.
func (s *Store) RevertApproval(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		update engineer_reports
		set status = ?, folder = '', decided_by = '', decided_at = null
		where id = ? and status = ?
	`), string(review.StatusPending), id, string(review.StatusApproving))
	if err != nil {
		return mapErr(err)
	}
	n, err := affected(res)
	if err != nil || n == 1 {
		return err
	}
	return s.decideMiss(ctx, s.db, id)
}

// decideMiss explains why a guarded update matched no row.
func (s *Store) decideMiss(ctx context.Context, db execer, id string) error {
	var status string
	err := db.QueryRowContext(ctx, s.q(`select status from engineer_reports where id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return mapErr(err)
	}
	if review.Status(status) == review.StatusApproving {
		return apperrors.ErrReviewInProgress
	}
	return apperrors.ErrAlreadyDecided
}

func scanReport(row scanner) (review.Report, error) {
	var (
		r        review.Report
		status   string
		uploaded string
		decided  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Filename, &r.StagedID, &r.UploadedBy, &uploaded, &status, &r.Folder, &r.ArchiveName, &r.Reason, &r.DecidedBy, &decided); err != nil {
		return review.Report{}, mapErr(err)
	}
	r.Status = review.Status(status)
	var err error
	if r.UploadedAt, err = parseTS(uploaded); err != nil {
		return review.Report{}, err
	}
	if r.DecidedAt, err = parseNullTS(decided); err != nil {
		return review.Report{}, err
	}
	return r, nil
}
