package sqlstore

import (
	"context"
	"database/sql"

	"labdesk.org/internal/access"
	"labdesk.org/internal/audit"
	"labdesk.org/internal/notify"
)

var (
	_ notify.Store = (*Store)(nil)
	_ audit.Store  = (*Store)(nil)
)

func (s *Store) InsertNotification(ctx context.Context, n notify.Notification) error {
	var target any
	if n.TargetRole != nil {
		target = string(*n.TargetRole)
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into notifications (id, message, target_role, created_at) values (?, ?, ?, ?)
	`), n.ID, n.Message, target, formatTS(n.CreatedAt))
	return mapErr(err)
}

func (s *Store) ListNotifications(ctx context.Context, role access.Role) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		select id, message, target_role, created_at
		from notifications
		where target_role is null or target_role = ?
		order by created_at desc, id desc
	`), string(role))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n       notify.Notification
			target  sql.NullString
			created string
		)
		if err := rows.Scan(&n.ID, &n.Message, &target, &created); err != nil {
			return nil, mapErr(err)
		}
		if target.Valid {
			n.TargetRole = notify.To(access.Role(target.String))
		}
		if n.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into audit_log (id, user_id, action, details, at) values (?, ?, ?, ?, ?)
	`), e.ID, e.UserID, e.Action, e.Details, formatTS(e.Timestamp))
	return mapErr(err)
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	query := `select id, user_id, action, details, at from audit_log order by at desc, id desc`
	var args []any
	if limit > 0 {
		query += ` limit ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e  audit.Entry
			at string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Details, &at); err != nil {
			return nil, mapErr(err)
		}
		if e.Timestamp, err = parseTS(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}
