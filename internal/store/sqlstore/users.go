package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/auth"
)

var _ auth.Store = (*Store)(nil)

const userColumns = `id, username, password_hash, role, session_active, session_id, session_expires_at, created_at`

func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into users (id, username, password_hash, role, session_active, session_id, created_at)
		values (?, ?, ?, ?, ?, '', ?)
	`), u.ID, u.Username, u.PasswordHash, string(u.Role), false, formatTS(u.CreatedAt))
	return mapErr(err)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`select `+userColumns+` from users where username = ?`), username)
	return scanUser(row)
}

func (s *Store) UserByID(ctx context.Context, id string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`select `+userColumns+` from users where id = ?`), id)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by username`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, mapErr(rows.Err())
}

// BeginSession claims the session flag in one conditional update. An expired
// flag counts as free.
func (s *Store) BeginSession(ctx context.Context, userID, sessionID string, now, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		update users
		set session_active = ?, session_id = ?, session_expires_at = ?
		where id = ?
		  and (session_active = ? or (session_expires_at is not null and session_expires_at <= ?))
	`), true, sessionID, nullTS(&expiresAt), userID, false, formatTS(now))
	if err != nil {
		return mapErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	ok, err := s.exists(ctx, s.db, "users", userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrSessionAlreadyActive
}

// EndSession clears the flag. A non-empty sessionID only clears that session.
func (s *Store) EndSession(ctx context.Context, userID, sessionID string) error {
	query := `update users set session_active = ?, session_id = '', session_expires_at = null where id = ?`
	args := []any{false, userID}
	if sessionID != "" {
		query += ` and session_id = ?`
		args = append(args, sessionID)
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return mapErr(err)
	}
	n, err := affected(res)
	if err != nil || n == 1 {
		return err
	}
	ok, err := s.exists(ctx, s.db, "users", userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanUser(row scanner) (auth.User, error) {
	var (
		u       auth.User
		role    string
		expires sql.NullString
		created string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.SessionActive, &u.SessionID, &expires, &created); err != nil {
		return auth.User{}, mapErr(err)
	}
	u.Role = access.Role(role)
	exp, err := parseNullTS(expires)
	if err != nil {
		return auth.User{}, err
	}
	if exp != nil {
		u.SessionExpiresAt = *exp
	}
	if u.CreatedAt, err = parseTS(created); err != nil {
		return auth.User{}, err
	}
	return u, nil
}
