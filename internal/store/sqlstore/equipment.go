package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/maintenance"
)

var _ maintenance.Store = (*Store)(nil)

const (
	equipmentColumns = `id, name, equipment_num, next_maintenance, description, completed, created_at`
	entryColumns     = `id, equipment_id, task, scheduled_by, scheduled_at, scheduled_for, acknowledged_by, acknowledged_at`
)

func (s *Store) CreateEquipment(ctx context.Context, e maintenance.Equipment) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into equipment (id, name, equipment_num, next_maintenance, description, completed, created_at)
		values (?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.Name, e.EquipmentNum, e.NextMaintenance, e.Description, e.Completed, formatTS(e.CreatedAt))
	return mapErr(err)
}

func (s *Store) GetEquipment(ctx context.Context, id string) (maintenance.Equipment, error) {
	row := s.db.QueryRowContext(ctx, s.q(`select `+equipmentColumns+` from equipment where id = ?`), id)
	return scanEquipment(row)
}

func (s *Store) ListEquipment(ctx context.Context) ([]maintenance.Equipment, error) {
	return s.queryEquipment(ctx, `select `+equipmentColumns+` from equipment order by equipment_num, name, id`)
}

func (s *Store) EquipmentDueBy(ctx context.Context, cutoff maintenance.Date) ([]maintenance.Equipment, error) {
	return s.queryEquipment(ctx, `
		select `+equipmentColumns+`
		from equipment
		where completed = ? and next_maintenance is not null and next_maintenance <= ?
		order by next_maintenance, id
	`, false, cutoff)
}

func (s *Store) queryEquipment(ctx context.Context, query string, args ...any) ([]maintenance.Equipment, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []maintenance.Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

// ScheduleMaintenance updates the equipment row and appends the log entry in
// one transaction.
func (s *Store) ScheduleMaintenance(ctx context.Context, entry maintenance.LogEntry, description string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			update equipment set next_maintenance = ?, description = ?, completed = ? where id = ?
		`), entry.ScheduledFor, description, false, entry.EquipmentID)
		if err != nil {
			return mapErr(err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, s.q(`
			insert into maintenance_log (id, equipment_id, task, scheduled_by, scheduled_at, scheduled_for)
			values (?, ?, ?, ?, ?, ?)
		`), entry.ID, entry.EquipmentID, entry.Task, entry.ScheduledBy, formatTS(entry.ScheduledAt), entry.ScheduledFor)
		return mapErr(err)
	})
}

// AcknowledgeEntry sets the acknowledged pair only while it is unset. The
// equipment is marked completed in the same transaction once nothing else is
// pending for it.
func (s *Store) AcknowledgeEntry(ctx context.Context, entryID, userID string, at time.Time) (maintenance.LogEntry, error) {
	var out maintenance.LogEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			update maintenance_log set acknowledged_by = ?, acknowledged_at = ?
			where id = ? and acknowledged_by is null
		`), userID, formatTS(at), entryID)
		if err != nil {
			return mapErr(err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			ok, err := s.exists(ctx, tx, "maintenance_log", entryID)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.ErrNotFound
			}
			return apperrors.ErrAlreadyAcknowledged
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			update equipment set completed = ?
			where id = (select equipment_id from maintenance_log where id = ?)
			  and not exists (
				select 1 from maintenance_log m
				where m.equipment_id = equipment.id and m.acknowledged_by is null
			  )
		`), true, entryID); err != nil {
			return mapErr(err)
		}
		out, err = scanEntry(tx.QueryRowContext(ctx, s.q(`select `+entryColumns+` from maintenance_log where id = ?`), entryID))
		return err
	})
	if err != nil {
		return maintenance.LogEntry{}, err
	}
	return out, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (maintenance.LogEntry, error) {
	return scanEntry(s.db.QueryRowContext(ctx, s.q(`select `+entryColumns+` from maintenance_log where id = ?`), id))
}

func (s *Store) ListPendingEntries(ctx context.Context) ([]maintenance.LogEntry, error) {
	return s.queryEntries(ctx, `
		select `+entryColumns+` from maintenance_log
		where acknowledged_by is null
		order by scheduled_for, id
	`)
}

func (s *Store) ListLogEntries(ctx context.Context, equipmentID string) ([]maintenance.LogEntry, error) {
	if equipmentID == "" {
		return s.queryEntries(ctx, `select `+entryColumns+` from maintenance_log order by scheduled_at desc, id desc`)
	}
	return s.queryEntries(ctx, `
		select `+entryColumns+` from maintenance_log
		where equipment_id = ?
		order by scheduled_at desc, id desc
	`, equipmentID)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]maintenance.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []maintenance.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) AddSpecification(ctx context.Context, spec maintenance.Specification) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into specifications (id, equipment_id, filename, staged_id, folder, archive_name, uploaded_by, uploaded_at)
		values (?, ?, ?, ?, ?, ?, ?, ?)
	`), spec.ID, spec.EquipmentID, spec.Filename, spec.StagedID, spec.Folder, spec.ArchiveName, spec.UploadedBy, formatTS(spec.UploadedAt))
	return mapErr(err)
}

func (s *Store) ListSpecifications(ctx context.Context, equipmentID string) ([]maintenance.Specification, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		select id, equipment_id, filename, staged_id, folder, archive_name, uploaded_by, uploaded_at
		from specifications
		where equipment_id = ?
		order by uploaded_at, id
	`), equipmentID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []maintenance.Specification
	for rows.Next() {
		var (
			spec maintenance.Specification
			at   string
		)
		if err := rows.Scan(&spec.ID, &spec.EquipmentID, &spec.Filename, &spec.StagedID, &spec.Folder, &spec.ArchiveName, &spec.UploadedBy, &at); err != nil {
			return nil, mapErr(err)
		}
		if spec.UploadedAt, err = parseTS(at); err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, mapErr(rows.Err())
}

func scanEquipment(row scanner) (maintenance.Equipment, error) {
	var (
		e       maintenance.Equipment
		created string
	)
	if err := row.Scan(&e.ID, &e.Name, &e.EquipmentNum, &e.NextMaintenance, &e.Description, &e.Completed, &created); err != nil {
		return maintenance.Equipment{}, mapErr(err)
	}
	var err error
	if e.CreatedAt, err = parseTS(created); err != nil {
		return maintenance.Equipment{}, err
	}
	return e, nil
}

func scanEntry(row scanner) (maintenance.LogEntry, error) {
	var (
		e         maintenance.LogEntry
		scheduled string
		ackBy     sql.NullString
		ackAt     sql.NullString
	)
	if err := row.Scan(&e.ID, &e.EquipmentID, &e.Task, &e.ScheduledBy, &scheduled, &e.ScheduledFor, &ackBy, &ackAt); err != nil {
		return maintenance.LogEntry{}, mapErr(err)
	}
	var err error
	if e.ScheduledAt, err = parseTS(scheduled); err != nil {
		return maintenance.LogEntry{}, err
	}
	if ackBy.Valid {
		by := ackBy.String
		e.AcknowledgedBy = &by
		if e.AcknowledgedAt, err = parseNullTS(ackAt); err != nil {
			return maintenance.LogEntry{}, err
		}
	}
	return e, nil
}
