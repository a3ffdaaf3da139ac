package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/ids"
	"labdesk.org/internal/obs"
)

// DueSoonDays is the reminder window: equipment is due soon when its next
// maintenance falls on or before the reference day plus this many days.
const DueSoonDays = 3

// Service runs the maintenance workflow. Entries move Scheduled ->
// Acknowledged and never back.
type Service struct {
	store  Store
	stager Stager
	log    *zap.Logger
}

// NewService builds a Service. stager may be nil when specifications are not
// used.
func NewService(store Store, stager Stager, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, stager: stager, log: log.Named("maintenance")}
}

// RegisterEquipment adds an instrument. Names are unique.
func (s *Service) RegisterEquipment(ctx context.Context, name, equipmentNum, description string, now time.Time) (Equipment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Equipment{}, fmt.Errorf("%w: name is required", apperrors.ErrInvalidInput)
	}
	e := Equipment{
		ID:           ids.NewAt(now),
		Name:         name,
		EquipmentNum: strings.TrimSpace(equipmentNum),
		Description:  strings.TrimSpace(description),
		CreatedAt:    now.UTC(),
	}
	if err := s.store.CreateEquipment(ctx, e); err != nil {
		return Equipment{}, err
	}
	return e, nil
}

// GetEquipment returns one instrument.
func (s *Service) GetEquipment(ctx context.Context, id string) (Equipment, error) {
	return s.store.GetEquipment(ctx, id)
}

// ListEquipment returns all instruments by equipment number.
func (s *Service) ListEquipment(ctx context.Context) ([]Equipment, error) {
	return s.store.ListEquipment(ctx)
}

// ScheduleMaintenance assigns a task due on date and moves the equipment's
// next maintenance to it.
func (s *Service) ScheduleMaintenance(ctx context.Context, equipmentID string, date Date, task, scheduledBy string, now time.Time) (LogEntry, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return LogEntry{}, fmt.Errorf("%w: task is required", apperrors.ErrInvalidInput)
	}
	if date.IsZero() {
		return LogEntry{}, fmt.Errorf("%w: date is required", apperrors.ErrInvalidInput)
	}
	entry := LogEntry{
		ID:           ids.NewAt(now),
		EquipmentID:  equipmentID,
		Task:         task,
		ScheduledBy:  scheduledBy,
		ScheduledAt:  now.UTC(),
		ScheduledFor: date,
	}
	if err := s.store.ScheduleMaintenance(ctx, entry, task); err != nil {
		return LogEntry{}, err
	}
	obs.Transition("maintenance.scheduled")
	s.log.Info("maintenance scheduled",
		zap.String("entry_id", entry.ID),
		zap.String("equipment_id", equipmentID),
		zap.Stringer("scheduled_for", date),
	)
	return entry, nil
}

// Acknowledge records the first acknowledger. Later calls fail with
// ErrAlreadyAcknowledged.
func (s *Service) Acknowledge(ctx context.Context, entryID, actingUser string, now time.Time) (LogEntry, error) {
	entry, err := s.store.AcknowledgeEntry(ctx, entryID, actingUser, now.UTC())
	if err != nil {
		return LogEntry{}, err
	}
	obs.Transition("maintenance.acknowledged")
	s.log.Info("maintenance acknowledged", zap.String("entry_id", entryID), zap.String("user_id", actingUser))
	return entry, nil
}

// GetEntry returns one log entry.
func (s *Service) GetEntry(ctx context.Context, id string) (LogEntry, error) {
	return s.store.GetEntry(ctx, id)
}

// ListPending returns unacknowledged entries, earliest due first.
func (s *Service) ListPending(ctx context.Context) ([]LogEntry, error) {
	return s.store.ListPendingEntries(ctx)
}

// ListLog returns the maintenance history, newest first.
func (s *Service) ListLog(ctx context.Context, equipmentID string) ([]LogEntry, error) {
	if equipmentID != "" {
		if _, err := s.store.GetEquipment(ctx, equipmentID); err != nil {
			return nil, err
		}
	}
	return s.store.ListLogEntries(ctx, equipmentID)
}

// ComputeOverdue returns equipment due within DueSoonDays of ref. It only
// reads, so repeated calls are safe.
func (s *Service) ComputeOverdue(ctx context.Context, ref Date) ([]Equipment, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: reference date is required", apperrors.ErrInvalidInput)
	}
	return s.store.EquipmentDueBy(ctx, ref.AddDays(DueSoonDays))
}

// AttachSpecification files a specification document for an instrument.
func (s *Service) AttachSpecification(ctx context.Context, equipmentID, filename string, content io.Reader, uploadedBy string, now time.Time) (Specification, error) {
	if s.stager == nil {
		return Specification{}, errors.New("maintenance: no document stager configured")
	}
	if _, err := s.store.GetEquipment(ctx, equipmentID); err != nil {
		return Specification{}, err
	}
	stagedID, err := s.stager.Stage(ctx, filename, content)
	if err != nil {
		return Specification{}, err
	}
	folder := "specifications/" + equipmentID
	name, err := s.stager.Relocate(ctx, stagedID, folder)
	if err != nil {
		s.discard(ctx, stagedID)
		return Specification{}, fmt.Errorf("%w: %v", apperrors.ErrRelocationFailed, err)
	}
	spec := Specification{
		ID:          ids.NewAt(now),
		EquipmentID: equipmentID,
		Filename:    filename,
		StagedID:    stagedID,
		Folder:      folder,
		ArchiveName: name,
		UploadedBy:  uploadedBy,
		UploadedAt:  now.UTC(),
	}
	if err := s.store.AddSpecification(ctx, spec); err != nil {
		s.log.Error("specification filed but not recorded",
			zap.String("equipment_id", equipmentID), zap.String("staged_id", stagedID), zap.Error(err))
		return Specification{}, err
	}
	return spec, nil
}

// ListSpecifications returns the documents filed for an instrument.
func (s *Service) ListSpecifications(ctx context.Context, equipmentID string) ([]Specification, error) {
	if _, err := s.store.GetEquipment(ctx, equipmentID); err != nil {
		return nil, err
	}
	return s.store.ListSpecifications(ctx, equipmentID)
}

func (s *Service) discard(ctx context.Context, stagedID string) {
	if err := s.stager.Discard(ctx, stagedID); err != nil {
		s.log.Warn("discard staged document", zap.String("staged_id", stagedID), zap.Error(err))
	}
}
