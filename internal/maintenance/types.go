package maintenance

import (
	"context"
	"io"
	"time"
)

// Equipment is a registered instrument. A zero NextMaintenance means nothing
// has been scheduled yet.
type Equipment struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	EquipmentNum    string    `json:"equipment_num,omitempty"`
	NextMaintenance Date      `json:"next_maintenance"`
	Description     string    `json:"description"`
	Completed       bool      `json:"completed"`
	CreatedAt       time.Time `json:"created_at"`
}

// LogEntry is one assigned maintenance task. AcknowledgedBy and
// AcknowledgedAt are both nil or both set.
type LogEntry struct {
	ID             string     `json:"id"`
	EquipmentID    string     `json:"equipment_id"`
	Task           string     `json:"task"`
	ScheduledBy    string     `json:"scheduled_by"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	ScheduledFor   Date       `json:"scheduled_for"`
	AcknowledgedBy *string    `json:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
}

// Pending reports whether the entry still awaits acknowledgment.
func (e LogEntry) Pending() bool { return e.AcknowledgedBy == nil }

// Specification is a filed equipment specification document.
type Specification struct {
	ID          string    `json:"id"`
	EquipmentID string    `json:"equipment_id"`
	Filename    string    `json:"filename"`
	StagedID    string    `json:"-"`
	Folder      string    `json:"folder"`
	ArchiveName string    `json:"archive_name"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Store persists equipment, the maintenance log and specifications.
type Store interface {
	CreateEquipment(ctx context.Context, e Equipment) error
	GetEquipment(ctx context.Context, id string) (Equipment, error)
	// ListEquipment orders by equipment number, then name.
	ListEquipment(ctx context.Context) ([]Equipment, error)

	// ScheduleMaintenance sets the equipment's next date and description,
	// clears its completed flag and appends entry, all or nothing.
	ScheduleMaintenance(ctx context.Context, entry LogEntry, description string) error
	// AcknowledgeEntry sets the acknowledged pair only while it is unset and
	// marks the equipment completed once nothing is pending for it.
	AcknowledgeEntry(ctx context.Context, entryID, userID string, at time.Time) (LogEntry, error)
	GetEntry(ctx context.Context, id string) (LogEntry, error)
	// ListPendingEntries orders by scheduled_for, then id.
	ListPendingEntries(ctx context.Context) ([]LogEntry, error)
	// ListLogEntries orders newest scheduled first. An empty equipmentID lists all.
	ListLogEntries(ctx context.Context, equipmentID string) ([]LogEntry, error)
	// EquipmentDueBy returns not-completed equipment due on or before cutoff,
	// ordered by date, then id.
	EquipmentDueBy(ctx context.Context, cutoff Date) ([]Equipment, error)

	AddSpecification(ctx context.Context, s Specification) error
	ListSpecifications(ctx context.Context, equipmentID string) ([]Specification, error)
}

// Stager moves uploaded documents into place.
type Stager interface {
	Stage(ctx context.Context, name string, content io.Reader) (string, error)
	// Relocate files the document and returns its name inside folder.
	Relocate(ctx context.Context, stagedID, folder string) (string, error)
	Discard(ctx context.Context, stagedID string) error
}
