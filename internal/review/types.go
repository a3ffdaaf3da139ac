// Package review routes submitted test reports to a single approve or reject
// decision.
package review

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/notify"
)

// Status of a report. Approved and rejected are terminal. Approving holds
// the report while its document is being filed and always resolves to
// approved or back to pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproving Status = "approving"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// ParseStatus validates a status filter.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusApproving, StatusApproved, StatusRejected:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown report status %q", apperrors.ErrInvalidInput, raw)
}

// Report is a submitted test report.
type Report struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	StagedID   string    `json:"-"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
	Status     Status    `json:"status"`
	Folder     string    `json:"folder,omitempty"`
	// ArchiveName is the file name inside Folder; it differs from Filename
	// when the folder already held a document of that name.
	ArchiveName string     `json:"archive_name,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// Filter selects reports. An empty Folder matches every folder.
type Filter struct {
	Status Status
	Folder string
}

// Decision is the write applied to a pending report: a rejection, or the
// approving claim that precedes filing.
type Decision struct {
	Status    Status
	Folder    string
	Reason    string
	DecidedBy string
	DecidedAt time.Time
}

// Store persists reports.
type Store interface {
	InsertReport(ctx context.Context, r Report) error
	GetReport(ctx context.Context, id string) (Report, error)
	// ListReports orders pending reports by upload time and decided ones by
	// decision time, newest first; ties break on id.
	ListReports(ctx context.Context, f Filter) ([]Report, error)
	// DecideReport applies d only while the report is pending. It returns
	// ErrReviewInProgress while an approval is being filed and
	// ErrAlreadyDecided once the report is closed.
	DecideReport(ctx context.Context, id string, d Decision) (Report, error)
	// CompleteApproval moves an approving report to approved, recording where
	// its document was filed.
	CompleteApproval(ctx context.Context, id, archiveName string) (Report, error)
	// RevertApproval moves an approving report back to pending.
	RevertApproval(ctx context.Context, id string) error
	// StaleApprovals lists reports left approving since before cutoff.
	StaleApprovals(ctx context.Context, cutoff time.Time) ([]Report, error)
}

// Stager holds documents between submission and filing.
type Stager interface {
	Stage(ctx context.Context, name string, content io.Reader) (string, error)
	// Relocate files the document and returns its name inside folder.
	Relocate(ctx context.Context, stagedID, folder string) (string, error)
	// Staged reports whether the document is still awaiting filing.
	Staged(ctx context.Context, stagedID string) (bool, error)
	Discard(ctx context.Context, stagedID string) error
}

// Notifier emits workflow notices.
type Notifier interface {
	Notify(ctx context.Context, message string, target *access.Role, now time.Time) (notify.Notification, error)
}
