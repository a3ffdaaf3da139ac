// Package lab is the single entry point for session-scoped operations. Every
// call takes the caller's session explicitly and passes through the guard.
package lab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/audit"
	"labdesk.org/internal/auth"
	"labdesk.org/internal/library"
	"labdesk.org/internal/maintenance"
	"labdesk.org/internal/notify"
	"labdesk.org/internal/quotes"
	"labdesk.org/internal/review"
)

// Deps wires the engine.
type Deps struct {
	Sessions    *auth.Manager
	Maintenance *maintenance.Service
	Reviews     *review.Service
	Notes       *notify.Service
	Trail       *audit.Trail
	Quotes      *quotes.Service
	Library     *library.Service
	Logger      *zap.Logger
	Now         func() time.Time
}

// Engine composes the workflow services behind the guard.
type Engine struct {
	sessions *auth.Manager
	guard    *access.Guard
	maint    *maintenance.Service
	reviews  *review.Service
	notes    *notify.Service
	trail    *audit.Trail
	quotes   *quotes.Service
	library  *library.Service
	now      func() time.Time
}

// New validates deps and builds the engine.
func New(d Deps) (*Engine, error) {
	if d.Sessions == nil || d.Maintenance == nil || d.Reviews == nil || d.Notes == nil || d.Trail == nil || d.Quotes == nil || d.Library == nil {
		return nil, errors.New("lab: incomplete dependencies")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		sessions: d.Sessions,
		guard:    access.NewGuard(d.Trail, d.Logger).WithClock(d.Now),
		maint:    d.Maintenance,
		reviews:  d.Reviews,
		notes:    d.Notes,
		trail:    d.Trail,
		quotes:   d.Quotes,
		library:  d.Library,
		now:      d.Now,
	}, nil
}

// Login authenticates and opens the account's single session.
func (e *Engine) Login(ctx context.Context, username, password string) (auth.Session, error) {
	return e.sessions.Login(ctx, username, password)
}

// Logout ends sess.
func (e *Engine) Logout(ctx context.Context, sess auth.Session) error {
	return e.sessions.Logout(ctx, sess)
}

// Resolve turns a session handle into a verified session.
func (e *Engine) Resolve(ctx context.Context, userID, sessionID string) (auth.Session, error) {
	return e.sessions.Resolve(ctx, userID, sessionID)
}

// Permissions lists what sess may do.
func (e *Engine) Permissions(sess auth.Session) []access.Action {
	return access.Permissions(sess.Role)
}

// RegisterEquipment adds an instrument.
func (e *Engine) RegisterEquipment(ctx context.Context, sess auth.Session, name, equipmentNum, description string) (maintenance.Equipment, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.CreateEquipment, func(ctx context.Context) (maintenance.Equipment, string, error) {
		eq, err := e.maint.RegisterEquipment(ctx, name, equipmentNum, description, e.now())
		return eq, fmt.Sprintf("equipment %s registered as %q", eq.ID, eq.Name), err
	})
}

// ListEquipment lists instruments.
func (e *Engine) ListEquipment(ctx context.Context, sess auth.Session) ([]maintenance.Equipment, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewEquipment, func(ctx context.Context) ([]maintenance.Equipment, string, error) {
		list, err := e.maint.ListEquipment(ctx)
		return list, "listed equipment", err
	})
}

// GetEquipment returns one instrument.
func (e *Engine) GetEquipment(ctx context.Context, sess auth.Session, id string) (maintenance.Equipment, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewEquipment, func(ctx context.Context) (maintenance.Equipment, string, error) {
		eq, err := e.maint.GetEquipment(ctx, id)
		return eq, "viewed equipment " + id, err
	})
}

// ScheduleMaintenance assigns a maintenance task.
func (e *Engine) ScheduleMaintenance(ctx context.Context, sess auth.Session, equipmentID string, date maintenance.Date, task string) (maintenance.LogEntry, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.AddMaintenance, func(ctx context.Context) (maintenance.LogEntry, string, error) {
		entry, err := e.maint.ScheduleMaintenance(ctx, equipmentID, date, task, sess.UserID, e.now())
		return entry, fmt.Sprintf("entry %s for equipment %s due %s: %s", entry.ID, equipmentID, date, entry.Task), err
	})
}

// Acknowledge marks a maintenance entry done.
func (e *Engine) Acknowledge(ctx context.Context, sess auth.Session, entryID string) (maintenance.LogEntry, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.MarkMaintenance, func(ctx context.Context) (maintenance.LogEntry, string, error) {
		entry, err := e.maint.Acknowledge(ctx, entryID, sess.UserID, e.now())
		return entry, "acknowledged entry " + entryID, err
	})
}

// GetEntry returns one maintenance log entry.
func (e *Engine) GetEntry(ctx context.Context, sess auth.Session, entryID string) (maintenance.LogEntry, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewEquipment, func(ctx context.Context) (maintenance.LogEntry, string, error) {
		entry, err := e.maint.GetEntry(ctx, entryID)
		return entry, "viewed maintenance entry " + entryID, err
	})
}

// ListPending lists unacknowledged maintenance, earliest due first.
func (e *Engine) ListPending(ctx context.Context, sess auth.Session) ([]maintenance.LogEntry, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewEquipment, func(ctx context.Context) ([]maintenance.LogEntry, string, error) {
		list, err := e.maint.ListPending(ctx)
		return list, "listed pending maintenance", err
	})
}

// ListLog lists maintenance history, optionally for one instrument.
func (e *Engine) ListLog(ctx context.Context, sess auth.Session, equipmentID string) ([]maintenance.LogEntry, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewEquipment, func(ctx context.Context) ([]maintenance.LogEntry, string, error) {
		list, err := e.maint.ListLog(ctx, equipmentID)
		return list, "viewed maintenance log " + equipmentID, err
	})
}

// ComputeOverdue lists equipment due within the reminder window of ref.
func (e *Engine) ComputeOverdue(ctx context.Context, sess auth.Session, ref maintenance.Date) ([]maintenance.Equipment, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewEquipment, func(ctx context.Context) ([]maintenance.Equipment, string, error) {
		list, err := e.maint.ComputeOverdue(ctx, ref)
		return list, "computed overdue as of " + ref.String(), err
	})
}

// AttachSpecification files a specification document.
func (e *Engine) AttachSpecification(ctx context.Context, sess auth.Session, equipmentID, filename string, content io.Reader) (maintenance.Specification, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.UploadSpec, func(ctx context.Context) (maintenance.Specification, string, error) {
		spec, err := e.maint.AttachSpecification(ctx, equipmentID, filename, content, sess.UserID, e.now())
		return spec, fmt.Sprintf("specification %q filed for equipment %s", filename, equipmentID), err
	})
}

// ListSpecifications lists the documents filed for an instrument.
func (e *Engine) ListSpecifications(ctx context.Context, sess auth.Session, equipmentID string) ([]maintenance.Specification, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewEquipment, func(ctx context.Context) ([]maintenance.Specification, string, error) {
		list, err := e.maint.ListSpecifications(ctx, equipmentID)
		return list, "listed specifications of " + equipmentID, err
	})
}

// SubmitReport stages and records a test report.
func (e *Engine) SubmitReport(ctx context.Context, sess auth.Session, filename string, content io.Reader) (review.Report, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.UploadReport, func(ctx context.Context) (review.Report, string, error) {
		r, err := e.reviews.Submit(ctx, filename, content, sess.UserID, sess.Username, e.now())
		return r, fmt.Sprintf("submitted report %s (%s)", r.ID, filename), err
	})
}

// ApproveReport files a pending report under folder.
func (e *Engine) ApproveReport(ctx context.Context, sess auth.Session, id, folder string) (review.Report, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ReviewReport, func(ctx context.Context) (review.Report, string, error) {
		r, err := e.reviews.Approve(ctx, id, folder, sess.UserID, sess.Username, e.now())
		return r, fmt.Sprintf("approved report %s (%s) into %s", id, r.Filename, r.Folder), err
	})
}

// RejectReport closes a pending report with a reason.
func (e *Engine) RejectReport(ctx context.Context, sess auth.Session, id, reason string) (review.Report, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ReviewReport, func(ctx context.Context) (review.Report, string, error) {
		r, err := e.reviews.Reject(ctx, id, reason, sess.UserID, sess.Username, e.now())
		return r, fmt.Sprintf("rejected report %s (%s): %s", id, r.Filename, r.Reason), err
	})
}

// PendingReports lists reports awaiting review.
func (e *Engine) PendingReports(ctx context.Context, sess auth.Session) ([]review.Report, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ReviewReport, func(ctx context.Context) ([]review.Report, string, error) {
		list, err := e.reviews.ListPending(ctx)
		return list, "listed pending reports", err
	})
}

// Reports lists reports in one status. Approved reports can be narrowed to
// a folder.
func (e *Engine) Reports(ctx context.Context, sess auth.Session, status review.Status, folder string) ([]review.Report, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ReviewReport, func(ctx context.Context) ([]review.Report, string, error) {
		list, err := e.reviews.List(ctx, status, folder)
		details := "listed " + string(status) + " reports"
		if folder != "" {
			details += " in " + folder
		}
		return list, details, err
	})
}

// GetReport returns one report.
func (e *Engine) GetReport(ctx context.Context, sess auth.Session, id string) (review.Report, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ReviewReport, func(ctx context.Context) (review.Report, string, error) {
		r, err := e.reviews.Get(ctx, id)
		return r, "viewed report " + id, err
	})
}

// Notifications lists what the session's role can see. Any valid session
// may read its own notifications.
func (e *Engine) Notifications(ctx context.Context, sess auth.Session) ([]notify.Notification, error) {
	if !sess.Role.Valid() || sess.UserID == "" {
		return nil, apperrors.ErrPermissionDenied
	}
	return e.notes.ListFor(ctx, sess.Role)
}

// AuditLog lists the newest audit entries.
func (e *Engine) AuditLog(ctx context.Context, sess auth.Session, limit int) ([]audit.Entry, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewAudit, func(ctx context.Context) ([]audit.Entry, string, error) {
		list, err := e.trail.List(ctx, limit)
		return list, "viewed audit log", err
	})
}

// Quotations lists customer quotations.
func (e *Engine) Quotations(ctx context.Context, sess auth.Session) ([]quotes.Quote, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewQuotations, func(ctx context.Context) ([]quotes.Quote, string, error) {
		list, err := e.quotes.List(ctx)
		return list, "listed quotations", err
	})
}

// CreateLibraryFolder adds a folder to a library shelf.
func (e *Engine) CreateLibraryFolder(ctx context.Context, sess auth.Session, kind library.Kind, name string) (library.Folder, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ManageLibrary, func(ctx context.Context) (library.Folder, string, error) {
		f, err := e.library.CreateFolder(ctx, kind, name, sess.UserID, e.now())
		return f, fmt.Sprintf("created %s folder %q", kind, f.Name), err
	})
}

// LibraryFolders lists a shelf's folders.
func (e *Engine) LibraryFolders(ctx context.Context, sess auth.Session, kind library.Kind) ([]library.Folder, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewLibrary, func(ctx context.Context) ([]library.Folder, string, error) {
		list, err := e.library.Folders(ctx, kind)
		return list, fmt.Sprintf("listed %s folders", kind), err
	})
}

// UploadDocument files a library document.
func (e *Engine) UploadDocument(ctx context.Context, sess auth.Session, kind library.Kind, folder, filename string, content io.Reader) (library.Document, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ManageLibrary, func(ctx context.Context) (library.Document, string, error) {
		d, err := e.library.Upload(ctx, kind, folder, filename, content, sess.UserID, e.now())
		return d, fmt.Sprintf("uploaded %s %s (%s) to %q", kind, d.ID, filename, d.Folder), err
	})
}

// LibraryDocuments lists one folder of a shelf.
func (e *Engine) LibraryDocuments(ctx context.Context, sess auth.Session, kind library.Kind, folder string) ([]library.Document, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ViewLibrary, func(ctx context.Context) ([]library.Document, string, error) {
		list, err := e.library.List(ctx, kind, folder)
		return list, fmt.Sprintf("listed %s documents in %q", kind, folder), err
	})
}

// OpenDocument returns a library document and its body. The caller closes
// the body.
func (e *Engine) OpenDocument(ctx context.Context, sess auth.Session, id string) (library.Document, io.ReadCloser, error) {
	var body io.ReadCloser
	d, err := access.Run(ctx, e.guard, sess.Actor(), access.ViewLibrary, func(ctx context.Context) (library.Document, string, error) {
		d, rc, err := e.library.Open(ctx, id)
		body = rc
		return d, "opened document " + id, err
	})
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		return library.Document{}, nil, err
	}
	return d, body, nil
}

// DeleteDocument removes a library document.
func (e *Engine) DeleteDocument(ctx context.Context, sess auth.Session, id string) (library.Document, error) {
	return access.Run(ctx, e.guard, sess.Actor(), access.ManageLibrary, func(ctx context.Context) (library.Document, string, error) {
		d, err := e.library.Delete(ctx, id)
		return d, fmt.Sprintf("deleted %s %s (%s)", d.Kind, id, d.Filename), err
	})
}
