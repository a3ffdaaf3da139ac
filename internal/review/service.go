package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/ids"
	"labdesk.org/internal/notify"
	"labdesk.org/internal/obs"
)

const rollbackTimeout = 5 * time.Second

// reservedFolders hold other kinds of filed documents.
var reservedFolders = []string{"library", "specifications"}

// Service runs the review workflow.
type Service struct {
	store  Store
	stager Stager
	notes  Notifier
	log    *zap.Logger
}

// NewService builds a Service.
func NewService(store Store, stager Stager, notes Notifier, log *zap.Logger) (*Service, error) {
	if store == nil || stager == nil || notes == nil {
		return nil, errors.New("review: store, stager and notifier are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, stager: stager, notes: notes, log: log.Named("review")}, nil
}

// Submit stages the document and records a pending report. Nothing is
// recorded when staging fails.
func (s *Service) Submit(ctx context.Context, filename string, content io.Reader, uploadedBy, uploaderName string, now time.Time) (Report, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return Report{}, fmt.Errorf("%w: filename is required", apperrors.ErrInvalidInput)
	}
	stagedID, err := s.stager.Stage(ctx, filename, content)
	if err != nil {
		return Report{}, err
	}
	r := Report{
		ID:         ids.NewAt(now),
		Filename:   filename,
		StagedID:   stagedID,
		UploadedBy: uploadedBy,
		UploadedAt: now.UTC(),
		Status:     StatusPending,
	}
	if err := s.store.InsertReport(ctx, r); err != nil {
		if derr := s.stager.Discard(ctx, stagedID); derr != nil {
			s.log.Warn("discard staged report", zap.String("staged_id", stagedID), zap.Error(derr))
		}
		return Report{}, err
	}
	obs.Transition("report.submitted")
	s.notify(ctx, fmt.Sprintf("%s submitted a new test report '%s'.", uploaderName, filename), access.RoleManager, now)
	return r, nil
}

// Approve files the report under folder. The report is held in the
// approving state while the document moves, so a concurrent Reject sees
// ErrReviewInProgress; a failed move returns it to pending.
func (s *Service) Approve(ctx context.Context, id, folder, actingUser, actorName string, now time.Time) (Report, error) {
	folder, err := cleanFolder(folder)
	if err != nil {
		return Report{}, err
	}
	r, err := s.store.DecideReport(ctx, id, Decision{
		Status:    StatusApproving,
		Folder:    folder,
		DecidedBy: actingUser,
		DecidedAt: now.UTC(),
	})
	if err != nil {
		return Report{}, err
	}
	name, err := s.stager.Relocate(ctx, r.StagedID, folder)
	if err != nil {
		// The request context may be gone; the rollback must still land.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rerr := s.store.RevertApproval(rctx, id); rerr != nil {
			s.log.Error("approval could not be rolled back",
				zap.String("report_id", id), zap.NamedError("relocate_error", err), zap.Error(rerr))
			return Report{}, fmt.Errorf("%w: %v (rollback failed: %v)", apperrors.ErrRelocationFailed, err, rerr)
		}
		s.log.Warn("approval rolled back", zap.String("report_id", id), zap.Error(err))
		return Report{}, fmt.Errorf("%w: %v", apperrors.ErrRelocationFailed, err)
	}
	r, err = s.store.CompleteApproval(context.WithoutCancel(ctx), id, name)
	if err != nil {
		s.log.Error("document filed but approval not completed",
			zap.String("report_id", id), zap.String("archive_name", name), zap.Error(err))
		return Report{}, err
	}
	obs.Transition("report.approved")
	s.notify(ctx, fmt.Sprintf("The test report '%s' was approved by %s.", r.Filename, actorName), access.RoleEngineer, now)
	return r, nil
}

// Reject closes the report with a reason and drops the staged document.
func (s *Service) Reject(ctx context.Context, id, reason, actingUser, actorName string, now time.Time) (Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Report{}, apperrors.ErrEmptyReason
	}
	r, err := s.store.DecideReport(ctx, id, Decision{
		Status:    StatusRejected,
		Reason:    reason,
		DecidedBy: actingUser,
		DecidedAt: now.UTC(),
	})
	if err != nil {
		return Report{}, err
	}
	if err := s.stager.Discard(ctx, r.StagedID); err != nil {
		s.log.Warn("discard rejected report", zap.String("report_id", id), zap.Error(err))
	}
	obs.Transition("report.rejected")
	s.notify(ctx, fmt.Sprintf("The test report '%s' was rejected by %s. Reason: %s", r.Filename, actorName, reason), access.RoleEngineer, now)
	return r, nil
}

// Get returns one report.
func (s *Service) Get(ctx context.Context, id string) (Report, error) {
	return s.store.GetReport(ctx, id)
}

// ListPending returns reports awaiting review, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]Report, error) {
	return s.store.ListReports(ctx, Filter{Status: StatusPending})
}

// ListApproved returns filed reports, newest decision first. An empty folder
// lists every folder.
func (s *Service) ListApproved(ctx context.Context, folder string) ([]Report, error) {
	if strings.TrimSpace(folder) != "" {
		var err error
		if folder, err = cleanFolder(folder); err != nil {
			return nil, err
		}
	}
	return s.store.ListReports(ctx, Filter{Status: StatusApproved, Folder: folder})
}

// List returns reports in one status.
func (s *Service) List(ctx context.Context, status Status, folder string) ([]Report, error) {
	switch status {
	case StatusPending:
		return s.ListPending(ctx)
	case StatusApproved:
		return s.ListApproved(ctx, folder)
	}
	return s.store.ListReports(ctx, Filter{Status: status})
}

// RecoverApprovals settles reports left approving since before cutoff, which
// only happens when the process stopped mid-approval. A document still in
// staging was never moved, so the report returns to pending; otherwise the
// move finished and the approval is completed.
func (s *Service) RecoverApprovals(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.store.StaleApprovals(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, r := range stale {
		staged, err := s.stager.Staged(ctx, r.StagedID)
		if err != nil {
			return 0, err
		}
		if staged {
			err = s.store.RevertApproval(ctx, r.ID)
		} else {
			_, err = s.store.CompleteApproval(ctx, r.ID, r.Filename)
		}
		if err != nil {
			return 0, err
		}
		s.log.Warn("interrupted approval settled",
			zap.String("report_id", r.ID), zap.Bool("reverted", staged))
	}
	return len(stale), nil
}

// notify runs after the decision is committed, so a failure is logged rather
// than returned.
func (s *Service) notify(ctx context.Context, msg string, role access.Role, now time.Time) {
	if _, err := s.notes.Notify(ctx, msg, notify.To(role), now); err != nil {
		s.log.Error("notification failed", zap.String("target_role", string(role)), zap.Error(err))
	}
}

func cleanFolder(folder string) (string, error) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return "", fmt.Errorf("%w: destination folder is required", apperrors.ErrInvalidInput)
	}
	if strings.Contains(folder, "\\") || strings.HasPrefix(folder, "/") {
		return "", fmt.Errorf("%w: destination folder must be relative", apperrors.ErrInvalidInput)
	}
	cleaned := path.Clean(folder)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: destination folder escapes the archive", apperrors.ErrInvalidInput)
	}
	top, _, _ := strings.Cut(cleaned, "/")
	for _, r := range reservedFolders {
		if strings.EqualFold(top, r) {
			return "", fmt.Errorf("%w: folder %q is reserved", apperrors.ErrInvalidInput, top)
		}
	}
	return cleaned, nil
}
