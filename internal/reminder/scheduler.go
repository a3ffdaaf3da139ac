// Package reminder fires a daily scan for equipment coming due and broadcasts
// a reminder for each one.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"labdesk.org/internal/access"
	"labdesk.org/internal/maintenance"
	"labdesk.org/internal/notify"
	"labdesk.org/internal/obs"
)

// OverdueSource computes the due-soon set.
type OverdueSource interface {
	ComputeOverdue(ctx context.Context, ref maintenance.Date) ([]maintenance.Equipment, error)
}

// Notifier emits broadcast notices.
type Notifier interface {
	Notify(ctx context.Context, message string, target *access.Role, now time.Time) (notify.Notification, error)
}

// Scheduler runs RunOnce every day at a fixed wall-clock time. It only reads
// workflow state and writes notifications.
type Scheduler struct {
	source OverdueSource
	notes  Notifier
	hour   int
	minute int
	loc    *time.Location
	now    func() time.Time
	log    *zap.Logger
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("reminder time %q must be HH:MM", s)
	}
	hour, herr := strconv.Atoi(h)
	minute, merr := strconv.Atoi(m)
	if herr != nil || merr != nil || len(m) != 2 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("reminder time %q must be HH:MM", s)
	}
	return hour, minute, nil
}

// New builds a Scheduler firing daily at clock ("HH:MM") in loc.
func New(source OverdueSource, notes Notifier, clock string, loc *time.Location, log *zap.Logger) (*Scheduler, error) {
	if source == nil || notes == nil {
		return nil, errors.New("reminder: source and notifier are required")
	}
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		source: source,
		notes:  notes,
		hour:   hour,
		minute: minute,
		loc:    loc,
		now:    time.Now,
		log:    log.Named("reminder"),
	}, nil
}

// NextFire returns the first fire time strictly after now.
func (s *Scheduler) NextFire(now time.Time) time.Time {
	local := now.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

// Run blocks until ctx is done. A missed fire is not replayed; the next one
// recomputes the due set from current dates.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.now()
		next := s.NextFire(now)
		s.log.Debug("next reminder run", zap.Time("at", next))
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("reminder scheduler stopped")
			return
		case <-timer.C:
		}
		if _, err := s.RunOnce(ctx, s.now()); err != nil {
			s.log.Error("reminder run failed", zap.Error(err))
		}
	}
}

// RunOnce broadcasts one reminder per equipment due within the window of
// now's calendar day. It returns how many reminders were sent.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	today := maintenance.DateOf(now.In(s.loc))
	due, err := s.source.ComputeOverdue(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("compute overdue: %w", err)
	}
	sent := 0
	var errs []error
	for _, e := range due {
		msg := fmt.Sprintf("REMINDER: %s maintenance due on %s", e.Name, e.NextMaintenance)
		if _, err := s.notes.Notify(ctx, msg, nil, now); err != nil {
			s.log.Warn("reminder not delivered", zap.String("equipment_id", e.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		sent++
	}
	obs.RemindersSent(sent)
	s.log.Info("reminders sent", zap.Int("due", len(due)), zap.Int("sent", sent), zap.Stringer("date", today))
	return sent, errors.Join(errs...)
}
