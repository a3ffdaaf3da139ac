package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"labdesk.org/internal/app"
	"labdesk.org/internal/reminder"
)

func newRemindersCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Maintenance reminders",
	}
	var date string
	runOnce := &cobra.Command{
		Use:   "run-once",
		Short: "Send today's reminders now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				loc, err := a.Config.Reminder.Location()
				if err != nil {
					return err
				}
				now := time.Now().In(loc)
				if date != "" {
					day, err := time.ParseInLocation("2006-01-02", date, loc)
					if err != nil {
						return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
					}
					now = time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, loc)
				}
				s, err := reminder.New(a.Maintenance, a.Notes, a.Config.Reminder.Time, loc, a.Log)
				if err != nil {
					return err
				}
				sent, err := s.RunOnce(ctx, now)
				fmt.Fprintf(cmd.OutOrStdout(), "sent %d reminders\n", sent)
				return err
			})
		},
	}
	runOnce.Flags().StringVar(&date, "date", "", "pretend today is this day (YYYY-MM-DD)")
	cmd.AddCommand(runOnce)
	return cmd
}
