package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"labdesk.org/internal/app"
	"labdesk.org/internal/migrate"
)

var errNoSchema = errors.New("the memory store has no schema to migrate")

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	withManager := func(fn func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				m, err := a.Migrations()
				if err != nil {
					return err
				}
				if m == nil {
					return errNoSchema
				}
				return fn(ctx, cmd, m)
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				if err == nil && len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Status(ctx)
				if err != nil {
					return err
				}
				pending, err := m.Pending(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, name := range applied {
					fmt.Fprintln(out, "applied ", name)
				}
				for _, name := range pending {
					fmt.Fprintln(out, "pending ", name)
				}
				return nil
			}),
		},
	)
	return cmd
}
