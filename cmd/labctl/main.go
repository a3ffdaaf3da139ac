// Command labctl administers a labdesk database: schema migrations, accounts,
// quotations and one-off reminder runs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labdesk.org/internal/app"
	"labdesk.org/internal/config"
	"labdesk.org/internal/obs"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type globals struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "labctl",
		Short:         "Administer a labdesk installation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv("LABDESK_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newMigrateCmd(g),
		newUsersCmd(g),
		newQuotesCmd(g),
		newRemindersCmd(g),
		newEnvCmd(),
	)
	return root
}

// open builds the application without the HTTP layer. Migrations are only
// applied by the migrate command.
func (g *globals) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	level := "warn"
	if g.verbose {
		level = "debug"
	}
	log, err := obs.NewLogger(level, "console")
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWTSecret = ""
	return app.New(ctx, cfg, log, app.Options{SkipMigrate: true})
}

func (g *globals) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			a.Log.Warn("close", zap.Error(cerr))
		}
		_ = a.Log.Sync()
	}()
	return fn(ctx, a)
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			usage, err := config.Usage()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), usage)
			return nil
		},
	}
}
