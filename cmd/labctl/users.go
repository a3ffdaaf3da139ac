package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"labdesk.org/internal/access"
	"labdesk.org/internal/app"
	"labdesk.org/internal/migrate"
)

const passwordEnv = "LABDESK_USER_PASSWORD"

func newUsersCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUsersCreateCmd(g), newUsersSeedCmd(g), newUsersReleaseCmd(g), newUsersListCmd(g))
	return cmd
}

func newUsersCreateCmd(g *globals) *cobra.Command {
	var (
		role          string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create an account",
		Long: "Create an account. The password is read from " + passwordEnv +
			" or, with --password-stdin, from the first line of standard input.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := access.ParseRole(role)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd.InOrStdin(), passwordStdin)
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				u, err := a.Sessions.CreateUser(ctx, args[0], password, r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", u.Username, u.Role, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "", "manager, head_rd, engineer or guest")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from standard input")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func readPassword(in io.Reader, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return "", errors.New("empty password on standard input")
		}
		return line, nil
	}
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	return "", fmt.Errorf("set %s or pass --password-stdin", passwordEnv)
}

func newUsersSeedCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Create the accounts listed in a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			seed, err := migrate.LoadSeed(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				n, err := migrate.SeedUsers(ctx, a.Sessions, seed, a.Log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d of %d accounts\n", n, len(seed.Users))
				return nil
			})
		},
	}
}

func newUsersReleaseCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "release USERNAME",
		Short: "Clear a stuck login so the account can sign in again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Sessions.Release(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", args[0])
				return nil
			})
		},
	}
}

func newUsersListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				users, err := a.Sessions.Users(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USERNAME\tROLE\tLOGGED IN\tID")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", u.Username, u.Role, u.SessionActive, u.ID)
				}
				return tw.Flush()
			})
		},
	}
}
