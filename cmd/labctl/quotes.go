package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"labdesk.org/internal/app"
	"labdesk.org/internal/maintenance"
	"labdesk.org/internal/quotes"
)

func newQuotesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quotes",
		Short: "Manage service quotations",
	}
	cmd.AddCommand(newQuotesAddCmd(g), newQuotesListCmd(g))
	return cmd
}

func newQuotesAddCmd(g *globals) *cobra.Command {
	var customer, service, price, currency, date string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a quotation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cents, err := quotes.ParsePrice(price)
			if err != nil {
				return err
			}
			now := time.Now()
			day := maintenance.DateOf(now)
			if date != "" {
				if day, err = maintenance.ParseDate(date); err != nil {
					return err
				}
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				q, err := a.Quotes.Add(ctx, customer, service, cents, currency, day, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded quotation %s\n", q.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&customer, "customer", "", "customer name")
	f.StringVar(&service, "service", "", "quoted service")
	f.StringVar(&price, "price", "", "price, e.g. 1250.00")
	f.StringVar(&currency, "currency", "USD", "ISO currency code")
	f.StringVar(&date, "date", "", "quotation date (YYYY-MM-DD), default today")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newQuotesListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List quotations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				list, err := a.Quotes.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tCUSTOMER\tSERVICE\tPRICE")
				for _, q := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d.%02d %s\n", q.Date, q.Customer, q.Service, q.PriceCents/100, q.PriceCents%100, q.Currency)
				}
				return tw.Flush()
			})
		},
	}
}
