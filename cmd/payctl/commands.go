package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"marketplace-billing/internal/bootstrap"
	"marketplace-billing/internal/infra/api"
	pg "marketplace-billing/internal/infra/db/postgres"
	"marketplace-billing/internal/usecase"
)

func migrateCmd(g *globalFlags) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Apply or roll back the embedded schema migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			mg, err := pg.NewMigrator(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer mg.Close()

			switch args[0] {
			case "up":
				if err := mg.Up(); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
			case "down":
				if err := mg.Down(steps); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
			case "status":
			default:
				return fmt.Errorf("unknown migrate action %q", args[0])
			}
			v, dirty, err := mg.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d dirty=%t\n", v, dirty)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func sweepCmd(g *globalFlags) *cobra.Command {
	var payments, subscriptions bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue payments and lapse ended subscriptions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !payments && !subscriptions {
				payments, subscriptions = true, true
			}
			return g.withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				var errs []error
				if payments {
					n, err := app.Payments.SweepExpired(ctx)
					errs = append(errs, err)
					fmt.Fprintf(cmd.OutOrStdout(), "payments expired: %d\n", n)
				}
				if subscriptions {
					n, err := app.Subscriptions.DeactivateExpired(ctx)
					errs = append(errs, err)
					fmt.Fprintf(cmd.OutOrStdout(), "subscriptions lapsed: %d\n", n)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().BoolVar(&payments, "payments", false, "only sweep payments")
	cmd.Flags().BoolVar(&subscriptions, "subscriptions", false, "only sweep subscriptions")
	return cmd
}

func reopenCmd(g *globalFlags) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "reopen <paymentId>",
		Short: "Grant a late gateway success that is held for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				p, err := app.Payments.Reopen(ctx, args[0], operator)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"payment_id": p.ID, "status": p.Status, "subscription_upgraded": p.SubscriptionUpgraded})
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "who is reopening (required)")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func refundCmd(g *globalFlags) *cobra.Command {
	var (
		operator string
		amount   int64
	)
	cmd := &cobra.Command{
		Use:   "refund <paymentId>",
		Short: "Refund part or all of a successful payment at the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
				p, err := app.Payments.Refund(ctx, args[0], amount, operator)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"payment_id": p.ID, "refunded_amount": p.RefundedAmount, "currency": p.Currency})
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "who is refunding (required)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in minor units (required)")
	_ = cmd.MarkFlagRequired("operator")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func plansCmd() *cobra.Command {
	var family string
	cmd := &cobra.Command{
		Use:   "plans [planId]",
		Short: "Print the plan catalog, or one plan with its features",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc := usecase.NewPlanUseCase()
			if len(args) == 1 {
				if family == "" {
					return errors.New("--family is required with a plan id")
				}
				p, err := uc.Get(cmd.Context(), family, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			}
			plans, err := uc.List(cmd.Context(), family)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FAMILY\tID\tRANK\tPRICES")
			for _, p := range plans {
				prices := "free"
				if !p.IsFree() {
					prices = ""
					for i, t := range p.Tiers {
						if i > 0 {
							prices += ", "
						}
						prices += fmt.Sprintf("%dm=%d", t.Months, t.Price)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s %s\n", p.Family, p.ID, p.Rank, prices, p.Currency)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "PROVIDER or USER")
	return cmd
}

func tokenCmd(g *globalFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <accountId>",
		Short: "Mint a payer JWT for manual testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			tok, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Mint(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
