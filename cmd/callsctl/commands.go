package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"callbilling/internal/app"
	"callbilling/internal/wallet"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Bill one batch of completed calls whose debit was deferred",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				billed, err := a.Sweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), map[string]int{"billed": billed}, func(w io.Writer) {
					fmt.Fprintf(w, "billed %d call(s)\n", billed)
				})
			})
		},
	}
}

func newCallsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "calls", Short: "Inspect call records"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <call-id>",
		Short: "Print one call record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				c, err := a.Calls.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c, nil)
			})
		},
	})

	var limit int
	unbilled := &cobra.Command{
		Use:   "unbilled",
		Short: "List completed calls that still need billing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				pending, err := a.Calls.ListUnbilled(ctx, limit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), pending, func(w io.Writer) {
					for _, c := range pending {
						fmt.Fprintf(w, "%s\t%s\t%ds\t%s\n", c.ID, c.OrganizationID, c.DurationSeconds, c.BillingError)
					}
				})
			})
		},
	}
	unbilled.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	cmd.AddCommand(unbilled)
	return cmd
}

func newWalletCmd() *cobra.Command {
	var org string
	cmd := &cobra.Command{Use: "wallet", Short: "Inspect and adjust organization wallets"}
	cmd.PersistentFlags().StringVar(&org, "org", "", "organization id")
	_ = cmd.MarkPersistentFlagRequired("org")

	cmd.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Print the wallet balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				bal, err := a.Wallet.GetBalance(ctx, org)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), bal, func(w io.Writer) {
					fmt.Fprintf(w, "%s %d %s\n", bal.OrganizationID, bal.BalanceMinor, bal.Currency)
				})
			})
		},
	})

	var initial int64
	open := &cobra.Command{
		Use:   "open",
		Short: "Create the organization's wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				bal, err := a.Wallet.OpenWallet(ctx, org, initial)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), bal, nil)
			})
		},
	}
	open.Flags().Int64Var(&initial, "initial", 0, "initial balance in minor units")
	cmd.AddCommand(open)

	var amount int64
	var reference, reason string
	credit := &cobra.Command{
		Use:   "credit",
		Short: "Credit the wallet once per reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reference == "" {
				reference = fmt.Sprintf("callsctl:%d", time.Now().UnixNano())
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				tx, err := a.Wallet.Credit(ctx, org, amount, reference, reason)
				if errors.Is(err, wallet.ErrDuplicateReference) {
					fmt.Fprintln(cmd.ErrOrStderr(), "reference already applied")
					err = nil
				}
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), tx, func(w io.Writer) {
					fmt.Fprintf(w, "%s credited %d, balance %d\n", tx.Reference, tx.AmountMinor, tx.BalanceAfterMinor)
				})
			})
		},
	}
	credit.Flags().Int64Var(&amount, "amount", 0, "amount in minor units")
	credit.Flags().StringVar(&reference, "reference", "", "idempotency reference")
	credit.Flags().StringVar(&reason, "reason", "manual credit", "ledger description")
	_ = credit.MarkFlagRequired("amount")
	cmd.AddCommand(credit)

	var limit int
	txs := &cobra.Command{
		Use:   "transactions",
		Short: "List recent ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Wallet.Transactions(ctx, org, limit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), out, func(w io.Writer) {
					for _, tx := range out {
						fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", tx.CreatedAt.Format(time.RFC3339), tx.Type, tx.AmountMinor, tx.Reference, tx.BalanceAfterMinor)
					}
				})
			})
		},
	}
	txs.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(txs)
	return cmd
}

func newCreditsCmd() *cobra.Command {
	var org, reference string
	var n int64
	cmd := &cobra.Command{Use: "credits", Short: "Manage AI credits"}

	grant := &cobra.Command{
		Use:   "grant",
		Short: "Add AI credits to an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				total, err := a.Credits.Grant(ctx, org, n, reference)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), map[string]any{"organization_id": org, "ai_credits": total}, func(w io.Writer) {
					fmt.Fprintf(w, "%s now has %d credit(s)\n", org, total)
				})
			})
		},
	}
	grant.Flags().StringVar(&org, "org", "", "organization id")
	grant.Flags().Int64Var(&n, "n", 0, "credits to add")
	grant.Flags().StringVar(&reference, "reference", "callsctl", "audit reference")
	_ = grant.MarkFlagRequired("org")
	_ = grant.MarkFlagRequired("n")
	cmd.AddCommand(grant)
	return cmd
}

func newTokenCmd() *cobra.Command {
	var user, org, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token (local and staging use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Config.IsProduction() {
					return errors.New("token issuance is disabled in production")
				}
				tok, err := a.Auth.Issue(time.Now(), user, org, role)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&role, "role", "owner", "role")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
