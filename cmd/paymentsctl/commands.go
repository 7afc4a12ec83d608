package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/utafrali/storefront-payments/migrations"
	"github.com/utafrali/storefront-payments/pkg/database"
	"github.com/utafrali/storefront-payments/pkg/logger"
)

type rootOptions struct {
	addr    string
	token   string
	timeout time.Duration
}

func (o *rootOptions) client() *adminClient {
	return newAdminClient(o.addr, o.token, o.timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "paymentsctl",
		Short:         "Operate the storefront payments service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.addr, "addr", envOr("PAYMENTS_ADDR", "http://localhost:8005"), "payments service base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ADMIN_API_TOKEN"), "admin bearer token")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		actionCmd(opts, "capture", "Capture an authorized payment"),
		actionCmd(opts, "cancel", "Void an authorized payment"),
		refundCmd(opts),
		getCmd(opts),
		orderPaymentsCmd(opts),
		migrateCmd(),
	)
	return root
}

func actionCmd(opts *rootOptions, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <payment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().capture(cmd.Context(), args[0], action)
			if err != nil {
				return fmt.Errorf("%s %s: %w", action, args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func refundCmd(opts *rootOptions) *cobra.Command {
	var (
		amount int64
		reason string
	)

	cmd := &cobra.Command{
		Use:   "refund <payment-id>",
		Short: "Refund a captured payment",
		Long: `Refund a captured payment. Without --amount the full payment is refunded.

Examples:
  paymentsctl refund sq_pay_123
  paymentsctl refund sq_pay_123 --amount 1000 --reason "damaged item"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amountCents *int64
			if cmd.Flags().Changed("amount") {
				if amount <= 0 {
					return errors.New("--amount must be positive")
				}
				amountCents = &amount
			}
			raw, err := opts.client().refund(cmd.Context(), args[0], amountCents, reason)
			if err != nil {
				return fmt.Errorf("refund %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	cmd.Flags().Int64Var(&amount, "amount", 0, "amount to refund in cents")
	cmd.Flags().StringVar(&reason, "reason", "", "refund reason shown to the customer")
	return cmd
}

func getCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <payment-id>",
		Short: "Show a payment and its refunds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().payment(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func orderPaymentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order-payments <order-id>",
		Short: "List every payment attempt for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().orderPayments(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("order-payments %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func migrateCmd() *cobra.Command {
	var (
		databaseURL string
		dryRun      bool
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending ledger migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			if dryRun {
				files, err := database.MigrationFiles(migrations.FS)
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(out, f)
				}
				return nil
			}

			if databaseURL == "" {
				return errors.New("--database-url or DATABASE_URL is required")
			}

			log := logger.NewWithWriter("paymentsctl", logLevel, cmd.ErrOrStderr())
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pgCfg := database.DefaultPostgresConfig()
			pgCfg.URL = databaseURL
			pgCfg.MaxConns = 2
			pgCfg.MinConns = 0
			pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()

			applied, err := database.RunMigrations(ctx, pool, migrations.FS, log)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(out, "applied %s\n", v)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list embedded migrations without connecting")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, werr := w.Write(raw)
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
