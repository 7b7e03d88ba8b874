// Package main is larderctl, the operator CLI: migrations, unit
// conversion, order feasibility checks and outbox inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"larder/internal/app"
	"larder/internal/config"
	"larder/internal/core/id"
	"larder/internal/domain/units"
	"larder/internal/infrastructure/storage/postgres"
	"larder/pkg/logger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "larderctl",
		Short:         "Operate a larder deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(logger.Config{Level: logLevel})
			if err != nil {
				return err
			}
			logger.SetDefault(log)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		migrateCmd(),
		convertCmd(),
		checkOrderCmd(),
		outboxCmd(),
		auditCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "larderctl", version)
			},
		},
	)
	return cmd
}

// withApp loads configuration and opens the database for one command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func migrateCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				migrations, err := postgres.Migrations()
				if err != nil {
					return err
				}
				for _, m := range migrations {
					fmt.Fprintln(cmd.OutOrStdout(), m.Version)
				}
				return nil
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				applied, err := postgres.Migrate(ctx, a.TxM)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				}
				for _, v := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List embedded migrations without connecting")
	return cmd
}

func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert VALUE FROM TO",
		Short: "Convert a quantity between units of one family",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[0], err)
			}
			out, err := units.Convert(value, args[1], args[2])
			if err != nil {
				return err
			}
			to, err := units.Canonical(args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", out.String(), to)
			return nil
		},
	}
}

func checkOrderCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "check-order ORDER_ID",
		Short: "Report whether stock covers an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := id.Parse(account)
			if err != nil {
				return fmt.Errorf("invalid --account: %w", err)
			}
			orderID, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				f, err := a.Orders.CanComplete(ctx, owner, orderID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), f)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Owning account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the transactional outbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print message counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				relay := postgres.NewOutboxRelay(a.TxM, a.Config.Outbox.BatchSize, nil)
				stats, err := relay.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	})
	return cmd
}

func auditCmd() *cobra.Command {
	var (
		account string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "audit ENTITY_ID",
		Short: "Print the stock audit trail of a purchase or order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := id.Parse(account)
			if err != nil {
				return fmt.Errorf("invalid --account: %w", err)
			}
			entityID, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid entity id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				entries, err := a.Audit.History(ctx, owner, entityID, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Owning account id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
