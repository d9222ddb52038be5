package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"callbilling/internal/app"
	"callbilling/internal/config"
	"callbilling/pkg/logger"
	"callbilling/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

var (
	output  string
	timeout time.Duration
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "callsctl",
		Short:         "Operator tool for call billing",
		Long:          "callsctl runs billing sweeps, inspects calls and adjusts wallets and AI credits against the configured database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&output, "output", "text", "output format: json|text")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall command timeout")

	root.AddCommand(newSweepCmd())
	root.AddCommand(newCallsCmd())
	root.AddCommand(newWalletCmd())
	root.AddCommand(newCreditsCmd())
	root.AddCommand(newTokenCmd())
	return root
}

// withApp loads configuration, connects to Postgres and Redis and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx = logger.With(ctx, log.With("component", "callsctl"))

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	a, err := app.New(ctx, cfg, db, rdb)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

// render prints v as indented JSON, or text via the fallback when --output=text.
func render(w io.Writer, v any, text func(io.Writer)) error {
	if output == "json" || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
