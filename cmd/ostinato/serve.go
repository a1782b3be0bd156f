package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ledgerbeat/ostinato/internal/cli"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// tickTimeout bounds a single scheduled run so a wedged run cannot block
// the next one forever.
const tickTimeout = 10 * time.Minute

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the materialization daemon",
		Long: `Run in the foreground and materialize due definitions on a cron
schedule. The default schedule processes once a day at 06:00 local time.
Because processing is idempotent, an aggressive schedule is harmless.`,
		RunE: runServe,
	}

	cmd.Flags().StringP("schedule", "s", "0 6 * * *", "Cron schedule for processing runs")
	cmd.Flags().Bool("immediate", false, "Process once at startup before waiting for the schedule")
	cmd.Flags().IntP("workers", "w", 0, "Number of concurrent workers per run")
	_ = viper.BindPFlag("serve.schedule", cmd.Flags().Lookup("schedule"))
	_ = viper.BindPFlag("serve.immediate", cmd.Flags().Lookup("immediate"))
	_ = viper.BindPFlag("serve.workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	handler := cli.NewInterruptHandler(os.Stdout)
	ctx := handler.HandleInterrupts(cmd.Context(), false)

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng := newEngine(store, viper.GetInt("serve.workers"))

	tick := func() {
		tickCtx, cancel := context.WithTimeout(ctx, tickTimeout)
		defer cancel()

		summary, tickErr := eng.ProcessDue(tickCtx, time.Now().UTC())
		if tickErr != nil {
			slog.Error("Processing run failed", "error", tickErr)
			return
		}
		slog.Info("Processing run complete",
			"materialized", summary.Materialized,
			"deactivated", summary.Deactivated,
			"failed", summary.Failed,
			"duration", summary.Duration.Round(time.Millisecond))
	}

	schedule := viper.GetString("serve.schedule")
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(schedule, tick); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	slog.Info("🔁 Materialization daemon started", "schedule", schedule)

	if viper.GetBool("serve.immediate") {
		tick()
	}

	scheduler.Start()
	<-ctx.Done()

	// Let an in-flight run finish before returning.
	<-scheduler.Stop().Done()
	slog.Info("Materialization daemon stopped")

	return nil
}
