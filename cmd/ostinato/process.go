package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ledgerbeat/ostinato/internal/cli"
	"github.com/ledgerbeat/ostinato/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Materialize all due definitions",
		Long: `Walk every active definition and create ledger entries for occurrences
that have come due. The run is idempotent: a definition only materializes
once per occurrence, so re-running after a crash or an interrupt is safe.`,
		RunE: runProcess,
	}

	cmd.Flags().String("at", "", "Process as of this instant instead of now (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntP("workers", "w", 0, "Number of concurrent workers")
	cmd.Flags().Bool("checkpoint", false, "Snapshot the database before processing")
	_ = viper.BindPFlag("process.workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runProcess(cmd *cobra.Command, _ []string) error {
	handler := cli.NewInterruptHandler(os.Stdout)
	ctx := handler.HandleInterrupts(cmd.Context(), true)

	now := time.Now().UTC()
	if atStr, _ := cmd.Flags().GetString("at"); atStr != "" {
		parsed, err := parseInstant(atStr)
		if err != nil {
			return err
		}
		now = parsed
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if wantCheckpoint, _ := cmd.Flags().GetBool("checkpoint"); wantCheckpoint {
		if sqliteStore, ok := store.(*storage.SQLiteStorage); ok {
			manager, mgrErr := sqliteStore.NewCheckpointManager()
			if mgrErr != nil {
				slog.Warn("Could not create checkpoint manager, continuing without a snapshot", "error", mgrErr)
			} else if err := manager.AutoCheckpoint(ctx, "process"); err != nil {
				slog.Warn("Pre-run checkpoint failed, continuing without a snapshot", "error", err)
			}
		}
	}

	eng := newEngine(store, viper.GetInt("process.workers"))

	summary, err := eng.ProcessDue(ctx, now)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(
		"Processed:     %d\nMaterialized:  %d\nDeactivated:   %d\nSkipped:       %d\nFailed:        %d\nDuration:      %s",
		summary.Processed,
		summary.Materialized,
		summary.Deactivated,
		summary.Skipped,
		summary.Failed,
		summary.Duration.Round(time.Millisecond))
	fmt.Println(cli.RenderBox("Materialization Run", body))

	if summary.Failed > 0 {
		fmt.Println(cli.FormatWarning(fmt.Sprintf(
			"%d definition(s) failed and stay due; re-run to retry", summary.Failed)))
	}

	return nil
}
