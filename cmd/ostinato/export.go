package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerbeat/ostinato/internal/cli"
	"github.com/ledgerbeat/ostinato/internal/config"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/pattern"
	"github.com/ledgerbeat/ostinato/internal/service"
	"github.com/ledgerbeat/ostinato/internal/sheets"
	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the schedule to Google Sheets",
		Long: `Write the owner's recurring definitions and the current pattern
suggestions to a Google Sheets report. The report replaces the sheet's
previous contents, so it always reflects the present schedule.

Requires Google Sheets credentials; run 'ostinato auth sheets' once to
set them up.`,
		RunE: runExport,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner whose schedule to export")
	cmd.Flags().IntP("lookback", "l", 0, "Months of history for the suggestions section (default 6)")
	cmd.Flags().Bool("no-suggestions", false, "Skip the suggestions section")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	owner, err := resolveOwner(cmd)
	if err != nil {
		return err
	}
	lookback, _ := cmd.Flags().GetInt("lookback")
	noSuggestions, _ := cmd.Flags().GetBool("no-suggestions")

	sheetsConfig, err := config.LoadSheetsConfig()
	if err != nil {
		return fmt.Errorf("sheets configuration: %w (run 'ostinato auth sheets' first)", err)
	}

	svc, store, err := initDefinitionService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	defs, err := svc.List(ctx, owner, true)
	if err != nil {
		return err
	}

	months := lookback
	if months <= 0 {
		months = pattern.DefaultConfig().LookbackMonths
	}
	now := time.Now().UTC()

	var suggestions []model.PatternSuggestion
	if !noSuggestions {
		detector := pattern.NewDetector(store)
		suggestions, err = detector.DetectPatterns(ctx, owner, months)
		if err != nil {
			return err
		}
	}

	writer, err := sheets.NewWriter(ctx, *sheetsConfig, slog.Default().With("component", "sheets"))
	if err != nil {
		return err
	}

	err = writer.Write(ctx, &sheets.ExportData{
		Definitions: defs,
		Suggestions: suggestions,
		Window: service.DateRange{
			Start: now.AddDate(0, -months, 0),
			End:   now,
		},
	})
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Exported %d definitions and %d suggestions",
		len(defs), len(suggestions))))
	return nil
}
