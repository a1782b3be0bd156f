package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/ledgerbeat/ostinato/internal/cli"
	"github.com/ledgerbeat/ostinato/internal/pattern"
	"github.com/spf13/cobra"
)

func detectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Suggest recurring patterns from ledger history",
		Long: `Mine the owner's non-recurring entries for repeating charges and rank
the strongest candidates. Each suggestion names the merchant-like
description, the frequency the gaps imply, and a confidence score.

Suggestions are read-only; promote one with 'ostinato definition add'.`,
		RunE: runDetect,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner whose history to mine")
	cmd.Flags().IntP("lookback", "l", 0, "Months of history to consider (default 6)")
	cmd.Flags().Bool("fuzzy", false, "Merge clusters whose descriptions differ only by a few characters")

	return cmd
}

func runDetect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	owner, err := resolveOwner(cmd)
	if err != nil {
		return err
	}
	lookback, _ := cmd.Flags().GetInt("lookback")
	fuzzy, _ := cmd.Flags().GetBool("fuzzy")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	detectorConfig := pattern.DefaultConfig()
	detectorConfig.FuzzyDedupe = fuzzy
	detector := pattern.NewDetectorWithConfig(store, detectorConfig)

	suggestions, err := detector.DetectPatterns(ctx, owner, lookback)
	if err != nil {
		return err
	}

	if len(suggestions) == 0 {
		fmt.Println(cli.InfoStyle.Render("No repeating charges found. Import more history with 'ostinato import'."))
		return nil
	}

	fmt.Println(cli.FormatTitle(fmt.Sprintf("Suggested patterns (%d)", len(suggestions))))
	fmt.Println()

	// Create table writer
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("#"),
		headerStyle.Render("Description"),
		headerStyle.Render("Frequency"),
		headerStyle.Render("Est. Amount"),
		headerStyle.Render("Confidence"),
		headerStyle.Render("Seen"),
		headerStyle.Render("Avg Gap"))
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		strings.Repeat("-", 3),
		strings.Repeat("-", 24),
		strings.Repeat("-", 9),
		strings.Repeat("-", 11),
		strings.Repeat("-", 10),
		strings.Repeat("-", 5),
		strings.Repeat("-", 7))

	for i, s := range suggestions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%.0f%%\t%dx\t%.1fd\n",
			i+1,
			s.Description,
			s.Frequency,
			s.Amount,
			s.Confidence,
			s.Occurrences,
			s.MeanGapDays)
	}

	return nil
}
