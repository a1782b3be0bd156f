package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledgerbeat/ostinato/internal/cli"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/ofx"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import ledger entries from OFX/QFX statements",
		Long: `Import ledger entries from OFX or QFX (Quicken) statements exported
from your bank. Entries are deduplicated by content hash, so importing
the same statement twice is harmless.

Examples:
  # Import a single statement
  ostinato import --owner you ~/Downloads/chase_jan_2024.qfx

  # Import everything in a directory
  ostinato import --owner you ~/Downloads/*.qfx

  # See what the statements contain without saving
  ostinato import --owner you --dry-run ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner to import the entries for")
	cmd.Flags().BoolP("dry-run", "d", false, "Preview the import without saving")
	cmd.Flags().Bool("list-accounts", false, "List the accounts in the statements and exit")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	listAccounts, _ := cmd.Flags().GetBool("list-accounts")

	// Expand globs and collect all files
	var allFiles []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			// If no glob matches, check if it's a direct file
			if _, statErr := os.Stat(pattern); statErr == nil {
				allFiles = append(allFiles, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
		} else {
			allFiles = append(allFiles, matches...)
		}
	}

	if len(allFiles) == 0 {
		return fmt.Errorf("no files found to import")
	}

	parser := ofx.NewParser()

	if listAccounts {
		return listStatementAccounts(ctx, parser, allFiles)
	}

	owner, err := resolveOwner(cmd)
	if err != nil {
		return err
	}

	slog.Info("🔁 Importing statements...",
		"file_count", len(allFiles),
		"dry_run", dryRun)

	// Track all entries across files
	var allEntries []model.LedgerEntry
	seen := make(map[string]bool) // For deduplication
	fileResults := make(map[string]int)

	bar := progressbar.NewOptions(len(allFiles),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Parsing statements...[reset]"),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(os.Stderr); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)

	for _, filePath := range allFiles {
		entries, parseErr := parseStatement(ctx, parser, filePath, owner)
		_ = bar.Add(1)
		if parseErr != nil {
			slog.Error("Failed to parse statement",
				"file", filepath.Base(filePath),
				"error", parseErr)
			continue
		}
		if len(entries) == 0 {
			slog.Warn("No entries found in file", "file", filepath.Base(filePath))
			continue
		}

		// Add entries with deduplication
		added := 0
		for i := range entries {
			if !seen[entries[i].Hash] {
				seen[entries[i].Hash] = true
				allEntries = append(allEntries, entries[i])
				added++
			}
		}

		fileResults[filepath.Base(filePath)] = added
	}

	if len(allEntries) == 0 {
		slog.Warn("No entries found in any file")
		return nil
	}

	// Show per-file summary
	fmt.Println("\n📁 File import summary:")
	files := make([]string, 0, len(fileResults))
	for file := range fileResults {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		fmt.Printf("  - %s: %d entries\n", file, fileResults[file])
	}

	displayEntrySummary(allEntries)

	if dryRun {
		slog.Info("🔍 Dry run complete - no data saved")
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	saved, err := store.SaveEntries(ctx, allEntries)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Imported %d entries (%d already known)",
		saved, len(allEntries)-saved)))
	return nil
}

func parseStatement(ctx context.Context, parser *ofx.Parser, path, owner string) ([]model.LedgerEntry, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the user's own arguments
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return parser.ParseFile(ctx, f, owner)
}

func listStatementAccounts(ctx context.Context, parser *ofx.Parser, files []string) error {
	accountSet := make(map[string]bool)

	for _, filePath := range files {
		f, err := os.Open(filePath) // #nosec G304 -- path comes from the user's own arguments
		if err != nil {
			slog.Error("Failed to open file", "file", filePath, "error", err)
			continue
		}
		accounts, err := parser.GetAccounts(ctx, f)
		_ = f.Close()
		if err != nil {
			slog.Error("Failed to read accounts",
				"file", filepath.Base(filePath),
				"error", err)
			continue
		}
		for _, acct := range accounts {
			accountSet[acct] = true
		}
	}

	if len(accountSet) == 0 {
		fmt.Println(cli.InfoStyle.Render("No accounts found."))
		return nil
	}

	accounts := make([]string, 0, len(accountSet))
	for acct := range accountSet {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)

	fmt.Println(cli.RenderBox("Available Accounts", strings.Join(accounts, "\n")))
	return nil
}

func displayEntrySummary(entries []model.LedgerEntry) {
	var oldest, newest time.Time
	var income, expenses float64
	merchantCounts := make(map[string]int)

	for i := range entries {
		entry := entries[i]
		if i == 0 || entry.Date.Before(oldest) {
			oldest = entry.Date
		}
		if i == 0 || entry.Date.After(newest) {
			newest = entry.Date
		}
		switch entry.Kind {
		case model.KindIncome:
			income += entry.Amount
		case model.KindExpense:
			expenses += entry.Amount
		}
		merchantCounts[entry.Merchant]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Entries:   %d\n", len(entries))
	fmt.Fprintf(&b, "Range:     %s to %s\n",
		oldest.Format("2006-01-02"), newest.Format("2006-01-02"))
	fmt.Fprintf(&b, "Income:    %.2f\n", income)
	fmt.Fprintf(&b, "Expenses:  %.2f", expenses)

	type merchantCount struct {
		name  string
		count int
	}
	merchants := make([]merchantCount, 0, len(merchantCounts))
	for name, count := range merchantCounts {
		merchants = append(merchants, merchantCount{name, count})
	}
	sort.Slice(merchants, func(i, j int) bool {
		if merchants[i].count != merchants[j].count {
			return merchants[i].count > merchants[j].count
		}
		return merchants[i].name < merchants[j].name
	})

	if len(merchants) > 0 {
		b.WriteString("\n\nTop merchants:")
		for i, m := range merchants {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "\n  %d. %s (%dx)", i+1, m.name, m.count)
		}
	}

	fmt.Println()
	fmt.Println(cli.RenderBox("Import Summary", b.String()))
}
