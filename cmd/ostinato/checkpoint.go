package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/ledgerbeat/ostinato/internal/cli"
	"github.com/ledgerbeat/ostinato/internal/storage"
	"github.com/spf13/cobra"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage database checkpoints",
		Long: `Create, list, restore, and delete database checkpoints.

Checkpoints are full snapshots of the database. Take one before a bulk
import or a schedule rework, and restore it if the result is not what
you wanted.`,
		Example: `  # Create a checkpoint before importing new data
  ostinato checkpoint create --tag "pre-2024-import"

  # List all checkpoints
  ostinato checkpoint list

  # Restore from a checkpoint
  ostinato checkpoint restore pre-2024-import

  # Delete an old checkpoint
  ostinato checkpoint delete pre-2024-import`,
	}

	cmd.AddCommand(createCheckpointCmd())
	cmd.AddCommand(listCheckpointsCmd())
	cmd.AddCommand(restoreCheckpointCmd())
	cmd.AddCommand(deleteCheckpointCmd())

	return cmd
}

// initCheckpointManager opens storage and builds a manager over it. The
// caller owns closing the returned storage.
func initCheckpointManager(cmd *cobra.Command) (*storage.CheckpointManager, *storage.SQLiteStorage, error) {
	store, err := initStorage(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	sqliteStore, ok := store.(*storage.SQLiteStorage)
	if !ok {
		_ = store.Close()
		return nil, nil, fmt.Errorf("storage is not SQLite")
	}

	manager, err := sqliteStore.NewCheckpointManager()
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
	}

	return manager, sqliteStore, nil
}

func createCheckpointCmd() *cobra.Command {
	var tag string
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new checkpoint",
		Long:  `Create a snapshot of the current database state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, store, err := initCheckpointManager(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			info, err := manager.Create(cmd.Context(), tag, description)
			if err != nil {
				return fmt.Errorf("failed to create checkpoint: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created checkpoint %s (%s)",
				info.ID, formatFileSize(info.FileSize))))
			if info.Description != "" {
				fmt.Printf("  Description: %s\n", info.Description)
			}
			fmt.Printf("  Definitions: %d, entries: %d\n", info.Definitions, info.Entries)

			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Checkpoint tag/name (auto-generated if not provided)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the checkpoint")

	return cmd
}

func listCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all checkpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, store, err := initCheckpointManager(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			checkpoints, err := manager.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list checkpoints: %w", err)
			}

			if len(checkpoints) == 0 {
				fmt.Println(cli.InfoStyle.Render("No checkpoints found. Use 'ostinato checkpoint create' to take one."))
				return nil
			}

			// Create table writer
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				headerStyle.Render("Name"),
				headerStyle.Render("Created"),
				headerStyle.Render("Size"),
				headerStyle.Render("Definitions"),
				headerStyle.Render("Entries"),
				headerStyle.Render("Type"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				strings.Repeat("-", 20),
				strings.Repeat("-", 14),
				strings.Repeat("-", 8),
				strings.Repeat("-", 11),
				strings.Repeat("-", 7),
				strings.Repeat("-", 6))

			for _, cp := range checkpoints {
				typeLabel := "manual"
				if cp.IsAuto {
					typeLabel = "auto"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					cp.ID,
					formatRelativeTime(cp.CreatedAt),
					formatFileSize(cp.FileSize),
					cp.Definitions,
					cp.Entries,
					typeLabel)
			}

			return nil
		},
	}
}

func restoreCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Restore database from a checkpoint",
		Long: `Replace the current database with a checkpoint. The replaced database
is kept as a .restore-backup file until the copy completes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			checkpointID := args[0]

			manager, store, err := initCheckpointManager(cmd)
			if err != nil {
				return err
			}

			info, err := manager.GetCheckpointInfo(ctx, checkpointID)
			if err != nil {
				_ = store.Close()
				return fmt.Errorf("failed to get checkpoint info: %w", err)
			}

			if !force {
				fmt.Println(cli.FormatWarning(fmt.Sprintf(
					"This will replace your current database with checkpoint %s.", checkpointID)))
				fmt.Printf("  Created: %s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
				if info.Description != "" {
					fmt.Printf("  Description: %s\n", info.Description)
				}

				reader := cli.NewNonBlockingReader(os.Stdin)
				ok, confirmErr := reader.Confirm(ctx, os.Stdout, "Continue?", false)
				if confirmErr != nil {
					_ = store.Close()
					return confirmErr
				}
				if !ok {
					fmt.Println("Restore cancelled.")
					_ = store.Close()
					return nil
				}
			}

			// Restore swaps the database file, so every handle must go first
			_ = store.Close()

			if err := manager.Restore(ctx, checkpointID); err != nil {
				return fmt.Errorf("failed to restore checkpoint: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Restored from checkpoint %s", checkpointID)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

func deleteCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <checkpoint-id>",
		Short: "Delete a checkpoint",
		Long:  `Permanently remove a checkpoint.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			checkpointID := args[0]

			manager, store, err := initCheckpointManager(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			info, err := manager.GetCheckpointInfo(ctx, checkpointID)
			if err != nil {
				return fmt.Errorf("failed to get checkpoint info: %w", err)
			}

			if !force {
				fmt.Println(cli.FormatWarning(fmt.Sprintf(
					"This will permanently delete checkpoint %s (%s, created %s).",
					checkpointID, formatFileSize(info.FileSize),
					info.CreatedAt.Format("2006-01-02 15:04:05"))))

				reader := cli.NewNonBlockingReader(os.Stdin)
				ok, confirmErr := reader.Confirm(ctx, os.Stdout, "Continue?", false)
				if confirmErr != nil {
					return confirmErr
				}
				if !ok {
					fmt.Println("Deletion cancelled.")
					return nil
				}
			}

			if err := manager.Delete(ctx, checkpointID); err != nil {
				return fmt.Errorf("failed to delete checkpoint: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Deleted checkpoint %s", checkpointID)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

// Helper functions

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t time.Time) string {
	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case duration < 7*24*time.Hour:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
