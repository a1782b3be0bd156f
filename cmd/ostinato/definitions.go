package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/ledgerbeat/ostinato/internal/cli"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/recurring"
	"github.com/ledgerbeat/ostinato/internal/service"
	"github.com/spf13/cobra"
)

func definitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definition",
		Aliases: []string{"def"},
		Short:   "Manage recurring definitions",
		Long: `Create, list, update, and control the recurring definitions the engine materializes.

Commands that take an <id> accept any unique prefix of it, as printed by list.`,
	}

	cmd.PersistentFlags().StringP("owner", "o", "", "Owner the definitions belong to")

	cmd.AddCommand(addDefinitionCmd())
	cmd.AddCommand(listDefinitionsCmd())
	cmd.AddCommand(showDefinitionCmd())
	cmd.AddCommand(editDefinitionCmd())
	cmd.AddCommand(deleteDefinitionCmd())
	cmd.AddCommand(pauseDefinitionCmd())
	cmd.AddCommand(resumeDefinitionCmd())

	return cmd
}

func addDefinitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Add a recurring definition",
		Long: `Create a new recurring definition. The first occurrence is the start
date itself, so a definition starting today is due on the next process run.

Examples:
  # Monthly rent starting on the first
  ostinato definition add "Rent" --owner you --amount 1800 --frequency monthly --start 2024-09-01

  # Biweekly paycheck, income
  ostinato definition add "Paycheck" --owner you --amount 2500 --frequency biweekly --kind income

  # A gym membership that ends with the year
  ostinato definition add "Gym" --owner you --amount 40 --frequency monthly --end 2024-12-31`,
		Args: cobra.ExactArgs(1),
		RunE: runAddDefinition,
	}

	cmd.Flags().Float64P("amount", "a", 0, "Amount per occurrence")
	cmd.Flags().StringP("frequency", "f", "", "daily, weekly, biweekly, monthly, quarterly or yearly")
	cmd.Flags().StringP("kind", "k", "expense", "income or expense")
	cmd.Flags().StringP("start", "s", "", "First occurrence date (YYYY-MM-DD, default today)")
	cmd.Flags().String("end", "", "Optional end date (YYYY-MM-DD)")
	cmd.Flags().String("category", "", "Category id")
	cmd.Flags().String("merchant", "", "Merchant name")
	cmd.Flags().String("notes", "", "Free-form notes")
	cmd.Flags().StringSlice("tags", nil, "Tags (comma-separated)")
	cmd.Flags().Bool("manual", false, "Track the definition but never materialize it automatically")

	return cmd
}

func runAddDefinition(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	owner, err := resolveOwner(cmd)
	if err != nil {
		return err
	}

	amount, _ := cmd.Flags().GetFloat64("amount")
	frequency, _ := cmd.Flags().GetString("frequency")
	kind, _ := cmd.Flags().GetString("kind")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	category, _ := cmd.Flags().GetString("category")
	merchant, _ := cmd.Flags().GetString("merchant")
	notes, _ := cmd.Flags().GetString("notes")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	manual, _ := cmd.Flags().GetBool("manual")

	start := time.Now().UTC()
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	if startStr != "" {
		start, err = parseDate(startStr)
		if err != nil {
			return err
		}
	}

	var end *time.Time
	if endStr != "" {
		parsed, parseErr := parseDate(endStr)
		if parseErr != nil {
			return parseErr
		}
		end = &parsed
	}

	svc, store, err := initDefinitionService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	def, err := svc.Create(ctx, recurring.CreateParams{
		OwnerID:     owner,
		CategoryID:  category,
		Kind:        model.EntryKind(kind),
		Amount:      amount,
		Description: args[0],
		Merchant:    merchant,
		Notes:       notes,
		Frequency:   model.Frequency(frequency),
		StartDate:   start,
		EndDate:     end,
		Tags:        tags,
		AutoCreate:  !manual,
	})
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created %q (%s)", def.Description, shortID(def.ID))))
	fmt.Printf("  First occurrence: %s\n", def.NextOccurrence.Format("2006-01-02"))
	return nil
}

func listDefinitionsCmd() *cobra.Command {
	var includeInactive bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recurring definitions",
		Long:  `Display an owner's recurring definitions with their schedule state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			owner, err := resolveOwner(cmd)
			if err != nil {
				return err
			}

			svc, store, err := initDefinitionService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			defs, err := svc.List(ctx, owner, includeInactive)
			if err != nil {
				return err
			}

			if len(defs) == 0 {
				fmt.Println(cli.InfoStyle.Render("No definitions found. Use 'ostinato definition add' to create one."))
				return nil
			}

			// Create table writer
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				headerStyle.Render("ID"),
				headerStyle.Render("Description"),
				headerStyle.Render("Kind"),
				headerStyle.Render("Amount"),
				headerStyle.Render("Frequency"),
				headerStyle.Render("Next"),
				headerStyle.Render("Status"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				strings.Repeat("-", 8),
				strings.Repeat("-", 24),
				strings.Repeat("-", 7),
				strings.Repeat("-", 8),
				strings.Repeat("-", 9),
				strings.Repeat("-", 10),
				strings.Repeat("-", 6))

			for _, def := range defs {
				status := "active"
				if !def.IsActive {
					status = "paused"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
					shortID(def.ID),
					def.Description,
					def.Kind,
					def.Amount,
					def.Frequency,
					def.NextOccurrence.Format("2006-01-02"),
					status)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&includeInactive, "all", "A", false, "Include paused definitions")

	return cmd
}

func showDefinitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one definition in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			owner, err := resolveOwner(cmd)
			if err != nil {
				return err
			}

			svc, store, err := initDefinitionService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := resolveDefinitionID(ctx, svc, owner, args[0])
			if err != nil {
				return err
			}

			def, err := svc.Get(ctx, owner, id)
			if err != nil {
				return err
			}

			fmt.Println(cli.RenderBox(def.Description, formatDefinition(def)))
			return nil
		},
	}
}

func formatDefinition(def *model.RecurringDefinition) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ID:         %s\n", def.ID)
	fmt.Fprintf(&b, "Owner:      %s\n", def.OwnerID)
	fmt.Fprintf(&b, "Kind:       %s\n", def.Kind)
	fmt.Fprintf(&b, "Amount:     %.2f\n", def.Amount)
	fmt.Fprintf(&b, "Frequency:  %s\n", def.Frequency)
	fmt.Fprintf(&b, "Start:      %s\n", def.StartDate.Format("2006-01-02"))
	if def.EndDate != nil {
		fmt.Fprintf(&b, "End:        %s\n", def.EndDate.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Next:       %s\n", def.NextOccurrence.Format("2006-01-02"))
	if def.LastCreated != nil {
		fmt.Fprintf(&b, "Last fired: %s\n", def.LastCreated.Format("2006-01-02"))
	}
	if def.Merchant != "" {
		fmt.Fprintf(&b, "Merchant:   %s\n", def.Merchant)
	}
	if def.CategoryID != "" {
		fmt.Fprintf(&b, "Category:   %s\n", def.CategoryID)
	}
	if len(def.Tags) > 0 {
		fmt.Fprintf(&b, "Tags:       %s\n", strings.Join(def.Tags, ", "))
	}
	if def.Notes != "" {
		fmt.Fprintf(&b, "Notes:      %s\n", def.Notes)
	}

	status := "active"
	if !def.IsActive {
		status = "paused"
	}
	if !def.AutoCreate {
		status += " (manual)"
	}
	fmt.Fprintf(&b, "Status:     %s", status)

	return b.String()
}

func editDefinitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a definition",
		Long: `Change fields on an existing definition.

Changing the frequency restarts the schedule from today; every other field
changes in place without touching the schedule.`,
		Args: cobra.ExactArgs(1),
		RunE: runEditDefinition,
	}

	cmd.Flags().Float64("amount", 0, "New amount")
	cmd.Flags().String("frequency", "", "New frequency")
	cmd.Flags().String("description", "", "New description")
	cmd.Flags().String("category", "", "New category id")
	cmd.Flags().String("merchant", "", "New merchant")
	cmd.Flags().String("notes", "", "New notes")
	cmd.Flags().StringSlice("tags", nil, "Replace the tag set")
	cmd.Flags().String("end", "", "New end date (YYYY-MM-DD)")
	cmd.Flags().Bool("clear-end", false, "Remove the end date")
	cmd.Flags().Bool("auto", true, "Materialize automatically")

	return cmd
}

func runEditDefinition(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	owner, err := resolveOwner(cmd)
	if err != nil {
		return err
	}

	var patch service.DefinitionPatch
	changed := false

	if cmd.Flags().Changed("amount") {
		v, _ := cmd.Flags().GetFloat64("amount")
		patch.Amount = &v
		changed = true
	}
	if cmd.Flags().Changed("frequency") {
		v, _ := cmd.Flags().GetString("frequency")
		f := model.Frequency(v)
		patch.Frequency = &f
		changed = true
	}
	if cmd.Flags().Changed("description") {
		v, _ := cmd.Flags().GetString("description")
		patch.Description = &v
		changed = true
	}
	if cmd.Flags().Changed("category") {
		v, _ := cmd.Flags().GetString("category")
		patch.CategoryID = &v
		changed = true
	}
	if cmd.Flags().Changed("merchant") {
		v, _ := cmd.Flags().GetString("merchant")
		patch.Merchant = &v
		changed = true
	}
	if cmd.Flags().Changed("notes") {
		v, _ := cmd.Flags().GetString("notes")
		patch.Notes = &v
		changed = true
	}
	if cmd.Flags().Changed("tags") {
		v, _ := cmd.Flags().GetStringSlice("tags")
		patch.Tags = v
		changed = true
	}
	if cmd.Flags().Changed("end") {
		v, _ := cmd.Flags().GetString("end")
		parsed, parseErr := parseDate(v)
		if parseErr != nil {
			return parseErr
		}
		patch.EndDate = &parsed
		changed = true
	}
	if v, _ := cmd.Flags().GetBool("clear-end"); v {
		patch.ClearEndDate = true
		changed = true
	}
	if cmd.Flags().Changed("auto") {
		v, _ := cmd.Flags().GetBool("auto")
		patch.AutoCreate = &v
		changed = true
	}

	if !changed {
		return fmt.Errorf("nothing to change: pass at least one field flag")
	}

	svc, store, err := initDefinitionService(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	id, err := resolveDefinitionID(ctx, svc, owner, args[0])
	if err != nil {
		return err
	}

	def, err := svc.Update(ctx, owner, id, patch)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Updated %q", def.Description)))
	if cmd.Flags().Changed("frequency") {
		fmt.Printf("  Schedule restarted, next occurrence: %s\n", def.NextOccurrence.Format("2006-01-02"))
	}
	if !def.IsActive {
		fmt.Println(cli.FormatWarning("Definition is now past its end date and has been deactivated"))
	}
	return nil
}

func deleteDefinitionCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a definition",
		Long:  `Delete a definition permanently. Ledger entries it created are kept.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			owner, err := resolveOwner(cmd)
			if err != nil {
				return err
			}

			svc, store, err := initDefinitionService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := resolveDefinitionID(ctx, svc, owner, args[0])
			if err != nil {
				return err
			}

			def, err := svc.Get(ctx, owner, id)
			if err != nil {
				return err
			}

			// Confirm deletion
			if !force {
				reader := cli.NewNonBlockingReader(os.Stdin)
				ok, confirmErr := reader.Confirm(ctx, os.Stdout,
					fmt.Sprintf("Delete %q and stop its schedule?", def.Description), false)
				if confirmErr != nil {
					return confirmErr
				}
				if !ok {
					fmt.Println("Deletion cancelled.")
					return nil
				}
			}

			if err := svc.Delete(ctx, owner, id); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Deleted %q", def.Description)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func pauseDefinitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause materialization for a definition",
		Long:  `Stop a definition from materializing. Its schedule position is kept; use resume to pick it back up.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			owner, err := resolveOwner(cmd)
			if err != nil {
				return err
			}

			svc, store, err := initDefinitionService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := resolveDefinitionID(ctx, svc, owner, args[0])
			if err != nil {
				return err
			}

			def, err := svc.Pause(ctx, owner, id)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Paused %q (next occurrence stays %s)",
				def.Description, def.NextOccurrence.Format("2006-01-02"))))
			return nil
		},
	}
}

func resumeDefinitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused definition",
		Long:  `Reactivate a paused definition. The schedule restarts from today rather than firing catch-up occurrences for the paused stretch.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			owner, err := resolveOwner(cmd)
			if err != nil {
				return err
			}

			svc, store, err := initDefinitionService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := resolveDefinitionID(ctx, svc, owner, args[0])
			if err != nil {
				return err
			}

			def, err := svc.Resume(ctx, owner, id)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Resumed %q, next occurrence %s",
				def.Description, def.NextOccurrence.Format("2006-01-02"))))
			return nil
		},
	}
}
