package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/schema"
	"github.com/macrolog/macrolog/internal/ui"
)

var entriesCmd = &cobra.Command{
	Use:     "entries",
	Aliases: []string{"ls", "list"},
	GroupID: "entries",
	Short:   "List the entries of a day",
	Long: `List the entries of a day, newest first, followed by the day's summary.

Entries come from the service when it is reachable and from the local cache
otherwise. Entries still waiting to be sent are marked pending.

Examples:
  macrolog entries
  macrolog entries --date yesterday
  macrolog entries --date 2024-05-01 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dateFlag, _ := cmd.Flags().GetString("date")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		day, err := a.day(dateFlag)
		if err != nil {
			return err
		}
		if err := day.Load(cmd.Context()); err != nil {
			return err
		}
		state := day.State()

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			entries := state.Entries
			if entries == nil {
				entries = []schema.FoodEntry{}
			}
			return enc.Encode(entries)
		}

		fmt.Fprintf(out, "%s %s\n\n", ui.RenderAccent("📅"), state.Date)
		fmt.Fprint(out, ui.EntryTable(state.Entries))
		if state.Summary != nil {
			fmt.Fprintln(out)
			fmt.Fprint(out, ui.SummaryView(*state.Summary))
		}
		return nil
	},
}

func init() {
	entriesCmd.Flags().String("date", "", "day to show: YYYY-MM-DD, today, yesterday, ...")
	entriesCmd.Flags().Bool("json", false, "print entries as JSON")
	rootCmd.AddCommand(entriesCmd)
}
