package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Send pending entries to the service",
	Long: `Send every pending entry to the service once, oldest first.

Entries the service accepts replace their pending copy. The others stay
pending for the next sync. Running sync repeatedly never creates an entry
twice.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.SyncPending(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if result.Attempted == 0 && result.Skipped == 0 {
			fmt.Fprintf(out, "%s Nothing to sync\n", ui.RenderPass("✓"))
			return nil
		}

		mark := ui.RenderPass("✓")
		if result.Failed > 0 || result.Skipped > 0 {
			mark = ui.RenderWarn("⚠")
		}
		fmt.Fprintf(out, "%s Sync complete in %v\n", mark, result.Duration.Round(time.Millisecond))
		fmt.Fprintf(out, "   Sent: %d\n", result.Confirmed)
		if result.Failed > 0 {
			fmt.Fprintf(out, "   Failed: %d\n", result.Failed)
		}
		if result.Skipped > 0 {
			fmt.Fprintf(out, "   Skipped: %d\n", result.Skipped)
		}
		fmt.Fprintf(out, "   Still pending: %d\n", result.StillPending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
