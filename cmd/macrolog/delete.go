package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/schema"
	"github.com/macrolog/macrolog/internal/ui"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	GroupID: "entries",
	Short:   "Delete an entry",
	Long: `Delete an entry by the ID shown in 'macrolog entries'.

Pending entries (IDs starting with "local") are removed from the local cache
only. Other entries are deleted on the service first and need it to be
reachable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := schema.ParseEntryID(args[0])
		if err != nil || id == 0 {
			return fmt.Errorf("invalid entry id %q", args[0])
		}

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.DeleteEntry(cmd.Context(), id); err != nil {
			switch {
			case errors.Is(err, remote.ErrNotFound):
				return fmt.Errorf("entry %s does not exist on the service", id)
			case errors.Is(err, remote.ErrNetwork):
				return fmt.Errorf("cannot delete entry %s while the service is unreachable: %w", id, err)
			}
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted entry %s\n", ui.RenderPass("✓"), id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
