package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/transfer"
	"github.com/macrolog/macrolog/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "entries",
	Short:   "Export entries as JSON Lines",
	Long: `Export the entries of a range of days as JSON Lines, one entry per line,
pending entries included.

Examples:
  macrolog export --from 2024-05-01 --to 2024-05-31 -f may.jsonl
  macrolog export --from "last monday" > week.jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		fromFlag, _ := flags.GetString("from")
		toFlag, _ := flags.GetString("to")
		file, _ := flags.GetString("file")

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		to, err := a.date(toFlag)
		if err != nil {
			return err
		}
		from := to
		if fromFlag != "" {
			if from, err = a.date(fromFlag); err != nil {
				return err
			}
		}

		if file == "" || file == "-" {
			_, err := transfer.Export(cmd.Context(), cmd.OutOrStdout(), a.engine, from, to)
			return err
		}
		n, err := transfer.ExportFile(cmd.Context(), file, a.engine, from, to)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s Exported %d entries to %s\n", ui.RenderPass("✓"), n, file)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "entries",
	Short:   "Add entries from a JSON Lines file",
	Long: `Add every entry of a JSON Lines file, such as one written by 'macrolog export'.

Each line becomes a new entry; identifiers in the file are ignored, so
importing the same file twice logs its entries twice. Entries the service
cannot take right now are queued like 'macrolog add' does. Use "-" to read
standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		var in io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			in = f
		}
		drafts, err := transfer.ReadDrafts(in)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if dryRun {
			fmt.Fprintf(out, "%s %d entries would be imported\n", ui.RenderAccent("○"), len(drafts))
			return nil
		}

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := transfer.Import(cmd.Context(), a.engine, drafts, false)
		if result != nil {
			fmt.Fprintf(out, "%s Imported %d entries\n", ui.RenderPass("✓"), result.Confirmed+result.Queued)
			if result.Queued > 0 {
				fmt.Fprintf(out, "   %s\n", ui.RenderWarn(fmt.Sprintf("%d saved locally; they will be sent on the next sync", result.Queued)))
			}
			for _, msg := range result.Errors {
				fmt.Fprintf(out, "   %s %s\n", ui.RenderFail("✗"), msg)
			}
		}
		return err
	},
}

func init() {
	exportCmd.Flags().String("from", "", "first day (default: same as --to)")
	exportCmd.Flags().String("to", "", "last day (default today)")
	exportCmd.Flags().StringP("file", "f", "", "write to this file instead of stdout")
	importCmd.Flags().Bool("dry-run", false, "only parse and validate the file")

	rootCmd.AddCommand(exportCmd, importCmd)
}
