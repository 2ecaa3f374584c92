package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/macrolog/macrolog/internal/schema"
	"github.com/macrolog/macrolog/internal/ui"
)

// macroValues is the printable form of MacroTotals and MacroGoals.
type macroValues struct {
	Calories float64 `json:"calories" yaml:"calories"`
	Protein  float64 `json:"protein" yaml:"protein"`
	Carbs    float64 `json:"carbs" yaml:"carbs"`
	Fats     float64 `json:"fats" yaml:"fats"`
}

type summaryOutput struct {
	Date      string      `json:"date" yaml:"date"`
	Source    string      `json:"source" yaml:"source"`
	Totals    macroValues `json:"totals" yaml:"totals"`
	Goals     macroValues `json:"goals" yaml:"goals"`
	Remaining macroValues `json:"remaining" yaml:"remaining"`
}

func newSummaryOutput(s schema.MacroSummary) summaryOutput {
	r := s.Remaining()
	return summaryOutput{
		Date:      s.Date.String(),
		Source:    string(s.Source),
		Totals:    macroValues(s.Totals),
		Goals:     macroValues{Calories: s.Goals.Calories, Protein: s.Goals.Protein, Carbs: s.Goals.Carbs, Fats: s.Goals.Fats},
		Remaining: macroValues(r),
	}
}

func writeSummary(w io.Writer, s schema.MacroSummary, format string) error {
	switch format {
	case "", "text":
		_, err := fmt.Fprint(w, ui.SummaryView(s))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newSummaryOutput(s))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newSummaryOutput(s)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

var summaryCmd = &cobra.Command{
	Use:     "summary",
	GroupID: "entries",
	Short:   "Show a day's macro totals against your goals",
	Long: `Show a day's macro totals against your goals.

When the service is unreachable the totals are computed from the local cache,
pending entries included, against the last goals received.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dateFlag, _ := cmd.Flags().GetString("date")
		format, _ := cmd.Flags().GetString("format")

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		date, err := a.date(dateFlag)
		if err != nil {
			return err
		}
		s, err := a.summaries.SummaryFor(cmd.Context(), date)
		if err != nil {
			return err
		}
		return writeSummary(cmd.OutOrStdout(), s, format)
	},
}

func init() {
	summaryCmd.Flags().String("date", "", "day to summarise (default today)")
	summaryCmd.Flags().StringP("format", "o", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(summaryCmd)
}
