package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/schema"
	"github.com/macrolog/macrolog/internal/ui"
)

func printGoals(w io.Writer, g schema.MacroGoals) {
	for _, row := range []struct {
		label string
		value float64
		unit  string
	}{
		{"Calories", g.Calories, "kcal"},
		{"Protein", g.Protein, "g"},
		{"Carbs", g.Carbs, "g"},
		{"Fats", g.Fats, "g"},
	} {
		fmt.Fprintf(w, "  %-8s %s %s\n", row.label, strconv.FormatFloat(row.value, 'f', -1, 64), row.unit)
	}
}

var goalsCmd = &cobra.Command{
	Use:     "goals",
	GroupID: "entries",
	Short:   "Show your daily macro goals",
	Long: `Show your daily macro goals.

Goals come from the service. When it is unreachable the last goals received
are shown, or the built-in defaults if none were ever received.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		goals, err := a.client.Goals(cmd.Context())
		if err == nil {
			if err := a.store.SaveGoals(cmd.Context(), goals); err != nil {
				a.logs.Logger("cache").Printf("WARNING: Failed to cache goals: %v", err)
			}
			fmt.Fprintf(out, "%s Daily goals\n", ui.RenderAccent("🎯"))
			printGoals(out, goals)
			return nil
		}
		if errors.Is(err, remote.ErrValidation) {
			return err
		}

		cached, ok, cacheErr := a.store.LoadGoals(cmd.Context())
		switch {
		case cacheErr != nil:
			return fmt.Errorf("failed to load goals: %w (cache: %v)", err, cacheErr)
		case ok:
			goals = cached
			fmt.Fprintf(out, "%s Daily goals (last received; service unreachable)\n", ui.RenderWarn("⚠"))
		default:
			goals = schema.DefaultGoals()
			fmt.Fprintf(out, "%s Daily goals (defaults; service unreachable)\n", ui.RenderWarn("⚠"))
		}
		printGoals(out, goals)
		return nil
	},
}

var goalsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update your daily macro goals on the service",
	Long: `Update your daily macro goals on the service.

Only the goals given as flags change. This needs the service to be
reachable.

Example:
  macrolog goals set --calories 2200 --protein 160`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if !flags.Changed("calories") && !flags.Changed("protein") && !flags.Changed("carbs") && !flags.Changed("fats") {
			return fmt.Errorf("nothing to set; use --calories, --protein, --carbs or --fats")
		}

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		goals, err := a.client.Goals(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read current goals: %w", err)
		}
		for name, field := range map[string]*float64{
			"calories": &goals.Calories,
			"protein":  &goals.Protein,
			"carbs":    &goals.Carbs,
			"fats":     &goals.Fats,
		} {
			if !flags.Changed(name) {
				continue
			}
			v, _ := flags.GetFloat64(name)
			if v < 0 {
				return fmt.Errorf("--%s must not be negative", name)
			}
			*field = v
		}

		saved, err := a.client.SetGoals(cmd.Context(), goals)
		if err != nil {
			return err
		}
		if err := a.store.SaveGoals(cmd.Context(), saved); err != nil {
			a.logs.Logger("cache").Printf("WARNING: Failed to cache goals: %v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Goals updated\n", ui.RenderPass("✓"))
		printGoals(out, saved)
		return nil
	},
}

func init() {
	f := goalsSetCmd.Flags()
	f.Float64("calories", 0, "daily calorie goal (kcal)")
	f.Float64("protein", 0, "daily protein goal (g)")
	f.Float64("carbs", 0, "daily carbohydrate goal (g)")
	f.Float64("fats", 0, "daily fat goal (g)")

	goalsCmd.AddCommand(goalsSetCmd)
	rootCmd.AddCommand(goalsCmd)
}
