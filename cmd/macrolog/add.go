package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/remote"
	"github.com/macrolog/macrolog/internal/schema"
	"github.com/macrolog/macrolog/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add [food name]",
	GroupID: "entries",
	Short:   "Log a food entry",
	Long: `Log a food entry.

If the service cannot be reached the entry is kept locally as pending and
sent on the next sync. Without a food name and with a terminal on stdin, an
interactive form asks for the values.

Examples:
  macrolog add oatmeal --calories 300 --protein 10 --carbs 54 --fats 5
  macrolog add "greek yogurt" --calories 150 --protein 15 --date yesterday
  macrolog add`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		dateFlag, _ := flags.GetString("date")

		draft := schema.Draft{Name: strings.TrimSpace(strings.Join(args, " "))}
		draft.Calories, _ = flags.GetFloat64("calories")
		draft.Protein, _ = flags.GetFloat64("protein")
		draft.Carbs, _ = flags.GetFloat64("carbs")
		draft.Fats, _ = flags.GetFloat64("fats")
		draft.ServingSize, _ = flags.GetString("serving")
		draft.ImageURL, _ = flags.GetString("image-url")

		if draft.Name == "" {
			if !ui.IsInteractive() {
				return fmt.Errorf("food name is required")
			}
			if err := runAddForm(&draft); err != nil {
				return err
			}
		}

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		day, err := a.day(dateFlag)
		if err != nil {
			return err
		}
		draft.EntryDate = day.Selected()

		entry, err := day.Add(cmd.Context(), draft)
		out := cmd.OutOrStdout()
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s Logged %s (%s kcal) as #%s\n", ui.RenderPass("✓"), entry.Name, strconv.FormatFloat(entry.Calories, 'f', -1, 64), entry.ID)
		case entry.ID.IsPlaceholder():
			fmt.Fprintf(out, "%s Saved %s locally as %s; it will be sent on the next sync\n", ui.RenderWarn("⚠"), entry.Name, entry.ID)
			fmt.Fprintf(out, "   %s\n", ui.RenderMuted(offlineReason(err)))
		default:
			return err
		}

		if s := day.State().Summary; s != nil {
			fmt.Fprintln(out)
			fmt.Fprint(out, ui.SummaryView(*s))
		}
		return nil
	},
}

// offlineReason explains why an entry was queued.
func offlineReason(err error) string {
	switch {
	case errors.Is(err, remote.ErrNetwork):
		return "The service is unreachable."
	case errors.Is(err, remote.ErrValidation):
		return "The service rejected the entry: " + err.Error()
	case errors.Is(err, remote.ErrServer):
		return "The service failed to store the entry."
	default:
		return err.Error()
	}
}

// runAddForm asks for the entry values interactively.
func runAddForm(d *schema.Draft) error {
	amounts := make([]string, 4)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Food").Value(&d.Name).Validate(requireText),
			huh.NewInput().Title("Calories (kcal)").Value(&amounts[0]).Validate(validAmount),
			huh.NewInput().Title("Protein (g)").Value(&amounts[1]).Validate(validAmount),
			huh.NewInput().Title("Carbs (g)").Value(&amounts[2]).Validate(validAmount),
			huh.NewInput().Title("Fats (g)").Value(&amounts[3]).Validate(validAmount),
			huh.NewInput().Title("Serving size").Placeholder("1 serving").Value(&d.ServingSize),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	dst := []*float64{&d.Calories, &d.Protein, &d.Carbs, &d.Fats}
	for i, s := range amounts {
		v, err := parseAmount(s)
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	d.Name = strings.TrimSpace(d.Name)
	return nil
}

func requireText(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	if len(s) > schema.MaxNameLength {
		return fmt.Errorf("at most %d characters", schema.MaxNameLength)
	}
	return nil
}

func validAmount(s string) error {
	_, err := parseAmount(s)
	return err
}

// parseAmount reads a non-negative number; empty means zero.
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if v < 0 {
		return 0, errors.New("must not be negative")
	}
	return v, nil
}

func init() {
	f := addCmd.Flags()
	f.Float64("calories", 0, "calories (kcal)")
	f.Float64("protein", 0, "protein (g)")
	f.Float64("carbs", 0, "carbohydrates (g)")
	f.Float64("fats", 0, "fats (g)")
	f.String("serving", "", "serving size, e.g. \"1 bowl\"")
	f.String("image-url", "", "photo of the meal")
	f.String("date", "", "day of the entry (default today)")
	rootCmd.AddCommand(addCmd)
}
