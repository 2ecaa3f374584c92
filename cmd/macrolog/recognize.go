package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/config"
	"github.com/macrolog/macrolog/internal/recognize"
	"github.com/macrolog/macrolog/internal/ui"
)

// newRecognizer builds the recognizer named by cfg.Recognize.Provider.
func newRecognizer(a *app) (recognize.Recognizer, error) {
	switch a.cfg.Recognize.Provider {
	case "", config.ProviderRemote:
		return recognize.NewHTTPRecognizer(a.client), nil
	case config.ProviderAnthropic:
		return recognize.NewAnthropicRecognizer(a.cfg.Recognize.APIKey, a.cfg.Recognize.Model)
	default:
		return nil, fmt.Errorf("unknown recognize provider %q", a.cfg.Recognize.Provider)
	}
}

var recognizeCmd = &cobra.Command{
	Use:     "recognize <image>",
	GroupID: "entries",
	Short:   "Guess the food and macros in a photo",
	Long: `Guess the food and macros shown in a JPEG, PNG, GIF or WebP photo.

The guess is printed for review. With --add it is logged like 'macrolog add'
would, queued if the service is unreachable. Recognition itself needs the
configured provider to be reachable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		add, _ := cmd.Flags().GetBool("add")
		dateFlag, _ := cmd.Flags().GetString("date")

		image, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		if len(image) > recognize.MaxImageBytes {
			return fmt.Errorf("%s is too large (%d bytes, limit %d)", args[0], len(image), recognize.MaxImageBytes)
		}

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := newRecognizer(a)
		if err != nil {
			return err
		}
		guess, err := r.Recognize(cmd.Context(), image, filepath.Base(args[0]))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		d := guess.Draft
		fmt.Fprintf(out, "%s %s", ui.RenderAccent("🍽"), d.Name)
		if d.ServingSize != "" {
			fmt.Fprintf(out, " (%s)", d.ServingSize)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "   %s kcal, %sg protein, %sg carbs, %sg fats\n",
			fmtNum(d.Calories), fmtNum(d.Protein), fmtNum(d.Carbs), fmtNum(d.Fats))
		if guess.Confidence > 0 {
			fmt.Fprintf(out, "   Confidence: %.0f%%\n", guess.Confidence*100)
		}
		if guess.Estimated {
			fmt.Fprintf(out, "   %s\n", ui.RenderMuted("Macros estimated from a built-in table"))
		}
		if guess.Note != "" {
			fmt.Fprintf(out, "   %s\n", ui.RenderMuted(guess.Note))
		}
		if !add {
			return nil
		}

		day, err := a.day(dateFlag)
		if err != nil {
			return err
		}
		d.EntryDate = day.Selected()
		entry, err := day.Add(cmd.Context(), d)
		switch {
		case err == nil:
			fmt.Fprintf(out, "%s Logged as #%s\n", ui.RenderPass("✓"), entry.ID)
		case entry.ID.IsPlaceholder():
			fmt.Fprintf(out, "%s Saved locally as %s; it will be sent on the next sync\n", ui.RenderWarn("⚠"), entry.ID)
			fmt.Fprintf(out, "   %s\n", ui.RenderMuted(offlineReason(err)))
		default:
			return err
		}
		return nil
	},
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func init() {
	recognizeCmd.Flags().Bool("add", false, "log the recognized food")
	recognizeCmd.Flags().String("date", "", "day to log to with --add (default today)")
	rootCmd.AddCommand(recognizeCmd)
}
