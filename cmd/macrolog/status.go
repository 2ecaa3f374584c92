package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/ui"
)

// statusReport is the --json form of 'macrolog status'.
type statusReport struct {
	Server     string `json:"server"`
	Online     bool   `json:"online"`
	Error      string `json:"error,omitempty"`
	Cache      string `json:"cache"`
	Pending    int    `json:"pending"`
	ConfigFile string `json:"config_file"`
	HaveConfig bool   `json:"config_file_exists"`
	LogFile    string `json:"log_file,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show service reachability and the pending queue",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		report := statusReport{
			Server:     a.cfg.Server.URL,
			Cache:      a.backend,
			ConfigFile: loader.Path(),
			HaveConfig: loader.FileExists(),
			LogFile:    a.cfg.Log.File,
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := a.client.Ping(ctx); err != nil {
			report.Error = err.Error()
		} else {
			report.Online = true
		}

		report.Pending, err = a.engine.PendingCount(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		if report.Online {
			fmt.Fprintf(out, "%s Service: %s\n", ui.RenderPass("●"), report.Server)
		} else {
			fmt.Fprintf(out, "%s Service: %s (offline)\n", ui.RenderFail("●"), report.Server)
			fmt.Fprintf(out, "   %s\n", ui.RenderMuted(report.Error))
		}
		pending := fmt.Sprintf("%d", report.Pending)
		if report.Pending > 0 {
			pending = ui.RenderWarn(pending)
		}
		fmt.Fprintf(out, "  Pending: %s\n", pending)
		fmt.Fprintf(out, "  Cache:   %s (%s)\n", report.Cache, a.cfg.Cache.Dir)
		config := report.ConfigFile
		if !report.HaveConfig {
			config += " " + ui.RenderMuted("(not created)")
		}
		fmt.Fprintf(out, "  Config:  %s\n", config)
		if report.LogFile != "" {
			fmt.Fprintf(out, "  Log:     %s\n", report.LogFile)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
}
