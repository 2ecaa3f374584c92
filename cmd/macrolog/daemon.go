package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/config"
	"github.com/macrolog/macrolog/internal/daemon"
	"github.com/macrolog/macrolog/internal/dashboard"
	"github.com/macrolog/macrolog/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep pending entries in sync in the background",
	Long: `Run in the foreground and send pending entries whenever the service is
reachable, on the schedule from sync.schedule.

With --dashboard (or dashboard.enabled) a local WebSocket dashboard is served
that streams entry and sync events and exposes Prometheus metrics at
/metrics. POST /api/sync requests a pass right away.

Changes to sync.schedule in the config file apply without a restart.
Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("dashboard") {
			settings.Dashboard.Enabled, _ = flags.GetBool("dashboard")
		}
		if flags.Changed("port") {
			settings.Dashboard.Port, _ = flags.GetInt("port")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, settings)
		if err != nil {
			return err
		}
		defer a.Close()

		if n, err := a.engine.PendingCount(ctx); err == nil {
			a.metrics.SetPending(n)
		}

		d, err := daemon.New(a.engine, a.client, &daemon.Config{
			Schedule:         a.cfg.Sync.Schedule,
			DebounceInterval: a.cfg.Sync.Debounce,
			PassTimeout:      a.cfg.Sync.PassTimeout,
			Logger:           a.logs.Logger("daemon"),
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if a.cfg.Dashboard.Enabled {
			server := dashboard.NewServer(&dashboard.Config{
				Host:    a.cfg.Dashboard.Host,
				Port:    a.cfg.Dashboard.Port,
				Metrics: a.metrics.Handler(),
				Trigger: d.Trigger,
				Logger:  a.logs.Logger("dashboard"),
			})
			handler := dashboard.NewHandler(server, a.logs.Logger("dashboard"))
			if err := handler.Refresh(ctx, a.engine); err != nil {
				a.logs.Logger("dashboard").Printf("WARNING: Failed to load pending count: %v", err)
			}
			a.notify.Add(handler)

			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
			fmt.Fprintf(out, "%s Dashboard at http://%s\n", ui.RenderAccent("📊"), server.GetAddr())
		}

		logger := a.logs.Logger("config")
		loader.Watch(func(cfg *config.Config) {
			if err := d.SetSchedule(cfg.Sync.Schedule); err != nil {
				logger.Printf("WARNING: Failed to apply new schedule: %v", err)
			}
		})

		fmt.Fprintf(out, "%s Syncing %s on schedule %s (Ctrl+C to stop)\n",
			ui.RenderPass("●"), a.cfg.Server.URL, a.cfg.Sync.Schedule)
		if err := d.Start(ctx); err != nil {
			return err
		}

		status := d.Status()
		fmt.Fprintf(out, "%s Stopped after %d passes\n", ui.RenderMuted("○"), status.Passes)
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "serve the WebSocket dashboard")
	daemonCmd.Flags().Int("port", 0, "dashboard port (overrides dashboard.port)")
	rootCmd.AddCommand(daemonCmd)
}
