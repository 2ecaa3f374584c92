package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/loadtest"
	"github.com/macrolog/macrolog/internal/remote/fakebackend"
	"github.com/macrolog/macrolog/internal/ui"
)

var devCmd = &cobra.Command{
	Use:    "dev",
	Short:  "Development helpers",
	Hidden: true,
}

var devServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an in-memory macro service for local testing",
	Long: `Serve the entry REST API from memory. Data is lost on exit.

Point macrolog at it with --server http://127.0.0.1:PORT.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		token, _ := cmd.Flags().GetString("token")

		opts := []fakebackend.Option{}
		if token != "" {
			opts = append(opts, fakebackend.WithToken(token))
		}
		if flagVerbose {
			opts = append(opts, fakebackend.WithLogger(log.New(os.Stderr, "[dev] ", log.LstdFlags)))
		}
		backend := fakebackend.New(opts...)

		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		srv := &http.Server{
			Handler:           backend.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()
		fmt.Fprintf(cmd.OutOrStdout(), "%s Serving on http://%s (Ctrl+C to stop)\n", ui.RenderAccent("🧪"), ln.Addr())

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var devLoadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Stress the sync engine against an unreliable in-memory service",
	Long: `Add entries from many concurrent loggers while a share of requests fail,
then drain the pending queue and check that every entry reached the service
exactly once.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		opts := loadtest.DefaultOptions()
		opts.Clients, _ = flags.GetInt("clients")
		opts.EntriesPerClient, _ = flags.GetInt("entries")
		opts.FailRate, _ = flags.GetFloat64("fail-rate")
		opts.LostRate, _ = flags.GetFloat64("lost-rate")
		opts.Seed, _ = flags.GetInt64("seed")
		if flagVerbose {
			opts.Logger = log.New(os.Stderr, "[loadtest] ", log.LstdFlags)
		}

		report, err := loadtest.Run(cmd.Context(), opts)
		out := cmd.OutOrStdout()
		if report != nil {
			report.Write(out)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Every entry stored exactly once\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	d := loadtest.DefaultOptions()
	lf := devLoadtestCmd.Flags()
	lf.Int("clients", d.Clients, "concurrent loggers")
	lf.Int("entries", d.EntriesPerClient, "entries per logger")
	lf.Float64("fail-rate", d.FailRate, "share of requests rejected")
	lf.Float64("lost-rate", d.LostRate, "share of creates applied but answered with an error")
	lf.Int64("seed", d.Seed, "failure pattern seed")
	devCmd.AddCommand(devLoadtestCmd)

	devServeCmd.Flags().Int("port", 8000, "port to listen on")
	devServeCmd.Flags().String("token", "", "require this bearer token")
	devCmd.AddCommand(devServeCmd)
	rootCmd.AddCommand(devCmd)
}
