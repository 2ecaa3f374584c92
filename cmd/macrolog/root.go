package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/macrolog/macrolog/internal/config"
	"github.com/macrolog/macrolog/internal/ui"
)

// skipConfig marks commands that must run without a valid config.
const skipConfig = "skip-config"

var (
	flagConfigPath string
	flagVerbose    bool
	flagNoColor    bool

	// loader and settings are set before any command runs.
	loader   *config.Loader
	settings *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "macrolog",
	Short: "Offline-first food and macro log",
	Long: `Log food entries and track daily macros against your macro service.

Entries added while the service is unreachable are kept in a local cache,
shown as pending, and sent automatically by 'macrolog sync' or the
background daemon once the service is back.

Configuration is read from $XDG_CONFIG_HOME/macrolog/config.toml and
MACROLOG_* environment variables. Run 'macrolog config init' to create it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.ConfigureColor(flagNoColor)

		logger := log.New(io.Discard, "", 0)
		if flagVerbose {
			logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
		}
		loader = config.NewLoader(flagConfigPath, logger)
		v := loader.Viper()
		for key, name := range map[string]string{
			"server.url":    "server",
			"cache.backend": "cache-backend",
			"timezone":      "timezone",
		} {
			if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}

		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		settings = cfg
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "entries", Title: "Entries:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file (default $XDG_CONFIG_HOME/macrolog/config.toml)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "also write logs to stderr")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable colored output")
	pf.String("server", "", "macro service URL (overrides server.url)")
	pf.String("cache-backend", "", "cache backend: auto, sqlite, file, redis, memory")
	pf.String("timezone", "", "time zone that decides which day is today")
}
