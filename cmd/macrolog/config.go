package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/macrolog/macrolog/internal/config"
	"github.com/macrolog/macrolog/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configuration file",
	Long: `Create the configuration file with default settings.

Example:
  macrolog config init --server https://macros.example.com --token s3cret`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		token, _ := cmd.Flags().GetString("token")
		server, _ := cmd.Flags().GetString("server")

		cfg := config.Default()
		cfg.Server.URL = server
		cfg.Server.Token = token
		if err := cfg.Validate(); err != nil {
			return err
		}

		path := loader.Path()
		if err := config.Write(path, cfg, force); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Wrote %s\n", ui.RenderPass("✓"), path)
		if server == "" {
			fmt.Fprintf(out, "   %s\n", ui.RenderWarn("Set server.url before logging entries"))
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration: defaults, then the config file, then
MACROLOG_* environment variables, then flags. Secrets are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg := settings.Redacted()

		out := cmd.OutOrStdout()
		switch format {
		case "", "toml":
			return toml.NewEncoder(out).Encode(cfg)
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		default:
			return fmt.Errorf("unknown format %q (want toml or yaml)", format)
		}
	},
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Print the configuration file path",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), loader.Path())
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().String("token", "", "API token for the service")
	configShowCmd.Flags().StringP("format", "o", "toml", "output format: toml or yaml")

	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
