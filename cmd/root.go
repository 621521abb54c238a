package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floraid/floraid-go/cmd/diagnose"
	"github.com/floraid/floraid-go/cmd/identify"
	"github.com/floraid/floraid-go/cmd/support"
	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "floraid",
		Short:         "FloraID CLI",
		Long:          "Plant identification and health diagnosis from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Init()

		settings, err := conf.Load(configPath)
		if err != nil {
			return err
		}

		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			settings.Debug = true
		}
		logging.SetLevel(logLevel(settings))

		return nil
	}

	rootCmd.AddCommand(
		identify.Command(),
		diagnose.Command(),
		support.Command(),
	)

	return rootCmd
}

// logLevel maps the configured level name to a slog level. Debug mode
// overrides the configured level.
func logLevel(settings *conf.Settings) slog.Level {
	if settings.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(settings.Main.LogLevel) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
