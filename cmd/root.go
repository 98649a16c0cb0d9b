package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/biosig-go/cmd/acquire"
	"github.com/tphakala/biosig-go/cmd/devices"
	"github.com/tphakala/biosig-go/cmd/export"
	"github.com/tphakala/biosig-go/cmd/inspect"
	"github.com/tphakala/biosig-go/cmd/version"
	"github.com/tphakala/biosig-go/internal/buildinfo"
	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

// ConfigFlag names the config file flag. main reads it before the command
// tree exists; the root command declares it for help and parsing.
const ConfigFlag = "config"

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "biosig",
		Short:        "Multi-channel biosignal acquisition",
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	acquireCmd := acquire.Command(settings)
	devicesCmd := devices.Command()
	inspectCmd := inspect.Command()
	exportCmd := export.Command(settings)
	versionCmd := version.Command()

	rootCmd.AddCommand(acquireCmd, devicesCmd, inspectCmd, exportCmd, versionCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Version output needs no logging or telemetry
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize validates the flag-adjusted settings and sets up logging and
// error telemetry before any subcommand runs.
func initialize(settings *conf.Settings) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	logCfg := settings.Logging
	if settings.Debug {
		logCfg.DefaultLevel = "debug"
		if logCfg.Console != nil {
			console := *logCfg.Console
			console.Level = "debug"
			logCfg.Console = &console
		}
	}
	central, err := logger.NewCentralLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, buildinfo.Get().Release()); err != nil {
			// Telemetry is optional, acquisition proceeds without it
			logger.Global().Module("main").Warn("sentry disabled", logger.Error(err))
		}
	}

	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	var configFile string
	rootCmd.PersistentFlags().StringVarP(&configFile, ConfigFlag, "c", "", "Path to config file (default: search config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Main.Name, "name", viper.GetString("main.name"), "Node name used in topics and notifications")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("main.name", rootCmd.PersistentFlags().Lookup("name")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
