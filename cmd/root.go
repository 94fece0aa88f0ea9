package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/wildlife-reid/cmd/backbone"
	"github.com/tphakala/wildlife-reid/cmd/collections"
	"github.com/tphakala/wildlife-reid/cmd/count"
	"github.com/tphakala/wildlife-reid/cmd/images"
	"github.com/tphakala/wildlife-reid/cmd/predict"
	"github.com/tphakala/wildlife-reid/cmd/retrain"
	"github.com/tphakala/wildlife-reid/cmd/serve"
	"github.com/tphakala/wildlife-reid/cmd/version"
	"github.com/tphakala/wildlife-reid/cmd/worker"
	"github.com/tphakala/wildlife-reid/internal/buildinfo"
	"github.com/tphakala/wildlife-reid/internal/conf"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/telemetry"
)

// RootCommand creates and returns the root command. settings is filled from the
// configuration file, environment and flags before any subcommand runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "reid",
		Short:         "Wildlife re-identification",
		Long:          `Detect animals in camera trap photos, identify known individuals and retrain per-species classifiers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configPath); err != nil {
		logger.Global().Module("main").Warn("binding global flags failed", logger.Error(err))
	}

	versionCmd := version.Command(build)
	subcommands := []*cobra.Command{
		serve.Command(settings, build),
		worker.Command(settings, build),
		predict.Command(settings, build),
		count.Command(settings, build),
		collections.Command(settings, build),
		images.Command(settings, build),
		retrain.Command(settings, build),
		backbone.Command(settings, build),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings, build, configPath)
	}

	return rootCmd
}

// initialize loads settings and sets up logging and telemetry
func initialize(settings *conf.Settings, build *buildinfo.Context, configPath string) error {
	if configPath != "" {
		conf.SetConfigFile(configPath)
	}
	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	*settings = *loaded

	if err := setupLogging(settings); err != nil {
		return err
	}

	flush, err := telemetry.InitSentry(&settings.Telemetry.Sentry, *build)
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	cobra.OnFinalize(flush)

	logger.Global().Module("main").Debug("settings loaded",
		logger.String("config", viper.ConfigFileUsed()),
		logger.String("version", build.GetVersion()))
	return nil
}

// setupLogging installs the global logger described by settings
func setupLogging(settings *conf.Settings) error {
	cfg := settings.Main.Log
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	logger.SetGlobal(cl)
	cobra.OnFinalize(func() { _ = cl.Close() })
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configPath *string) error {
	rootCmd.PersistentFlags().StringVarP(configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
