package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/beatguard/cmd/configinit"
	"github.com/tphakala/beatguard/cmd/monitor"
	"github.com/tphakala/beatguard/cmd/poll"
	"github.com/tphakala/beatguard/cmd/reconcile"
	"github.com/tphakala/beatguard/cmd/register"
	"github.com/tphakala/beatguard/cmd/serve"
	"github.com/tphakala/beatguard/cmd/summary"
	"github.com/tphakala/beatguard/internal/buildinfo"
	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/runtime"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	rt := runtime.New(build)
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "beatguard",
		Short:         "Audio fingerprint monitoring for catalog assets",
		Version:       build.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding flags: %v", err))
	}

	initCmd := configinit.Command()
	rootCmd.AddCommand(
		serve.Command(rt),
		register.Command(rt),
		monitor.Command(rt),
		poll.Command(rt),
		reconcile.Command(rt),
		summary.Command(rt),
		initCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config init writes the file the other commands load
		if cmd == initCmd {
			return nil
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		return initialize(rt)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if rt.Settings != nil && rt.Settings.Telemetry.Enabled {
			errors.FlushSentry(2 * time.Second)
		}
		if rt.Logger != nil {
			_ = rt.Logger.Close()
		}
	}

	return rootCmd
}

// initialize loads the configuration and sets up logging and error
// reporting before any subcommand runs.
func initialize(rt *runtime.Runtime) error {
	settings, err := conf.Load()
	if err != nil {
		return err
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.DSN, rt.Build.Release()); err != nil {
			cl.Module("main").Warn("error reporting disabled", logger.Error(err))
		}
	}

	rt.Settings = settings
	rt.Logger = cl
	return nil
}
