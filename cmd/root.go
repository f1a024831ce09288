// Package cmd wires the command line interface.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/cmd/cache"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/cmd/config"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/cmd/serve"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/cmd/waveform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/buildinfo"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	v := conf.NewViper()
	settings := conf.Defaults()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "audiocore",
		Short:         "Audio resource core: playback graph, media cache and waveform workers",
		Version:       buildinfo.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("binding debug flag: %v", err))
	}

	configCmd := config.Command()
	rootCmd.AddCommand(
		serve.Command(settings, v),
		waveform.Command(settings, v),
		cache.Command(settings),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config init must work without a readable config
		if cmd.Parent() == configCmd {
			return nil
		}
		return initialize(v, configFile, settings)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Flush(2 * time.Second)
		_ = logger.Global().Flush()
	}

	return rootCmd
}

// initialize loads settings into the shared struct, then sets up logging and
// telemetry
func initialize(v *viper.Viper, configFile string, settings *conf.Settings) error {
	loaded, err := conf.Load(v, configFile)
	if err != nil {
		return err
	}
	*settings = *loaded

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobal(cl)

	return telemetry.Initialize(settings.Telemetry, nil)
}
