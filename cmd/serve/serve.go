package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/api"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform/memplatform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

const healthInterval = 30 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audio core with its HTTP diagnostics surface",
		Long: "Start the audio core on the headless platform and serve health, " +
			"cache, waveform and metrics endpoints until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, v); err != nil {
		panic(fmt.Sprintf("error setting up serve flags: %v", err))
	}
	return cmd
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) error {
	cmd.Flags().String("listen", "", "Listen address of the HTTP server")
	cmd.Flags().Int("workers", 0, "Waveform workers (0 = CPU count, negative = inline)")
	if err := v.BindPFlag("server.listen", cmd.Flags().Lookup("listen")); err != nil {
		return err
	}
	return v.BindPFlag("waveform.workers", cmd.Flags().Lookup("workers"))
}

func run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")

	core, err := audiocore.New(settings, memplatform.New())
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			log.Warn("closing audio core failed", logger.Error(err))
		}
	}()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		core.Health.Run(monitorCtx, healthInterval)
	}()
	defer func() {
		stopMonitor()
		<-monitorDone
	}()

	if !settings.Server.Enabled {
		log.Info("HTTP server disabled, running until interrupted")
		<-ctx.Done()
		return nil
	}

	srv, err := api.New(core)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	return srv.Shutdown(context.Background())
}
