package waveform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform/memplatform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	wf "github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/waveform"
)

// Command creates the waveform command.
func Command(settings *conf.Settings, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waveform <file-or-url>",
		Short: "Print the waveform peaks of an audio file or URL",
		Long: "Decode a local WAV or FLAC file, or fetch a URL through the media cache, " +
			"and print its normalized peak summary as JSON.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), settings, args[0])
		},
	}

	cmd.Flags().Int("samples", 0, "Number of peaks (default from waveform.samples)")
	if err := v.BindPFlag("waveform.samples", cmd.Flags().Lookup("samples")); err != nil {
		panic(fmt.Sprintf("error setting up waveform flags: %v", err))
	}
	return cmd
}

func run(ctx context.Context, out io.Writer, settings *conf.Settings, target string) error {
	var res wf.Result

	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		data, err := os.ReadFile(target)
		if err != nil {
			return err
		}
		peaks, err := wf.Summarize(data, settings.Waveform.Samples)
		if err != nil {
			return err
		}
		res = wf.Result{URL: target, Peaks: peaks, Source: wf.SourceInline}
	} else {
		core, err := audiocore.New(settings, memplatform.New())
		if err != nil {
			return err
		}
		defer func() {
			if err := core.Close(); err != nil {
				logger.Global().Module("waveform").Warn("closing audio core failed", logger.Error(err))
			}
		}()

		res, err = core.Waveforms.Generate(ctx, target)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
