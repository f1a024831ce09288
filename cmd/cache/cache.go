package cache

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform/memplatform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/blobcache"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
)

// Stats is the combined view of both persistent caches
type Stats struct {
	Blobs              blobcache.Stats `json:"blobs"`
	PersistedWaveforms int64           `json:"persisted_waveforms"`
}

// Command creates the cache command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persistent media and waveform caches",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print cache usage as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(settings, func(core *audiocore.Core) error {
				ctx := cmd.Context()
				return printJSON(cmd.OutOrStdout(), Stats{
					Blobs:              core.Blobs.Stats(ctx),
					PersistedWaveforms: core.Waveforms.Cache().Persisted(ctx),
				})
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached media file and waveform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(settings, func(core *audiocore.Core) error {
				ctx := cmd.Context()
				if err := core.Blobs.Clear(ctx); err != nil {
					return err
				}
				if err := core.Waveforms.Cache().Clear(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "caches cleared")
				return err
			})
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func withCore(settings *conf.Settings, fn func(*audiocore.Core) error) error {
	core, err := audiocore.New(settings, memplatform.New())
	if err != nil {
		return err
	}
	if err := fn(core); err != nil {
		_ = core.Close()
		return err
	}
	return core.Close()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
