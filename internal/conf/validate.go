// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
)

// validFFTSize mirrors the analyser node's accepted range: powers of two 32..32768
func validFFTSize(n int) bool {
	return n >= 32 && n <= 32768 && n&(n-1) == 0
}

// ValidateSettings validates the entire Settings struct and returns all problems at once
func ValidateSettings(settings *Settings) error {
	var problems []string

	problems = append(problems, validateAudioSettings(&settings.Audio)...)
	problems = append(problems, validateCacheSettings(&settings.Cache)...)
	problems = append(problems, validateWaveformSettings(&settings.Waveform)...)

	if settings.Server.Enabled {
		if _, _, err := net.SplitHostPort(settings.Server.Listen); err != nil {
			problems = append(problems, fmt.Sprintf("server.listen %q is not host:port", settings.Server.Listen))
		}
	}
	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		problems = append(problems, "telemetry.dsn is required when telemetry is enabled")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))).
		Component("conf").
		Category(errors.CategoryValidation).
		Context("problem_count", len(problems)).
		Build()
}

func validateAudioSettings(a *AudioSettings) []string {
	var problems []string
	if a.Lock.Timeout <= 0 {
		problems = append(problems, "audio.lock.timeout must be positive")
	}
	if !validFFTSize(a.Analyser.FFTSize) {
		problems = append(problems, fmt.Sprintf("audio.analyser.fftsize %d must be a power of two between 32 and 32768", a.Analyser.FFTSize))
	}
	if a.Analyser.Smoothing < 0 || a.Analyser.Smoothing > 1 {
		problems = append(problems, "audio.analyser.smoothing must be within [0, 1]")
	}
	if a.Pool.Capacity < 1 {
		problems = append(problems, "audio.pool.capacity must be at least 1")
	}
	return problems
}

func validateCacheSettings(c *CacheSettings) []string {
	var problems []string
	if c.Memory.MaxBytes <= 0 {
		problems = append(problems, "cache.memory.maxbytes must be positive")
	}
	if c.MaxItemBytes <= 0 {
		problems = append(problems, "cache.maxitembytes must be positive")
	}
	if c.Prefetch.Lookahead < 0 {
		problems = append(problems, "cache.prefetch.lookahead cannot be negative")
	}
	if c.Prefetch.RateLimit <= 0 {
		problems = append(problems, "cache.prefetch.ratelimit must be positive")
	}

	p := &c.Persistent
	if !p.Enabled {
		return problems
	}
	switch p.Driver {
	case "sqlite":
		if p.Path == "" {
			problems = append(problems, "cache.persistent.path is required for sqlite")
		}
	case "mysql":
		if p.DSN == "" {
			problems = append(problems, "cache.persistent.dsn is required for mysql")
		}
	default:
		problems = append(problems, fmt.Sprintf("cache.persistent.driver %q is not sqlite or mysql", p.Driver))
	}
	if p.MaxEntries < 1 {
		problems = append(problems, "cache.persistent.maxentries must be at least 1")
	}
	if p.MaxBytes <= 0 {
		problems = append(problems, "cache.persistent.maxbytes must be positive")
	}
	if p.MaxAge <= 0 {
		problems = append(problems, "cache.persistent.maxage must be positive")
	}
	return problems
}

func validateWaveformSettings(w *WaveformSettings) []string {
	var problems []string
	if w.MaxWorkers < 1 {
		problems = append(problems, "waveform.maxworkers must be at least 1")
	}
	if w.Samples < 1 {
		problems = append(problems, "waveform.samples must be at least 1")
	}
	if w.TaskTimeout <= 0 {
		problems = append(problems, "waveform.tasktimeout must be positive")
	}
	return problems
}
