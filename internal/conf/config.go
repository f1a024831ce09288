// Package conf loads and validates settings for the audio resource core.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// AIMV_CACHE_MEMORY_MAXBYTES=1048576.
const EnvPrefix = "AIMV"

// Settings is the root configuration structure
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Audio     AudioSettings        `yaml:"audio" mapstructure:"audio"`
	Cache     CacheSettings        `yaml:"cache" mapstructure:"cache"`
	Waveform  WaveformSettings     `yaml:"waveform" mapstructure:"waveform"`
	HTTP      HTTPSettings         `yaml:"http" mapstructure:"http"`
	Server    ServerSettings       `yaml:"server" mapstructure:"server"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
}

// AudioSettings configures the processing graph and playback elements
type AudioSettings struct {
	Lock struct {
		Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"` // max wait for the graph lock
	} `yaml:"lock" mapstructure:"lock"`
	Analyser struct {
		FFTSize   int     `yaml:"fftsize" mapstructure:"fftsize"`
		Smoothing float64 `yaml:"smoothing" mapstructure:"smoothing"`
	} `yaml:"analyser" mapstructure:"analyser"`
	Pool struct {
		Capacity int `yaml:"capacity" mapstructure:"capacity"` // platform ceiling on playback elements
	} `yaml:"pool" mapstructure:"pool"`
}

// CacheSettings configures the two-tier blob cache
type CacheSettings struct {
	MaxItemBytes int64 `yaml:"maxitembytes" mapstructure:"maxitembytes"`
	Memory       struct {
		MaxBytes int64 `yaml:"maxbytes" mapstructure:"maxbytes"`
	} `yaml:"memory" mapstructure:"memory"`
	Persistent PersistentSettings `yaml:"persistent" mapstructure:"persistent"`
	Prefetch   struct {
		Lookahead int     `yaml:"lookahead" mapstructure:"lookahead"`
		RateLimit float64 `yaml:"ratelimit" mapstructure:"ratelimit"` // fetches per second
	} `yaml:"prefetch" mapstructure:"prefetch"`
}

// PersistentSettings configures the on-disk tier
type PersistentSettings struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Driver     string        `yaml:"driver" mapstructure:"driver"` // sqlite or mysql
	Path       string        `yaml:"path" mapstructure:"path"`     // sqlite file
	DSN        string        `yaml:"dsn" mapstructure:"dsn"`       // mysql dsn
	MaxEntries int           `yaml:"maxentries" mapstructure:"maxentries"`
	MaxBytes   int64         `yaml:"maxbytes" mapstructure:"maxbytes"`
	MaxAge     time.Duration `yaml:"maxage" mapstructure:"maxage"`
}

// WaveformSettings configures the waveform worker pool
type WaveformSettings struct {
	Workers     int           `yaml:"workers" mapstructure:"workers"` // 0 = auto, negative = inline only
	MaxWorkers  int           `yaml:"maxworkers" mapstructure:"maxworkers"`
	Samples     int           `yaml:"samples" mapstructure:"samples"` // peak array length
	TaskTimeout time.Duration `yaml:"tasktimeout" mapstructure:"tasktimeout"`
	MemoryTTL   time.Duration `yaml:"memoryttl" mapstructure:"memoryttl"`
	Store       struct {
		Path string `yaml:"path" mapstructure:"path"`
	} `yaml:"store" mapstructure:"store"`
}

// HTTPSettings configures media fetching
type HTTPSettings struct {
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `yaml:"useragent" mapstructure:"useragent"`
}

// ServerSettings configures the diagnostics HTTP server
type ServerSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// TelemetrySettings configures optional Sentry error reporting
type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// NewViper returns a viper instance with defaults and env overrides applied.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaultConfig(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile (if non-empty) into v and returns validated settings.
// Without a file, the search path is the working directory and the user config dir.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if v == nil {
		v = NewViper()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "aimusicverse"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		// No config file anywhere: run on defaults
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Defaults returns validated settings built purely from defaults.
func Defaults() *Settings {
	settings := &Settings{}
	if err := NewViper().Unmarshal(settings); err != nil {
		panic(fmt.Sprintf("default settings do not unmarshal: %v", err))
	}
	return settings
}

// WriteDefault writes the default configuration as YAML to path.
// An existing file is left untouched and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New(fmt.Errorf("config file %s already exists", path)).
			Component("conf").
			Category(errors.CategoryConflict).
			Build()
	}

	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("error encoding default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating directories for config file: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(fmt.Errorf("error writing default config file: %w", err)).
			Component("conf").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}
