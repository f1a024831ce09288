// Package api serves the diagnostics, cache and waveform endpoints of the
// audio core over HTTP.
package api

import (
	"net"
	"time"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "1M"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // host:port

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // must cover a waveform task timeout
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit      string
	AllowedOrigins []string

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8090",
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		AllowedOrigins:  []string{"*"},
	}
}

// ConfigFromSettings derives the server configuration from settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}
	if settings.Server.Listen != "" {
		cfg.Listen = settings.Server.Listen
	}
	// a waveform request may wait for a full task timeout
	if t := settings.Waveform.TaskTimeout + 10*time.Second; t > cfg.WriteTimeout {
		cfg.WriteTimeout = t
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryValidation).
			Context("listen", c.Listen).
			Build()
	}
	if c.ShutdownTimeout <= 0 {
		return errors.ValidationError("shutdown timeout must be positive")
	}
	return nil
}
