// Package telemetry initializes optional Sentry error reporting.
//
// Reporting is opt-in through telemetry.enabled. Once initialized, every
// error built through internal/errors is forwarded with media URLs and
// credentials scrubbed, and events leave the process without user, host or
// device details.
package telemetry

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/buildinfo"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

var (
	mu          sync.Mutex
	initialized bool
)

// Initialize configures Sentry from settings. It is a no-op when telemetry
// is disabled. transport may be nil; tests pass a MockTransport.
func Initialize(settings conf.TelemetrySettings, transport sentry.Transport) error {
	mu.Lock()
	defer mu.Unlock()

	log := logger.Global().Module("telemetry")
	if !settings.Enabled {
		log.Debug("telemetry disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Transport:        transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "",
		Release:          buildinfo.Release(),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized = true
	log.Info("error reporting enabled", logger.String("environment", settings.Environment))
	return nil
}

// Flush waits up to timeout for queued events and detaches the reporter
func Flush(timeout time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return
	}
	sentry.Flush(timeout)
	errors.SetTelemetryReporter(nil)
	initialized = false
}

// applyPrivacyFilters strips identifying data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	if event.Request != nil {
		event.Request = nil
	}
	return event
}
