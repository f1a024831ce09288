// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// ErrorHook is called for every built error while reporting is active
type ErrorHook func(ee *EnhancedError)

var (
	reporterMu     sync.RWMutex
	globalReporter TelemetryReporter
	errorHooks     []ErrorHook
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables it.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalReporter = reporter
	refreshReportingFlag()
}

// AddErrorHook registers a hook invoked for each reported error
func AddErrorHook(hook ErrorHook) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	errorHooks = append(errorHooks, hook)
	refreshReportingFlag()
}

// ClearErrorHooks removes all registered hooks
func ClearErrorHooks() {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	errorHooks = nil
	refreshReportingFlag()
}

// refreshReportingFlag must be called with reporterMu held
func refreshReportingFlag() {
	active := len(errorHooks) > 0 || (globalReporter != nil && globalReporter.IsEnabled())
	hasActiveReporting.Store(active)
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := globalReporter
	hooks := make([]ErrorHook, len(errorHooks))
	copy(hooks, errorHooks)
	reporterMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with URLs and tokens scrubbed
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	title := errorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetFingerprint([]string{title, ee.Component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = sentryLevel(ee.Category)
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func errorTitle(ee *EnhancedError) string {
	parts := []string{ee.Component, string(ee.Category)}
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, strings.ReplaceAll(op, "_", " "))
	}
	return strings.Join(parts, " ")
}

func sentryLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryPlatform, CategoryDatabase, CategoryConfiguration:
		return sentry.LevelError
	case CategoryTransient, CategoryNetwork, CategoryTimeout, CategoryLimit:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	queryRegex  = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	secretRegex = regexp.MustCompile(`(?i)(api[_-]?key|token|auth|signature)[=:]\S+`)
)

// scrubMessage removes query strings and credentials from messages
func scrubMessage(message string) string {
	scrubbed := queryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	return secretRegex.ReplaceAllString(scrubbed, "[REDACTED]")
}
