package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/conf"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
)

func TestDisabledIsNoop(t *testing.T) {
	transport := NewMockTransport()
	require.NoError(t, Initialize(conf.TelemetrySettings{Enabled: false}, transport))

	errors.New(fmt.Errorf("not reported")).Component("test").Build()
	assert.Empty(t, transport.Events())
}

func TestBuiltErrorsAreReportedScrubbed(t *testing.T) {
	transport := NewMockTransport()
	require.NoError(t, Initialize(conf.TelemetrySettings{Enabled: true, Environment: "test"}, transport))
	t.Cleanup(func() { Flush(time.Second) })

	errors.New(fmt.Errorf("fetch https://cdn.example.com/a.mp3?token=secret failed")).
		Component("blobcache").
		Category(errors.CategoryNetwork).
		Build()
	sentry.Flush(time.Second)

	events := transport.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotContains(t, ev.Message, "secret")
	assert.Equal(t, "blobcache", ev.Tags["component"])
	assert.Equal(t, sentry.LevelWarning, ev.Level)
	assert.Empty(t, ev.ServerName)
	assert.Equal(t, "test", ev.Environment)
}

func TestPrivacyFilters(t *testing.T) {
	ev := &sentry.Event{
		ServerName: "host-1",
		User:       sentry.User{ID: "u1"},
		Contexts:   map[string]sentry.Context{"os": {"name": "linux"}, "app": {"x": 1}},
		Tags:       map[string]string{"hostname": "h", "component": "graph"},
	}

	out := applyPrivacyFilters(ev)
	assert.Empty(t, out.ServerName)
	assert.True(t, out.User.IsEmpty())
	assert.NotContains(t, out.Contexts, "os")
	assert.Contains(t, out.Contexts, "app")
	assert.NotContains(t, out.Tags, "hostname")
	assert.Equal(t, "graph", out.Tags["component"])
}
