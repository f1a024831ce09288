package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

// newTestClientWithConfig creates a Client with a discard logger and registers cleanup.
func newTestClientWithConfig(t *testing.T, cfg *Config) *Client {
	t.Helper()
	if cfg == nil {
		def := DefaultConfig()
		cfg = &def
	}
	cfg.Logger = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	client := New(cfg)
	t.Cleanup(func() { client.Close() })
	return client
}

// newTestServer creates a test HTTP server and registers cleanup.
func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(func() { server.Close() })
	return server
}
