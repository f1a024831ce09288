package httpclient

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
)

func TestNew(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		client := New(nil)
		t.Cleanup(client.Close)

		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
		assert.Equal(t, DefaultMaxBodyBytes, client.maxBodyBytes)
	})

	t.Run("custom config", func(t *testing.T) {
		client := newTestClientWithConfig(t, &Config{
			DefaultTimeout: 5 * time.Second,
			UserAgent:      "TestAgent/1.0",
			MaxBodyBytes:   1024,
		})

		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "TestAgent/1.0", client.userAgent)
		assert.Equal(t, int64(1024), client.maxBodyBytes)
	})
}

func TestFetchReturnsBody(t *testing.T) {
	var receivedUA string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("RIFF-audio"))
	})
	client := newTestClientWithConfig(t, &Config{UserAgent: "CustomAgent/2.0"})

	body, err := client.Fetch(t.Context(), server.URL+"/a.wav")
	require.NoError(t, err)
	assert.Equal(t, "RIFF-audio", string(body))
	assert.Equal(t, "CustomAgent/2.0", receivedUA)
}

func TestFetchStatusError(t *testing.T) {
	client := newTestClientWithConfig(t, nil)
	httpmock.ActivateNonDefault(client.StdClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder("GET", "https://cdn.example.com/missing.mp3",
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	_, err := client.Fetch(t.Context(), "https://cdn.example.com/missing.mp3")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestFetchNetworkError(t *testing.T) {
	client := newTestClientWithConfig(t, nil)
	httpmock.ActivateNonDefault(client.StdClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder("GET", "https://cdn.example.com/a.mp3",
		httpmock.NewErrorResponder(context.DeadlineExceeded))

	_, err := client.Fetch(t.Context(), "https://cdn.example.com/a.mp3")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestFetchBodyLimit(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		// Chunked response hides the length until the body is read
		w.Header().Set("Transfer-Encoding", "chunked")
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	client := newTestClientWithConfig(t, &Config{MaxBodyBytes: 16})

	_, err := client.Fetch(t.Context(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestFetchDeclaredLengthLimit(t *testing.T) {
	client := newTestClientWithConfig(t, &Config{MaxBodyBytes: 4})
	httpmock.ActivateNonDefault(client.StdClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder("GET", "https://cdn.example.com/big.mp3",
		httpmock.NewBytesResponder(http.StatusOK, []byte("0123456789")))

	_, err := client.Fetch(t.Context(), "https://cdn.example.com/big.mp3")
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestFetchHonoursContext(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClientWithConfig(t, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Fetch(ctx, server.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDefaultTimeoutApplied(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 30 * time.Millisecond})

	_, err := client.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestDoRejectsNilRequest(t *testing.T) {
	client := newTestClientWithConfig(t, nil)
	_, cancel, err := client.Do(t.Context(), nil)
	defer cancel()
	assert.Error(t, err)
}
