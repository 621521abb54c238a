package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestNew(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		cfg := DefaultConfig()
		client := New(&cfg)

		require.NotNil(t, client, "expected non-nil client")
		assert.Equal(t, DefaultTimeout, client.defaultTimeout, "expected default timeout")
		assert.Equal(t, defaultUserAgent, client.userAgent, "expected default user agent")
	})

	t.Run("custom config", func(t *testing.T) {
		cfg := Config{
			DefaultTimeout: 5 * time.Second,
			UserAgent:      "TestAgent/1.0",
		}
		client := New(&cfg)

		assert.Equal(t, 5*time.Second, client.defaultTimeout, "expected timeout 5s")
		assert.Equal(t, "TestAgent/1.0", client.userAgent, "expected user agent 'TestAgent/1.0'")
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		client := New(nil)

		assert.Equal(t, DefaultTimeout, client.defaultTimeout, "expected default timeout")
		assert.EqualValues(t, DefaultMaxResponseBytes, client.maxResponseBytes, "expected default size cap")
	})
}

func TestDo_BasicRequest(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method, "expected GET method")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	client := New(nil)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err, "request failed")

	body, err := client.ReadBody(resp)
	require.NoError(t, err, "failed to read body")
	assert.Equal(t, "success", string(body), "expected body 'success'")
}

func TestDo_UserAgent(t *testing.T) {
	receivedUA := ""
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	})

	cfg := Config{UserAgent: "CustomAgent/2.0"}
	client := New(&cfg)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	_, _ = client.ReadBody(resp)

	assert.Equal(t, "CustomAgent/2.0", receivedUA, "user agent should be injected")
}

func TestDo_ContextCancellation(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	})

	client := New(nil)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL)
	require.Error(t, err, "expected context deadline error")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadBody_SizeCap(t *testing.T) {
	big := strings.Repeat("x", 1024)
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(big))
	})

	cfg := Config{MaxResponseBytes: 512}
	client := New(&cfg)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)

	_, err = client.ReadBody(resp)
	require.Error(t, err, "oversized body should be rejected")
	assert.Contains(t, err.Error(), "byte limit")
}

func TestDecodeJSON(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Monstera deliciosa","score":0.92}`))
	})

	client := New(nil)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)

	var out struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	require.NoError(t, client.DecodeJSON(resp, &out), "decode failed")
	assert.Equal(t, "Monstera deliciosa", out.Name)
	assert.InDelta(t, 0.92, out.Score, 1e-9)
}

func TestHooks(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := New(nil)

	var beforeCalled, afterCalled bool
	client.SetBeforeRequestHook(func(*http.Request) { beforeCalled = true })
	client.SetAfterResponseHook(func(*http.Request, *http.Response, error) { afterCalled = true })

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	_, _ = client.ReadBody(resp)

	assert.True(t, beforeCalled, "before hook should run")
	assert.True(t, afterCalled, "after hook should run")
}
