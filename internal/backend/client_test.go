package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Notify(t *testing.T) {
	var received notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/notifications", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewNotifier(Config{Enabled: true, BaseURL: server.URL}, zerolog.Nop())
	ok := n.Notify(context.Background(), "req-123", StatusCompleted, map[string]int{"papers_analyzed": 4})
	assert.True(t, ok)

	assert.Equal(t, "req-123", received.RequestID)
	assert.Equal(t, "completed", received.Status)
	assert.Equal(t, "ai-service", received.Service)
	assert.NotNil(t, received.Data)
}

func TestNotifier_DisabledSkipsDelivery(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	n := NewNotifier(Config{Enabled: false, BaseURL: server.URL}, zerolog.Nop())
	ok := n.Notify(context.Background(), "req-123", StatusCompleted, nil)
	assert.False(t, ok)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNotifier_BackendErrorSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	n := NewNotifier(Config{Enabled: true, BaseURL: server.URL}, zerolog.Nop())
	ok := n.Notify(context.Background(), "req-123", StatusFailed, nil)
	assert.False(t, ok)
}

func TestNotifier_ConnectionFailureSwallowed(t *testing.T) {
	n := NewNotifier(Config{Enabled: true, BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, zerolog.Nop())
	ok := n.Notify(context.Background(), "req-123", StatusPartial, nil)
	assert.False(t, ok)
}
