package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWebhookDispatch(t *testing.T) {
	var got Alert
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, testLogger())
	sink.Dispatch(context.Background(), Alert{
		Action:    "security_blocked",
		ActorID:   "7",
		Score:     12,
		Threshold: 10,
		Blocked:   true,
		Breakdown: map[string]int{"status_code": 5, "admin_path": 5, "user_agent_missing": 2},
	})

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "security_blocked", got.Action)
	assert.Equal(t, "7", got.ActorID)
	assert.Equal(t, 12, got.Score)
	assert.True(t, got.Blocked)
	assert.Equal(t, 5, got.Breakdown["admin_path"])
}

func TestWebhookDeliveryFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	srv.Close() // connection refused from here on

	sink := NewWebhookSink(srv.URL, testLogger())
	// Must not panic or return anything; failure is a log line.
	sink.Dispatch(context.Background(), Alert{Action: "security_blocked"})
}

func TestLogSinkDispatch(t *testing.T) {
	// Smoke test: the fallback sink only logs.
	LogSink{Logger: testLogger()}.Dispatch(context.Background(), Alert{Action: "security_blocked", Score: 12})
}
