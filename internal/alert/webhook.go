// Package alert delivers security alerts to external sinks. Delivery is
// best-effort: failures are logged and never propagated to the request
// path or the CLI operations that trigger them.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Alert is the structured payload dispatched on a security event.
type Alert struct {
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Score     int            `json:"score"`
	Threshold int            `json:"threshold"`
	Blocked   bool           `json:"blocked"`
	Exempt    bool           `json:"developer_exempt,omitempty"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Sink receives alerts.
type Sink interface {
	Dispatch(ctx context.Context, a Alert)
}

// WebhookSink posts alerts as JSON to a configured endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookSink creates a sink for the given URL.
func NewWebhookSink(url string, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Dispatch sends the alert. Errors are logged and swallowed.
func (s *WebhookSink) Dispatch(ctx context.Context, a Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		s.logger.Error("alert marshal failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("alert request failed", "url", s.url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("alert delivery failed", "url", s.url, "error", err)
		return
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Warn("alert endpoint returned error", "url", s.url, "status", resp.StatusCode)
	}
}

// LogSink writes alerts to the logger. Used when no webhook is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Dispatch logs the alert at warn level.
func (s LogSink) Dispatch(_ context.Context, a Alert) {
	s.Logger.Warn("security alert",
		"action", a.Action,
		"actor_id", a.ActorID,
		"ip", a.IP,
		"score", a.Score,
		"threshold", a.Threshold,
		"blocked", a.Blocked,
		"developer_exempt", a.Exempt,
	)
}
