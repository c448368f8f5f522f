package threat

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sealproof/sealproof/internal/alert"
	"github.com/sealproof/sealproof/internal/audit"
	"github.com/sealproof/sealproof/internal/config"
)

// maxPayloadCapture bounds how much of a request body is buffered for
// pattern matching and hashing. The rest streams through untouched.
const maxPayloadCapture = 64 * 1024

// cacheTimeout bounds every risk-store round-trip. A slow cache degrades
// to "no scoring this request", it never stalls the request pipeline.
const cacheTimeout = 500 * time.Millisecond

// UserLocker applies a user-level lock in the application's user store:
// blocked-until timestamp, session invalidation, security stamp rotation.
// Optional; without it user blocks exist only as cache flags.
type UserLocker interface {
	LockUser(ctx context.Context, userID string, until time.Time) error
}

// Middleware runs the threat scorer inline in the request path and writes
// every request into the audit chain.
type Middleware struct {
	cfg    config.ThreatConfig
	scorer *Scorer
	store  RiskStore
	writer *audit.Writer
	alerts alert.Sink
	locker UserLocker
	logger *slog.Logger
}

// NewMiddleware wires the scorer, risk store, audit writer and alert sink
// into a request middleware.
func NewMiddleware(cfg config.ThreatConfig, scorer *Scorer, store RiskStore, writer *audit.Writer, alerts alert.Sink, logger *slog.Logger) *Middleware {
	return &Middleware{
		cfg:    cfg,
		scorer: scorer,
		store:  store,
		writer: writer,
		alerts: alerts,
		logger: logger,
	}
}

// SetUserLocker registers the optional user store hook for user-level blocks.
func (m *Middleware) SetUserLocker(l UserLocker) {
	m.locker = l
}

// Wrap returns the handler with block enforcement and risk scoring around next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)

		actorID := r.Header.Get(m.cfg.ActorHeader)
		role := r.Header.Get(m.cfg.RoleHeader)
		ip := clientIP(r)

		// Enforcement of existing blocks happens before any scoring.
		if m.enforceBlock(w, r, requestID, actorID, role, ip) {
			return
		}

		payload, payloadBytes := m.capturePayload(r)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		durationMs := time.Since(start).Milliseconds()

		sig := RequestSignals{
			Method:       r.Method,
			Path:         r.URL.Path,
			Query:        r.URL.RawQuery,
			UserAgent:    r.UserAgent(),
			ForwardedFor: r.Header.Get("X-Forwarded-For"),
			StatusCode:   sw.status,
			PayloadBytes: payloadBytes,
			Payload:      payload,
			ActorID:      actorID,
			Role:         role,
			IP:           ip,
		}

		// The response has been written; scoring runs on its own context.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		eval := m.scorer.Evaluate(ctx, sig)
		requestsScored.Inc()
		for _, s := range eval.Signals {
			signalsRaised.WithLabelValues(s.Name).Inc()
		}

		m.recordRequest(r, sig, eval, requestID, durationMs, payload)

		if eval.ShouldAlert {
			m.dispatchAlert(sig, eval, requestID)
		}
		if eval.ShouldBlock && m.cfg.AutoBlock {
			m.applyBlock(ctx, actorID, ip)
		}
	})
}

// enforceBlock short-circuits requests from identities that are already
// blocked. A cache failure degrades to allowing the request through.
func (m *Middleware) enforceBlock(w http.ResponseWriter, r *http.Request, requestID, actorID, role, ip string) bool {
	ctx, cancel := context.WithTimeout(r.Context(), cacheTimeout)
	defer cancel()

	blocked := false
	if actorID != "" {
		b, err := m.store.IsBlockedUser(ctx, actorID)
		if err != nil {
			m.logger.Warn("block lookup unavailable, allowing request", "actor_id", actorID, "error", err)
			return false
		}
		blocked = b
	}
	if !blocked {
		b, err := m.store.IsBlockedIP(ctx, ip)
		if err != nil {
			m.logger.Warn("block lookup unavailable, allowing request", "ip", ip, "error", err)
			return false
		}
		blocked = b
	}
	if !blocked {
		return false
	}

	blocksEnforced.Inc()

	rec := m.baseRecord(r, requestID, actorID, role, ip)
	rec.Action = "security_block_enforced"
	rec.StatusCode = http.StatusForbidden
	rec.Context = mustJSON(map[string]any{"blocked": true, "enforced": true})
	m.appendRecord(rec)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"temporarily blocked"}`))
	return true
}

// capturePayload buffers up to maxPayloadCapture bytes of the body for
// matching/hashing and splices them back so the handler sees the full stream.
func (m *Middleware) capturePayload(r *http.Request) (string, int) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", 0
	}

	buf := make([]byte, maxPayloadCapture)
	n, _ := io.ReadFull(r.Body, buf)
	captured := buf[:n]
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(captured), r.Body), r.Body}

	size := n
	if r.ContentLength > int64(n) {
		size = int(r.ContentLength)
	}
	return string(captured), size
}

// recordRequest appends the audit record for this request, with the threat
// evaluation embedded in its context document.
func (m *Middleware) recordRequest(r *http.Request, sig RequestSignals, eval Evaluation, requestID string, durationMs int64, payload string) {
	rec := m.baseRecord(r, requestID, sig.ActorID, sig.Role, sig.IP)
	rec.StatusCode = sig.StatusCode
	rec.DurationMs = durationMs
	if payload != "" {
		sum := sha256.Sum256([]byte(payload))
		rec.RequestPayloadHash = hex.EncodeToString(sum[:])
	}

	rec.Action = "http_request"
	threatCtx := map[string]any{
		"points":          eval.Points,
		"total":           eval.Total,
		"burst_triggered": eval.BurstTriggered,
	}
	if len(eval.Signals) > 0 {
		threatCtx["signals"] = eval.Signals
	}
	if eval.Exempt && eval.ShouldAlert {
		threatCtx["developer_exempt"] = true
	}

	doc := map[string]any{"threat": threatCtx}
	if eval.ShouldBlock {
		rec.Action = "security_blocked"
		doc["blocked"] = true
	}
	rec.Context = mustJSON(doc)

	m.appendRecord(rec)
}

func (m *Middleware) baseRecord(r *http.Request, requestID, actorID, role, ip string) *audit.Record {
	rec := &audit.Record{
		UserID:    actorID,
		RoleName:  role,
		IPAddress: ip,
		URL:       r.URL.String(),
		Route:     r.URL.Path,
		Method:    r.Method,
		RequestID: requestID,
		SessionID: r.Header.Get("X-Session-ID"),
	}
	if ua := r.UserAgent(); ua != "" {
		sum := sha256.Sum256([]byte(ua))
		rec.UserAgentHash = hex.EncodeToString(sum[:])
	}
	return rec
}

// appendRecord writes to the audit chain on its own bounded context.
// A write failure is logged; it never affects the finished request.
func (m *Middleware) appendRecord(rec *audit.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.writer.Append(ctx, rec); err != nil {
		m.logger.Error("audit append failed", "action", rec.Action, "error", err)
	}
}

func (m *Middleware) dispatchAlert(sig RequestSignals, eval Evaluation, requestID string) {
	alertsDispatched.Inc()
	a := alert.Alert{
		Action:    "security_blocked",
		ActorID:   sig.ActorID,
		IP:        sig.IP,
		RequestID: requestID,
		Score:     eval.Total,
		Threshold: m.cfg.RiskThreshold,
		Blocked:   eval.ShouldBlock && m.cfg.AutoBlock,
		Exempt:    eval.Exempt,
		Breakdown: eval.Breakdown(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.alerts.Dispatch(ctx, a)
	}()
}

// applyBlock sets the temporary block: user-level when the actor is known,
// IP-level otherwise.
func (m *Middleware) applyBlock(ctx context.Context, actorID, ip string) {
	if actorID != "" {
		d := time.Duration(m.cfg.UserBlockMinutes) * time.Minute
		if err := m.store.BlockUser(ctx, actorID, d); err != nil {
			m.logger.Warn("user block failed", "actor_id", actorID, "error", err)
			return
		}
		blocksTriggered.WithLabelValues("user").Inc()
		if m.locker != nil {
			if err := m.locker.LockUser(ctx, actorID, time.Now().UTC().Add(d)); err != nil {
				m.logger.Warn("user store lock failed", "actor_id", actorID, "error", err)
			}
		}
		return
	}

	d := time.Duration(m.cfg.IPBlockMinutes) * time.Minute
	if err := m.store.BlockIP(ctx, ip, d); err != nil {
		m.logger.Warn("ip block failed", "ip", ip, "error", err)
		return
	}
	blocksTriggered.WithLabelValues("ip").Inc()
}

// clientIP takes the first X-Forwarded-For hop, falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// statusWriter captures the response status for post-response scoring.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the underlying ResponseWriter if it supports flushing.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter so http.NewResponseController
// can reach the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
