package threat

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealproof/sealproof/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRiskStore(t *testing.T) (*miniredis.Miniredis, *RedisRiskStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRiskStoreFromClient(rdb)
}

func testThreatConfig() config.ThreatConfig {
	cfg := config.Defaults().Threat
	cfg.UserAgentPatterns = []string{`(?i)sqlmap|nikto|nmap`}
	cfg.PathPatterns = []string{`(?i)(\.\./|union\s+select)`}
	cfg.PayloadPatterns = []string{`(?i)<script`}
	cfg.ExemptRoles = []string{"developer"}
	// High burst ceiling so only the burst tests trip it.
	cfg.BurstRequests = 100
	return cfg
}

func newTestScorer(t *testing.T, cfg config.ThreatConfig, store RiskStore) *Scorer {
	t.Helper()
	s, err := NewScorer(cfg, store, testLogger())
	require.NoError(t, err)
	return s
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "user:7", RequestSignals{ActorID: "7", IP: "203.0.113.9"}.Identity())
	assert.Equal(t, "ip:203.0.113.9", RequestSignals{IP: "203.0.113.9"}.Identity())
}

func TestNewScorerInvalidPattern(t *testing.T) {
	cfg := testThreatConfig()
	cfg.PathPatterns = []string{`(unclosed`}
	_, mrStore := newTestRiskStore(t)
	_, err := NewScorer(cfg, mrStore, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path_patterns")
}

func TestEvaluateWeightedSignals(t *testing.T) {
	_, store := newTestRiskStore(t)
	s := newTestScorer(t, testThreatConfig(), store)

	// 403 on an admin path with no user agent: 5 + 5 + 2 = 12, over the
	// default threshold of 10 in a single request.
	eval := s.Evaluate(context.Background(), RequestSignals{
		Method:     "GET",
		Path:       "/admin/users",
		StatusCode: 403,
		ActorID:    "7",
		IP:         "203.0.113.9",
	})

	assert.Equal(t, 12, eval.Points)
	assert.Equal(t, 12, eval.Total)
	assert.True(t, eval.ShouldAlert)
	assert.True(t, eval.ShouldBlock)
	assert.False(t, eval.Exempt)

	breakdown := eval.Breakdown()
	assert.Equal(t, 5, breakdown["status_code"])
	assert.Equal(t, 5, breakdown["admin_path"])
	assert.Equal(t, 2, breakdown["user_agent_missing"])
}

func TestEvaluateBenignRequest(t *testing.T) {
	_, store := newTestRiskStore(t)
	s := newTestScorer(t, testThreatConfig(), store)

	eval := s.Evaluate(context.Background(), RequestSignals{
		Method:     "GET",
		Path:       "/dashboard",
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64)",
		StatusCode: 200,
		ActorID:    "7",
	})

	assert.Zero(t, eval.Points)
	assert.Zero(t, eval.Total)
	assert.False(t, eval.ShouldAlert)
	assert.False(t, eval.ShouldBlock)
}

func TestEvaluateAccumulatesAcrossRequests(t *testing.T) {
	_, store := newTestRiskStore(t)
	s := newTestScorer(t, testThreatConfig(), store)

	sig := RequestSignals{
		Method:     "GET",
		Path:       "/login",
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64)",
		StatusCode: 401,
		ActorID:    "7",
	}

	// 401 + auth path = 5 points per attempt. The third attempt crosses
	// the threshold.
	var eval Evaluation
	for i := 0; i < 3; i++ {
		eval = s.Evaluate(context.Background(), sig)
	}
	assert.Equal(t, 15, eval.Total)
	assert.True(t, eval.ShouldBlock)
}

func TestEvaluateRiskDecay(t *testing.T) {
	mr, store := newTestRiskStore(t)
	cfg := testThreatConfig()
	s := newTestScorer(t, cfg, store)

	sig := RequestSignals{Method: "GET", Path: "/login", UserAgent: "Mozilla/5.0 (X11)", StatusCode: 401, ActorID: "7"}
	first := s.Evaluate(context.Background(), sig)
	require.Equal(t, 5, first.Total)

	// After the decay window with no contributing events the counter
	// expires and scoring starts over.
	mr.FastForward(time.Duration(cfg.RiskDecayMinutes)*time.Minute + time.Second)

	again := s.Evaluate(context.Background(), sig)
	assert.Equal(t, 5, again.Total)
}

func TestEvaluateBurst(t *testing.T) {
	_, store := newTestRiskStore(t)
	cfg := testThreatConfig()
	cfg.BurstRequests = 3
	s := newTestScorer(t, cfg, store)

	benign := RequestSignals{
		Method:     "GET",
		Path:       "/dashboard",
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64)",
		StatusCode: 200,
		ActorID:    "7",
	}

	for i := 0; i < 3; i++ {
		eval := s.Evaluate(context.Background(), benign)
		assert.False(t, eval.BurstTriggered, "request %d", i+1)
	}

	eval := s.Evaluate(context.Background(), benign)
	assert.True(t, eval.BurstTriggered)
	assert.Equal(t, cfg.BurstPoints, eval.Points)
	assert.Equal(t, cfg.BurstPoints, eval.Total)
}

func TestEvaluateExemptRole(t *testing.T) {
	_, store := newTestRiskStore(t)
	s := newTestScorer(t, testThreatConfig(), store)

	eval := s.Evaluate(context.Background(), RequestSignals{
		Method:     "GET",
		Path:       "/admin/users",
		StatusCode: 403,
		ActorID:    "7",
		Role:       "Developer",
	})

	// Detection still fires; only the block is suppressed.
	assert.True(t, eval.Exempt)
	assert.True(t, eval.ShouldAlert)
	assert.False(t, eval.ShouldBlock)
}

func TestEvaluatePatternSignals(t *testing.T) {
	_, store := newTestRiskStore(t)
	s := newTestScorer(t, testThreatConfig(), store)

	eval := s.Evaluate(context.Background(), RequestSignals{
		Method:     "GET",
		Path:       "/reports",
		Query:      "q=1 UNION SELECT password FROM users",
		UserAgent:  "sqlmap/1.7-dev",
		StatusCode: 200,
		Payload:    `{"comment": "<script>alert(1)</script>"}`,
		ActorID:    "7",
	})

	breakdown := eval.Breakdown()
	assert.Equal(t, 2, breakdown["user_agent_pattern"])
	assert.Equal(t, 4, breakdown["path_pattern"])
	assert.Equal(t, 4, breakdown["payload_pattern"])
}

func TestEvaluateStoreFailureDegrades(t *testing.T) {
	mr, store := newTestRiskStore(t)
	s := newTestScorer(t, testThreatConfig(), store)
	mr.Close()

	eval := s.Evaluate(context.Background(), RequestSignals{
		Method:     "GET",
		Path:       "/admin/users",
		StatusCode: 403,
		ActorID:    "7",
	})

	// Signals are still collected but nothing accumulates and nobody
	// gets blocked on the back of an unavailable cache.
	assert.Equal(t, 12, eval.Points)
	assert.Zero(t, eval.Total)
	assert.False(t, eval.ShouldBlock)
	assert.False(t, eval.ShouldAlert)
}

func TestRiskStoreAddScore(t *testing.T) {
	mr, store := newTestRiskStore(t)
	ctx := context.Background()

	total, err := store.AddScore(ctx, "user:7", 4, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	total, err = store.AddScore(ctx, "user:7", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	// Each contributing event refreshes the decay TTL.
	mr.FastForward(30 * time.Second)
	_, err = store.AddScore(ctx, "user:7", 1, time.Minute)
	require.NoError(t, err)
	mr.FastForward(45 * time.Second)
	assert.True(t, mr.Exists("threat:risk:user:7"))
}

func TestRiskStoreBurstWindowIsFixed(t *testing.T) {
	mr, store := newTestRiskStore(t)
	ctx := context.Background()

	count, err := store.IncrBurst(ctx, "ip:203.0.113.9", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Later increments must not extend the window.
	mr.FastForward(50 * time.Second)
	count, err = store.IncrBurst(ctx, "ip:203.0.113.9", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	mr.FastForward(11 * time.Second)
	count, err = store.IncrBurst(ctx, "ip:203.0.113.9", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "window expiry should reset the counter")
}

func TestRiskStoreBlocks(t *testing.T) {
	mr, store := newTestRiskStore(t)
	ctx := context.Background()

	blocked, err := store.IsBlockedUser(ctx, "7")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, store.BlockUser(ctx, "7", 30*time.Minute))
	require.NoError(t, store.BlockIP(ctx, "203.0.113.9", time.Hour))

	blocked, err = store.IsBlockedUser(ctx, "7")
	require.NoError(t, err)
	assert.True(t, blocked)
	blocked, err = store.IsBlockedIP(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Blocks lapse on their own.
	mr.FastForward(31 * time.Minute)
	blocked, err = store.IsBlockedUser(ctx, "7")
	require.NoError(t, err)
	assert.False(t, blocked)
	blocked, err = store.IsBlockedIP(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, blocked, "ip block has a longer duration")
}

func TestForwardedHops(t *testing.T) {
	assert.Zero(t, forwardedHops(""))
	assert.Equal(t, 1, forwardedHops("203.0.113.9"))
	assert.Equal(t, 4, forwardedHops("a, b, c, d"))
}
