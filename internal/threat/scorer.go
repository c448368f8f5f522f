// Package threat implements per-request risk scoring for the admin panel:
// weighted signal collection, decaying per-identity risk counters, burst
// detection, and temporary auto-blocking of abusive actors.
package threat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sealproof/sealproof/internal/config"
)

// RequestSignals is everything the scorer looks at for one request.
// The HTTP layer fills it after the response has been written so the
// status code is known.
type RequestSignals struct {
	Method       string
	Path         string
	Query        string
	UserAgent    string
	ForwardedFor string
	StatusCode   int
	PayloadBytes int
	Payload      string

	ActorID string
	Role    string
	IP      string
}

// Identity returns the risk-counter key: the authenticated actor id,
// falling back to the client IP when anonymous.
func (s RequestSignals) Identity() string {
	if s.ActorID != "" {
		return "user:" + s.ActorID
	}
	return "ip:" + s.IP
}

// Signal is one weighted contribution to a request's risk points.
type Signal struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

// Evaluation is the outcome of scoring one request.
type Evaluation struct {
	Points         int      // points contributed by this request
	Total          int      // decaying risk total after this request
	Signals        []Signal // breakdown of contributing signals
	BurstTriggered bool
	ShouldBlock    bool
	ShouldAlert    bool
	Exempt         bool // identity is exempt from blocking, never from detection
}

// Breakdown returns the signal contributions keyed by name.
func (e Evaluation) Breakdown() map[string]int {
	out := make(map[string]int, len(e.Signals))
	for _, s := range e.Signals {
		out[s.Name] += s.Points
	}
	return out
}

// Scorer is a stateful risk evaluator. Pattern regexes are compiled once
// at construction; per-request work is matching and two cache round-trips.
type Scorer struct {
	cfg    config.ThreatConfig
	store  RiskStore
	logger *slog.Logger

	uaPatterns      []*regexp.Regexp
	pathPatterns    []*regexp.Regexp
	payloadPatterns []*regexp.Regexp
}

// NewScorer builds a scorer from config. An invalid regex pattern is a
// startup error.
func NewScorer(cfg config.ThreatConfig, store RiskStore, logger *slog.Logger) (*Scorer, error) {
	s := &Scorer{cfg: cfg, store: store, logger: logger}

	var err error
	if s.uaPatterns, err = compileAll(cfg.UserAgentPatterns); err != nil {
		return nil, fmt.Errorf("user_agent_patterns: %w", err)
	}
	if s.pathPatterns, err = compileAll(cfg.PathPatterns); err != nil {
		return nil, fmt.Errorf("path_patterns: %w", err)
	}
	if s.payloadPatterns, err = compileAll(cfg.PayloadPatterns); err != nil {
		return nil, fmt.Errorf("payload_patterns: %w", err)
	}
	return s, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Evaluate collects weighted signals for the request, folds them into the
// identity's decaying risk counter, and decides blocking and alerting.
// Cache failures degrade to "no scoring this request": the evaluation
// comes back with no block and the error is logged, never surfaced.
func (s *Scorer) Evaluate(ctx context.Context, sig RequestSignals) Evaluation {
	eval := Evaluation{Signals: s.collect(sig)}
	for _, signal := range eval.Signals {
		eval.Points += signal.Points
	}

	identity := sig.Identity()

	// Burst detection runs on every request, scored or not; the counter
	// is what makes the window.
	window := time.Duration(s.cfg.BurstWindowSeconds) * time.Second
	count, err := s.store.IncrBurst(ctx, identity, window)
	if err != nil {
		s.logger.Warn("burst counter unavailable, skipping", "identity", identity, "error", err)
		scoringFailures.Inc()
	} else if s.cfg.BurstRequests > 0 && count > s.cfg.BurstRequests {
		eval.BurstTriggered = true
		burst := Signal{
			Name:   "burst",
			Points: s.cfg.BurstPoints,
			Detail: fmt.Sprintf("%d requests in %ds window", count, s.cfg.BurstWindowSeconds),
		}
		eval.Signals = append(eval.Signals, burst)
		eval.Points += burst.Points
	}

	if eval.Points > 0 {
		decay := time.Duration(s.cfg.RiskDecayMinutes) * time.Minute
		total, err := s.store.AddScore(ctx, identity, eval.Points, decay)
		if err != nil {
			s.logger.Warn("risk counter unavailable, skipping scoring", "identity", identity, "error", err)
			scoringFailures.Inc()
			return eval
		}
		eval.Total = total
	}

	eval.Exempt = s.isExempt(sig.Role)
	if eval.Total >= s.cfg.RiskThreshold {
		eval.ShouldAlert = true
		eval.ShouldBlock = !eval.Exempt
	}
	return eval
}

// collect gathers the per-request signals. Each one contributes its
// configured weight independently.
func (s *Scorer) collect(sig RequestSignals) []Signal {
	var signals []Signal
	add := func(name string, points int, detail string) {
		if points > 0 {
			signals = append(signals, Signal{Name: name, Points: points, Detail: detail})
		}
	}

	if pts, ok := s.cfg.StatusPoints[sig.StatusCode]; ok {
		add("status_code", pts, fmt.Sprintf("%d", sig.StatusCode))
	}

	for _, m := range s.cfg.SuspiciousMethods {
		if strings.EqualFold(m, sig.Method) {
			add("suspicious_method", s.cfg.SuspiciousMethodPoints, sig.Method)
			break
		}
	}

	if len(sig.UserAgent) < s.cfg.MinUserAgentLength {
		add("user_agent_missing", s.cfg.UserAgentPoints, "")
	}
	for _, re := range s.uaPatterns {
		if re.MatchString(sig.UserAgent) {
			add("user_agent_pattern", s.cfg.UserAgentPatternPoints, re.String())
		}
	}

	if s.cfg.MaxQueryLength > 0 && len(sig.Query) > s.cfg.MaxQueryLength {
		add("oversized_query", s.cfg.QueryPoints, fmt.Sprintf("%d bytes", len(sig.Query)))
	}
	if s.cfg.MaxPayloadKB > 0 && sig.PayloadBytes > s.cfg.MaxPayloadKB*1024 {
		add("oversized_payload", s.cfg.PayloadSizePoints, fmt.Sprintf("%d bytes", sig.PayloadBytes))
	}
	if s.cfg.MaxForwardedHops > 0 && forwardedHops(sig.ForwardedFor) > s.cfg.MaxForwardedHops {
		add("forwarded_chain", s.cfg.ForwardedPoints, sig.ForwardedFor)
	}

	for _, re := range s.pathPatterns {
		if re.MatchString(sig.Path) || re.MatchString(sig.Query) {
			add("path_pattern", s.cfg.PathPatternPoints, re.String())
		}
	}
	for _, re := range s.payloadPatterns {
		if sig.Payload != "" && re.MatchString(sig.Payload) {
			add("payload_pattern", s.cfg.PayloadPatternPoints, re.String())
		}
	}

	if s.cfg.AdminPathPrefix != "" && strings.HasPrefix(sig.Path, s.cfg.AdminPathPrefix) {
		add("admin_path", s.cfg.AdminPathPoints, sig.Path)
	}
	for _, p := range s.cfg.AuthPaths {
		if strings.HasPrefix(sig.Path, p) {
			add("auth_path", s.cfg.AuthPathPoints, sig.Path)
			break
		}
	}

	return signals
}

func (s *Scorer) isExempt(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range s.cfg.ExemptRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// forwardedHops counts entries in an X-Forwarded-For chain.
func forwardedHops(xff string) int {
	if strings.TrimSpace(xff) == "" {
		return 0
	}
	return len(strings.Split(xff, ","))
}
