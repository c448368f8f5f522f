package config

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/sealproof/sealproof/internal/safefile"
)

// Config is the top-level sealproof configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	LogLevel  string          `yaml:"log_level"`
	Signature SignatureConfig `yaml:"signature"`
	Audit     AuditConfig     `yaml:"audit"`
	Threat    ThreatConfig    `yaml:"threat"`
	Alerts    AlertConfig     `yaml:"alerts"`
}

// SignatureConfig controls the optional HMAC layer over chain hashes.
type SignatureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Algo    string `yaml:"algo"` // sha256, sha512, sha1
}

// AuditConfig holds chunk sizes and redaction keys for the chain tooling.
type AuditConfig struct {
	VerifyChunk   int      `yaml:"verify_chunk"`
	RehashChunk   int      `yaml:"rehash_chunk"`
	ExportChunk   int      `yaml:"export_chunk"`
	SensitiveKeys []string `yaml:"sensitive_keys"`
}

// ThreatConfig configures the request risk scorer.
type ThreatConfig struct {
	Enabled          bool `yaml:"enabled"`
	RiskThreshold    int  `yaml:"risk_threshold"`
	RiskDecayMinutes int  `yaml:"risk_decay_minutes"`

	BurstRequests      int `yaml:"burst_requests"`
	BurstWindowSeconds int `yaml:"burst_window_seconds"`
	BurstPoints        int `yaml:"burst_points"`

	StatusPoints           map[int]int `yaml:"status_points"`
	SuspiciousMethods      []string    `yaml:"suspicious_methods"`
	SuspiciousMethodPoints int         `yaml:"suspicious_method_points"`

	MinUserAgentLength     int      `yaml:"min_user_agent_length"`
	UserAgentPoints        int      `yaml:"user_agent_points"`
	UserAgentPatterns      []string `yaml:"user_agent_patterns"`
	UserAgentPatternPoints int      `yaml:"user_agent_pattern_points"`

	MaxQueryLength    int `yaml:"max_query_length"`
	QueryPoints       int `yaml:"query_points"`
	MaxPayloadKB      int `yaml:"max_payload_kb"`
	PayloadSizePoints int `yaml:"payload_size_points"`
	MaxForwardedHops  int `yaml:"max_forwarded_hops"`
	ForwardedPoints   int `yaml:"forwarded_points"`

	PathPatterns         []string `yaml:"path_patterns"`
	PathPatternPoints    int      `yaml:"path_pattern_points"`
	PayloadPatterns      []string `yaml:"payload_patterns"`
	PayloadPatternPoints int      `yaml:"payload_pattern_points"`

	AdminPathPrefix string   `yaml:"admin_path_prefix"`
	AdminPathPoints int      `yaml:"admin_path_points"`
	AuthPaths       []string `yaml:"auth_paths"`
	AuthPathPoints  int      `yaml:"auth_path_points"`

	AutoBlock        bool `yaml:"auto_block"`
	UserBlockMinutes int  `yaml:"user_block_minutes"`
	IPBlockMinutes   int  `yaml:"ip_block_minutes"`

	ExemptRoles []string `yaml:"exempt_roles"`

	ActorHeader string `yaml:"actor_header"`
	RoleHeader  string `yaml:"role_header"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// AlertConfig configures the best-effort alert sink.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Load reads and parses a sealproof config file, applying defaults for
// anything the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := safefile.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	if cfg.Audit.VerifyChunk == 0 {
		cfg.Audit.VerifyChunk = 500
	}
	if cfg.Audit.RehashChunk == 0 {
		cfg.Audit.RehashChunk = 500
	}
	if cfg.Audit.ExportChunk == 0 {
		cfg.Audit.ExportChunk = 500
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		DBPath:   "sealproof.db",
		LogLevel: "info",
		Signature: SignatureConfig{
			Algo: "sha256",
		},
		Audit: AuditConfig{
			VerifyChunk:   500,
			RehashChunk:   500,
			ExportChunk:   500,
			SensitiveKeys: []string{"password", "token", "secret", "authorization", "cookie"},
		},
		Threat: ThreatConfig{
			Enabled:          true,
			RiskThreshold:    10,
			RiskDecayMinutes: 30,

			BurstRequests:      60,
			BurstWindowSeconds: 60,
			BurstPoints:        3,

			StatusPoints: map[int]int{
				401: 3,
				403: 5,
				404: 1,
				422: 1,
				429: 3,
				500: 2,
			},
			SuspiciousMethods:      []string{"TRACE", "CONNECT"},
			SuspiciousMethodPoints: 3,

			MinUserAgentLength:     10,
			UserAgentPoints:        2,
			UserAgentPatternPoints: 2,

			MaxQueryLength:    2048,
			QueryPoints:       2,
			MaxPayloadKB:      512,
			PayloadSizePoints: 2,
			MaxForwardedHops:  3,
			ForwardedPoints:   2,

			PathPatternPoints:    4,
			PayloadPatternPoints: 4,

			AdminPathPrefix: "/admin",
			AdminPathPoints: 5,
			AuthPaths:       []string{"/login", "/logout", "/password/reset"},
			AuthPathPoints:  2,

			AutoBlock:        true,
			UserBlockMinutes: 30,
			IPBlockMinutes:   60,

			ActorHeader: "X-Actor-ID",
			RoleHeader:  "X-Actor-Role",

			RedisAddr: "127.0.0.1:6379",
		},
	}
}

// Save writes the config to a YAML file at the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return safefile.WriteFile(path, data, 0o644)
}

// Validate checks that the config is consistent. Regex patterns are compiled
// here so a bad pattern is a startup error, not a per-request one.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Signature.Enabled {
		if c.Signature.Secret == "" {
			return fmt.Errorf("signature.secret is required when signature.enabled is true")
		}
		switch c.Signature.Algo {
		case "", "sha256", "sha512", "sha1":
			// valid
		default:
			return fmt.Errorf("signature.algo %q is not supported (sha256, sha512, sha1)", c.Signature.Algo)
		}
	}
	if c.Audit.VerifyChunk < 1 || c.Audit.RehashChunk < 1 || c.Audit.ExportChunk < 1 {
		return fmt.Errorf("chunk sizes must be positive")
	}
	if c.Threat.Enabled {
		if c.Threat.RiskThreshold < 1 {
			return fmt.Errorf("threat.risk_threshold must be positive")
		}
		if c.Threat.RiskDecayMinutes < 1 {
			return fmt.Errorf("threat.risk_decay_minutes must be positive")
		}
		for _, group := range [][]string{c.Threat.UserAgentPatterns, c.Threat.PathPatterns, c.Threat.PayloadPatterns} {
			for _, p := range group {
				if _, err := regexp.Compile(p); err != nil {
					return fmt.Errorf("invalid threat pattern %q: %w", p, err)
				}
			}
		}
	}
	return nil
}
