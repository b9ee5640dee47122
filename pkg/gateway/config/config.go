package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicHost is the externally reachable host for the carrier's webhooks
	// and media-stream WebSocket, e.g. "bridge.example.com".
	PublicHost string

	// APIKeys are the bearer keys accepted on the management API.
	APIKeys map[string]struct{}

	// AI backend.
	AIAPIKey  string
	AIBaseURL string
	AIModel   string
	AIVoice   string

	// Carrier credentials.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	// RedisAddr selects the credential store. Empty means in-memory.
	RedisAddr string

	// PostgresDSN enables call/outcome persistence. Empty disables it.
	PostgresDSN string

	// Bridge tuning.
	CommitBatchFrames int
	CommitInactivity  time.Duration
	DrainGrace        time.Duration
	MinSessionTTL     time.Duration

	// In-memory limits on call placement (per principal).
	LimitRPS                float64
	LimitBurst              int
	LimitMaxConcurrentCalls int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VOXBRIDGE_ADDR", ":8080"),
		PublicHost:              envOr("VOXBRIDGE_PUBLIC_HOST", ""),
		APIKeys:                 make(map[string]struct{}),
		AIAPIKey:                envOr("VOXBRIDGE_AI_API_KEY", ""),
		AIBaseURL:               envOr("VOXBRIDGE_AI_BASE_URL", ""),
		AIModel:                 envOr("VOXBRIDGE_AI_MODEL", "gpt-realtime"),
		AIVoice:                 envOr("VOXBRIDGE_AI_VOICE", "alloy"),
		TwilioAccountSID:        envOr("VOXBRIDGE_TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         envOr("VOXBRIDGE_TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:              envOr("VOXBRIDGE_TWILIO_FROM", ""),
		RedisAddr:               envOr("VOXBRIDGE_REDIS_ADDR", ""),
		PostgresDSN:             envOr("VOXBRIDGE_POSTGRES_DSN", ""),
		CommitBatchFrames:       envIntOr("VOXBRIDGE_COMMIT_BATCH_FRAMES", 10),
		CommitInactivity:        envDurationOr("VOXBRIDGE_COMMIT_INACTIVITY", 250*time.Millisecond),
		DrainGrace:              envDurationOr("VOXBRIDGE_DRAIN_GRACE", time.Second),
		MinSessionTTL:           envDurationOr("VOXBRIDGE_MIN_SESSION_TTL", 30*time.Second),
		LimitRPS:                envFloat64Or("VOXBRIDGE_RATE_LIMIT_RPS", 2.0),
		LimitBurst:              envIntOr("VOXBRIDGE_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentCalls: envIntOr("VOXBRIDGE_MAX_CONCURRENT_CALLS", 8),
		ReadHeaderTimeout:       envDurationOr("VOXBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("VOXBRIDGE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("VOXBRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, key := range splitCSV(os.Getenv("VOXBRIDGE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if cfg.PublicHost == "" {
		return Config{}, fmt.Errorf("VOXBRIDGE_PUBLIC_HOST must be set")
	}
	if cfg.AIAPIKey == "" {
		return Config{}, fmt.Errorf("VOXBRIDGE_AI_API_KEY must be set")
	}
	if cfg.TwilioAccountSID == "" {
		return Config{}, fmt.Errorf("VOXBRIDGE_TWILIO_ACCOUNT_SID must be set")
	}
	if cfg.TwilioAuthToken == "" {
		return Config{}, fmt.Errorf("VOXBRIDGE_TWILIO_AUTH_TOKEN must be set")
	}
	if cfg.TwilioFrom == "" {
		return Config{}, fmt.Errorf("VOXBRIDGE_TWILIO_FROM must be set")
	}
	if len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_API_KEYS must be set")
	}
	if cfg.CommitBatchFrames <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_COMMIT_BATCH_FRAMES must be > 0")
	}
	if cfg.CommitInactivity <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_COMMIT_INACTIVITY must be > 0")
	}
	if cfg.DrainGrace <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_DRAIN_GRACE must be > 0")
	}
	if cfg.MinSessionTTL <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_MIN_SESSION_TTL must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentCalls < 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_MAX_CONCURRENT_CALLS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// StreamURL is the wss:// endpoint the carrier connects media streams to.
func (c Config) StreamURL() string {
	return "wss://" + c.PublicHost + "/media-stream"
}

// CallbackURL builds an https:// callback URL on the public host.
func (c Config) CallbackURL(path string) string {
	return "https://" + c.PublicHost + path
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
