// Package config contains everything related to configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// Config holds the gateway configuration.
type Config struct {
	CredentialsPath    string
	DatabasePath       string
	LogPath            string
	LogLevel           string
	GoogleClientID     string
	GoogleClientSecret string
	APIHost            string
	UserAgent          string

	Rotation RotationConfig
	Quota    QuotaConfig
	Sampler  SamplerConfig
	Stream   StreamConfig

	TokenRefreshBuffer    time.Duration
	MemoryCleanupInterval time.Duration
	SchedulerTick         time.Duration

	SkipProjectIDFetch   bool
	NotificationsEnabled bool
}

// RotationConfig is the initial credential rotation setup.
type RotationConfig struct {
	Strategy     models.RotationStrategy
	RequestCount int
}

// QuotaConfig tunes the quota tracker.
type QuotaConfig struct {
	// Tolerance is the decimal below which a remaining-fraction change is noise.
	Tolerance string
	// ResetThreshold is the rise in a group's minimum remaining fraction that
	// is treated as a quota reset.
	ResetThreshold  string
	CacheTTL        time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
	MaxPoints       int
}

// SamplerConfig tunes post-request usage sampling.
type SamplerConfig struct {
	DefaultDelays  []time.Duration
	PreciseDelays  []time.Duration
	RateLimit      rate.Limit
	Enabled        bool
	PreciseEnabled bool
}

// StreamConfig tunes the streaming relay.
type StreamConfig struct {
	HeartbeatInterval time.Duration
	MaxRetries        int
}

// Default values
const (
	DefaultRequestCountPerToken = 50
	DefaultMaxRetries           = 3
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultTokenRefreshBuffer   = 5 * time.Minute
	DefaultQuotaCacheTTL        = 5 * time.Minute
	DefaultQuotaCleanup         = time.Hour
	DefaultMemoryCleanup        = 30 * time.Minute
	DefaultSchedulerTick        = time.Second
	DefaultUsageRetention       = 24 * time.Hour
	DefaultUsageMaxPoints       = 2000
	DefaultQuotaTolerance       = "0.000001"
	DefaultQuotaResetThreshold  = "0.05"
	DefaultAPIHost              = "cloudcode-pa.googleapis.com"
	DefaultUserAgent            = "antigravity/1.11.5 windows/amd64"
	defaultSamplerRate          = 5
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	for _, path := range getEnvPaths() {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	antigravityConstants := LoadAntigravityConstants()
	var defaultClientID, defaultClientSecret string
	if antigravityConstants != nil {
		defaultClientID = antigravityConstants.ClientID
		defaultClientSecret = antigravityConstants.ClientSecret
	}

	strategy, err := models.ParseRotationStrategy(getEnvString("ROTATION_STRATEGY", string(models.RoundRobin)))
	if err != nil {
		return nil, fmt.Errorf("invalid ROTATION_STRATEGY: %w", err)
	}

	cfg := &Config{
		CredentialsPath:    getEnvString("CREDENTIALS_PATH", defaultDataPath("accounts.json")),
		DatabasePath:       getEnvString("DATABASE_PATH", defaultDataPath("usage.db")),
		LogPath:            getEnvString("LOG_PATH", ""),
		LogLevel:           getEnvString("LOG_LEVEL", "info"),
		GoogleClientID:     getEnvString("GOOGLE_CLIENT_ID", defaultClientID),
		GoogleClientSecret: getEnvString("GOOGLE_CLIENT_SECRET", defaultClientSecret),
		APIHost:            getEnvString("API_HOST", DefaultAPIHost),
		UserAgent:          getEnvString("USER_AGENT", DefaultUserAgent),
		Rotation: RotationConfig{
			Strategy:     strategy,
			RequestCount: getEnvInt("ROTATION_REQUEST_COUNT", DefaultRequestCountPerToken),
		},
		Quota: QuotaConfig{
			Tolerance:       getEnvString("QUOTA_TOLERANCE", DefaultQuotaTolerance),
			ResetThreshold:  getEnvString("QUOTA_RESET_THRESHOLD", DefaultQuotaResetThreshold),
			CacheTTL:        getEnvDuration("QUOTA_CACHE_TTL", DefaultQuotaCacheTTL),
			CleanupInterval: getEnvDuration("QUOTA_CLEANUP_INTERVAL", DefaultQuotaCleanup),
			Retention:       getEnvDuration("USAGE_RETENTION", DefaultUsageRetention),
			MaxPoints:       getEnvInt("USAGE_MAX_POINTS", DefaultUsageMaxPoints),
		},
		Sampler: SamplerConfig{
			Enabled:        getEnvBool("SAMPLER_ENABLED", true),
			PreciseEnabled: getEnvBool("SAMPLER_PRECISE_ENABLED", true),
			DefaultDelays:  getEnvDelays("SAMPLER_DEFAULT_DELAYS_MS", []time.Duration{0}),
			PreciseDelays: getEnvDelays("SAMPLER_PRECISE_DELAYS_MS",
				[]time.Duration{0, 8 * time.Second, 20 * time.Second}),
			RateLimit: getEnvRate("SAMPLER_RATE_LIMIT", defaultSamplerRate),
		},
		Stream: StreamConfig{
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
			MaxRetries:        getEnvInt("MAX_RETRIES", DefaultMaxRetries),
		},
		TokenRefreshBuffer:    getEnvDuration("TOKEN_REFRESH_BUFFER", DefaultTokenRefreshBuffer),
		MemoryCleanupInterval: getEnvDuration("MEMORY_CLEANUP_INTERVAL", DefaultMemoryCleanup),
		SchedulerTick:         getEnvDuration("SCHEDULER_TICK", DefaultSchedulerTick),
		SkipProjectIDFetch:    getEnvBool("SKIP_PROJECT_ID_FETCH", false),
		NotificationsEnabled:  getEnvBool("NOTIFICATIONS_ENABLED", false),
	}

	if cfg.Rotation.RequestCount <= 0 {
		cfg.Rotation.RequestCount = DefaultRequestCountPerToken
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf(
			"GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required (set via env or opencode-antigravity-auth)")
	}

	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Dir(cfg.CredentialsPath)); err != nil {
		return nil, err
	}
	if cfg.LogPath != "" {
		if err := ensureDir(filepath.Dir(cfg.LogPath)); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "antigravity-gateway", ".env"),
			filepath.Join(home, ".antigravity", ".env"),
		)
	}

	return paths
}

// defaultDataPath returns name inside the gateway's config directory.
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".config", "antigravity-gateway", name)
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvDelays parses a comma-separated list of millisecond offsets.
// Negative or unparsable entries are dropped; an empty result falls back to the default.
func getEnvDelays(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var delays []time.Duration
	for _, part := range strings.Split(value, ",") {
		ms, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			continue
		}
		delays = append(delays, time.Duration(max(0, int64(ms)))*time.Millisecond)
	}
	if len(delays) == 0 {
		return defaultValue
	}
	return delays
}

// getEnvRate parses "N" or "N/s" or "N/m" into a rate limit.
func getEnvRate(key string, defaultPerSecond float64) rate.Limit {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return rate.Limit(defaultPerSecond)
	}
	if value == "inf" {
		return rate.Inf
	}

	count, per, found := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(strings.TrimSpace(count), 64)
	if err != nil || n <= 0 {
		return rate.Limit(defaultPerSecond)
	}
	if !found {
		return rate.Limit(n)
	}
	switch strings.TrimSpace(per) {
	case "s":
		return rate.Limit(n)
	case "m":
		return rate.Every(time.Duration(float64(time.Minute) / n))
	default:
		return rate.Limit(defaultPerSecond)
	}
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
