package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Remote social-graph API
	RemoteBaseURL     string
	RemoteBearerToken string
	RemoteRate        float64 // requests per second against the remote API
	RemoteBurst       int
	RateLimitCooldown time.Duration // wait after a rate-limit signal before resuming a fetch

	// Job intervals
	FetchInterval     time.Duration
	ProcessInterval   time.Duration
	ReconcileInterval time.Duration
	DeferredRetry     time.Duration
	ReapInterval      time.Duration
	PruneInterval     time.Duration

	// Retention
	UserReapAge        time.Duration // deactivated this long before the account is reaped
	ActionPruneAge     time.Duration // cancelled actions older than this are pruned
	PruneBatchSize     int
	PruneBatchPause    time.Duration
	LogCleanupInterval time.Duration
	LogRetentionAge    time.Duration // system_logs rows older than this are deleted

	// Whether reconciliation actually enqueues its computed deltas or only
	// logs them. Defaults to dry-run; flipping this is what lets side
	// effects reach the remote service.
	ReconcileEnqueue bool

	// Server
	Port        string
	CORSOrigins string
	AdminToken  string
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "blocktogether"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RemoteBaseURL:     getEnv("REMOTE_BASE_URL", "https://api.twitter.com/1.1"),
		RemoteBearerToken: getEnv("REMOTE_BEARER_TOKEN", ""),
		RemoteRate:        parseFloat(getEnv("REMOTE_RATE", "1"), 1),
		RemoteBurst:       parseInt(getEnv("REMOTE_BURST", "3"), 3),
		RateLimitCooldown: parseDuration(getEnv("RATE_LIMIT_COOLDOWN", "15m"), 15*time.Minute),

		FetchInterval:     parseDuration(getEnv("FETCH_INTERVAL", "5m"), 5*time.Minute),
		ProcessInterval:   parseDuration(getEnv("PROCESS_INTERVAL", "30s"), 30*time.Second),
		ReconcileInterval: parseDuration(getEnv("RECONCILE_INTERVAL", "1h"), time.Hour),
		DeferredRetry:     parseDuration(getEnv("DEFERRED_RETRY_INTERVAL", "6h"), 6*time.Hour),
		ReapInterval:      parseDuration(getEnv("REAP_INTERVAL", "1m"), time.Minute),
		PruneInterval:     parseDuration(getEnv("PRUNE_INTERVAL", "1h"), time.Hour),

		UserReapAge:        parseDuration(getEnv("USER_REAP_AGE", "720h"), 30*24*time.Hour),
		ActionPruneAge:     parseDuration(getEnv("ACTION_PRUNE_AGE", "240h"), 10*24*time.Hour),
		PruneBatchSize:     parseInt(getEnv("PRUNE_BATCH_SIZE", "500"), 500),
		PruneBatchPause:    parseDuration(getEnv("PRUNE_BATCH_PAUSE", "1s"), time.Second),
		LogCleanupInterval: parseDuration(getEnv("LOG_CLEANUP_INTERVAL", "24h"), 24*time.Hour),
		LogRetentionAge:    parseDuration(getEnv("LOG_RETENTION_AGE", "720h"), 30*24*time.Hour),

		ReconcileEnqueue: parseBool(getEnv("RECONCILE_ENQUEUE", "false")),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
