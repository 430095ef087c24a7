package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/handshake/internal/handshake/domain"
	"github.com/aussiebroadwan/handshake/internal/handshake/service"
	"github.com/aussiebroadwan/handshake/pkg/cryptox"
	"github.com/aussiebroadwan/handshake/pkg/jwtx"
)

type Config struct {
	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)
	PublicURL string // Base of pre-signed upload targets (default: http://localhost:{Port})

	DatabaseFile  string // Path to SQLite database file (default: ./handshake.db)
	MasterKeyFile string // Path to the master key; falls back to HANDSHAKE_MASTER_KEY, then an ephemeral key

	ChallengeTTL         time.Duration // Optional: challenge lifetime (default: 5m)
	ChallengeMaxAttempts int           // Optional: wrong signatures tolerated (default: 5)
	StageCooldown        time.Duration // Optional: failure cooldown (default: 24h)
	ProfileRateInterval  time.Duration // Optional: one PATCH token per interval per IP (default: 5s)
	ProfileRateBurst     int           // Optional: PATCH bucket size (default: 1)
	TrustedProxies       []string      // Optional: CIDRs allowed to set X-Forwarded-For (default: none)

	UploadMaxBytes     int64         // Optional: largest accepted resume.zip (default: 50 MiB)
	UploadStallTimeout time.Duration // Optional: silence tolerated between chunks (default: 60s)
	UploadURLTTL       time.Duration // Optional: pre-signed target lifetime (default: 30m)
	SpoolDir           string        // Optional: partial upload directory (default: ./spool)

	BlobBackend string // Optional: file or s3 (default: file)
	BlobDir     string // Optional: file backend root (default: ./blobs)
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string

	StreamBudget         int64         // Optional: events per applicant (default: 1000)
	StreamBatch          int64         // Optional: events per ack (default: 1000)
	StreamWindow         time.Duration // Optional: time to emit one batch (default: 10s)
	StreamAckGrace       time.Duration // Optional: wait for an ack (default: 10s)
	StreamReconnectGrace time.Duration // Optional: tolerated disconnect (default: 500ms)

	KeyAlgorithm    string        // Optional: EdDSA or ES256 (default: EdDSA)
	KeyWindow       time.Duration // Optional: lifetime of one kid (default: 10m)
	KeyOverlap      time.Duration // Optional: successor lead time (default: 2m)
	KeyCacheRefresh time.Duration // Optional: verifier cache refresh (default: 1m)
	TokenTTL        time.Duration // Optional: acceptance token lifetime (default: 5m)
	Issuer          string        // Optional: iss claim (default: handshake)

	WatchdogInterval     time.Duration // Watchdog interval (default: 1s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	cfg := Config{
		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("HANDSHAKE_PORT", 8080),
		PublicURL: os.Getenv("HANDSHAKE_PUBLIC_URL"),

		DatabaseFile:  getEnvOrDefault("HANDSHAKE_DB_FILE", "handshake.db"),
		MasterKeyFile: os.Getenv("HANDSHAKE_MASTER_KEY_FILE"),

		ChallengeTTL:         getEnvDurationOrDefault("HANDSHAKE_CHALLENGE_TTL", domain.ChallengeTTL),
		ChallengeMaxAttempts: getEnvIntOrDefault("HANDSHAKE_CHALLENGE_MAX_ATTEMPTS", service.DefaultChallengeAttempts),
		StageCooldown:        getEnvDurationOrDefault("HANDSHAKE_STAGE_COOLDOWN", service.DefaultCooldown),
		ProfileRateInterval:  getEnvDurationOrDefault("HANDSHAKE_PROFILE_RATE_INTERVAL", 5*time.Second),
		ProfileRateBurst:     getEnvIntOrDefault("HANDSHAKE_PROFILE_RATE_BURST", 1),
		TrustedProxies:       getEnvListOrDefault("HANDSHAKE_TRUSTED_PROXIES", nil),

		UploadMaxBytes:     int64(getEnvIntOrDefault("HANDSHAKE_UPLOAD_MAX_BYTES", service.DefaultUploadMaxBytes)),
		UploadStallTimeout: getEnvDurationOrDefault("HANDSHAKE_UPLOAD_STALL_TIMEOUT", service.DefaultUploadStallTimeout),
		UploadURLTTL:       getEnvDurationOrDefault("HANDSHAKE_UPLOAD_URL_TTL", service.DefaultUploadURLTTL),
		SpoolDir:           getEnvOrDefault("HANDSHAKE_SPOOL_DIR", "spool"),

		BlobBackend: getEnvOrDefault("HANDSHAKE_BLOB_BACKEND", "file"),
		BlobDir:     getEnvOrDefault("HANDSHAKE_BLOB_DIR", "blobs"),
		S3Bucket:    os.Getenv("HANDSHAKE_S3_BUCKET"),
		S3Region:    os.Getenv("HANDSHAKE_S3_REGION"),
		S3Endpoint:  os.Getenv("HANDSHAKE_S3_ENDPOINT"),
		S3Prefix:    os.Getenv("HANDSHAKE_S3_PREFIX"),

		StreamBudget:         int64(getEnvIntOrDefault("HANDSHAKE_STREAM_BUDGET", service.DefaultStreamBudget)),
		StreamBatch:          int64(getEnvIntOrDefault("HANDSHAKE_STREAM_BATCH", service.DefaultStreamBatch)),
		StreamWindow:         getEnvDurationOrDefault("HANDSHAKE_STREAM_WINDOW", service.DefaultStreamWindow),
		StreamAckGrace:       getEnvDurationOrDefault("HANDSHAKE_STREAM_ACK_GRACE", service.DefaultStreamAckGrace),
		StreamReconnectGrace: getEnvDurationOrDefault("HANDSHAKE_STREAM_RECONNECT_GRACE", service.DefaultStreamReconnectGrace),

		KeyAlgorithm:    getEnvOrDefault("HANDSHAKE_KEY_ALGORITHM", cryptox.AlgEdDSA),
		KeyWindow:       getEnvDurationOrDefault("HANDSHAKE_KEY_WINDOW", jwtx.DefaultKeyWindow),
		KeyOverlap:      getEnvDurationOrDefault("HANDSHAKE_KEY_OVERLAP", jwtx.DefaultKeyOverlap),
		KeyCacheRefresh: getEnvDurationOrDefault("HANDSHAKE_KEY_CACHE_REFRESH", jwtx.DefaultCacheRefresh),
		TokenTTL:        getEnvDurationOrDefault("HANDSHAKE_TOKEN_TTL", jwtx.DefaultTokenTTL),
		Issuer:          getEnvOrDefault("HANDSHAKE_ISSUER", "handshake"),

		WatchdogInterval:     getEnvDurationOrDefault("HANDSHAKE_WATCHDOG_INTERVAL", time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HANDSHAKE_HOUSEKEEPING_INTERVAL", time.Hour),
		ShutdownGracePeriod:  getEnvDurationOrDefault("HANDSHAKE_SHUTDOWN_GRACE", 10*time.Second),
	}

	return cfg
}

// publicURL is the base the service is reachable at from applicants.
func (c Config) publicURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return "http://localhost:" + strconv.Itoa(c.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma separated value.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
