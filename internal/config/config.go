package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/cipher"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/campusid.db"

	LogLevel string

	// Key material. Required; there is no built-in default.
	MasterKey []byte

	// QR / lockout policy
	QRTTL                time.Duration
	RejectReplayedNonces bool
	MaxFailedAttempts    int
	SuspicionWindow      time.Duration
	LockoutWindow        time.Duration
	LockoutDuration      time.Duration

	// Offline snapshot
	SnapshotTTL            time.Duration
	SnapshotMaxCredentials int

	// Store calls
	StoreTimeout    time.Duration
	StoreMaxRetries int

	TimeZone       *time.Location
	RolePolicyFile string

	EmergencyConcurrency int

	// Optional backends. Empty means in-process fallbacks.
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	PostgresDSN  string

	KnownScanners        []string
	EnforceKnownScanners bool

	// Heartbeat retention
	HeartbeatRetentionDays int // 0 = keep forever
	PruneIntervalHours     int // how often the pruner runs (default 6)

	QueueDrainInterval time.Duration
}

// FromEnv reads CAMPUSID_* variables. It fails when the master key is
// missing or malformed or when a time zone cannot be loaded.
func FromEnv() (Config, error) {
	env := strings.ToLower(getenvDefault("CAMPUSID_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	rawKey := os.Getenv("CAMPUSID_MASTER_KEY")
	if strings.TrimSpace(rawKey) == "" {
		return Config{}, fmt.Errorf("CAMPUSID_MASTER_KEY is required (32 bytes, hex or base64)")
	}
	key, err := cipher.ParseMasterKey(rawKey)
	if err != nil {
		return Config{}, fmt.Errorf("CAMPUSID_MASTER_KEY: %w", err)
	}

	tzName := getenvDefault("CAMPUSID_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Config{}, fmt.Errorf("CAMPUSID_TIMEZONE %q: %w", tzName, err)
	}

	maxAttempts := getenvInt("CAMPUSID_LOCKOUT_MAX_ATTEMPTS", 5)
	if maxAttempts == 0 {
		maxAttempts = 5
	}

	return Config{
		HTTPAddr: getenvDefault("CAMPUSID_HTTP_ADDR", ":8080"),
		GRPCAddr: os.Getenv("CAMPUSID_GRPC_ADDR"),
		Env:      env,
		DBPath:   getenvDefault("CAMPUSID_DB_PATH", "./data/campusid.db"),
		LogLevel: getenvDefault("CAMPUSID_LOG_LEVEL", "info"),

		MasterKey: key,

		QRTTL:                getenvDuration("CAMPUSID_QR_TTL", 5*time.Minute),
		RejectReplayedNonces: getenvBool("CAMPUSID_REJECT_REPLAYED_NONCES"),
		MaxFailedAttempts:    maxAttempts,
		SuspicionWindow:      getenvDuration("CAMPUSID_SUSPICION_WINDOW", 5*time.Minute),
		LockoutWindow:        getenvDuration("CAMPUSID_LOCKOUT_WINDOW", 15*time.Minute),
		LockoutDuration:      getenvDuration("CAMPUSID_LOCKOUT_DURATION", 15*time.Minute),

		SnapshotTTL:            getenvDuration("CAMPUSID_SNAPSHOT_TTL", 24*time.Hour),
		SnapshotMaxCredentials: getenvInt("CAMPUSID_SNAPSHOT_MAX_CREDENTIALS", 5000),

		StoreTimeout:    getenvDuration("CAMPUSID_STORE_TIMEOUT", 2*time.Second),
		StoreMaxRetries: getenvInt("CAMPUSID_STORE_MAX_RETRIES", 2),

		TimeZone:       loc,
		RolePolicyFile: os.Getenv("CAMPUSID_ROLE_POLICY_FILE"),

		EmergencyConcurrency: getenvInt("CAMPUSID_EMERGENCY_CONCURRENCY", 8),

		RedisAddr:    os.Getenv("CAMPUSID_REDIS_ADDR"),
		KafkaBrokers: splitCSV(os.Getenv("CAMPUSID_KAFKA_BROKERS")),
		KafkaTopic:   getenvDefault("CAMPUSID_KAFKA_TOPIC", "campusid.security-signals"),
		PostgresDSN:  os.Getenv("CAMPUSID_POSTGRES_DSN"),

		KnownScanners:        splitCSV(os.Getenv("CAMPUSID_KNOWN_SCANNERS")),
		EnforceKnownScanners: getenvBool("CAMPUSID_ENFORCE_KNOWN_SCANNERS"),

		HeartbeatRetentionDays: getenvInt("CAMPUSID_HEARTBEAT_RETENTION_DAYS", 30),
		PruneIntervalHours:     getenvInt("CAMPUSID_PRUNE_INTERVAL_HOURS", 6),

		QueueDrainInterval: getenvDuration("CAMPUSID_QUEUE_DRAIN_INTERVAL", 30*time.Second),
	}, nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
