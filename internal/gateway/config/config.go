package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	Session     SessionConfig
	Trace       TraceConfig
	Snapshot    SnapshotConfig
}

type SessionConfig struct {
	TTL          time.Duration
	LockTimeout  time.Duration
	PollTimeout  time.Duration
	GoneCapacity int
	Verify       bool
	Title        string
	WebSocket    bool
}

type TraceConfig struct {
	Dir string
}

// SnapshotConfig points at the S3 bucket that archives final pages.
type SnapshotConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	cfg := localConfig()
	cfg.Port = *port
	cfg.Env = env
	if env != "local" {
		cfg.DatabaseURL = ""
		cfg.Snapshot = SnapshotConfig{}
	}
	cfg.DatabaseURL = firstNonEmpty(strings.TrimSpace(os.Getenv("DATABASE_URL")), cfg.DatabaseURL)
	cfg.Session = loadSessionConfig()
	cfg.Trace = TraceConfig{Dir: firstNonEmpty(strings.TrimSpace(os.Getenv("RENDER_TRACE_DIR")), "tmp/render-logs")}
	cfg.Snapshot = loadSnapshotConfig(env, cfg.Snapshot)
	return &cfg, nil
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:          envDuration("SESSION_TTL", 10*time.Minute),
		LockTimeout:  envDuration("LOCK_TIMEOUT", 5*time.Second),
		PollTimeout:  envDuration("POLL_TIMEOUT", 25*time.Second),
		GoneCapacity: envInt("GONE_SESSION_CAPACITY", 4096),
		Verify:       envBool("RENDER_VERIFY", false),
		Title:        firstNonEmpty(strings.TrimSpace(os.Getenv("APP_TITLE")), "wtcore"),
		WebSocket:    envBool("WEBSOCKET", true),
	}
}

func loadSnapshotConfig(env string, base SnapshotConfig) SnapshotConfig {
	endpoint := firstNonEmpty(strings.TrimSpace(os.Getenv("SNAPSHOT_S3_ENDPOINT")), base.Endpoint)
	return SnapshotConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("SNAPSHOT_S3_REGION")), base.Region, "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("SNAPSHOT_S3_ACCESS_KEY")), base.AccessKey),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("SNAPSHOT_S3_SECRET_KEY")), base.SecretKey),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("SNAPSHOT_S3_BUCKET")), base.Bucket, "wtcore-snapshots"),
		UseSSL:    resolveSnapshotUseSSL(env),
	}
}

func resolveSnapshotUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	return envBool("SNAPSHOT_S3_USE_SSL", true)
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// CanUseS3 reports whether the archive is enabled and fully configured.
func (c SnapshotConfig) CanUseS3() bool {
	return c.Enabled &&
		strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != "" &&
		strings.TrimSpace(c.Bucket) != ""
}
