package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar points at an optional YAML file layered between defaults and env
const ConfigPathEnvVar = "CONFIG_PATH"

// Snapshot backends
const (
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendHTTP   = "http"
	BackendMemory = "memory"
)

// Config keys are the lowercased environment variable names, so PORT and a
// YAML "port:" both set Port.
type Config struct {
	AppName            string        `koanf:"app_name"`
	Port               int           `koanf:"port"`
	LogLevel           string        `koanf:"log_level"`
	PrettyLogs         bool          `koanf:"pretty_logs"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
	StartupMaxAttempts int           `koanf:"startup_max_attempts"`
	// Request timeout for rebuild and refresh endpoints
	RebuildRequestTimeout time.Duration `koanf:"rebuild_request_timeout"`

	// Snapshot backend: file, s3, http or memory
	SnapshotBackend string `koanf:"snapshot_backend"`
	// Local snapshot path for the file backend
	SnapshotPath string `koanf:"snapshot_path"`
	// Read-only snapshot URL for the http backend
	SnapshotURL string `koanf:"snapshot_url"`
	// Treat a missing snapshot as empty instead of failing the rebuild
	SnapshotBootstrap bool `koanf:"snapshot_bootstrap"`

	// S3 compatible object storage
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3Region          string `koanf:"s3_region"`
	S3Bucket          string `koanf:"s3_bucket"`
	S3Key             string `koanf:"s3_key"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	S3UsePathStyle    bool   `koanf:"s3_use_path_style"`

	// Upstream endpoints
	UpstreamRosterURL  string        `koanf:"upstream_roster_url"`
	UpstreamDetailURL  string        `koanf:"upstream_detail_url"`
	UpstreamProfileURL string        `koanf:"upstream_profile_url"`
	UpstreamUserAgent  string        `koanf:"upstream_user_agent"`
	UpstreamTimeout    time.Duration `koanf:"upstream_timeout"`
	// Minimum gap between consecutive upstream requests
	UpstreamPageInterval time.Duration `koanf:"upstream_page_interval"`
	// Retries per upstream request
	UpstreamMaxRetries int `koanf:"upstream_max_retries"`
	// Delay before the first retry
	UpstreamRetryDelay time.Duration `koanf:"upstream_retry_delay"`
	// Backoff curve: linear, exponential or fibonacci
	UpstreamBackoff string `koanf:"upstream_backoff"`
	// Base delay after a 429 without Retry-After
	UpstreamRateLimitDelay time.Duration `koanf:"upstream_rate_limit_delay"`

	// Rebuild settings
	// Concurrent event ids in flight during a scan
	RebuildConcurrency int `koanf:"rebuild_concurrency"`
	// Upstream requests per second across all workers; zero disables
	RebuildRateLimit float64 `koanf:"rebuild_rate_limit"`
	// Directory for the local CSV copy written when publishing fails
	RebuildFallbackDir string `koanf:"rebuild_fallback_dir"`
	// Roster pages per event id
	RebuildMaxPages int `koanf:"rebuild_max_pages"`
	// Participants asked for event detail before giving up
	RebuildDetailCandidates int `koanf:"rebuild_detail_candidates"`
	// Shared lock ttl, renewed while a rebuild runs
	RebuildLockTTL time.Duration `koanf:"rebuild_lock_ttl"`

	// Discovery settings
	DiscoveryWindow       int64 `koanf:"discovery_window"`
	DiscoveryHistoryFloor int64 `koanf:"discovery_history_floor"`
	DiscoveryMaxSpan      int64 `koanf:"discovery_max_span"`

	// Postgres run history; empty disables it
	DatabaseURL             string        `koanf:"database_url"`
	DatabaseMaxOpenConns    int           `koanf:"db_max_open_conns"`
	DatabaseMaxIdleConns    int           `koanf:"db_max_idle_conns"`
	DatabaseConnMaxLifetime time.Duration `koanf:"db_conn_max_lifetime"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `koanf:"db_migration_folder_path"`
	// Database Migration Version
	DatabaseMigrationVersion uint `koanf:"db_migration_version"`
	// Database Migration Force
	DatabaseMigrationForce int `koanf:"db_migration_force"`

	// Redis for the shared rebuild lock; empty host and url disables it
	RedisURL      string `koanf:"redis_url"`
	RedisHost     string `koanf:"redis_host"`
	RedisPort     int    `koanf:"redis_port"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Kafka brokers (comma-separated); empty disables change events
	KafkaBrokers string `koanf:"kafka_brokers"`
	// Kafka topic for snapshot change events
	KafkaTopic string `koanf:"kafka_topic"`

	// Tracing settings
	// OTLP collector endpoint; empty disables export
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `koanf:"otlp_protocol"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `koanf:"otlp_insecure"`
	// Extra exporter headers, k1=v1,k2=v2
	OTLPHeaders string `koanf:"otlp_headers"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		AppName:               "sr-event-management",
		Port:                  3000,
		LogLevel:              "info",
		ShutdownTimeout:       15 * time.Second,
		StartupMaxAttempts:    5,
		RebuildRequestTimeout: 30 * time.Minute,

		SnapshotBackend: BackendFile,
		SnapshotPath:    "event_database.csv",

		S3Region: "auto",
		S3Key:    "event_database.csv",

		UpstreamRosterURL:      "https://www.showroom-live.com/api/event/room_list",
		UpstreamDetailURL:      "https://www.showroom-live.com/api/event/contribution_ranking",
		UpstreamProfileURL:     "https://www.showroom-live.com/api/room/profile",
		UpstreamUserAgent:      "Mozilla/5.0 (compatible; mksoul-tool/1.0)",
		UpstreamTimeout:        10 * time.Second,
		UpstreamPageInterval:   20 * time.Millisecond,
		UpstreamMaxRetries:     2,
		UpstreamRetryDelay:     500 * time.Millisecond,
		UpstreamBackoff:        "linear",
		UpstreamRateLimitDelay: 5 * time.Second,

		RebuildConcurrency:      8,
		RebuildFallbackDir:      os.TempDir(),
		RebuildMaxPages:         200,
		RebuildDetailCandidates: 5,
		RebuildLockTTL:          2 * time.Minute,

		DiscoveryWindow:       50,
		DiscoveryHistoryFloor: 30000,
		DiscoveryMaxSpan:      20000,

		DatabaseMaxOpenConns:        10,
		DatabaseMaxIdleConns:        5,
		DatabaseConnMaxLifetime:     5 * time.Minute,
		DatabaseMigrationFolderPath: "db/pg",

		RedisPort: 6379,

		KafkaTopic: "sr-event.snapshot",

		OTLPProtocol: "grpc",
		OTLPInsecure: true,
	}
}

// Load layers defaults, an optional YAML file and the environment, in that
// order. A .env file in the working directory is loaded into the environment
// first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late
func (c Config) Validate() error {
	switch c.SnapshotBackend {
	case BackendFile:
		if c.SnapshotPath == "" {
			return fmt.Errorf("snapshot_path is required for the %s backend", BackendFile)
		}
	case BackendS3:
		if c.S3Bucket == "" || c.S3Key == "" {
			return fmt.Errorf("s3_bucket and s3_key are required for the %s backend", BackendS3)
		}
	case BackendHTTP:
		if c.SnapshotURL == "" {
			return fmt.Errorf("snapshot_url is required for the %s backend", BackendHTTP)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown snapshot_backend %q", c.SnapshotBackend)
	}

	if c.Port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	if c.RebuildConcurrency <= 0 {
		return fmt.Errorf("rebuild_concurrency must be positive")
	}
	if c.DiscoveryWindow <= 0 || c.DiscoveryMaxSpan <= 0 {
		return fmt.Errorf("discovery_window and discovery_max_span must be positive")
	}
	switch c.UpstreamBackoff {
	case "linear", "exponential", "fibonacci":
	default:
		return fmt.Errorf("unknown upstream_backoff %q", c.UpstreamBackoff)
	}
	switch c.OTLPProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown otlp_protocol %q", c.OTLPProtocol)
	}
	return nil
}

// RedisEnabled reports whether a shared lock backend is configured
func (c Config) RedisEnabled() bool {
	return c.RedisURL != "" || c.RedisHost != ""
}
