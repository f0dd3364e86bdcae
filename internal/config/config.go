package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration
type Config struct {
	Port string

	// Remote asset API
	RemoteAPIURL  string
	RemoteAPIKey  string
	StreamURL     string // WebSocket change feed; empty disables the consumer
	DraftURL      string // enrichment backend; empty means local heuristics

	// Persistence backend: "memory", "sqlite" or "redis"
	StoreBackend string
	SQLitePath   string
	RedisURL     string

	// Capture sources
	DropDir             string // watched drop directory; empty disables it
	CapturePollInterval time.Duration
	StorePingInterval   time.Duration

	// How often to re-sync against the remote id list while the change
	// feed is disconnected.
	FallbackSyncInterval time.Duration

	// Push-fed capture sources accepting POSTed captures
	PushSources []string
}

// SourcesFile is the optional YAML file describing capture sources, for
// deployments that outgrow the env-only setup.
type SourcesFile struct {
	DropDir     string   `yaml:"drop_dir"`
	PushSources []string `yaml:"push_sources"`
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "3501"),

		RemoteAPIURL: getEnv("REMOTE_API_URL", "http://localhost:3500/api"),
		RemoteAPIKey: getEnv("REMOTE_API_KEY", ""),
		StreamURL:    getEnv("STREAM_URL", "ws://localhost:3500/api/stream"),
		DraftURL:     getEnv("DRAFT_URL", ""),

		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		SQLitePath:   getEnv("SQLITE_PATH", "stashd.db"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),

		DropDir:             getEnv("DROP_DIR", ""),
		CapturePollInterval: getDurationEnv("CAPTURE_POLL_INTERVAL", 30*time.Second),
		StorePingInterval:   getDurationEnv("STORE_PING_INTERVAL", 5*time.Minute),

		FallbackSyncInterval: getDurationEnv("FALLBACK_SYNC_INTERVAL", 5*time.Minute),

		PushSources: []string{"clipboard", "browser"},
	}

	if path := getEnv("SOURCES_FILE", ""); path != "" {
		if err := cfg.applySourcesFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	return cfg
}

// applySourcesFile overlays the YAML source description onto the config.
func (c *Config) applySourcesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sources file: %w", err)
	}

	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse sources file: %w", err)
	}

	if file.DropDir != "" {
		c.DropDir = file.DropDir
	}
	if len(file.PushSources) > 0 {
		c.PushSources = file.PushSources
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
