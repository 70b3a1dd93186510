package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string

	// Remote reconciler settings consumed by the sync engine.
	RemoteBaseURL string
	BatchSize     int
	ProbeTimeout  time.Duration
	SyncInterval  time.Duration
	MaxRetries    int
}

func Load() Config {
	cfg := Config{
		Port:          envOrDefault("TASK_SYNC_PORT", "8085"),
		LogLevel:      envOrDefault("TASK_SYNC_LOG_LEVEL", "info"),
		DatabaseURL:   envOrDefault("TASK_SYNC_DATABASE_URL", "file:tasksync.db"),
		RemoteBaseURL: envOrDefault("TASK_SYNC_REMOTE_URL", "http://localhost:8090"),
		BatchSize:     intEnvOrDefault("TASK_SYNC_BATCH_SIZE", 50),
		ProbeTimeout:  time.Duration(intEnvOrDefault("TASK_SYNC_PROBE_TIMEOUT_SECONDS", 5)) * time.Second,
		SyncInterval:  time.Duration(intEnvOrDefault("TASK_SYNC_INTERVAL_SECONDS", 30)) * time.Second,
		MaxRetries:    intEnvOrDefault("TASK_SYNC_MAX_RETRIES", 25),
	}
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	}
	cfg.RemoteBaseURL = strings.TrimRight(cfg.RemoteBaseURL, "/")
	return cfg
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func intEnvOrDefault(key string, fallback int) int {
	if i, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && i > 0 {
		return i
	}
	return fallback
}
