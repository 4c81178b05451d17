package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Data layout. Everything shared between worker processes lives under
	// DataDir on one filesystem; coordination happens only through files.
	DataDir      string
	CaptureDir   string // raw capture files written by the fetcher
	ArtifactPath string // derived schedule.json
	TabularPath  string // companion schedule.csv
	MarkerPath   string // touched when an async fetch run completes
	SourcesFile  string // YAML list of calendar feed sources

	// External collaborators
	BuildCmd string // rebuild pipeline executable
	FetchCmd string // per-source fetch executable

	// Rebuild tuning
	CacheTTL        time.Duration
	EmptyRetry      time.Duration
	BuildTimeout    time.Duration
	BuildWindowDays int

	// Background loops
	FetchInterval   time.Duration
	CleanupInterval time.Duration
	RetentionDays   int

	// HTTP
	Port string

	// Optional Postgres mirror of the tabular export
	PostgresDSN    string
	PostgresSchema string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	dataDir := getEnv("ROOMSCHED_DATA_DIR", "/var/lib/roomsched")

	return Config{
		DataDir:      dataDir,
		CaptureDir:   getEnv("ROOMSCHED_CAPTURE_DIR", filepath.Join(dataDir, "captures")),
		ArtifactPath: getEnv("ROOMSCHED_ARTIFACT", filepath.Join(dataDir, "schedule.json")),
		TabularPath:  getEnv("ROOMSCHED_TABULAR", filepath.Join(dataDir, "schedule.csv")),
		MarkerPath:   getEnv("ROOMSCHED_MARKER", filepath.Join(dataDir, "captures", ".fetch-complete")),
		SourcesFile:  getEnv("ROOMSCHED_SOURCES", filepath.Join(dataDir, "sources.yaml")),

		BuildCmd: getEnv("ROOMSCHED_BUILD_CMD", "roomsched-build"),
		FetchCmd: getEnv("ROOMSCHED_FETCH_CMD", "roomsched-fetch"),

		CacheTTL:        getDuration("ROOMSCHED_CACHE_TTL", 10*time.Second),
		EmptyRetry:      getDuration("ROOMSCHED_EMPTY_RETRY", 30*time.Second),
		BuildTimeout:    getDuration("ROOMSCHED_BUILD_TIMEOUT", 120*time.Second),
		BuildWindowDays: getInt("ROOMSCHED_BUILD_WINDOW_DAYS", 60),

		FetchInterval:   getDuration("ROOMSCHED_FETCH_INTERVAL", time.Hour),
		CleanupInterval: getDuration("ROOMSCHED_CLEANUP_INTERVAL", 24*time.Hour),
		RetentionDays:   getInt("ROOMSCHED_RETENTION_DAYS", 14),

		Port: getEnv("ROOMSCHED_PORT", "8750"),

		PostgresDSN:    getEnv("ROOMSCHED_PG_DSN", ""),
		PostgresSchema: getEnv("ROOMSCHED_PG_SCHEMA", "public"),

		LogFile:  getEnv("ROOMSCHED_LOG_FILE", filepath.Join(dataDir, "roomsched.log")),
		LogLevel: parseLogLevel(getEnv("ROOMSCHED_LOG_LEVEL", "INFO")),
	}
}

// RebuildLockPath is the lock file guarding artifact rebuilds.
func (c Config) RebuildLockPath() string {
	return filepath.Join(c.DataDir, "rebuild.lock")
}

// LeaderLockPath is the lock file deciding which process owns background
// loops. Distinct from the rebuild lock; the two must never be merged.
func (c Config) LeaderLockPath() string {
	return filepath.Join(c.DataDir, "leader.lock")
}

// Source is one published calendar feed to ingest.
type Source struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads the YAML source list. A missing file is not an error;
// it just means there is nothing to fetch yet.
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	for i, s := range f.Sources {
		if s.URL == "" {
			return nil, fmt.Errorf("source %d (%q) has no url", i, s.Name)
		}
	}

	return f.Sources, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare numbers are accepted as seconds.
		if n, err := strconv.Atoi(val); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
