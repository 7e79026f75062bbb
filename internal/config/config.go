// Package config loads cardlog settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the engine and CLI.
type Config struct {
	DataDir          string        `env:"CARDLOG_DATA_DIR" envDefault:".cardlog"`
	Session          string        `env:"CARDLOG_SESSION" envDefault:"default"`
	Archive          string        `env:"CARDLOG_ARCHIVE" envDefault:"default"`
	SnapshotInterval int64         `env:"CARDLOG_SNAPSHOT_INTERVAL" envDefault:"20"`
	PollInterval     time.Duration `env:"CARDLOG_POLL_INTERVAL" envDefault:"250ms"`
	EnrichLimit      int           `env:"CARDLOG_ENRICH_LIMIT" envDefault:"4"`
	LogLevel         string        `env:"CARDLOG_LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"CARDLOG_LOG_FORMAT" envDefault:"text"`
}

// Load reads an optional .env file, then the environment.
// Variables already set win over the file.
func Load(dotenv string) (Config, error) {
	if err := LoadDotEnv(dotenv); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: data dir is required")
	}
	if c.Session == "" {
		return fmt.Errorf("config: session is required")
	}
	if !namePattern.MatchString(c.Archive) {
		return fmt.Errorf("config: archive name %q must match %s", c.Archive, namePattern)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("config: snapshot interval %d is negative", c.SnapshotInterval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive")
	}
	if c.EnrichLimit < 1 {
		return fmt.Errorf("config: enrich limit must be at least 1")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log format %q is not text or json", c.LogFormat)
	}
	return nil
}

// LogPath is the SQLite file holding every live session.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// ArchivePath is the SQLite file of the named archive.
func (c Config) ArchivePath(name string) string {
	return filepath.Join(c.DataDir, "archive-"+name+".db")
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return l, nil
}
