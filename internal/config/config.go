// Package config reads and writes the global ~/.gap/config.toml and knows
// the layout of the ~/.gap directory.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gapchat/gap/internal/sync"
)

// Config represents the global ~/.gap/config.toml.
type Config struct {
	ServerURL string `toml:"server_url"` // message store HTTP endpoint
	NatsURL   string `toml:"nats_url"`   // live feed endpoint
	UserID    string `toml:"user_id"`    // this participant's id
	// Peers are the participant ids gapd mirrors rooms for.
	Peers []string `toml:"peers"`

	// CacheRetentionDays prunes cached history older than this many days on
	// daemon start. Zero keeps everything.
	CacheRetentionDays int `toml:"cache_retention_days"`

	PollIntervalMS int `toml:"poll_interval_ms"`
	BackoffBaseMS  int `toml:"backoff_base_ms"`
	BackoffCapMS   int `toml:"backoff_cap_ms"`
	FetchAttempts  int `toml:"fetch_attempts"`
	PendingWindow  int `toml:"pending_window"`
	MaxContentLen  int `toml:"max_content_len"`
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks the fields every binary needs.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("config: server_url is required")
	}
	if c.UserID == "" {
		return errors.New("config: user_id is required")
	}
	return nil
}

// SyncConfig converts the tuning knobs to the engine's config. Zero values
// fall back to the engine defaults.
func (c *Config) SyncConfig() sync.Config {
	return sync.Config{
		PollInterval:  time.Duration(c.PollIntervalMS) * time.Millisecond,
		BackoffBase:   time.Duration(c.BackoffBaseMS) * time.Millisecond,
		BackoffCap:    time.Duration(c.BackoffCapMS) * time.Millisecond,
		FetchAttempts: c.FetchAttempts,
		PendingWindow: c.PendingWindow,
		MaxContentLen: c.MaxContentLen,
	}
}

// BaseDir returns ~/.gap.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gap")
}

// DefaultPath returns the global config file path.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// CachePath returns the local history cache path.
func CachePath() string {
	return filepath.Join(BaseDir(), "cache.db")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the log file path for the named binary.
func LogPath(name string) string {
	return filepath.Join(LogDir(), name+".log")
}

// EnsureDirs creates the ~/.gap directory tree with proper permissions.
func EnsureDirs() error {
	for _, d := range []string{BaseDir(), LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
