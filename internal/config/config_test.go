package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		ServerURL: "https://chat.example.net",
		NatsURL:   "nats://chat.example.net:4222",
		UserID:    "user1",
		Peers:     []string{"user2", "user3"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ServerURL != "https://chat.example.net" {
		t.Errorf("ServerURL = %q, want saved value", loaded.ServerURL)
	}
	if len(loaded.Peers) != 2 || loaded.Peers[0] != "user2" {
		t.Errorf("Peers = %v, want [user2 user3]", loaded.Peers)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{ServerURL: "https://x", UserID: "u"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestValidate(t *testing.T) {
	if err := (&Config{UserID: "u"}).Validate(); err == nil {
		t.Error("Validate() should require server_url")
	}
	if err := (&Config{ServerURL: "https://x"}).Validate(); err == nil {
		t.Error("Validate() should require user_id")
	}
	if err := (&Config{ServerURL: "https://x", UserID: "u"}).Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestSyncConfig(t *testing.T) {
	cfg := &Config{PollIntervalMS: 1500, PendingWindow: 4}
	sc := cfg.SyncConfig()
	if sc.PollInterval != 1500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 1.5s", sc.PollInterval)
	}
	if sc.PendingWindow != 4 {
		t.Errorf("PendingWindow = %d, want 4", sc.PendingWindow)
	}
	// Unset knobs stay zero so the engine applies its defaults.
	if sc.BackoffBase != 0 {
		t.Errorf("BackoffBase = %v, want 0", sc.BackoffBase)
	}
}
