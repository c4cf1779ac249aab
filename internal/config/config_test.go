package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STRIDE_HOME", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("data_dir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.SyncInterval != 60*time.Second {
		t.Errorf("sync_interval = %v", cfg.SyncInterval)
	}
	if cfg.ServerURL != "http://localhost:8080" {
		t.Errorf("server_url = %q", cfg.ServerURL)
	}
	if cfg.Serve.AuthIssuer != "stride" {
		t.Errorf("serve.auth_issuer = %q", cfg.Serve.AuthIssuer)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STRIDE_HOME", dir)

	body := "server_url: https://sync.example.com\nsync_interval: 5m\nserve:\n  auth_secret: hunter2hunter2\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "https://sync.example.com" {
		t.Errorf("server_url = %q", cfg.ServerURL)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("sync_interval = %v", cfg.SyncInterval)
	}
	if cfg.Serve.AuthSecret != "hunter2hunter2" {
		t.Errorf("serve.auth_secret = %q", cfg.Serve.AuthSecret)
	}
	// Unset keys keep their defaults.
	if cfg.DashboardAddr != "localhost:9090" {
		t.Errorf("dashboard_addr = %q", cfg.DashboardAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STRIDE_HOME", dir)
	t.Setenv("STRIDE_SERVER_URL", "https://env.example.com")

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("server_url: https://file.example.com\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "https://env.example.com" {
		t.Errorf("server_url = %q, want environment value", cfg.ServerURL)
	}
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STRIDE_HOME", dir)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if path != filepath.Join(dir, "config.yaml") {
		t.Errorf("path = %q", path)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}
	if cfg.DatabasePath() != filepath.Join(dir, "stride.db") {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath())
	}

	if _, err := WriteDefault(); err == nil {
		t.Fatal("expected error writing over an existing config")
	}
}
