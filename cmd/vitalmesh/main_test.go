package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("VITALMESH_CONFIG")
	defer os.Setenv("VITALMESH_CONFIG", originalEnv)

	os.Setenv("VITALMESH_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is invalid.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
node:
  id: test-node

database:
  path: ""
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("VITALMESH_CONFIG")
	defer os.Setenv("VITALMESH_CONFIG", originalEnv)
	os.Setenv("VITALMESH_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("VITALMESH_CONFIG")
	defer os.Setenv("VITALMESH_CONFIG", originalEnv)

	os.Unsetenv("VITALMESH_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("VITALMESH_CONFIG")
	defer os.Setenv("VITALMESH_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("VITALMESH_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_StartupAndShutdown tests full startup with only the socket
// transport enabled, so no external services are required. The context
// timeout stands in for a shutdown signal.
func TestRun_StartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")

	configContent := `
node:
  id: test-node

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

transports:
  wireless:
    enabled: false
  socket:
    enabled: true
  serial:
    enabled: false

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  host: "127.0.0.1"
  port: 18293
  timeouts:
    read: 30
    write: 30
    idle: 60
  websocket:
    path: /ws
    max_message_size: 8192
    ping_interval: 30
    pong_timeout: 10

logging:
  level: error
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("VITALMESH_CONFIG")
	defer os.Setenv("VITALMESH_CONFIG", originalEnv)
	os.Setenv("VITALMESH_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Errorf("run() returned error on clean shutdown: %v", err)
	}
}

// TestRun_NoTransportsEnabled verifies run refuses to start when every
// transport is disabled.
func TestRun_NoTransportsEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")

	configContent := `
node:
  id: test-node

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

transports:
  wireless:
    enabled: false
  socket:
    enabled: false
  serial:
    enabled: false

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("VITALMESH_CONFIG")
	defer os.Setenv("VITALMESH_CONFIG", originalEnv)
	os.Setenv("VITALMESH_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with no transports enabled")
	}
}
