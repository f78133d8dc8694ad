package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PROTECTOR_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

// TestRun_NoInstances verifies validation rejects a config without instances.
func TestRun_NoInstances(t *testing.T) {
	t.Setenv("PROTECTOR_CONFIG", writeConfig(t, `
mqtt:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without instances")
	}
	if !strings.Contains(err.Error(), "at least one instance") {
		t.Errorf("error = %v, want instance validation failure", err)
	}
}

// TestRun_UnreachableBroker verifies run fails fast when MQTT is enabled
// but no broker is listening.
func TestRun_UnreachableBroker(t *testing.T) {
	t.Setenv("PROTECTOR_CONFIG", writeConfig(t, `
instances:
  - id: site-a
    base_url: "http://127.0.0.1:1"
    session_cookie: "cookie"
    partition_id: 1
mqtt:
  enabled: true
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
  reconnect:
    initial_delay: 1
    max_delay: 5
api:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without a broker")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("error = %v, want MQTT connection failure", err)
	}
}

// TestRun_ShutdownWhileReconnecting verifies a clean shutdown while the
// vendor system keeps rejecting negotiation.
func TestRun_ShutdownWhileReconnecting(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer vendor.Close()

	t.Setenv("PROTECTOR_CONFIG", writeConfig(t, `
instances:
  - id: site-a
    base_url: "`+vendor.URL+`"
    session_cookie: "cookie"
    partition_id: 1
hub:
  reconnect_base: 50ms
  reconnect_max: 100ms
  shutdown_timeout: 2s
mqtt:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want clean shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("PROTECTOR_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("PROTECTOR_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
