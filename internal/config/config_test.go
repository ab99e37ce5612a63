package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want 256", cfg.QueueSize)
	}
	if cfg.InitTimeout.Std() != 5*time.Second {
		t.Errorf("InitTimeout = %s, want 5s", cfg.InitTimeout.Std())
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reflow.toml", `
log_level = "debug"
queue_size = 64
init_timeout = "10s"

[snapshot]
dir = "/var/lib/reflow"
interval = "500ms"

[script]
dir = "scripts"
timeout = "50ms"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.QueueSize != 64 {
		t.Errorf("QueueSize = %d, want 64", cfg.QueueSize)
	}
	if cfg.InitTimeout.Std() != 10*time.Second {
		t.Errorf("InitTimeout = %s, want 10s", cfg.InitTimeout.Std())
	}
	if cfg.Snapshot.Dir != "/var/lib/reflow" {
		t.Errorf("Snapshot.Dir = %q", cfg.Snapshot.Dir)
	}
	if cfg.Snapshot.Interval.Std() != 500*time.Millisecond {
		t.Errorf("Snapshot.Interval = %s, want 500ms", cfg.Snapshot.Interval.Std())
	}
	if cfg.Script.Timeout.Std() != 50*time.Millisecond {
		t.Errorf("Script.Timeout = %s, want 50ms", cfg.Script.Timeout.Std())
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reflow.yaml", `
log_level: warn
queue_size: 32
snapshot:
  dir: snaps
  interval: 1s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.QueueSize != 32 {
		t.Errorf("QueueSize = %d, want 32", cfg.QueueSize)
	}
	if cfg.Snapshot.Interval.Std() != time.Second {
		t.Errorf("Snapshot.Interval = %s, want 1s", cfg.Snapshot.Interval.Std())
	}
	// Untouched fields keep their defaults.
	if cfg.InitTimeout.Std() != 5*time.Second {
		t.Errorf("InitTimeout = %s, want default 5s", cfg.InitTimeout.Std())
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reflow.toml", `log_level = "debug"`)
	t.Setenv("REFLOW_LOG_LEVEL", "error")
	t.Setenv("REFLOW_QUEUE_SIZE", "16")
	t.Setenv("REFLOW_SNAPSHOT_INTERVAL", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env wins)", cfg.LogLevel)
	}
	if cfg.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want 16", cfg.QueueSize)
	}
	if cfg.Snapshot.Interval.Std() != 3*time.Second {
		t.Errorf("Snapshot.Interval = %s, want 3s", cfg.Snapshot.Interval.Std())
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file accepted")
	}

	dir := t.TempDir()
	bad := writeFile(t, dir, "reflow.toml", `log_level = "loud"`)
	if _, err := Load(bad); err == nil {
		t.Error("invalid log_level accepted")
	}

	unsupported := writeFile(t, dir, "reflow.ini", `log_level=info`)
	if _, err := Load(unsupported); err == nil {
		t.Error("unsupported format accepted")
	}

	broken := writeFile(t, dir, "broken.toml", `log_level = `)
	if _, err := Load(broken); err == nil {
		t.Error("malformed TOML accepted")
	}
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "reflow.toml", `log_level = "info"`)

	var mu sync.Mutex
	var got []Config
	w, err := NewWatcher(path, func(cfg Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	}, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	writeFile(t, dir, "reflow.toml", `log_level = "debug"`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("no reload observed")
	}
	if got[len(got)-1].LogLevel != "debug" {
		t.Errorf("reloaded LogLevel = %q, want debug", got[len(got)-1].LogLevel)
	}
}

func TestWatcher_BadReloadKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "reflow.toml", `log_level = "info"`)

	var mu sync.Mutex
	errs := 0
	reloads := 0
	w, err := NewWatcher(path, func(Config) {
		mu.Lock()
		reloads++
		mu.Unlock()
	},
		WithDebounce(20*time.Millisecond),
		WithErrorHandler(func(error) {
			mu.Lock()
			errs++
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	writeFile(t, dir, "reflow.toml", `log_level = "nope"`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := errs
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Bad content surfaced as an error, then a good write still reloads.
	writeFile(t, dir, "reflow.toml", `log_level = "warn"`)
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := reloads
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if errs == 0 {
		t.Error("bad config produced no error callback")
	}
	if reloads == 0 {
		t.Error("watcher stopped reloading after a bad config")
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reflow.toml", `log_level = "info"`)
	w, err := NewWatcher(path, func(Config) {})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
