package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTOML(t *testing.T, path, logLevel string) {
	t.Helper()
	content := `
[server]
log_level = "` + logLevel + `"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credbroker.toml")
	writeTOML(t, path, "info")

	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := Watch(path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.OnChange(func(old, new *Config) {
		select {
		case reloaded <- new:
		default:
		}
	})

	writeTOML(t, path, "debug")

	select {
	case cfg := <-reloaded:
		if cfg.Server.LogLevel != "debug" {
			t.Errorf("reloaded LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
		}
		if Get().Server.LogLevel != "debug" {
			t.Error("global config not updated after reload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after config write")
	}
}

func TestWatch_KeepsConfigOnInvalidWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credbroker.toml")
	writeTOML(t, path, "warn")

	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := Watch(path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	writeTOML(t, path, "not-a-level")

	// The failed reload keeps the previous config. Give the debounce and
	// reload attempt time to run before checking.
	time.Sleep(500 * time.Millisecond)
	if Get().Server.LogLevel != "warn" {
		t.Errorf("invalid write replaced config: got %q", Get().Server.LogLevel)
	}
}

func TestWatch_EmptyPath(t *testing.T) {
	if _, err := Watch(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
