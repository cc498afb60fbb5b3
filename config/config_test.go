package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Cache.GlobalCapacity != 1000 || cfg.Cache.PrivateCapacity != 1000 {
		t.Errorf("capacities = %d/%d, want 1000/1000", cfg.Cache.GlobalCapacity, cfg.Cache.PrivateCapacity)
	}
	if cfg.Cache.CursorTTL != 300*time.Second {
		t.Errorf("cursor ttl = %v", cfg.Cache.CursorTTL)
	}
	if cfg.Cache.SweepInterval != 15*time.Second {
		t.Errorf("sweep interval = %v", cfg.Cache.SweepInterval)
	}
	if cfg.Presence.ActiveWindow != 11*time.Second {
		t.Errorf("active window = %v", cfg.Presence.ActiveWindow)
	}
	if cfg.LogLevel.Level() != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.LogLevel.Level())
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "service:\n  log_level: debug\ncache:\n  global_capacity: 10\n  private_capacity: 20\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("IM_CHAT_CACHE_PRIVATE_CAPACITY", "30")

	cfg, err := LoadConfig(path, []string{"--service.addr", ":9999"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Cache.GlobalCapacity != 10 {
		t.Errorf("file value lost: global_capacity = %d", cfg.Cache.GlobalCapacity)
	}
	if cfg.Cache.PrivateCapacity != 30 {
		t.Errorf("env did not override file: private_capacity = %d", cfg.Cache.PrivateCapacity)
	}
	if cfg.Service.Addr != ":9999" {
		t.Errorf("flag did not override: addr = %q", cfg.Service.Addr)
	}
	if cfg.LogLevel.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", cfg.LogLevel.Level())
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("IM_CHAT_CACHE_GLOBAL_CAPACITY", "0")

	_, err := LoadConfig("", nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "capacities") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
