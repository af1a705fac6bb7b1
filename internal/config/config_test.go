package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HistoryCap != 1000 {
		t.Fatalf("expected default history cap 1000, got %d", cfg.HistoryCap)
	}
	if cfg.DetectionWindow != 10*time.Minute {
		t.Fatalf("expected default detection window 10m, got %v", cfg.DetectionWindow)
	}
	if cfg.SkewWarning != 5*time.Minute || cfg.SkewCritical != time.Hour {
		t.Fatalf("unexpected skew defaults: %v / %v", cfg.SkewWarning, cfg.SkewCritical)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HISTORY_CAP", "250")
	t.Setenv("DETECTION_WINDOW", "30m")
	t.Setenv("HTTP_LISTEN_ADDR", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HistoryCap != 250 {
		t.Fatalf("env history cap not applied: %d", cfg.HistoryCap)
	}
	if cfg.DetectionWindow != 30*time.Minute {
		t.Fatalf("env detection window not applied: %v", cfg.DetectionWindow)
	}
	if cfg.HTTPListenAddr != ":9999" {
		t.Fatalf("env listen addr not applied: %s", cfg.HTTPListenAddr)
	}
}

func TestLoadFileOverridesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	content := "app_name: edge-monitor\nhistory_cap: 42\ndetection_window: 1h\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("HISTORY_CAP", "250")
	t.Setenv("MONITOR_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "edge-monitor" {
		t.Fatalf("file app name not applied: %s", cfg.AppName)
	}
	if cfg.HistoryCap != 42 {
		t.Fatalf("file must override env, got %d", cfg.HistoryCap)
	}
	if cfg.DetectionWindow != time.Hour {
		t.Fatalf("file detection window not applied: %v", cfg.DetectionWindow)
	}
	// Entries absent from the file keep their defaults.
	if cfg.SkewWarning != 5*time.Minute {
		t.Fatalf("unset file entry must not change the value: %v", cfg.SkewWarning)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	if err := os.WriteFile(path, []byte("detection_window: not-a-duration\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("MONITOR_CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatalf("an unparseable duration must fail loading")
	}

	t.Setenv("MONITOR_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("a missing config file must fail loading")
	}
}
