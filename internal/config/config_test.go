package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Schedule.Timezone != "Europe/Prague" {
		t.Errorf("expected timezone 'Europe/Prague', got %q", cfg.Schedule.Timezone)
	}
	if cfg.Schedule.Slots != 24 {
		t.Errorf("expected 24 slots, got %d", cfg.Schedule.Slots)
	}
	if cfg.Quota.WeekdayLimit != 8 || cfg.Quota.WeekendLimit != 5 || cfg.Quota.MonthlyLimit != 200 {
		t.Errorf("unexpected quota limits: %+v", cfg.Quota)
	}
	if cfg.Jobs.StaleAfter != 10*time.Minute {
		t.Errorf("expected stale_after 10m, got %v", cfg.Jobs.StaleAfter)
	}
	if cfg.Sources.Trends.URL == "" {
		t.Error("expected trends feed URL to be populated")
	}
	if cfg.Cron.Refresh != "0 6,9,12,15,18,21 * * *" {
		t.Errorf("unexpected refresh cron %q", cfg.Cron.Refresh)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
generation:
  provider: cohere
schedule:
  slots: 12
jobs:
  stale_after: 90s
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Generation.Provider != "cohere" {
		t.Errorf("expected provider 'cohere', got %q", cfg.Generation.Provider)
	}
	if cfg.Schedule.Slots != 12 {
		t.Errorf("expected 12 slots, got %d", cfg.Schedule.Slots)
	}
	if cfg.Jobs.StaleAfter != 90*time.Second {
		t.Errorf("expected stale_after 90s, got %v", cfg.Jobs.StaleAfter)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Generation.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.Generation.OllamaURL)
	}
	if cfg.Quota.WeekdayLimit != 8 {
		t.Errorf("expected default weekday limit, got %d", cfg.Quota.WeekdayLimit)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"hours":   "schedule:\n  active_start_hour: 22\n  active_end_hour: 6\n",
		"slots":   "schedule:\n  slots: 0\n",
		"quota":   "quota:\n  monthly_limit: -1\n",
		"backend": "cache:\n  backend: memcached\n",
		"yaml":    "schedule: [",
	}
	for name, data := range cases {
		if _, err := parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		t.Error("expected kafka brokers to be populated from file")
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TRENDPRESS_TEST_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRENDPRESS_TEST_KEY", "")
	os.Unsetenv("TRENDPRESS_TEST_KEY")

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := Secret("TRENDPRESS_TEST_KEY"); got != "from-dotenv" {
		t.Errorf("expected value from .env, got %q", got)
	}
	if Secret("") != "" {
		t.Error("expected empty secret for empty env name")
	}
}

func TestDataPaths(t *testing.T) {
	cfg := &Config{}
	if cfg.GetDataDir() == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Storage = Storage{DataDir: "/custom/path", Database: "trendpress.db", RunStateFile: "/var/run/tp.json"}
	if got := cfg.DatabasePath(); got != filepath.Join("/custom/path", "trendpress.db") {
		t.Errorf("unexpected database path %q", got)
	}
	if got := cfg.RunStatePath(); got != "/var/run/tp.json" {
		t.Errorf("absolute run state path should be kept, got %q", got)
	}
}
