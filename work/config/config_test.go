package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadFromTempFile(t *testing.T, body string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	return cfg
}

func TestLoadParsesDurationStrings(t *testing.T) {
	cfg := loadFromTempFile(t, `{
		"listenPort": 9090,
		"streamTimeout": "15s",
		"cacheDuration": "1h",
		"glow": {"enabled": true, "interval": "500ms", "alpha": 0.3}
	}`)

	if cfg.ListenPort != 9090 {
		t.Errorf("listenPort = %d", cfg.ListenPort)
	}
	if cfg.StreamTimeout != 15*time.Second {
		t.Errorf("streamTimeout = %v", cfg.StreamTimeout)
	}
	if cfg.CacheDuration != time.Hour {
		t.Errorf("cacheDuration = %v", cfg.CacheDuration)
	}
	if cfg.Glow.Interval != 500*time.Millisecond {
		t.Errorf("glow interval = %v", cfg.Glow.Interval)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"streamTimeout": "soon"}`), 0644)

	if _, err := loadFromFile(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	validateAndSetDefaults(cfg)

	if cfg.ListenPort != 8080 {
		t.Errorf("listenPort = %d", cfg.ListenPort)
	}
	if cfg.DefaultEngine != "hls" {
		t.Errorf("defaultEngine = %q", cfg.DefaultEngine)
	}
	if cfg.StreamTimeout <= 0 || cfg.CacheDuration <= 0 {
		t.Error("durations not defaulted")
	}
	if cfg.Glow.Alpha <= 0 || cfg.Glow.Alpha > 1 {
		t.Errorf("glow alpha = %v", cfg.Glow.Alpha)
	}
	if cfg.BufferSizeMB <= 0 {
		t.Errorf("bufferSizeMB = %d", cfg.BufferSizeMB)
	}
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := &Config{DefaultEngine: "laserdisc"}
	validateAndSetDefaults(cfg)
	if cfg.DefaultEngine != "hls" {
		t.Errorf("defaultEngine = %q, want hls fallback", cfg.DefaultEngine)
	}
}

func TestValidateNamesAnonymousSources(t *testing.T) {
	cfg := &Config{
		Sources: []SourceConfig{{URL: "http://example.com/a.m3u8"}},
	}
	validateAndSetDefaults(cfg)

	if cfg.Sources[0].Name != "Source_1" {
		t.Errorf("source name = %q", cfg.Sources[0].Name)
	}
	if cfg.Sources[0].Type != "m3u" {
		t.Errorf("source type = %q", cfg.Sources[0].Type)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BASE_URL", "https://iptv.example.com")
	t.Setenv("HIGHLIGHTS_UPSTREAM", "https://api.example.com/highlights")

	cfg := getDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.BaseURL != "https://iptv.example.com" {
		t.Errorf("baseURL = %q", cfg.BaseURL)
	}
	if cfg.Highlights.UpstreamURL != "https://api.example.com/highlights" {
		t.Errorf("highlights upstream = %q", cfg.Highlights.UpstreamURL)
	}
}

func TestCreateExampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	if err := CreateExampleConfig(path); err != nil {
		t.Fatalf("CreateExampleConfig: %v", err)
	}

	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("loading example: %v", err)
	}
	if len(cfg.Sources) == 0 || len(cfg.Channels) == 0 {
		t.Error("example config missing channels or sources")
	}
	if cfg.StreamTimeout != 10*time.Second {
		t.Errorf("streamTimeout = %v", cfg.StreamTimeout)
	}
}
