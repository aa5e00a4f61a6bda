package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 9090
log_level = "debug"
data_dir = "` + dir + `"

[storage]
backend = "local"
local_dir = "` + dir + `"

[cache]
answer_ttl_seconds = 120

[sql]
auto_approve = true
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.Cache.AnswerTTLSeconds != 120 {
		t.Errorf("AnswerTTLSeconds: got %d, want 120", cfg.Cache.AnswerTTLSeconds)
	}
	// Unset sections keep their defaults.
	if cfg.Cache.SQLGenTTLSeconds != DefaultSQLGenTTL {
		t.Errorf("SQLGenTTLSeconds: got %d, want default %d", cfg.Cache.SQLGenTTLSeconds, DefaultSQLGenTTL)
	}
	if !cfg.SQL.AutoApprove {
		t.Error("AutoApprove: got false, want true")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 7787
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("RAGCACHE_SERVER_PORT", "8888")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8888 {
		t.Errorf("Port with env override: got %d, want 8888", cfg.Server.Port)
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
port = 0
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port: got %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("Storage.Backend: got %q, want local", cfg.Storage.Backend)
	}
	if cfg.Cache.AnswerTTLSeconds != DefaultAnswerTTL {
		t.Errorf("AnswerTTLSeconds: got %d, want %d", cfg.Cache.AnswerTTLSeconds, DefaultAnswerTTL)
	}
	if cfg.Cache.EmbeddingTTLSeconds != DefaultEmbeddingTTL {
		t.Errorf("EmbeddingTTLSeconds: got %d, want %d", cfg.Cache.EmbeddingTTLSeconds, DefaultEmbeddingTTL)
	}
	if cfg.SQL.AutoApprove {
		t.Error("AutoApprove: got true, want false by default")
	}
	if cfg.Provider.Seed != DefaultSQLSeed {
		t.Errorf("Provider.Seed: got %d, want %d", cfg.Provider.Seed, DefaultSQLSeed)
	}
}

func TestProviderConfig_TimeoutDuration(t *testing.T) {
	tests := []struct {
		timeout int
		wantSec int
	}{
		{0, 30},  // default
		{-1, 30}, // negative defaults
		{60, 60},
		{10, 10},
	}

	for _, tt := range tests {
		p := ProviderConfig{Timeout: tt.timeout}
		got := p.TimeoutDuration().Seconds()
		if int(got) != tt.wantSec {
			t.Errorf("TimeoutDuration(%d): got %v, want %ds", tt.timeout, got, tt.wantSec)
		}
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	// Reset to ensure clean state.
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	set(cfg)

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
[server]
port = 9999
log_level = "warn"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(importPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ImportConfig(importPath); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}

	cfg := Get()
	if cfg.Server.Port != 9999 {
		t.Errorf("Port after import: got %d, want 9999", cfg.Server.Port)
	}

	// Reset to default to not affect other tests.
	set(DefaultConfig())
}
