package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/test"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
}

func TestValidate_BadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for port 70000")
	}
	if !strings.Contains(err.Error(), "server.port") {
		t.Errorf("error should mention server.port: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level: %v", err)
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := validConfig()
	cfg.Server.DataDir = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty data_dir")
	}
}

func TestValidate_BadStorageBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "s3"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
	if !strings.Contains(err.Error(), "storage.backend") {
		t.Errorf("error should mention storage.backend: %v", err)
	}
}

func TestValidate_FilerRequiresURL(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "filer"
	cfg.Storage.FilerURL = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for filer backend without url")
	}
}

func TestValidate_ZeroTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.AnswerTTLSeconds = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for zero answer TTL")
	}
	if !strings.Contains(err.Error(), "answer_ttl_seconds") {
		t.Errorf("error should mention answer_ttl_seconds: %v", err)
	}
}

func TestValidate_NegativeCost(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.SQLGenCostUSD = -0.01

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative cost")
	}
}

func TestValidate_ChunkingBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Chunking.MinChunkSize = cfg.Chunking.ChunkSize + 1

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for min_chunk_size > chunk_size")
	}

	cfg = validConfig()
	cfg.Chunking.Overlap = cfg.Chunking.ChunkSize

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for overlap >= chunk_size")
	}
}

func TestValidate_ZeroTopK(t *testing.T) {
	cfg := validConfig()
	cfg.Router.DefaultTopK = 0

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for default_top_k = 0")
	}
}

func TestValidate_EmptyProviderBaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Provider.BaseURL = ""

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for empty provider base_url")
	}
}

func TestValidate_SQLRetentionZero(t *testing.T) {
	cfg := validConfig()
	cfg.SQL.RetentionDays = 0

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for retention_days = 0")
	}
}

func TestValidate_SQLMaxRowsZero(t *testing.T) {
	cfg := validConfig()
	cfg.SQL.MaxRows = 0

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for max_rows = 0")
	}
}

func TestValidate_BadTracingExporter(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for unknown tracing exporter")
	}
}

func TestValidate_BadSampleRate(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.SampleRate = 1.5

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for sample_rate > 1")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Server.LogLevel = "bad"
	cfg.Router.DefaultTopK = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "server.port") || !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention multiple fields: %v", err)
	}
}

func TestIsValidEnum(t *testing.T) {
	if !isValidEnum("INFO", ValidLogLevels) {
		t.Error("INFO should be valid (case-insensitive)")
	}
	if isValidEnum("verbose", ValidLogLevels) {
		t.Error("verbose should not be valid")
	}
}
