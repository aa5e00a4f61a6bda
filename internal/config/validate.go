package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Storage validation
	if !isValidEnum(cfg.Storage.Backend, ValidStorageBackends) {
		errs = append(errs, fmt.Sprintf("storage.backend must be one of %v, got %q", ValidStorageBackends, cfg.Storage.Backend))
	}
	if cfg.Storage.LocalDir == "" {
		errs = append(errs, "storage.local_dir must not be empty")
	}
	if strings.EqualFold(cfg.Storage.Backend, "filer") && cfg.Storage.FilerURL == "" {
		errs = append(errs, "storage.filer_url must be set when storage.backend is filer")
	}
	if cfg.Storage.FilerTimeout < 0 {
		errs = append(errs, fmt.Sprintf("storage.filer_timeout must be non-negative, got %d", cfg.Storage.FilerTimeout))
	}

	// Cache validation: every type needs a positive TTL, otherwise entries
	// would either never expire or be born expired.
	if cfg.Cache.MaxMemoryEntries < 1 {
		errs = append(errs, fmt.Sprintf("cache.max_memory_entries must be at least 1, got %d", cfg.Cache.MaxMemoryEntries))
	}
	ttls := map[string]int{
		"cache.answer_ttl_seconds":     cfg.Cache.AnswerTTLSeconds,
		"cache.sql_gen_ttl_seconds":    cfg.Cache.SQLGenTTLSeconds,
		"cache.sql_result_ttl_seconds": cfg.Cache.SQLResultTTLSeconds,
		"cache.embedding_ttl_seconds":  cfg.Cache.EmbeddingTTLSeconds,
	}
	for key, ttl := range ttls {
		if ttl < 1 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %d", key, ttl))
		}
	}
	costs := map[string]float64{
		"cache.answer_cost_usd":     cfg.Cache.AnswerCostUSD,
		"cache.sql_gen_cost_usd":    cfg.Cache.SQLGenCostUSD,
		"cache.sql_result_cost_usd": cfg.Cache.SQLResultCostUSD,
		"cache.embedding_cost_usd":  cfg.Cache.EmbeddingCostUSD,
	}
	for key, cost := range costs {
		if cost < 0 {
			errs = append(errs, fmt.Sprintf("%s must be non-negative, got %f", key, cost))
		}
	}
	if cfg.Cache.PurgeIntervalSeconds < 1 {
		errs = append(errs, fmt.Sprintf("cache.purge_interval_seconds must be positive, got %d", cfg.Cache.PurgeIntervalSeconds))
	}

	// Chunking validation
	if cfg.Chunking.ChunkSize < 1 {
		errs = append(errs, fmt.Sprintf("chunking.chunk_size must be positive, got %d", cfg.Chunking.ChunkSize))
	}
	if cfg.Chunking.MinChunkSize < 0 {
		errs = append(errs, fmt.Sprintf("chunking.min_chunk_size must be non-negative, got %d", cfg.Chunking.MinChunkSize))
	}
	if cfg.Chunking.MinChunkSize > cfg.Chunking.ChunkSize {
		errs = append(errs, fmt.Sprintf("chunking.min_chunk_size (%d) must not exceed chunking.chunk_size (%d)",
			cfg.Chunking.MinChunkSize, cfg.Chunking.ChunkSize))
	}
	if cfg.Chunking.Overlap < 0 {
		errs = append(errs, fmt.Sprintf("chunking.overlap must be non-negative, got %d", cfg.Chunking.Overlap))
	}
	if cfg.Chunking.Overlap >= cfg.Chunking.ChunkSize {
		errs = append(errs, fmt.Sprintf("chunking.overlap (%d) must be smaller than chunking.chunk_size (%d)",
			cfg.Chunking.Overlap, cfg.Chunking.ChunkSize))
	}

	// Router validation
	if cfg.Router.DefaultTopK < 1 {
		errs = append(errs, fmt.Sprintf("router.default_top_k must be at least 1, got %d", cfg.Router.DefaultTopK))
	}

	// Provider validation
	if cfg.Provider.BaseURL == "" {
		errs = append(errs, "provider.base_url must not be empty")
	}
	if cfg.Provider.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("provider.timeout must be non-negative, got %d", cfg.Provider.Timeout))
	}

	// SQL workflow validation
	if cfg.SQL.MaxRows < 1 {
		errs = append(errs, fmt.Sprintf("sql.max_rows must be at least 1, got %d", cfg.SQL.MaxRows))
	}
	if cfg.SQL.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("sql.retention_days must be at least 1, got %d", cfg.SQL.RetentionDays))
	}
	if cfg.SQL.PruneIntervalSeconds < 1 {
		errs = append(errs, fmt.Sprintf("sql.prune_interval_seconds must be positive, got %d", cfg.SQL.PruneIntervalSeconds))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
