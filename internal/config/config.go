package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for ragcache.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   toml:"server"`
	Storage  StorageConfig  `mapstructure:"storage"  toml:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"    toml:"cache"`
	Chunking ChunkingConfig `mapstructure:"chunking" toml:"chunking"`
	Router   RouterConfig   `mapstructure:"router"   toml:"router"`
	Provider ProviderConfig `mapstructure:"provider" toml:"provider"`
	SQL      SQLConfig      `mapstructure:"sql"      toml:"sql"`
	Tracing  TracingConfig  `mapstructure:"tracing"  toml:"tracing"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	Port         int    `mapstructure:"port"          toml:"port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
	MaxBodySize  int64  `mapstructure:"max_body_size" toml:"max_body_size"`
}

// StorageConfig selects and configures the document artifact backend.
type StorageConfig struct {
	// Backend is "local" or "filer".
	Backend string `mapstructure:"backend" toml:"backend"`
	// LocalDir is the artifact root for the local backend. It is also the
	// failover root when the filer backend is unavailable at startup.
	LocalDir string `mapstructure:"local_dir" toml:"local_dir"`
	// FilerURL is the base URL of the HTTP object store.
	FilerURL string `mapstructure:"filer_url" toml:"filer_url"`
	// FilerTokenRef resolves to the filer bearer token (keyring:// or env://).
	FilerTokenRef string `mapstructure:"filer_token_ref" toml:"filer_token_ref"`
	FilerTimeout  int    `mapstructure:"filer_timeout"   toml:"filer_timeout"` // seconds
}

// FilerTimeoutDuration returns the filer request timeout as a time.Duration.
func (s StorageConfig) FilerTimeoutDuration() time.Duration {
	if s.FilerTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.FilerTimeout) * time.Second
}

// CacheConfig holds the query-result cache tuning. TTLs and per-hit cost
// estimates are per cache type; costs feed the savings counters only.
type CacheConfig struct {
	MaxMemoryEntries int `mapstructure:"max_memory_entries" toml:"max_memory_entries"`

	AnswerTTLSeconds    int `mapstructure:"answer_ttl_seconds"     toml:"answer_ttl_seconds"`
	SQLGenTTLSeconds    int `mapstructure:"sql_gen_ttl_seconds"    toml:"sql_gen_ttl_seconds"`
	SQLResultTTLSeconds int `mapstructure:"sql_result_ttl_seconds" toml:"sql_result_ttl_seconds"`
	EmbeddingTTLSeconds int `mapstructure:"embedding_ttl_seconds"  toml:"embedding_ttl_seconds"`

	AnswerCostUSD    float64 `mapstructure:"answer_cost_usd"     toml:"answer_cost_usd"`
	SQLGenCostUSD    float64 `mapstructure:"sql_gen_cost_usd"    toml:"sql_gen_cost_usd"`
	SQLResultCostUSD float64 `mapstructure:"sql_result_cost_usd" toml:"sql_result_cost_usd"`
	EmbeddingCostUSD float64 `mapstructure:"embedding_cost_usd"  toml:"embedding_cost_usd"`

	PurgeIntervalSeconds int `mapstructure:"purge_interval_seconds" toml:"purge_interval_seconds"`
}

// ChunkingConfig holds the text chunker settings, in tokens.
type ChunkingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"     toml:"chunk_size"`
	MinChunkSize int `mapstructure:"min_chunk_size" toml:"min_chunk_size"`
	Overlap      int `mapstructure:"overlap"        toml:"overlap"`
}

// RouterConfig holds the keyword lists the classifier matches against.
// Empty lists fall back to the built-in defaults, so an operator can tune
// one list without restating the others.
type RouterConfig struct {
	DataKeywords     []string `mapstructure:"data_keywords"     toml:"data_keywords"`
	DocumentKeywords []string `mapstructure:"document_keywords" toml:"document_keywords"`
	HybridKeywords   []string `mapstructure:"hybrid_keywords"   toml:"hybrid_keywords"`
	DefaultTopK      int      `mapstructure:"default_top_k"     toml:"default_top_k"`
}

// ProviderConfig describes the OpenAI-compatible backend used for
// embeddings, answer generation, and SQL generation.
type ProviderConfig struct {
	BaseURL    string `mapstructure:"base_url"    toml:"base_url"`
	KeyRef     string `mapstructure:"key_ref"     toml:"key_ref"`
	ChatModel  string `mapstructure:"chat_model"  toml:"chat_model"`
	EmbedModel string `mapstructure:"embed_model" toml:"embed_model"`
	SQLModel   string `mapstructure:"sql_model"   toml:"sql_model"`
	// Seed pins SQL generation so identical questions produce identical
	// statements and the sql_gen cache stays effective.
	Seed    int `mapstructure:"seed"    toml:"seed"`
	Timeout int `mapstructure:"timeout" toml:"timeout"` // seconds
}

// TimeoutDuration returns the provider timeout as a time.Duration.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.Timeout) * time.Second
}

// SQLConfig holds the SQL approval workflow and executor settings.
type SQLConfig struct {
	// AutoApprove executes generated SQL without a human decision.
	AutoApprove bool `mapstructure:"auto_approve" toml:"auto_approve"`
	// DatabasePath is the analytics SQLite database queries execute against.
	DatabasePath string `mapstructure:"database_path" toml:"database_path"`
	// SchemaContext is the schema description handed to the SQL generator.
	SchemaContext string `mapstructure:"schema_context" toml:"schema_context"`
	MaxRows       int    `mapstructure:"max_rows"       toml:"max_rows"`
	// RetentionDays bounds how long decided workflow records are kept.
	RetentionDays        int `mapstructure:"retention_days"         toml:"retention_days"`
	PruneIntervalSeconds int `mapstructure:"prune_interval_seconds" toml:"prune_interval_seconds"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "ragcache"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (RAGCACHE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.ragcache/ragcache.toml
//  4. ./ragcache.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: RAGCACHE_SERVER_PORT etc.
	v.SetEnvPrefix("RAGCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".ragcache"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("ragcache")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.Storage.LocalDir = expandHome(cfg.Storage.LocalDir)
	cfg.SQL.DatabasePath = expandHome(cfg.SQL.DatabasePath)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.ragcache/ragcache.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".ragcache")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	// Storage
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.local_dir", d.Storage.LocalDir)
	v.SetDefault("storage.filer_url", d.Storage.FilerURL)
	v.SetDefault("storage.filer_token_ref", d.Storage.FilerTokenRef)
	v.SetDefault("storage.filer_timeout", d.Storage.FilerTimeout)

	// Cache
	v.SetDefault("cache.max_memory_entries", d.Cache.MaxMemoryEntries)
	v.SetDefault("cache.answer_ttl_seconds", d.Cache.AnswerTTLSeconds)
	v.SetDefault("cache.sql_gen_ttl_seconds", d.Cache.SQLGenTTLSeconds)
	v.SetDefault("cache.sql_result_ttl_seconds", d.Cache.SQLResultTTLSeconds)
	v.SetDefault("cache.embedding_ttl_seconds", d.Cache.EmbeddingTTLSeconds)
	v.SetDefault("cache.answer_cost_usd", d.Cache.AnswerCostUSD)
	v.SetDefault("cache.sql_gen_cost_usd", d.Cache.SQLGenCostUSD)
	v.SetDefault("cache.sql_result_cost_usd", d.Cache.SQLResultCostUSD)
	v.SetDefault("cache.embedding_cost_usd", d.Cache.EmbeddingCostUSD)
	v.SetDefault("cache.purge_interval_seconds", d.Cache.PurgeIntervalSeconds)

	// Chunking
	v.SetDefault("chunking.chunk_size", d.Chunking.ChunkSize)
	v.SetDefault("chunking.min_chunk_size", d.Chunking.MinChunkSize)
	v.SetDefault("chunking.overlap", d.Chunking.Overlap)

	// Router
	v.SetDefault("router.data_keywords", d.Router.DataKeywords)
	v.SetDefault("router.document_keywords", d.Router.DocumentKeywords)
	v.SetDefault("router.hybrid_keywords", d.Router.HybridKeywords)
	v.SetDefault("router.default_top_k", d.Router.DefaultTopK)

	// Provider
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.key_ref", d.Provider.KeyRef)
	v.SetDefault("provider.chat_model", d.Provider.ChatModel)
	v.SetDefault("provider.embed_model", d.Provider.EmbedModel)
	v.SetDefault("provider.sql_model", d.Provider.SQLModel)
	v.SetDefault("provider.seed", d.Provider.Seed)
	v.SetDefault("provider.timeout", d.Provider.Timeout)

	// SQL workflow
	v.SetDefault("sql.auto_approve", d.SQL.AutoApprove)
	v.SetDefault("sql.database_path", d.SQL.DatabasePath)
	v.SetDefault("sql.schema_context", d.SQL.SchemaContext)
	v.SetDefault("sql.max_rows", d.SQL.MaxRows)
	v.SetDefault("sql.retention_days", d.SQL.RetentionDays)
	v.SetDefault("sql.prune_interval_seconds", d.SQL.PruneIntervalSeconds)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
