package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the API server.
const DefaultPort = 7787

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.ragcache"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "ragcache.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 30

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (2 minutes) to accommodate answer generation on cache misses.
const DefaultWriteTimeout = 120

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (32 MB,
// sized for document uploads).
const DefaultMaxBodySize int64 = 32 << 20

// DefaultMaxMemoryEntries bounds the in-memory tier of the query cache.
const DefaultMaxMemoryEntries = 4096

// Default query-cache TTLs, in seconds per cache type.
const (
	DefaultAnswerTTL    = 3600   // 1 hour
	DefaultSQLGenTTL    = 86400  // 24 hours
	DefaultSQLResultTTL = 900    // 15 minutes
	DefaultEmbeddingTTL = 604800 // 7 days
)

// Default per-hit cost estimates in USD, used only for the savings counters.
const (
	DefaultAnswerCostUSD    = 0.05
	DefaultSQLGenCostUSD    = 0.08
	DefaultSQLResultCostUSD = 0.01
	DefaultEmbeddingCostUSD = 0.00002
)

// DefaultPurgeInterval is how often expired cache rows are purged, in seconds.
const DefaultPurgeInterval = 300

// Default chunker settings, in tokens.
const (
	DefaultChunkSize    = 512
	DefaultMinChunkSize = 256
	DefaultChunkOverlap = 50
)

// DefaultTopK is the default retrieval depth for document queries.
const DefaultTopK = 5

// DefaultProviderTimeout is the default provider timeout in seconds.
const DefaultProviderTimeout = 30

// DefaultSQLSeed pins SQL generation for reproducible output.
const DefaultSQLSeed = 42

// DefaultSQLMaxRows caps result sets returned by the SQL executor.
const DefaultSQLMaxRows = 1000

// DefaultSQLRetentionDays is how long decided workflow records are kept.
const DefaultSQLRetentionDays = 30

// DefaultSQLPruneInterval is how often old workflow records are pruned, in seconds.
const DefaultSQLPruneInterval = 3600

// DefaultFilerTimeout is the default filer request timeout in seconds.
const DefaultFilerTimeout = 10

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "ragcache"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidStorageBackends lists the allowed storage backend values.
var ValidStorageBackends = []string{"local", "filer"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Storage: StorageConfig{
			Backend:       "local",
			LocalDir:      "~/.ragcache/documents",
			FilerURL:      "",
			FilerTokenRef: "keyring://ragcache/filer",
			FilerTimeout:  DefaultFilerTimeout,
		},
		Cache: CacheConfig{
			MaxMemoryEntries:     DefaultMaxMemoryEntries,
			AnswerTTLSeconds:     DefaultAnswerTTL,
			SQLGenTTLSeconds:     DefaultSQLGenTTL,
			SQLResultTTLSeconds:  DefaultSQLResultTTL,
			EmbeddingTTLSeconds:  DefaultEmbeddingTTL,
			AnswerCostUSD:        DefaultAnswerCostUSD,
			SQLGenCostUSD:        DefaultSQLGenCostUSD,
			SQLResultCostUSD:     DefaultSQLResultCostUSD,
			EmbeddingCostUSD:     DefaultEmbeddingCostUSD,
			PurgeIntervalSeconds: DefaultPurgeInterval,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    DefaultChunkSize,
			MinChunkSize: DefaultMinChunkSize,
			Overlap:      DefaultChunkOverlap,
		},
		Router: RouterConfig{
			// Empty lists mean the router's built-in keyword sets.
			DataKeywords:     nil,
			DocumentKeywords: nil,
			HybridKeywords:   nil,
			DefaultTopK:      DefaultTopK,
		},
		Provider: ProviderConfig{
			BaseURL:    "https://api.openai.com",
			KeyRef:     "keyring://ragcache/openai",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
			SQLModel:   "gpt-4o-mini",
			Seed:       DefaultSQLSeed,
			Timeout:    DefaultProviderTimeout,
		},
		SQL: SQLConfig{
			AutoApprove:          false,
			DatabasePath:         "~/.ragcache/analytics.db",
			SchemaContext:        "",
			MaxRows:              DefaultSQLMaxRows,
			RetentionDays:        DefaultSQLRetentionDays,
			PruneIntervalSeconds: DefaultSQLPruneInterval,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
	}
}
