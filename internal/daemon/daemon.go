package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ragcache/ragcache/internal/api"
	"github.com/ragcache/ragcache/internal/config"
	"github.com/ragcache/ragcache/internal/doccache"
	"github.com/ragcache/ragcache/internal/metrics"
	"github.com/ragcache/ragcache/internal/orchestrator"
	"github.com/ragcache/ragcache/internal/parse"
	"github.com/ragcache/ragcache/internal/provider"
	"github.com/ragcache/ragcache/internal/querycache"
	"github.com/ragcache/ragcache/internal/router"
	"github.com/ragcache/ragcache/internal/sqlflow"
	"github.com/ragcache/ragcache/internal/storage"
	"github.com/ragcache/ragcache/internal/store"
	"github.com/ragcache/ragcache/internal/tracing"
	"github.com/ragcache/ragcache/internal/vault"
	"github.com/ragcache/ragcache/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems,
// starts the API server, and blocks until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "ragcache.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	// If foreground, also write to stdout with console formatting.
	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "ragcache").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("ragcache starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("ragcache is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Initialise tracing before any instrumented component.
	if cfg.Tracing.Enabled {
		shutdown, traceErr := tracing.Init(
			context.Background(),
			cfg.Tracing.ServiceName,
			version.Version,
			cfg.Tracing.Exporter,
			cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate,
			cfg.Tracing.Insecure,
		)
		if traceErr != nil {
			log.Warn().Err(traceErr).Msg("failed to initialise tracing; continuing without it")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("tracing shutdown error")
				}
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Str("endpoint", cfg.Tracing.Endpoint).Msg("tracing initialised")
		}
	}

	// 4. Open store.
	dbPath := filepath.Join(dataDir, "ragcache.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 5. Create metrics collector.
	collector := metrics.NewCollector()

	// 6. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 7. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				newLevel := parseLogLevel(newCfg.Server.LogLevel)
				zerolog.SetGlobalLevel(newLevel)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// ---------------------------------------------------------------
	// 8. Wire up the caching stack.
	// ---------------------------------------------------------------

	// 8a. Resolve secrets.
	v := vault.New()
	apiKey := ""
	if cfg.Provider.KeyRef != "" {
		key, keyErr := v.ResolveKeyRef(cfg.Provider.KeyRef)
		if keyErr != nil {
			log.Warn().Err(keyErr).Msg("failed to resolve provider API key; requests may be rejected upstream")
		} else {
			apiKey = key
		}
	}

	// 8b. Construct the artifact backend. A filer that is unreachable at
	// startup fails over to local storage rather than refusing to start.
	backend, err := buildBackend(context.Background(), cfg, v)
	if err != nil {
		return fmt.Errorf("constructing storage backend: %w", err)
	}
	log.Info().Str("backend", backend.Name()).Msg("storage backend ready")

	// 8c. Query-result cache over the store's persistent tier.
	queries, err := querycache.New(querycache.Config{
		MaxMemoryEntries: cfg.Cache.MaxMemoryEntries,
		TTLs: map[querycache.Type]time.Duration{
			querycache.TypeAnswer:    time.Duration(cfg.Cache.AnswerTTLSeconds) * time.Second,
			querycache.TypeSQLGen:    time.Duration(cfg.Cache.SQLGenTTLSeconds) * time.Second,
			querycache.TypeSQLResult: time.Duration(cfg.Cache.SQLResultTTLSeconds) * time.Second,
			querycache.TypeEmbedding: time.Duration(cfg.Cache.EmbeddingTTLSeconds) * time.Second,
		},
		Costs: map[querycache.Type]float64{
			querycache.TypeAnswer:    cfg.Cache.AnswerCostUSD,
			querycache.TypeSQLGen:    cfg.Cache.SQLGenCostUSD,
			querycache.TypeSQLResult: cfg.Cache.SQLResultCostUSD,
			querycache.TypeEmbedding: cfg.Cache.EmbeddingCostUSD,
		},
	}, st)
	if err != nil {
		return fmt.Errorf("creating query cache: %w", err)
	}

	// 8d. Document cache and parser registry.
	docs := doccache.New(backend, st)

	parsers, err := parse.DefaultRegistry(parse.ChunkOptions{
		ChunkSize:    cfg.Chunking.ChunkSize,
		MinChunkSize: cfg.Chunking.MinChunkSize,
		Overlap:      cfg.Chunking.Overlap,
	})
	if err != nil {
		return fmt.Errorf("creating parser registry: %w", err)
	}

	// 8e. Keyword router. Configured lists override the built-in defaults
	// per category; an empty list keeps the default.
	kw := router.DefaultKeywords()
	if len(cfg.Router.DataKeywords) > 0 {
		kw.Data = cfg.Router.DataKeywords
	}
	if len(cfg.Router.DocumentKeywords) > 0 {
		kw.Document = cfg.Router.DocumentKeywords
	}
	if len(cfg.Router.HybridKeywords) > 0 {
		kw.Hybrid = cfg.Router.HybridKeywords
	}
	rtr := router.New(kw)

	// 8f. Provider client and the analytics executor.
	client := provider.NewClient(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     apiKey,
		ChatModel:  cfg.Provider.ChatModel,
		EmbedModel: cfg.Provider.EmbedModel,
		SQLModel:   cfg.Provider.SQLModel,
		Seed:       cfg.Provider.Seed,
		Timeout:    cfg.Provider.TimeoutDuration(),
	})

	dbExec, err := provider.OpenSQLiteExecutor(expandHome(cfg.SQL.DatabasePath), cfg.SQL.MaxRows)
	if err != nil {
		return fmt.Errorf("opening analytics database: %w", err)
	}
	defer dbExec.Close()

	// The workflow executes through the caching layer so repeated approved
	// statements are served from the sql_result cache.
	flow := sqlflow.New(st, orchestrator.NewCachingExecutor(queries, dbExec))

	// 8g. Orchestrator over all of it.
	orch := orchestrator.New(orchestrator.Config{
		Docs:           docs,
		Queries:        queries,
		Router:         rtr,
		Flow:           flow,
		Parsers:        parsers,
		Embedder:       client,
		Vectors:        provider.NewMemIndex(),
		Answerer:       client,
		SQLGen:         client,
		Collector:      collector,
		SchemaContext:  cfg.SQL.SchemaContext,
		DefaultTopK:    cfg.Router.DefaultTopK,
		AutoApproveSQL: cfg.SQL.AutoApprove,
	})

	// 8h. Rebuild the in-process vector index from cached documents.
	if n, err := orch.RebuildIndex(context.Background()); err != nil {
		log.Warn().Err(err).Msg("vector index rebuild incomplete")
	} else if n > 0 {
		log.Info().Int("documents", n).Msg("vector index rebuilt")
	}

	// 9. Start background maintenance.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()

	purgerDone := queries.StartPurger(pruneCtx, time.Duration(cfg.Cache.PurgeIntervalSeconds)*time.Second)

	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runSQLPruner(pruneCtx, flow, cfg.SQL.RetentionDays, time.Duration(cfg.SQL.PruneIntervalSeconds)*time.Second)
	}()

	// 10. Create and start the API server.
	handler := api.NewHandler(orch, st, collector, log.Logger, backend.Name(), cfg.Server.MaxBodySize, version.Version)

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	idleTimeout := time.Duration(cfg.Server.IdleTimeout) * time.Second
	apiServer := api.NewServer(handler, apiAddr, readTimeout, writeTimeout, idleTimeout, cfg.Tracing.Enabled)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", apiAddr).Msg("api server starting")
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	log.Info().
		Str("addr", apiAddr).
		Str("backend", backend.Name()).
		Bool("auto_approve_sql", cfg.SQL.AutoApprove).
		Msg("ragcache is ready")

	if foreground {
		fmt.Printf("\n  ragcache is running!\n")
		fmt.Printf("  API: http://%s\n\n", apiAddr)
	}

	// 11. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 12. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down server...")

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	// 13. Wait for background goroutines before closing the store.
	pruneCancel()
	<-purgerDone
	<-prunerDone
	dbExec.Close()
	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("ragcache stopped")
	return nil
}

// buildBackend constructs the configured artifact backend. When the filer
// is selected but unavailable, the local backend takes over so the service
// degrades instead of refusing to start.
func buildBackend(ctx context.Context, cfg *config.Config, v *vault.Vault) (storage.Backend, error) {
	localDir := expandHome(cfg.Storage.LocalDir)

	if strings.EqualFold(cfg.Storage.Backend, "filer") {
		token := ""
		if cfg.Storage.FilerTokenRef != "" {
			t, err := v.ResolveKeyRef(cfg.Storage.FilerTokenRef)
			if err != nil {
				log.Warn().Err(err).Msg("failed to resolve filer token; connecting without credentials")
			} else {
				token = t
			}
		}
		filer, err := storage.NewFiler(ctx, cfg.Storage.FilerURL, token, cfg.Storage.FilerTimeoutDuration())
		if err == nil {
			return filer, nil
		}
		log.Warn().Err(err).Str("filer_url", cfg.Storage.FilerURL).Msg("filer unavailable; failing over to local storage")
	}

	return storage.NewLocal(localDir)
}

// runSQLPruner periodically removes decided workflow records older than the
// retention window. Pending records are never pruned.
func runSQLPruner(ctx context.Context, flow *sqlflow.Workflow, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("sql pruner: recovered from panic")
					}
				}()
				n, err := flow.PruneTerminal(time.Duration(retentionDays) * 24 * time.Hour)
				if err != nil {
					log.Error().Err(err).Msg("sql record pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned decided sql records")
				}
			}()
		}
	}
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("ragcache does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("ragcache is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to ragcache (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("ragcache is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("ragcache is running (PID %d)\n", pid)

	// Try to fetch stats from the API.
	statsURL := fmt.Sprintf("http://%s:%d/v1/stats", cfg.Server.BindAddress, cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statsURL)
	if err != nil {
		fmt.Println("  (api unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var stats orchestrator.CacheStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil
	}

	fmt.Printf("\n  Documents:      %d (%d bytes, %s backend)\n", stats.Documents.Count, stats.Documents.TotalBytes, stats.Documents.Backend)
	fmt.Printf("  Cost Saved:     $%.4f\n", stats.TotalCostSavedUSD)
	for _, ts := range stats.QueryCache {
		fmt.Printf("  Cache %-11s %d hits / %d misses (%s hit rate)\n", string(ts.Type)+":", ts.Hits, ts.Misses, formatHitRate(ts.HitRate))
	}
	if stats.Service != nil {
		fmt.Printf("  Uptime:         %s\n", stats.Service.Uptime)
		fmt.Printf("  Total Queries:  %d\n", stats.Service.TotalQueries)
		fmt.Printf("  Total Uploads:  %d (%d dedup hits)\n", stats.Service.TotalUploads, stats.Service.UploadCacheHits)
		fmt.Printf("  Active:         %d\n", stats.Service.ActiveRequests)
	}

	return nil
}

// formatHitRate renders a 0-1 hit-rate fraction as a percentage.
func formatHitRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
