// Package orchestrator composes the caches, the router, and the SQL
// workflow into the operations the API exposes. Cache order is fixed:
// query-result cache first, then the document cache, then full
// processing against the providers.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/ragcache/ragcache/internal/doccache"
	"github.com/ragcache/ragcache/internal/metrics"
	"github.com/ragcache/ragcache/internal/parse"
	"github.com/ragcache/ragcache/internal/provider"
	"github.com/ragcache/ragcache/internal/querycache"
	"github.com/ragcache/ragcache/internal/router"
	"github.com/ragcache/ragcache/internal/sqlflow"
	"github.com/ragcache/ragcache/internal/storage"
	"github.com/ragcache/ragcache/internal/tracing"
)

// Config wires an Orchestrator.
type Config struct {
	Docs      *doccache.Cache
	Queries   *querycache.Cache
	Router    *router.Router
	Flow      *sqlflow.Workflow
	Parsers   *parse.Registry
	Embedder  provider.Embedder
	Vectors   provider.VectorIndex
	Answerer  provider.AnswerGenerator
	SQLGen    provider.SQLGenerator
	Collector *metrics.Collector

	// SchemaContext is the schema description handed to the SQL
	// generator; it is part of the sql_gen cache key.
	SchemaContext string
	// DefaultTopK applies when a query does not specify retrieval depth.
	DefaultTopK int
	// AutoApproveSQL executes generated SQL immediately. Off by
	// default; turning it on is an explicit operator decision.
	AutoApproveSQL bool
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	return &Orchestrator{cfg: cfg}
}

// ---------------------------------------------------------------------------
// upload
// ---------------------------------------------------------------------------

// UploadResult reports what an upload did.
type UploadResult struct {
	Digest     string `json:"digest"`
	Filename   string `json:"filename"`
	Cached     bool   `json:"cached"`
	ChunkCount int    `json:"chunk_count"`
	TokenCount int    `json:"token_count"`
	SizeBytes  int    `json:"size_bytes"`
}

// HandleUpload ingests one document. The digest of the raw bytes decides
// identity: a re-upload under any filename is a cache hit and does no
// parsing or embedding. A genuinely new document invalidates every cached
// answer, since any of them might now be stale.
func (o *Orchestrator) HandleUpload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	ctx, span := tracing.StartUploadSpan(ctx, filename)
	defer span.End()

	digest := doccache.Digest(data)

	entry, cached, err := o.cfg.Docs.LoadOrProcess(ctx, digest, func(ctx context.Context) (*doccache.Entry, error) {
		chunks, err := o.cfg.Parsers.Parse(data, filename)
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		embeddings, err := o.cfg.Embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		fresh := &doccache.Entry{
			Digest:     digest,
			Filename:   filename,
			Chunks:     chunks,
			Embeddings: embeddings,
		}
		if err := o.cfg.Docs.Store(ctx, data, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	// Index vectors on hit as well: the in-process index is rebuilt from
	// cached entries after a restart.
	if err := o.indexEntry(ctx, entry); err != nil {
		return nil, err
	}

	if !cached {
		if _, err := o.cfg.Queries.Invalidate(querycache.TypeAnswer, "*"); err != nil {
			log.Warn().Err(err).Msg("orchestrator: invalidating answers after upload")
		}
	}
	o.cfg.Collector.RecordUpload(cached)
	tracing.SetUploadAttributes(ctx, digest, cached, len(entry.Chunks))

	tokens := 0
	for _, c := range entry.Chunks {
		tokens += c.Tokens
	}
	log.Info().Str("digest", digest).Str("filename", filename).Bool("cached", cached).
		Int("chunks", len(entry.Chunks)).Msg("orchestrator: upload handled")
	return &UploadResult{
		Digest:     digest,
		Filename:   filename,
		Cached:     cached,
		ChunkCount: len(entry.Chunks),
		TokenCount: tokens,
		SizeBytes:  len(data),
	}, nil
}

func (o *Orchestrator) indexEntry(ctx context.Context, entry *doccache.Entry) error {
	if len(entry.Embeddings) != len(entry.Chunks) {
		return nil // no embeddings stored for this entry
	}
	for i, chunk := range entry.Chunks {
		meta := map[string]string{"filename": entry.Filename}
		if chunk.Heading != "" {
			meta["heading"] = chunk.Heading
		}
		if chunk.Page > 0 {
			meta["page"] = strconv.Itoa(chunk.Page)
		}
		if err := o.cfg.Vectors.Upsert(ctx, entry.Digest, strconv.Itoa(i), entry.Embeddings[i], chunk.Text, meta); err != nil {
			return fmt.Errorf("orchestrator: indexing chunk %d of %s: %w", i, entry.Digest, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// query
// ---------------------------------------------------------------------------

// QueryRequest is one incoming question.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
	// AutoApproveSQL lets a single request opt in to immediate
	// execution, on top of the service-wide setting.
	AutoApproveSQL bool `json:"auto_approve_sql,omitempty"`
}

// SQLResult is the structured-data half of a query response.
type SQLResult struct {
	QueryID   string              `json:"query_id"`
	SQL       string              `json:"sql"`
	Status    sqlflow.Status      `json:"status"`
	GenCached bool                `json:"gen_cached"`
	Results   *provider.ResultSet `json:"results,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// QueryResult is the full response for one question.
type QueryResult struct {
	Route        router.Route     `json:"route"`
	Explanation  string           `json:"explanation"`
	Matches      []router.Match   `json:"matches,omitempty"`
	Answer       *provider.Answer `json:"answer,omitempty"`
	AnswerCached bool             `json:"answer_cached"`
	SQL          *SQLResult       `json:"sql,omitempty"`
}

// HandleQuery routes and serves one question.
func (o *Orchestrator) HandleQuery(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ctx, span := tracing.StartQuerySpan(ctx)
	defer span.End()

	decision := o.cfg.Router.Classify(req.Question)
	o.cfg.Collector.RecordQuery(decision.Route)

	result := &QueryResult{
		Route:       decision.Route,
		Explanation: decision.Explanation,
		Matches:     decision.Matches,
	}

	topK := req.TopK
	if topK <= 0 {
		topK = o.cfg.DefaultTopK
	}
	autoApprove := req.AutoApproveSQL || o.cfg.AutoApproveSQL

	if decision.Route == router.RouteData || decision.Route == router.RouteHybrid {
		sqlPart, err := o.runSQLPipeline(ctx, req.Question, autoApprove)
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		result.SQL = sqlPart
	}
	if decision.Route == router.RouteDocuments || decision.Route == router.RouteHybrid {
		answer, cached, err := o.runAnswerPipeline(ctx, req.Question, topK)
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		result.Answer = answer
		result.AnswerCached = cached
	}
	tracing.SetQueryAttributes(ctx, string(decision.Route), result.AnswerCached)
	return result, nil
}

// runAnswerPipeline serves the retrieval route: answer cache, then
// embedding cache, then vector search and generation.
func (o *Orchestrator) runAnswerPipeline(ctx context.Context, question string, topK int) (*provider.Answer, bool, error) {
	key := querycache.AnswerKey(question, topK)
	if raw, ok := o.cfg.Queries.Get(querycache.TypeAnswer, key); ok {
		var answer provider.Answer
		if err := json.Unmarshal(raw, &answer); err == nil {
			return &answer, true, nil
		}
		log.Warn().Str("key", key).Msg("orchestrator: corrupt cached answer, regenerating")
	}

	vec, err := o.embedQuestion(ctx, question)
	if err != nil {
		return nil, false, err
	}
	matches, err := o.cfg.Vectors.Query(ctx, vec, topK)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: vector search: %w", err)
	}
	snippets := make([]string, len(matches))
	for i, m := range matches {
		snippets[i] = m.Text
	}

	answer, err := o.cfg.Answerer.Generate(ctx, question, snippets)
	if err != nil {
		return nil, false, err
	}

	if raw, err := json.Marshal(answer); err == nil {
		if err := o.cfg.Queries.Put(querycache.TypeAnswer, key, raw); err != nil {
			log.Warn().Err(err).Msg("orchestrator: caching answer")
		}
	}
	return answer, false, nil
}

// embedQuestion embeds one question through the embedding cache.
func (o *Orchestrator) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	key := querycache.EmbeddingKey(question)
	if raw, ok := o.cfg.Queries.Get(querycache.TypeEmbedding, key); ok {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil {
			return vec, nil
		}
		log.Warn().Str("key", key).Msg("orchestrator: corrupt cached embedding, recomputing")
	}

	vecs, err := o.cfg.Embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("orchestrator: embedder returned %d vectors for one text: %w", len(vecs), provider.ErrProvider)
	}

	if raw, err := json.Marshal(vecs[0]); err == nil {
		if err := o.cfg.Queries.Put(querycache.TypeEmbedding, key, raw); err != nil {
			log.Warn().Err(err).Msg("orchestrator: caching embedding")
		}
	}
	return vecs[0], nil
}

// runSQLPipeline serves the structured-data route: generate (through the
// sql_gen cache), record for approval, and optionally auto-approve.
func (o *Orchestrator) runSQLPipeline(ctx context.Context, question string, autoApprove bool) (*SQLResult, error) {
	sqlText, genCached, err := o.generateSQL(ctx, question)
	if err != nil {
		return nil, err
	}

	record, err := o.cfg.Flow.Create(ctx, question, sqlText)
	if err != nil {
		return nil, err
	}
	part := &SQLResult{
		QueryID:   record.ID,
		SQL:       sqlText,
		Status:    record.Status,
		GenCached: genCached,
	}

	if !autoApprove {
		return part, nil
	}

	outcome, err := o.SQLDecide(ctx, record.ID, true)
	if outcome != nil {
		part.Status = outcome.Query.Status
		part.Results = outcome.Results
		part.Error = outcome.Query.Error
	}
	if err != nil {
		// Auto-approve execution failures are reported in-band; the
		// record stays approved for a manual retry.
		log.Warn().Err(err).Str("query_id", record.ID).Msg("orchestrator: auto-approved execution failed")
	}
	return part, nil
}

// generateSQL consults the sql_gen cache before calling the generator.
func (o *Orchestrator) generateSQL(ctx context.Context, question string) (string, bool, error) {
	key := querycache.SQLGenKey(question, o.cfg.SchemaContext)
	if raw, ok := o.cfg.Queries.Get(querycache.TypeSQLGen, key); ok {
		return string(raw), true, nil
	}

	generated, err := o.cfg.SQLGen.GenerateSQL(ctx, question, o.cfg.SchemaContext)
	if err != nil {
		return "", false, err
	}
	o.cfg.Collector.RecordSQLGenerated()

	if err := o.cfg.Queries.Put(querycache.TypeSQLGen, key, []byte(generated.SQL)); err != nil {
		log.Warn().Err(err).Msg("orchestrator: caching generated sql")
	}
	return generated.SQL, false, nil
}

// ---------------------------------------------------------------------------
// sql workflow surface
// ---------------------------------------------------------------------------

// SQLGenerate runs generation for a question without routing, returning
// the pending record.
func (o *Orchestrator) SQLGenerate(ctx context.Context, question string) (*SQLResult, error) {
	return o.runSQLPipeline(ctx, question, false)
}

// SQLDecide applies an approval decision and keeps the decision counters.
func (o *Orchestrator) SQLDecide(ctx context.Context, id string, approved bool) (*sqlflow.Outcome, error) {
	outcome, err := o.cfg.Flow.Decide(ctx, id, approved)
	if outcome != nil {
		switch outcome.Query.Status {
		case sqlflow.StatusExecuted:
			o.cfg.Collector.RecordSQLDecision(true)
		case sqlflow.StatusRejected:
			o.cfg.Collector.RecordSQLDecision(false)
		}
	}
	return outcome, err
}

// SQLListPending lists records awaiting a decision.
func (o *Orchestrator) SQLListPending(ctx context.Context) ([]*sqlflow.Query, error) {
	return o.cfg.Flow.ListPending(ctx)
}

// ---------------------------------------------------------------------------
// cache management
// ---------------------------------------------------------------------------

// CacheStats aggregates every cache's view for the stats endpoint.
type CacheStats struct {
	Documents struct {
		Count      int64  `json:"count"`
		TotalBytes int64  `json:"total_bytes"`
		Backend    string `json:"backend"`
	} `json:"documents"`
	QueryCache        []querycache.TypeStats   `json:"query_cache"`
	TotalCostSavedUSD float64                  `json:"total_cost_saved_usd"`
	SQLQueries        map[sqlflow.Status]int64 `json:"sql_queries"`
	Service           *metrics.Stats           `json:"service"`
}

// GetCacheStats snapshots all caches.
func (o *Orchestrator) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		QueryCache:        o.cfg.Queries.Stats(),
		TotalCostSavedUSD: o.cfg.Queries.TotalCostSavedUSD(),
		Service:           o.cfg.Collector.Stats(),
	}

	count, bytes, err := o.cfg.Docs.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.Documents.Count = count
	stats.Documents.TotalBytes = bytes
	stats.Documents.Backend = o.cfg.Docs.Backend().Name()

	sqlCounts, err := o.cfg.Flow.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats.SQLQueries = sqlCounts
	return stats, nil
}

// ClearDocuments removes one document (digest != "") or all of them, and
// drops their vectors. Cached answers are invalidated: they may cite the
// removed documents.
func (o *Orchestrator) ClearDocuments(ctx context.Context, digest string) (int, error) {
	namespaces := []string{digest}
	if digest == "" {
		all, err := o.cfg.Docs.Digests()
		if err != nil {
			return 0, err
		}
		namespaces = all
	}

	removed, err := o.cfg.Docs.Clear(ctx, digest)
	if err != nil {
		return removed, err
	}

	for _, ns := range namespaces {
		if err := o.cfg.Vectors.DeleteNamespace(ctx, ns); err != nil {
			log.Warn().Err(err).Str("digest", ns).Msg("orchestrator: dropping vectors")
		}
	}

	if removed > 0 {
		if _, err := o.cfg.Queries.Invalidate(querycache.TypeAnswer, "*"); err != nil {
			log.Warn().Err(err).Msg("orchestrator: invalidating answers after clear")
		}
	}
	return removed, nil
}

// DocumentBytes returns the original uploaded bytes for a cached document.
func (o *Orchestrator) DocumentBytes(ctx context.Context, digest string) ([]byte, error) {
	return o.cfg.Docs.Original(ctx, digest)
}

// RebuildIndex loads every cached document's vectors into the vector index.
// The index lives in process memory, so the daemon calls this once at
// startup. Incomplete or corrupt entries are skipped; they will reprocess
// on their next upload.
func (o *Orchestrator) RebuildIndex(ctx context.Context) (int, error) {
	digests, err := o.cfg.Docs.Digests()
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, digest := range digests {
		entry, err := o.cfg.Docs.Lookup(ctx, digest)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Warn().Str("digest", digest).Msg("orchestrator: skipping incomplete entry during index rebuild")
				continue
			}
			return indexed, err
		}
		if err := o.indexEntry(ctx, entry); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

// ClearQueryCache invalidates query-cache entries by type and pattern.
func (o *Orchestrator) ClearQueryCache(t querycache.Type, pattern string) (int64, error) {
	return o.cfg.Queries.Invalidate(t, pattern)
}
