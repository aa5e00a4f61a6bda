package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ragcache/ragcache/internal/provider"
	"github.com/ragcache/ragcache/internal/querycache"
)

// CachingExecutor caches execution results keyed by the exact SQL text.
// Re-approving the same statement within the sql_result TTL serves rows
// from cache instead of hitting the analytics database again. Failures
// are never cached.
type CachingExecutor struct {
	queries *querycache.Cache
	next    provider.Executor
}

// NewCachingExecutor wraps an executor with the sql_result cache.
func NewCachingExecutor(queries *querycache.Cache, next provider.Executor) *CachingExecutor {
	return &CachingExecutor{queries: queries, next: next}
}

// Execute implements provider.Executor.
func (e *CachingExecutor) Execute(ctx context.Context, query string) (*provider.ResultSet, error) {
	key := querycache.SQLResultKey(query)
	if raw, ok := e.queries.Get(querycache.TypeSQLResult, key); ok {
		var rs provider.ResultSet
		if err := json.Unmarshal(raw, &rs); err == nil {
			return &rs, nil
		}
		log.Warn().Str("key", key).Msg("orchestrator: corrupt cached result set, re-executing")
	}

	rs, err := e.next.Execute(ctx, query)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(rs); err == nil {
		if err := e.queries.Put(querycache.TypeSQLResult, key, raw); err != nil {
			log.Warn().Err(err).Msg("orchestrator: caching result set")
		}
	}
	return rs, nil
}
