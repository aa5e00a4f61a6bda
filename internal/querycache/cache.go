// Package querycache is the typed query-result cache: four entry types
// with independent TTLs, a bounded LRU memory tier in front of the SQLite
// tier, lazy expiry at read time, and per-type hit accounting with
// estimated cost savings.
package querycache

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/ragcache/ragcache/internal/store"
)

// Type discriminates what a cached value is and which TTL applies.
type Type string

const (
	// TypeAnswer caches full RAG answers.
	TypeAnswer Type = "answer"
	// TypeSQLGen caches generated SQL text.
	TypeSQLGen Type = "sql_gen"
	// TypeSQLResult caches SQL execution results.
	TypeSQLResult Type = "sql_result"
	// TypeEmbedding caches embedding vectors.
	TypeEmbedding Type = "embedding"
)

// Types lists every cache type, in stats display order.
var Types = []Type{TypeAnswer, TypeSQLGen, TypeSQLResult, TypeEmbedding}

// ValidType reports whether t names a known cache type.
func ValidType(t Type) bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Entry is one cached value with its lifetime.
type Entry struct {
	Value     []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Persister is the persistent tier. *store.Store satisfies it.
type Persister interface {
	SetQueryCacheEntry(row *store.QueryCacheRow) error
	GetQueryCacheEntry(cacheType, key string) (*store.QueryCacheRow, error)
	DeleteQueryCacheEntry(cacheType, key string) error
	DeleteExpiredQueryCache(now time.Time) (int64, error)
	DeleteQueryCacheMatching(cacheType, likePattern string) (int64, error)
	CountQueryCache() (map[string]int64, error)
}

// Config sets capacity, lifetimes, and the per-hit cost estimates used for
// savings accounting. Cost figures are operator configuration, not truths;
// they only feed the stats output.
type Config struct {
	MaxMemoryEntries int
	TTLs             map[Type]time.Duration
	Costs            map[Type]float64
}

// Cache is the two-tier typed cache. All methods are safe for concurrent
// use.
type Cache struct {
	memory  *lru.Cache[string, *Entry]
	persist Persister
	ttls    map[Type]time.Duration
	costs   map[Type]float64
	stats   map[Type]*typeCounters
	now     func() time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source. Tests use it to drive expiry
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a Cache over the given persistent tier.
func New(cfg Config, persist Persister, opts ...Option) (*Cache, error) {
	if cfg.MaxMemoryEntries <= 0 {
		cfg.MaxMemoryEntries = 1024
	}
	memory, err := lru.New[string, *Entry](cfg.MaxMemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("querycache: creating memory tier: %w", err)
	}

	c := &Cache{
		memory:  memory,
		persist: persist,
		ttls:    make(map[Type]time.Duration, len(Types)),
		costs:   make(map[Type]float64, len(Types)),
		stats:   make(map[Type]*typeCounters, len(Types)),
		now:     time.Now,
	}
	for _, t := range Types {
		ttl, ok := cfg.TTLs[t]
		if !ok || ttl <= 0 {
			return nil, fmt.Errorf("querycache: missing or non-positive ttl for type %q", t)
		}
		c.ttls[t] = ttl
		c.costs[t] = cfg.Costs[t]
		c.stats[t] = &typeCounters{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// storageKey composes the tier key. The type prefix keeps patterns like
// "answer:*" meaningful across both tiers.
func storageKey(t Type, key string) string {
	return string(t) + ":" + key
}

// Get returns the cached value for (t, key) if present and unexpired.
// An expired entry is evicted from both tiers and counts as a miss.
func (c *Cache) Get(t Type, key string) ([]byte, bool) {
	if !ValidType(t) {
		return nil, false
	}
	skey := storageKey(t, key)
	now := c.now()

	if entry, ok := c.memory.Get(skey); ok {
		if now.Before(entry.ExpiresAt) {
			c.stats[t].hit(c.costs[t])
			return entry.Value, true
		}
		c.memory.Remove(skey)
		if err := c.persist.DeleteQueryCacheEntry(string(t), skey); err != nil {
			log.Warn().Err(err).Str("key", skey).Msg("querycache: evicting expired entry")
		}
		c.stats[t].miss()
		return nil, false
	}

	row, err := c.persist.GetQueryCacheEntry(string(t), skey)
	if err != nil {
		log.Warn().Err(err).Str("key", skey).Msg("querycache: persistent tier read failed")
		c.stats[t].miss()
		return nil, false
	}
	if row == nil {
		c.stats[t].miss()
		return nil, false
	}
	if !now.Before(row.ExpiresAt) {
		if err := c.persist.DeleteQueryCacheEntry(string(t), skey); err != nil {
			log.Warn().Err(err).Str("key", skey).Msg("querycache: evicting expired entry")
		}
		c.stats[t].miss()
		return nil, false
	}

	// Promote to the memory tier.
	c.memory.Add(skey, &Entry{Value: row.Value, StoredAt: row.StoredAt, ExpiresAt: row.ExpiresAt})
	c.stats[t].hit(c.costs[t])
	return row.Value, true
}

// Put stores value under (t, key) with the type's configured TTL.
func (c *Cache) Put(t Type, key string, value []byte) error {
	return c.PutTTL(t, key, value, c.ttls[t])
}

// PutTTL stores value with an explicit TTL, overriding the type default.
func (c *Cache) PutTTL(t Type, key string, value []byte, ttl time.Duration) error {
	if !ValidType(t) {
		return fmt.Errorf("querycache: unknown cache type %q", t)
	}
	if ttl <= 0 {
		return fmt.Errorf("querycache: non-positive ttl for %q", t)
	}
	now := c.now()
	entry := &Entry{Value: value, StoredAt: now, ExpiresAt: now.Add(ttl)}
	skey := storageKey(t, key)

	// Persist first: an entry visible in memory but lost from the durable
	// tier would silently shorten its lifetime to this process.
	if err := c.persist.SetQueryCacheEntry(&store.QueryCacheRow{
		CacheType: string(t),
		Key:       skey,
		Value:     value,
		StoredAt:  entry.StoredAt,
		ExpiresAt: entry.ExpiresAt,
	}); err != nil {
		return fmt.Errorf("querycache: persisting %s: %w", skey, err)
	}
	c.memory.Add(skey, entry)
	return nil
}

// Invalidate removes entries matching the glob pattern ("*" and "?"),
// optionally restricted to one type (empty Type means all types). The
// pattern matches against the composed "type:hash" key; "*" alone clears
// everything in scope. It returns the number of persisted entries removed.
func (c *Cache) Invalidate(t Type, pattern string) (int64, error) {
	if t != "" && !ValidType(t) {
		return 0, fmt.Errorf("querycache: unknown cache type %q", t)
	}
	if pattern == "" {
		pattern = "*"
	}
	fullPattern := pattern
	if t != "" {
		fullPattern = string(t) + ":" + pattern
	}

	// Memory tier: walk and match.
	for _, skey := range c.memory.Keys() {
		if matched, _ := path.Match(fullPattern, skey); matched {
			c.memory.Remove(skey)
		}
	}

	n, err := c.persist.DeleteQueryCacheMatching(string(t), globToLike(fullPattern))
	if err != nil {
		return 0, fmt.Errorf("querycache: invalidating %q: %w", fullPattern, err)
	}
	return n, nil
}

// globToLike translates a glob pattern to a SQL LIKE pattern, escaping
// LIKE metacharacters in the literal parts.
func globToLike(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%':
			b.WriteString(`\%`)
		case '_':
			b.WriteString(`\_`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PurgeExpired removes expired entries from both tiers and returns the
// number of persisted rows deleted.
func (c *Cache) PurgeExpired() (int64, error) {
	now := c.now()
	for _, skey := range c.memory.Keys() {
		if entry, ok := c.memory.Peek(skey); ok && !now.Before(entry.ExpiresAt) {
			c.memory.Remove(skey)
		}
	}
	n, err := c.persist.DeleteExpiredQueryCache(now)
	if err != nil {
		return 0, fmt.Errorf("querycache: purging expired: %w", err)
	}
	return n, nil
}

// StartPurger launches a background goroutine that purges expired entries
// every interval until ctx is cancelled. The returned channel closes when
// the purger exits.
func (c *Cache) StartPurger(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("querycache: purger panicked")
			}
		}()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := c.PurgeExpired(); err != nil {
					log.Warn().Err(err).Msg("querycache: purge failed")
				} else if n > 0 {
					log.Debug().Int64("purged", n).Msg("querycache: purged expired entries")
				}
			}
		}
	}()
	return done
}
