// Package doccache is the content-addressed document cache. Documents are
// identified by the SHA-256 of their raw bytes, so the same file uploaded
// under different names processes once. Derived artifacts (chunks,
// embeddings) live in the storage backend; a SQLite index powers stats and
// clear-all without walking the backend.
//
// The artifact layout under a digest is:
//
//	<aa>/<digest>/document.bin    original bytes
//	<aa>/<digest>/chunks.json     parsed chunks
//	<aa>/<digest>/embeddings.json one vector per chunk (optional)
//	<aa>/<digest>/meta.json       written last; its presence marks the
//	                              entry complete
package doccache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ragcache/ragcache/internal/parse"
	"github.com/ragcache/ragcache/internal/storage"
	"github.com/ragcache/ragcache/internal/store"
)

// Entry is one fully processed document.
type Entry struct {
	Digest     string        `json:"digest"`
	Filename   string        `json:"filename"`
	CreatedAt  time.Time     `json:"created_at"`
	Chunks     []parse.Chunk `json:"chunks"`
	Embeddings [][]float32   `json:"embeddings,omitempty"`
}

// metadata is the meta.json payload. It is the completeness marker, so it
// carries enough to rebuild the index row.
type metadata struct {
	Digest        string    `json:"digest"`
	Filename      string    `json:"filename"`
	ChunkCount    int       `json:"chunk_count"`
	TokenCount    int       `json:"token_count"`
	SizeBytes     int64     `json:"size_bytes"`
	HasEmbeddings bool      `json:"has_embeddings"`
	CreatedAt     time.Time `json:"created_at"`
}

// Indexer is the document index. *store.Store satisfies it.
type Indexer interface {
	UpsertDocument(row *store.DocumentRow) error
	GetDocument(digest string) (*store.DocumentRow, error)
	DeleteDocument(digest string) error
	ListDocumentDigests() ([]string, error)
	DocumentStats() (int64, int64, error)
}

// Cache is the content-addressed document cache.
type Cache struct {
	backend storage.Backend
	index   Indexer
	flights singleflight.Group
	now     func() time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a Cache over a storage backend and an index.
func New(backend storage.Backend, index Indexer, opts ...Option) *Cache {
	c := &Cache{backend: backend, index: index, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Digest returns the lowercase hex SHA-256 of data. This is the cache
// identity: filename plays no part in it.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Backend exposes the underlying backend for stats reporting.
func (c *Cache) Backend() storage.Backend { return c.backend }

func docPrefix(digest string) string {
	return digest[:2] + "/" + digest + "/"
}

func docKey(digest, name string) string {
	return docPrefix(digest) + name
}

// Lookup loads the cached entry for digest. storage.ErrNotFound means the
// document has not been processed (or its write never completed); other
// errors are infrastructure failures. A corrupt entry is treated as a miss
// after logging, matching the "recompute rather than serve garbage" rule.
func (c *Cache) Lookup(ctx context.Context, digest string) (*Entry, error) {
	metaBytes, err := c.backend.Get(ctx, docKey(digest, "meta.json"))
	if err != nil {
		return nil, err
	}
	var meta metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		log.Warn().Str("digest", digest).Err(err).Msg("doccache: corrupt meta.json, treating as miss")
		return nil, fmt.Errorf("doccache: %s: corrupt metadata: %w", digest, storage.ErrNotFound)
	}

	chunkBytes, err := c.backend.Get(ctx, docKey(digest, "chunks.json"))
	if err != nil {
		return nil, err
	}
	entry := &Entry{Digest: digest, Filename: meta.Filename, CreatedAt: meta.CreatedAt}
	if err := json.Unmarshal(chunkBytes, &entry.Chunks); err != nil {
		log.Warn().Str("digest", digest).Err(err).Msg("doccache: corrupt chunks.json, treating as miss")
		return nil, fmt.Errorf("doccache: %s: corrupt chunks: %w", digest, storage.ErrNotFound)
	}

	if meta.HasEmbeddings {
		embBytes, err := c.backend.Get(ctx, docKey(digest, "embeddings.json"))
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(embBytes, &entry.Embeddings); err != nil {
			log.Warn().Str("digest", digest).Err(err).Msg("doccache: corrupt embeddings.json, treating as miss")
			return nil, fmt.Errorf("doccache: %s: corrupt embeddings: %w", digest, storage.ErrNotFound)
		}
		if len(entry.Embeddings) != len(entry.Chunks) {
			log.Warn().Str("digest", digest).Msg("doccache: embedding/chunk count mismatch, treating as miss")
			return nil, fmt.Errorf("doccache: %s: inconsistent entry: %w", digest, storage.ErrNotFound)
		}
	}
	return entry, nil
}

// Store persists an entry and its original bytes. meta.json is written
// last so a concurrent Lookup either sees the complete entry or a miss;
// on any failure the partial artifacts are removed.
func (c *Cache) Store(ctx context.Context, raw []byte, entry *Entry) error {
	if entry.Digest == "" {
		entry.Digest = Digest(raw)
	}
	if len(entry.Embeddings) > 0 && len(entry.Embeddings) != len(entry.Chunks) {
		return fmt.Errorf("doccache: %d embeddings for %d chunks", len(entry.Embeddings), len(entry.Chunks))
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now().UTC()
	}
	digest := entry.Digest

	cleanup := func() {
		for _, name := range []string{"document.bin", "chunks.json", "embeddings.json", "meta.json"} {
			if err := c.backend.Delete(ctx, docKey(digest, name)); err != nil {
				log.Warn().Str("digest", digest).Str("artifact", name).Err(err).
					Msg("doccache: cleaning up partial write")
			}
		}
	}

	chunkBytes, err := json.Marshal(entry.Chunks)
	if err != nil {
		return fmt.Errorf("doccache: encoding chunks: %w", err)
	}
	if err := c.backend.Put(ctx, docKey(digest, "document.bin"), raw); err != nil {
		cleanup()
		return fmt.Errorf("doccache: storing original: %w", err)
	}
	if err := c.backend.Put(ctx, docKey(digest, "chunks.json"), chunkBytes); err != nil {
		cleanup()
		return fmt.Errorf("doccache: storing chunks: %w", err)
	}
	if len(entry.Embeddings) > 0 {
		embBytes, err := json.Marshal(entry.Embeddings)
		if err != nil {
			cleanup()
			return fmt.Errorf("doccache: encoding embeddings: %w", err)
		}
		if err := c.backend.Put(ctx, docKey(digest, "embeddings.json"), embBytes); err != nil {
			cleanup()
			return fmt.Errorf("doccache: storing embeddings: %w", err)
		}
	}

	tokens := 0
	for _, ch := range entry.Chunks {
		tokens += ch.Tokens
	}
	metaBytes, err := json.Marshal(metadata{
		Digest:        digest,
		Filename:      entry.Filename,
		ChunkCount:    len(entry.Chunks),
		TokenCount:    tokens,
		SizeBytes:     int64(len(raw)),
		HasEmbeddings: len(entry.Embeddings) > 0,
		CreatedAt:     entry.CreatedAt,
	})
	if err != nil {
		cleanup()
		return fmt.Errorf("doccache: encoding metadata: %w", err)
	}
	if err := c.backend.Put(ctx, docKey(digest, "meta.json"), metaBytes); err != nil {
		cleanup()
		return fmt.Errorf("doccache: storing metadata: %w", err)
	}

	if err := c.index.UpsertDocument(&store.DocumentRow{
		Digest:        digest,
		Filename:      entry.Filename,
		ChunkCount:    len(entry.Chunks),
		TokenCount:    tokens,
		SizeBytes:     int64(len(raw)),
		HasEmbeddings: len(entry.Embeddings) > 0,
		CreatedAt:     entry.CreatedAt,
	}); err != nil {
		return fmt.Errorf("doccache: indexing document: %w", err)
	}
	return nil
}

type flightResult struct {
	entry  *Entry
	cached bool
}

// LoadOrProcess returns the cached entry for digest, or runs process to
// build it. process is responsible for calling Store before returning so
// the entry is durable. Concurrent calls for the same digest coalesce:
// exactly one runs process, the rest share its result. cached reports
// whether the entry came from the cache.
func (c *Cache) LoadOrProcess(ctx context.Context, digest string, process func(ctx context.Context) (*Entry, error)) (entry *Entry, cached bool, err error) {
	v, err, _ := c.flights.Do(digest, func() (interface{}, error) {
		existing, err := c.Lookup(ctx, digest)
		if err == nil {
			return flightResult{entry: existing, cached: true}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		fresh, err := process(ctx)
		if err != nil {
			return nil, err
		}
		fresh.Digest = digest
		return flightResult{entry: fresh, cached: false}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(flightResult)
	return res.entry, res.cached, nil
}

// Digests lists every cached document digest from the index.
func (c *Cache) Digests() ([]string, error) {
	return c.index.ListDocumentDigests()
}

// Original returns the raw uploaded bytes for a cached document.
func (c *Cache) Original(ctx context.Context, digest string) ([]byte, error) {
	return c.backend.Get(ctx, docKey(digest, "document.bin"))
}

// Clear removes one document (digest != "") or every document (digest ==
// ""). Clearing an absent digest is a no-op. It returns the number of
// documents removed.
func (c *Cache) Clear(ctx context.Context, digest string) (int, error) {
	if digest != "" {
		return c.clearOne(ctx, digest)
	}
	digests, err := c.index.ListDocumentDigests()
	if err != nil {
		return 0, fmt.Errorf("doccache: listing documents: %w", err)
	}
	var removed int
	for _, d := range digests {
		n, err := c.clearOne(ctx, d)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (c *Cache) clearOne(ctx context.Context, digest string) (int, error) {
	keys, err := c.backend.List(ctx, docPrefix(digest))
	if err != nil {
		return 0, fmt.Errorf("doccache: listing %s: %w", digest, err)
	}
	// meta.json first: a clear interrupted midway must not leave an
	// entry that still looks complete.
	for pass := 0; pass < 2; pass++ {
		for _, key := range keys {
			isMeta := key == docKey(digest, "meta.json")
			if (pass == 0) != isMeta {
				continue
			}
			if err := c.backend.Delete(ctx, key); err != nil {
				return 0, fmt.Errorf("doccache: deleting %s: %w", key, err)
			}
		}
	}
	row, err := c.index.GetDocument(digest)
	if err != nil {
		return 0, fmt.Errorf("doccache: reading index for %s: %w", digest, err)
	}
	if err := c.index.DeleteDocument(digest); err != nil {
		return 0, fmt.Errorf("doccache: unindexing %s: %w", digest, err)
	}
	if row == nil && len(keys) == 0 {
		return 0, nil
	}
	return 1, nil
}

// Stats reports the document count and total original bytes from the
// index.
func (c *Cache) Stats(ctx context.Context) (count int64, totalBytes int64, err error) {
	count, totalBytes, err = c.index.DocumentStats()
	if err != nil {
		return 0, 0, fmt.Errorf("doccache: stats: %w", err)
	}
	return count, totalBytes, nil
}
