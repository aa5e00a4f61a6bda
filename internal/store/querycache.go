package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// QueryCacheRow is one persisted query-result cache entry. Expiry is
// enforced by the cache layer against its own clock; the store returns
// rows as-is.
type QueryCacheRow struct {
	CacheType string
	Key       string
	Value     []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

// SetQueryCacheEntry inserts or replaces a cache entry.
func (s *Store) SetQueryCacheEntry(row *QueryCacheRow) error {
	_, err := s.writer.Exec(`
		INSERT OR REPLACE INTO query_cache (cache_type, key, value, stored_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		row.CacheType, row.Key, row.Value,
		row.StoredAt.UTC().Format(time.RFC3339Nano),
		row.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: set query cache entry: %w", err)
	}
	return nil
}

// GetQueryCacheEntry returns the entry for (cacheType, key), or nil if
// none exists.
func (s *Store) GetQueryCacheEntry(cacheType, key string) (*QueryCacheRow, error) {
	row := &QueryCacheRow{CacheType: cacheType, Key: key}
	var storedAt, expiresAt string
	err := s.reader.QueryRow(`
		SELECT value, stored_at, expires_at FROM query_cache
		WHERE cache_type = ? AND key = ?`,
		cacheType, key,
	).Scan(&row.Value, &storedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get query cache entry: %w", err)
	}
	if row.StoredAt, err = time.Parse(time.RFC3339Nano, storedAt); err != nil {
		return nil, fmt.Errorf("store: parse stored_at: %w", err)
	}
	if row.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("store: parse expires_at: %w", err)
	}
	return row, nil
}

// DeleteQueryCacheEntry removes a single entry. Missing entries are not
// an error.
func (s *Store) DeleteQueryCacheEntry(cacheType, key string) error {
	_, err := s.writer.Exec(
		"DELETE FROM query_cache WHERE cache_type = ? AND key = ?",
		cacheType, key,
	)
	if err != nil {
		return fmt.Errorf("store: delete query cache entry: %w", err)
	}
	return nil
}

// DeleteExpiredQueryCache removes all entries that expired before now and
// returns the number deleted.
func (s *Store) DeleteExpiredQueryCache(now time.Time) (int64, error) {
	result, err := s.writer.Exec(
		"DELETE FROM query_cache WHERE expires_at < ?",
		now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired query cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete expired rows affected: %w", err)
	}
	return n, nil
}

// DeleteQueryCacheMatching removes entries whose key matches the SQL LIKE
// pattern, optionally restricted to one cache type (empty = all types).
// It returns the number of rows deleted.
func (s *Store) DeleteQueryCacheMatching(cacheType, likePattern string) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if cacheType == "" {
		result, err = s.writer.Exec(
			`DELETE FROM query_cache WHERE key LIKE ? ESCAPE '\'`, likePattern)
	} else {
		result, err = s.writer.Exec(
			`DELETE FROM query_cache WHERE cache_type = ? AND key LIKE ? ESCAPE '\'`,
			cacheType, likePattern)
	}
	if err != nil {
		return 0, fmt.Errorf("store: delete query cache matching: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete matching rows affected: %w", err)
	}
	return n, nil
}

// CountQueryCache returns the number of persisted entries per cache type.
func (s *Store) CountQueryCache() (map[string]int64, error) {
	rows, err := s.reader.Query(
		"SELECT cache_type, COUNT(*) FROM query_cache GROUP BY cache_type")
	if err != nil {
		return nil, fmt.Errorf("store: count query cache: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("store: scan query cache count: %w", err)
		}
		counts[t] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate query cache counts: %w", err)
	}
	return counts, nil
}
