package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DocumentRow indexes one cached document. The blobs themselves live in
// the storage backend; this table exists so stats and clear-all do not
// need to walk the backend.
type DocumentRow struct {
	Digest        string
	Filename      string
	ChunkCount    int
	TokenCount    int
	SizeBytes     int64
	HasEmbeddings bool
	CreatedAt     time.Time
}

// UpsertDocument inserts or replaces a document index row.
func (s *Store) UpsertDocument(row *DocumentRow) error {
	hasEmb := 0
	if row.HasEmbeddings {
		hasEmb = 1
	}
	_, err := s.writer.Exec(`
		INSERT OR REPLACE INTO documents (digest, filename, chunk_count, token_count, size_bytes, has_embeddings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.Digest, row.Filename, row.ChunkCount, row.TokenCount,
		row.SizeBytes, hasEmb, row.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: upsert document: %w", err)
	}
	return nil
}

// GetDocument returns the index row for a digest, or nil if none exists.
func (s *Store) GetDocument(digest string) (*DocumentRow, error) {
	row := &DocumentRow{}
	var hasEmb int
	var createdAt string
	err := s.reader.QueryRow(`
		SELECT digest, filename, chunk_count, token_count, size_bytes, has_embeddings, created_at
		FROM documents WHERE digest = ?`, digest,
	).Scan(&row.Digest, &row.Filename, &row.ChunkCount, &row.TokenCount,
		&row.SizeBytes, &hasEmb, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	row.HasEmbeddings = hasEmb != 0
	if row.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("store: parse document created_at: %w", err)
	}
	return row, nil
}

// DeleteDocument removes one index row. Missing rows are not an error.
func (s *Store) DeleteDocument(digest string) error {
	if _, err := s.writer.Exec("DELETE FROM documents WHERE digest = ?", digest); err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	return nil
}

// ListDocumentDigests returns every indexed digest.
func (s *Store) ListDocumentDigests() ([]string, error) {
	rows, err := s.reader.Query("SELECT digest FROM documents")
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("store: scan document digest: %w", err)
		}
		digests = append(digests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate documents: %w", err)
	}
	return digests, nil
}

// DocumentStats reports the document count and total cached bytes.
func (s *Store) DocumentStats() (count int64, totalBytes int64, err error) {
	err = s.reader.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM documents",
	).Scan(&count, &totalBytes)
	if err != nil {
		return 0, 0, fmt.Errorf("store: document stats: %w", err)
	}
	return count, totalBytes, nil
}
