package store

// SQL schema constants for all ragcache tables.

const schemaQueryCache = `
CREATE TABLE IF NOT EXISTS query_cache (
    cache_type TEXT NOT NULL,
    key TEXT NOT NULL,
    value BLOB NOT NULL,
    stored_at TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    PRIMARY KEY (cache_type, key)
);
CREATE INDEX IF NOT EXISTS idx_query_cache_expires ON query_cache(expires_at);
`

const schemaSQLQueries = `
CREATE TABLE IF NOT EXISTS sql_queries (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    generated_sql TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    decided_at TEXT NOT NULL DEFAULT '',
    executed_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sql_queries_status ON sql_queries(status);
CREATE INDEX IF NOT EXISTS idx_sql_queries_created ON sql_queries(created_at);
`

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    digest TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    token_count INTEGER NOT NULL DEFAULT 0,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    has_embeddings INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas lists every DDL block applied by the initial migration.
var allSchemas = []string{
	schemaQueryCache,
	schemaSQLQueries,
	schemaDocuments,
}
