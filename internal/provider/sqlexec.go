package provider

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DBExecutor runs statements against a database/sql handle. The default
// deployment points it at a read-only sqlite analytics database; any driver
// works as long as the handle is already open.
type DBExecutor struct {
	db      *sql.DB
	maxRows int
}

// OpenSQLiteExecutor opens a sqlite database in read-only mode and returns
// an executor over it.
func OpenSQLiteExecutor(path string, maxRows int) (*DBExecutor, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=query_only(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("provider: opening analytics db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("provider: pinging analytics db: %w", err)
	}
	return NewDBExecutor(db, maxRows), nil
}

// NewDBExecutor wraps an existing handle. maxRows caps result size;
// zero means no cap.
func NewDBExecutor(db *sql.DB, maxRows int) *DBExecutor {
	return &DBExecutor{db: db, maxRows: maxRows}
}

// Close closes the underlying handle.
func (e *DBExecutor) Close() error {
	return e.db.Close()
}

// Execute implements Executor. Failures are wrapped in ErrExecution so the
// workflow layer can distinguish them from infrastructure errors.
func (e *DBExecutor) Execute(ctx context.Context, query string) (*ResultSet, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("provider: %v: %w", err, ErrExecution)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("provider: reading columns: %v: %w", err, ErrExecution)
	}

	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		if e.maxRows > 0 && len(rs.Rows) >= e.maxRows {
			break
		}
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("provider: scanning row: %v: %w", err, ErrExecution)
		}
		// sqlite returns TEXT as []byte; convert for JSON friendliness.
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provider: iterating rows: %v: %w", err, ErrExecution)
	}
	return rs, nil
}
