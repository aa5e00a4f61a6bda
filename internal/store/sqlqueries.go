package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLQueryRow is one SQL workflow record. Timestamps other than CreatedAt
// are empty strings until the corresponding transition happens.
type SQLQueryRow struct {
	ID           string
	Question     string
	GeneratedSQL string
	Status       string
	ErrorMessage string
	CreatedAt    string
	DecidedAt    string
	ExecutedAt   string
}

// InsertSQLQuery records a freshly generated statement.
func (s *Store) InsertSQLQuery(row *SQLQueryRow) error {
	_, err := s.writer.Exec(`
		INSERT INTO sql_queries (id, question, generated_sql, status, error_message, created_at, decided_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Question, row.GeneratedSQL, row.Status,
		row.ErrorMessage, row.CreatedAt, row.DecidedAt, row.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert sql query: %w", err)
	}
	return nil
}

// GetSQLQuery returns the record with the given id, or nil if none exists.
func (s *Store) GetSQLQuery(id string) (*SQLQueryRow, error) {
	row := &SQLQueryRow{}
	err := s.reader.QueryRow(`
		SELECT id, question, generated_sql, status, error_message, created_at, decided_at, executed_at
		FROM sql_queries WHERE id = ?`, id,
	).Scan(&row.ID, &row.Question, &row.GeneratedSQL, &row.Status,
		&row.ErrorMessage, &row.CreatedAt, &row.DecidedAt, &row.ExecutedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get sql query: %w", err)
	}
	return row, nil
}

// TransitionSQLQuery moves a record from one status to another, updating
// the given timestamp column. It returns false when the record was not in
// fromStatus, which makes concurrent decisions race-safe: exactly one
// caller observes the transition.
func (s *Store) TransitionSQLQuery(id, fromStatus, toStatus, timeColumn, timestamp, errorMessage string) (bool, error) {
	if timeColumn != "decided_at" && timeColumn != "executed_at" {
		return false, fmt.Errorf("store: invalid time column %q", timeColumn)
	}
	q := fmt.Sprintf(`
		UPDATE sql_queries SET status = ?, %s = ?, error_message = ?
		WHERE id = ? AND status = ?`, timeColumn)
	result, err := s.writer.Exec(q, toStatus, timestamp, errorMessage, id, fromStatus)
	if err != nil {
		return false, fmt.Errorf("store: transition sql query: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: transition rows affected: %w", err)
	}
	return n == 1, nil
}

// ClaimSQLQueryRetry clears the execution error on an approved record.
// It returns false when the record is not approved with an error attached,
// so of several concurrent retries of the same failed execution exactly
// one caller observes the claim and proceeds.
func (s *Store) ClaimSQLQueryRetry(id string) (bool, error) {
	result, err := s.writer.Exec(`
		UPDATE sql_queries SET error_message = ''
		WHERE id = ? AND status = 'approved' AND error_message != ''`, id)
	if err != nil {
		return false, fmt.Errorf("store: claim sql query retry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim retry rows affected: %w", err)
	}
	return n == 1, nil
}

// SetSQLQueryError attaches an execution error to a record without
// changing its status.
func (s *Store) SetSQLQueryError(id, errorMessage string) error {
	_, err := s.writer.Exec(
		"UPDATE sql_queries SET error_message = ? WHERE id = ?",
		errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("store: set sql query error: %w", err)
	}
	return nil
}

// ListSQLQueriesByStatus returns records with the given status, oldest
// first.
func (s *Store) ListSQLQueriesByStatus(status string) ([]*SQLQueryRow, error) {
	rows, err := s.reader.Query(`
		SELECT id, question, generated_sql, status, error_message, created_at, decided_at, executed_at
		FROM sql_queries WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("store: list sql queries: %w", err)
	}
	defer rows.Close()

	var out []*SQLQueryRow
	for rows.Next() {
		row := &SQLQueryRow{}
		if err := rows.Scan(&row.ID, &row.Question, &row.GeneratedSQL, &row.Status,
			&row.ErrorMessage, &row.CreatedAt, &row.DecidedAt, &row.ExecutedAt); err != nil {
			return nil, fmt.Errorf("store: scan sql query: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate sql queries: %w", err)
	}
	return out, nil
}

// CountSQLQueriesByStatus returns record counts grouped by status.
func (s *Store) CountSQLQueriesByStatus() (map[string]int64, error) {
	rows, err := s.reader.Query(
		"SELECT status, COUNT(*) FROM sql_queries GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("store: count sql queries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan sql query count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate sql query counts: %w", err)
	}
	return counts, nil
}

// PruneSQLQueries removes terminal records (rejected or executed) created
// before the cutoff. Pending and approved records are never pruned.
func (s *Store) PruneSQLQueries(cutoff time.Time) (int64, error) {
	result, err := s.writer.Exec(`
		DELETE FROM sql_queries
		WHERE status IN ('rejected', 'executed') AND created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("store: prune sql queries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune rows affected: %w", err)
	}
	return n, nil
}
