// Package sqlflow is the human-in-the-loop state machine for generated
// SQL. Nothing executes without an explicit approval (or the operator
// turning on auto-approve, which is just an immediate approval decision).
//
// States: pending_approval -> approved -> executed
//
//	pending_approval -> rejected
//
// rejected and executed are terminal. A failed execution leaves the
// record approved with the error attached, so the decision survives and
// execution can be retried.
package sqlflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ragcache/ragcache/internal/provider"
	"github.com/ragcache/ragcache/internal/store"
)

// Status is a workflow state.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusExecuted        Status = "executed"
)

// ErrNotFound covers both an unknown query id and a decision that arrived
// after the record left the deciding state (terminal, or lost a race).
var ErrNotFound = errors.New("sqlflow: query not found or already decided")

// Query is one workflow record.
type Query struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	SQL        string     `json:"sql"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// Outcome is the result of a decision. Results is non-nil only after a
// successful execution.
type Outcome struct {
	Query   *Query              `json:"query"`
	Results *provider.ResultSet `json:"results,omitempty"`
}

// Recorder persists workflow records. *store.Store satisfies it.
type Recorder interface {
	InsertSQLQuery(row *store.SQLQueryRow) error
	GetSQLQuery(id string) (*store.SQLQueryRow, error)
	TransitionSQLQuery(id, fromStatus, toStatus, timeColumn, timestamp, errorMessage string) (bool, error)
	ClaimSQLQueryRetry(id string) (bool, error)
	SetSQLQueryError(id, errorMessage string) error
	ListSQLQueriesByStatus(status string) ([]*store.SQLQueryRow, error)
	CountSQLQueriesByStatus() (map[string]int64, error)
	PruneSQLQueries(cutoff time.Time) (int64, error)
}

// Workflow manages the state machine. All methods are safe for concurrent
// use; races on the same record are settled by conditional transitions in
// the store, never in memory.
type Workflow struct {
	rec  Recorder
	exec provider.Executor
	now  func() time.Time
}

// Option customises a Workflow.
type Option func(*Workflow)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New builds a Workflow over a recorder and an executor.
func New(rec Recorder, exec provider.Executor, opts ...Option) *Workflow {
	w := &Workflow{rec: rec, exec: exec, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create records freshly generated SQL as pending approval and returns
// the record with its new id.
func (w *Workflow) Create(ctx context.Context, question, sqlText string) (*Query, error) {
	row := &store.SQLQueryRow{
		ID:           uuid.NewString(),
		Question:     question,
		GeneratedSQL: sqlText,
		Status:       string(StatusPendingApproval),
		CreatedAt:    w.now().UTC().Format(time.RFC3339Nano),
	}
	if err := w.rec.InsertSQLQuery(row); err != nil {
		return nil, fmt.Errorf("sqlflow: recording query: %w", err)
	}
	log.Debug().Str("query_id", row.ID).Msg("sqlflow: query pending approval")
	return fromRow(row)
}

// Decide applies an approval decision. Rejection is terminal. Approval
// triggers execution; if execution fails the record stays approved with
// the error attached and Decide returns the execution error alongside the
// record, so a later approval can retry.
func (w *Workflow) Decide(ctx context.Context, id string, approved bool) (*Outcome, error) {
	row, err := w.rec.GetSQLQuery(id)
	if err != nil {
		return nil, fmt.Errorf("sqlflow: loading %s: %w", id, err)
	}
	if row == nil {
		return nil, fmt.Errorf("sqlflow: %s: %w", id, ErrNotFound)
	}

	ts := w.now().UTC().Format(time.RFC3339Nano)

	switch Status(row.Status) {
	case StatusPendingApproval:
		if !approved {
			ok, err := w.rec.TransitionSQLQuery(id, string(StatusPendingApproval), string(StatusRejected), "decided_at", ts, "")
			if err != nil {
				return nil, fmt.Errorf("sqlflow: rejecting %s: %w", id, err)
			}
			if !ok {
				return nil, fmt.Errorf("sqlflow: %s: %w", id, ErrNotFound)
			}
			log.Info().Str("query_id", id).Msg("sqlflow: query rejected")
			return w.outcome(id, nil)
		}
		ok, err := w.rec.TransitionSQLQuery(id, string(StatusPendingApproval), string(StatusApproved), "decided_at", ts, "")
		if err != nil {
			return nil, fmt.Errorf("sqlflow: approving %s: %w", id, err)
		}
		if !ok {
			// Another decision won the race.
			return nil, fmt.Errorf("sqlflow: %s: %w", id, ErrNotFound)
		}
		return w.execute(ctx, id, row.GeneratedSQL)

	case StatusApproved:
		// Only approved-with-error records accept a decision: a fresh
		// approval retries the failed execution. The claim clears the
		// recorded error conditionally, so of several concurrent
		// retries exactly one executes. An approved record without an
		// error is mid-execution; any decision on it is stale.
		if approved && row.ErrorMessage != "" {
			ok, err := w.rec.ClaimSQLQueryRetry(id)
			if err != nil {
				return nil, fmt.Errorf("sqlflow: claiming retry for %s: %w", id, err)
			}
			if !ok {
				return nil, fmt.Errorf("sqlflow: %s: %w", id, ErrNotFound)
			}
			return w.execute(ctx, id, row.GeneratedSQL)
		}
		return nil, fmt.Errorf("sqlflow: %s: %w", id, ErrNotFound)

	default: // rejected, executed
		return nil, fmt.Errorf("sqlflow: %s: %w", id, ErrNotFound)
	}
}

// execute runs the statement for an approved record and moves it to
// executed on success.
func (w *Workflow) execute(ctx context.Context, id, sqlText string) (*Outcome, error) {
	results, err := w.exec.Execute(ctx, sqlText)
	if err != nil {
		if serr := w.rec.SetSQLQueryError(id, err.Error()); serr != nil {
			log.Warn().Err(serr).Str("query_id", id).Msg("sqlflow: attaching execution error")
		}
		log.Warn().Err(err).Str("query_id", id).Msg("sqlflow: execution failed, record stays approved")
		outcome, oerr := w.outcome(id, nil)
		if oerr != nil {
			return nil, oerr
		}
		return outcome, fmt.Errorf("sqlflow: executing %s: %w", id, err)
	}

	ts := w.now().UTC().Format(time.RFC3339Nano)
	ok, err := w.rec.TransitionSQLQuery(id, string(StatusApproved), string(StatusExecuted), "executed_at", ts, "")
	if err != nil {
		return nil, fmt.Errorf("sqlflow: marking %s executed: %w", id, err)
	}
	if !ok {
		// A concurrent retry finished first; the rows are still valid.
		log.Debug().Str("query_id", id).Msg("sqlflow: lost executed transition, result still served")
	}
	log.Info().Str("query_id", id).Int("rows", len(results.Rows)).Msg("sqlflow: query executed")
	return w.outcome(id, results)
}

func (w *Workflow) outcome(id string, results *provider.ResultSet) (*Outcome, error) {
	row, err := w.rec.GetSQLQuery(id)
	if err != nil || row == nil {
		return nil, fmt.Errorf("sqlflow: reloading %s: %w", id, err)
	}
	q, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &Outcome{Query: q, Results: results}, nil
}

// Get returns one record.
func (w *Workflow) Get(ctx context.Context, id string) (*Query, error) {
	row, err := w.rec.GetSQLQuery(id)
	if err != nil {
		return nil, fmt.Errorf("sqlflow: loading %s: %w", id, err)
	}
	if row == nil {
		return nil, fmt.Errorf("sqlflow: %s: %w", id, ErrNotFound)
	}
	return fromRow(row)
}

// ListPending returns all records awaiting a decision, oldest first.
func (w *Workflow) ListPending(ctx context.Context) ([]*Query, error) {
	rows, err := w.rec.ListSQLQueriesByStatus(string(StatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("sqlflow: listing pending: %w", err)
	}
	out := make([]*Query, 0, len(rows))
	for _, row := range rows {
		q, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// CountByStatus returns record counts per state for stats reporting.
func (w *Workflow) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	raw, err := w.rec.CountSQLQueriesByStatus()
	if err != nil {
		return nil, fmt.Errorf("sqlflow: counting: %w", err)
	}
	counts := make(map[Status]int64, len(raw))
	for s, n := range raw {
		counts[Status(s)] = n
	}
	return counts, nil
}

// PruneTerminal removes rejected and executed records older than
// retention. Pending and approved records are never pruned.
func (w *Workflow) PruneTerminal(retention time.Duration) (int64, error) {
	return w.rec.PruneSQLQueries(w.now().Add(-retention))
}

func fromRow(row *store.SQLQueryRow) (*Query, error) {
	created, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlflow: parsing created_at for %s: %w", row.ID, err)
	}
	q := &Query{
		ID:        row.ID,
		Question:  row.Question,
		SQL:       row.GeneratedSQL,
		Status:    Status(row.Status),
		Error:     row.ErrorMessage,
		CreatedAt: created,
	}
	if row.DecidedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, row.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlflow: parsing decided_at for %s: %w", row.ID, err)
		}
		q.DecidedAt = &t
	}
	if row.ExecutedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, row.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlflow: parsing executed_at for %s: %w", row.ID, err)
		}
		q.ExecutedAt = &t
	}
	return q, nil
}
