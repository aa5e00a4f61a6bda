package sqlflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ragcache/ragcache/internal/provider"
	"github.com/ragcache/ragcache/internal/store"
)

// fakeExecutor counts calls and can be told to fail.
type fakeExecutor struct {
	calls int32
	fail  bool
}

func (f *fakeExecutor) Execute(ctx context.Context, query string) (*provider.ResultSet, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return nil, fmt.Errorf("provider: no such table: %w", provider.ErrExecution)
	}
	return &provider.ResultSet{Columns: []string{"n"}, Rows: [][]interface{}{{int64(42)}}}, nil
}

func newTestWorkflow(t *testing.T, exec provider.Executor) *Workflow {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "wf.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, exec)
}

func TestCreateIsPending(t *testing.T) {
	w := newTestWorkflow(t, &fakeExecutor{})
	q, err := w.Create(context.Background(), "how many?", "SELECT COUNT(*) FROM t")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if q.Status != StatusPendingApproval {
		t.Errorf("status = %s, want pending_approval", q.Status)
	}
	if q.ID == "" {
		t.Error("no id assigned")
	}

	pending, err := w.ListPending(context.Background())
	if err != nil || len(pending) != 1 {
		t.Errorf("ListPending = %v, %v", pending, err)
	}
}

func TestApproveExecutesOnce(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWorkflow(t, exec)
	ctx := context.Background()
	q, _ := w.Create(ctx, "q", "SELECT 1")

	out, err := w.Decide(ctx, q.ID, true)
	if err != nil {
		t.Fatalf("Decide(approve): %v", err)
	}
	if out.Query.Status != StatusExecuted {
		t.Errorf("status = %s, want executed", out.Query.Status)
	}
	if out.Results == nil || len(out.Results.Rows) != 1 {
		t.Errorf("results = %+v", out.Results)
	}
	if out.Query.DecidedAt == nil || out.Query.ExecutedAt == nil {
		t.Error("timestamps not recorded")
	}
	if atomic.LoadInt32(&exec.calls) != 1 {
		t.Errorf("executor called %d times, want 1", exec.calls)
	}

	// Executed is terminal.
	if _, err := w.Decide(ctx, q.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("re-decide on executed = %v, want ErrNotFound", err)
	}
}

func TestRejectIsTerminalAndSkipsExecution(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWorkflow(t, exec)
	ctx := context.Background()
	q, _ := w.Create(ctx, "q", "DROP TABLE users")

	out, err := w.Decide(ctx, q.ID, false)
	if err != nil {
		t.Fatalf("Decide(reject): %v", err)
	}
	if out.Query.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", out.Query.Status)
	}
	if atomic.LoadInt32(&exec.calls) != 0 {
		t.Error("rejected query was executed")
	}
	if _, err := w.Decide(ctx, q.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("approve after reject = %v, want ErrNotFound", err)
	}
}

func TestUnknownIDIsNotFound(t *testing.T) {
	w := newTestWorkflow(t, &fakeExecutor{})
	if _, err := w.Decide(context.Background(), "no-such-id", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Decide(unknown) = %v, want ErrNotFound", err)
	}
}

func TestExecutionFailureStaysApproved(t *testing.T) {
	exec := &fakeExecutor{fail: true}
	w := newTestWorkflow(t, exec)
	ctx := context.Background()
	q, _ := w.Create(ctx, "q", "SELECT * FROM missing")

	out, err := w.Decide(ctx, q.ID, true)
	if !errors.Is(err, provider.ErrExecution) {
		t.Fatalf("Decide = %v, want ErrExecution", err)
	}
	if out == nil || out.Query.Status != StatusApproved {
		t.Fatalf("record = %+v, want approved with error", out)
	}
	if out.Query.Error == "" {
		t.Error("execution error not attached to record")
	}

	// The approval survives; a retry after the failure succeeds.
	exec.fail = false
	out, err = w.Decide(ctx, q.ID, true)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.Query.Status != StatusExecuted {
		t.Errorf("status after retry = %s, want executed", out.Query.Status)
	}
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWorkflow(t, exec)
	ctx := context.Background()
	q, _ := w.Create(ctx, "q", "SELECT 1")

	const n = 8
	var wg sync.WaitGroup
	var wins, notFound int32
	for i := 0; i < n; i++ {
		approve := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Decide(ctx, q.ID, approve)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrNotFound):
				atomic.AddInt32(&notFound, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d decisions won, want exactly 1", wins)
	}
	if wins+notFound != n {
		t.Errorf("wins=%d notFound=%d, want %d total", wins, notFound, n)
	}
}

func TestConcurrentRetriesExecuteOnce(t *testing.T) {
	exec := &fakeExecutor{fail: true}
	w := newTestWorkflow(t, exec)
	ctx := context.Background()
	q, _ := w.Create(ctx, "q", "SELECT 1")

	// First approval fails execution; the record stays approved with the
	// error attached.
	if _, err := w.Decide(ctx, q.ID, true); !errors.Is(err, provider.ErrExecution) {
		t.Fatalf("initial Decide = %v, want ErrExecution", err)
	}
	exec.fail = false

	const n = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	var wins, notFound int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := w.Decide(ctx, q.ID, true)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrNotFound):
				atomic.AddInt32(&notFound, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d retries won, want exactly 1", wins)
	}
	if wins+notFound != n {
		t.Errorf("wins=%d notFound=%d, want %d total", wins, notFound, n)
	}
	// One failed attempt plus exactly one retry.
	if calls := atomic.LoadInt32(&exec.calls); calls != 2 {
		t.Errorf("executor called %d times, want 2", calls)
	}

	out, err := w.Get(ctx, q.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Status != StatusExecuted {
		t.Errorf("status = %s, want executed", out.Status)
	}
}

func TestPruneTerminalKeepsLiveRecords(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "wf.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	past := time.Now().Add(-48 * time.Hour)
	w := New(s, &fakeExecutor{}, WithClock(func() time.Time { return past }))
	ctx := context.Background()

	old, _ := w.Create(ctx, "old", "SELECT 1")
	w.Decide(ctx, old.ID, false) // rejected, 48h ago
	stillPending, _ := w.Create(ctx, "pending", "SELECT 2")

	wNow := New(s, &fakeExecutor{})
	n, err := wNow.PruneTerminal(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneTerminal: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, err := wNow.Get(ctx, stillPending.ID); err != nil {
		t.Errorf("pending record pruned: %v", err)
	}
	if _, err := wNow.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("terminal record survived prune: %v", err)
	}
}
