package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ragcache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)

	version, err := s.currentVersion()
	if err != nil {
		t.Fatalf("currentVersion: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Re-opening the same file must be a no-op, not a failure.
	s2, err := Open(s.Path())
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	s2.Close()
}

func TestQueryCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	row := &QueryCacheRow{
		CacheType: "answer",
		Key:       "answer:abc",
		Value:     []byte(`{"text":"hi"}`),
		StoredAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := s.SetQueryCacheEntry(row); err != nil {
		t.Fatalf("SetQueryCacheEntry: %v", err)
	}

	got, err := s.GetQueryCacheEntry("answer", "answer:abc")
	if err != nil {
		t.Fatalf("GetQueryCacheEntry: %v", err)
	}
	if got == nil {
		t.Fatal("entry not found")
	}
	if string(got.Value) != `{"text":"hi"}` {
		t.Errorf("value = %q", got.Value)
	}
	if !got.ExpiresAt.Equal(row.ExpiresAt) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, row.ExpiresAt)
	}

	missing, err := s.GetQueryCacheEntry("answer", "nope")
	if err != nil || missing != nil {
		t.Errorf("missing entry = %v, %v; want nil, nil", missing, err)
	}
}

func TestDeleteExpiredQueryCache(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	s.SetQueryCacheEntry(&QueryCacheRow{
		CacheType: "answer", Key: "old", Value: []byte("x"),
		StoredAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	})
	s.SetQueryCacheEntry(&QueryCacheRow{
		CacheType: "answer", Key: "fresh", Value: []byte("y"),
		StoredAt: now, ExpiresAt: now.Add(time.Hour),
	})

	n, err := s.DeleteExpiredQueryCache(now)
	if err != nil {
		t.Fatalf("DeleteExpiredQueryCache: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}
	if got, _ := s.GetQueryCacheEntry("answer", "fresh"); got == nil {
		t.Error("fresh entry was deleted")
	}
}

func TestDeleteQueryCacheMatching(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	for _, key := range []string{"answer:a1", "answer:a2", "sql_gen:b1"} {
		ctype := "answer"
		if key == "sql_gen:b1" {
			ctype = "sql_gen"
		}
		s.SetQueryCacheEntry(&QueryCacheRow{
			CacheType: ctype, Key: key, Value: []byte("v"),
			StoredAt: now, ExpiresAt: now.Add(time.Hour),
		})
	}

	n, err := s.DeleteQueryCacheMatching("answer", "answer:%")
	if err != nil {
		t.Fatalf("DeleteQueryCacheMatching: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}
	if got, _ := s.GetQueryCacheEntry("sql_gen", "sql_gen:b1"); got == nil {
		t.Error("sql_gen entry should survive an answer-only invalidation")
	}
}

// ---------------------------------------------------------------------------
// sql_queries
// ---------------------------------------------------------------------------

func TestSQLQueryTransitions(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	row := &SQLQueryRow{
		ID: "q1", Question: "how many?", GeneratedSQL: "SELECT COUNT(*) FROM t",
		Status: "pending_approval", CreatedAt: now,
	}
	if err := s.InsertSQLQuery(row); err != nil {
		t.Fatalf("InsertSQLQuery: %v", err)
	}

	ok, err := s.TransitionSQLQuery("q1", "pending_approval", "approved", "decided_at", now, "")
	if err != nil || !ok {
		t.Fatalf("approve transition = %v, %v", ok, err)
	}

	// A second decision on the same record must lose the race.
	ok, err = s.TransitionSQLQuery("q1", "pending_approval", "rejected", "decided_at", now, "")
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Error("second transition won, want exactly one winner")
	}

	got, _ := s.GetSQLQuery("q1")
	if got.Status != "approved" {
		t.Errorf("status = %q, want approved", got.Status)
	}
}

func TestClaimSQLQueryRetry(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	s.InsertSQLQuery(&SQLQueryRow{
		ID: "q1", Question: "q", GeneratedSQL: "SELECT 1",
		Status: "approved", ErrorMessage: "no such table", CreatedAt: now,
	})

	ok, err := s.ClaimSQLQueryRetry("q1")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v, want success", ok, err)
	}

	// The claim cleared the error, so a second claim must lose.
	ok, err = s.ClaimSQLQueryRetry("q1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Error("second claim won, want exactly one winner")
	}

	got, _ := s.GetSQLQuery("q1")
	if got.Status != "approved" || got.ErrorMessage != "" {
		t.Errorf("record = %+v, want approved with error cleared", got)
	}

	// Records without an attached error are never claimable.
	s.InsertSQLQuery(&SQLQueryRow{
		ID: "q2", Question: "q", GeneratedSQL: "SELECT 2",
		Status: "approved", CreatedAt: now,
	})
	if ok, _ := s.ClaimSQLQueryRetry("q2"); ok {
		t.Error("claimed an approved record with no error")
	}
}

func TestListAndCountSQLQueries(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		status := "pending_approval"
		if id == "c" {
			status = "rejected"
		}
		s.InsertSQLQuery(&SQLQueryRow{
			ID: id, Question: "q", GeneratedSQL: "SELECT 1", Status: status,
			CreatedAt: base.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
		})
	}

	pending, err := s.ListSQLQueriesByStatus("pending_approval")
	if err != nil {
		t.Fatalf("ListSQLQueriesByStatus: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "a" {
		t.Errorf("pending = %+v, want [a b] oldest first", pending)
	}

	counts, err := s.CountSQLQueriesByStatus()
	if err != nil {
		t.Fatalf("CountSQLQueriesByStatus: %v", err)
	}
	if counts["pending_approval"] != 2 || counts["rejected"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestPruneSQLQueriesKeepsPending(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().UTC().AddDate(0, 0, -60).Format(time.RFC3339Nano)

	s.InsertSQLQuery(&SQLQueryRow{ID: "old-exec", Question: "q", GeneratedSQL: "SELECT 1", Status: "executed", CreatedAt: old})
	s.InsertSQLQuery(&SQLQueryRow{ID: "old-pending", Question: "q", GeneratedSQL: "SELECT 1", Status: "pending_approval", CreatedAt: old})

	n, err := s.PruneSQLQueries(time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PruneSQLQueries: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	if got, _ := s.GetSQLQuery("old-pending"); got == nil {
		t.Error("pending record must never be pruned")
	}
}

// ---------------------------------------------------------------------------
// documents
// ---------------------------------------------------------------------------

func TestDocumentIndex(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	err := s.UpsertDocument(&DocumentRow{
		Digest: "abc123", Filename: "report.pdf", ChunkCount: 4,
		TokenCount: 1200, SizeBytes: 9000, HasEmbeddings: true, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	got, err := s.GetDocument("abc123")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got == nil || got.Filename != "report.pdf" || !got.HasEmbeddings {
		t.Errorf("document = %+v", got)
	}

	count, bytes, err := s.DocumentStats()
	if err != nil {
		t.Fatalf("DocumentStats: %v", err)
	}
	if count != 1 || bytes != 9000 {
		t.Errorf("stats = %d, %d; want 1, 9000", count, bytes)
	}

	digests, _ := s.ListDocumentDigests()
	if len(digests) != 1 || digests[0] != "abc123" {
		t.Errorf("digests = %v", digests)
	}

	if err := s.DeleteDocument("abc123"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if got, _ := s.GetDocument("abc123"); got != nil {
		t.Error("document survived delete")
	}
}
