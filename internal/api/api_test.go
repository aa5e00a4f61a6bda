package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ragcache/ragcache/internal/doccache"
	"github.com/ragcache/ragcache/internal/metrics"
	"github.com/ragcache/ragcache/internal/orchestrator"
	"github.com/ragcache/ragcache/internal/parse"
	"github.com/ragcache/ragcache/internal/provider"
	"github.com/ragcache/ragcache/internal/querycache"
	"github.com/ragcache/ragcache/internal/router"
	"github.com/ragcache/ragcache/internal/sqlflow"
	"github.com/ragcache/ragcache/internal/storage"
	"github.com/ragcache/ragcache/internal/store"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t) + 1), 1, 2}
	}
	return out, nil
}

type stubAnswerer struct{}

func (stubAnswerer) Generate(ctx context.Context, question string, snippets []string) (*provider.Answer, error) {
	return &provider.Answer{Text: "answer: " + question, Sources: snippets}, nil
}

type stubSQLGen struct{}

func (stubSQLGen) GenerateSQL(ctx context.Context, question, schema string) (*provider.GeneratedSQL, error) {
	return &provider.GeneratedSQL{SQL: fmt.Sprintf("SELECT 1 /* %s */", question)}, nil
}

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, query string) (*provider.ResultSet, error) {
	return &provider.ResultSet{Columns: []string{"one"}, Rows: [][]interface{}{{int64(1)}}}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "ragcache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	backend, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	queries, err := querycache.New(querycache.Config{
		MaxMemoryEntries: 64,
		TTLs: map[querycache.Type]time.Duration{
			querycache.TypeAnswer:    time.Hour,
			querycache.TypeSQLGen:    time.Hour,
			querycache.TypeSQLResult: time.Hour,
			querycache.TypeEmbedding: time.Hour,
		},
	}, s)
	if err != nil {
		t.Fatalf("querycache.New: %v", err)
	}

	parsers, err := parse.DefaultRegistry(parse.DefaultChunkOptions())
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}

	collector := metrics.NewCollector()
	orch := orchestrator.New(orchestrator.Config{
		Docs:      doccache.New(backend, s),
		Queries:   queries,
		Router:    router.New(router.DefaultKeywords()),
		Flow:      sqlflow.New(s, orchestrator.NewCachingExecutor(queries, stubExecutor{})),
		Parsers:   parsers,
		Embedder:  stubEmbedder{},
		Vectors:   provider.NewMemIndex(),
		Answerer:  stubAnswerer{},
		SQLGen:    stubSQLGen{},
		Collector: collector,
	})

	handler := NewHandler(orch, s, collector, zerolog.Nop(), backend.Name(), 1<<20, "test")
	srv := NewServer(handler, "127.0.0.1:0", 0, 0, 0, false)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func uploadDoc(t *testing.T, ts *httptest.Server, filename, content string) orchestrator.UploadResult {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/documents?filename="+filename, "text/plain", bytes.NewReader([]byte(content)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var result orchestrator.UploadResult
	decodeBody(t, resp, &result)
	return result
}

func TestUploadAndFetchDocument(t *testing.T) {
	ts := newTestServer(t)

	const content = "The quarterly report shows steady growth across all regions."
	result := uploadDoc(t, ts, "report.txt", content)
	if result.Cached {
		t.Error("first upload reported cached")
	}
	if result.Digest == "" || result.ChunkCount == 0 {
		t.Errorf("result = %+v", result)
	}

	again := uploadDoc(t, ts, "copy.txt", content)
	if !again.Cached {
		t.Error("re-upload not cached")
	}

	resp, err := http.Get(ts.URL + "/v1/documents/" + result.Digest)
	if err != nil {
		t.Fatalf("GET document: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET document status = %d", resp.StatusCode)
	}
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if buf.String() != content {
		t.Error("document bytes do not round-trip")
	}
}

func TestUploadMissingFilename(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/documents", "text/plain", bytes.NewReader([]byte("data")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadUnsupportedFormat(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/documents?filename=image.png", "image/png", bytes.NewReader([]byte{1, 2, 3}))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/documents/deadbeef00")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestQueryDocumentsRoute(t *testing.T) {
	ts := newTestServer(t)
	uploadDoc(t, ts, "policy.txt", "Returns are accepted within 30 days of purchase.")

	resp := postJSON(t, ts.URL+"/v1/query", map[string]interface{}{
		"question": "Explain the return policy",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result orchestrator.QueryResult
	decodeBody(t, resp, &result)
	if result.Route != router.RouteDocuments {
		t.Errorf("route = %s, want DOCUMENTS", result.Route)
	}
	if result.Answer == nil {
		t.Error("missing answer")
	}
}

func TestQueryValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/query", map[string]interface{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty question: status = %d, want 400", resp.StatusCode)
	}

	raw, err := http.Post(ts.URL+"/v1/query", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", raw.StatusCode)
	}
}

func TestSQLWorkflowOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/sql/generate", map[string]string{
		"question": "How many users signed up last month?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var gen orchestrator.SQLResult
	decodeBody(t, resp, &gen)
	if gen.QueryID == "" || gen.Status != sqlflow.StatusPendingApproval {
		t.Fatalf("generated = %+v", gen)
	}

	pendingResp, err := http.Get(ts.URL + "/v1/sql/pending")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	var pending struct {
		Pending []*sqlflow.Query `json:"pending"`
	}
	decodeBody(t, pendingResp, &pending)
	if len(pending.Pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}

	decideResp := postJSON(t, ts.URL+"/v1/sql/"+gen.QueryID+"/decide", map[string]bool{"approved": true})
	if decideResp.StatusCode != http.StatusOK {
		t.Fatalf("decide status = %d", decideResp.StatusCode)
	}
	var decided sqlDecideResponse
	decodeBody(t, decideResp, &decided)
	if decided.Query.Status != sqlflow.StatusExecuted {
		t.Errorf("status = %s, want executed", decided.Query.Status)
	}
	if decided.Results == nil || len(decided.Results.Rows) != 1 {
		t.Errorf("results = %+v", decided.Results)
	}

	// A decided record cannot be decided again.
	repeat := postJSON(t, ts.URL+"/v1/sql/"+gen.QueryID+"/decide", map[string]bool{"approved": false})
	repeat.Body.Close()
	if repeat.StatusCode != http.StatusNotFound {
		t.Errorf("re-decide status = %d, want 404", repeat.StatusCode)
	}
}

func TestSQLDecideUnknownID(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/sql/no-such-id/decide", map[string]bool{"approved": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	uploadDoc(t, ts, "notes.txt", "Some notes about the architecture of the system.")

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats orchestrator.CacheStats
	decodeBody(t, resp, &stats)
	if stats.Documents.Count != 1 {
		t.Errorf("document count = %d", stats.Documents.Count)
	}
	if len(stats.QueryCache) != len(querycache.Types) {
		t.Errorf("query cache stats for %d types, want %d", len(stats.QueryCache), len(querycache.Types))
	}
	if stats.Service == nil || stats.Service.TotalUploads != 1 {
		t.Errorf("service stats = %+v", stats.Service)
	}
}

func TestClearCacheEndpoint(t *testing.T) {
	ts := newTestServer(t)
	uploadDoc(t, ts, "policy.txt", "Returns are accepted within 30 days of purchase.")
	postJSON(t, ts.URL+"/v1/query", map[string]interface{}{"question": "Explain the return policy"}).Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/cache?type=answer", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]int64
	decodeBody(t, resp, &out)
	if out["removed"] == 0 {
		t.Error("nothing removed")
	}

	bad, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/cache?type=bogus", nil)
	badResp, err := http.DefaultClient.Do(bad)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", badResp.StatusCode)
	}
}

func TestClearDocumentsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	up := uploadDoc(t, ts, "doc.txt", "Document body for deletion test, with enough words to chunk.")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/documents/"+up.Digest, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	var out map[string]int
	decodeBody(t, resp, &out)
	if out["removed"] != 1 {
		t.Errorf("removed = %d, want 1", out["removed"])
	}

	get, err := http.Get(ts.URL + "/v1/documents/" + up.Digest)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusNotFound {
		t.Errorf("status after clear = %d, want 404", get.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	ready, err := http.Get(ts.URL + "/health/ready")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d", ready.StatusCode)
	}
	var body struct {
		Status     string            `json:"status"`
		Subsystems map[string]string `json:"subsystems"`
	}
	decodeBody(t, ready, &body)
	if body.Subsystems["store"] != "ok" {
		t.Errorf("store readiness = %q", body.Subsystems["store"])
	}
	if body.Subsystems["storage"] != "local" {
		t.Errorf("storage backend = %q", body.Subsystems["storage"])
	}
}
