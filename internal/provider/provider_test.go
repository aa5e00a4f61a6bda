package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := embedResponse{}
		// Return vectors out of order to exercise index-based placement.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 1}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", EmbedModel: "emb"})
	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	if vecs[2][0] != 2 {
		t.Errorf("vectors not re-ordered by index: %v", vecs)
	}
}

func TestClientEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	c := NewClient(OpenAIConfig{BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestClientGenerateSQLPinsDeterminism(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "sql-model",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "```sql\nSELECT 1;\n```"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(OpenAIConfig{BaseURL: srv.URL, ChatModel: "chat", SQLModel: "sql-model", Seed: 42})
	out, err := c.GenerateSQL(context.Background(), "how many?", "CREATE TABLE t(x)")
	if err != nil {
		t.Fatalf("GenerateSQL: %v", err)
	}
	if got.Temperature != 0 {
		t.Errorf("temperature not pinned to 0, got %v", got.Temperature)
	}
	if got.Seed == nil || *got.Seed != 42 {
		t.Errorf("seed not sent, got %v", got.Seed)
	}
	if out.SQL != "SELECT 1;" {
		t.Errorf("code fences not stripped: %q", out.SQL)
	}
}

func TestClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(OpenAIConfig{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), "q", nil)
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// MemIndex
// ---------------------------------------------------------------------------

func TestMemIndexQueryOrdering(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()

	idx.Upsert(ctx, "doc1", "0", []float32{1, 0}, "east", nil)
	idx.Upsert(ctx, "doc1", "1", []float32{0, 1}, "north", nil)
	idx.Upsert(ctx, "doc2", "0", []float32{0.9, 0.1}, "mostly east", nil)

	matches, err := idx.Query(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Text != "east" || matches[1].Text != "mostly east" {
		t.Errorf("wrong ordering: %q then %q", matches[0].Text, matches[1].Text)
	}
	if matches[0].Score <= matches[1].Score {
		t.Errorf("scores not descending: %v", matches)
	}
}

func TestMemIndexDeleteNamespace(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()

	idx.Upsert(ctx, "doc1", "0", []float32{1, 0}, "", nil)
	idx.Upsert(ctx, "doc2", "0", []float32{1, 0}, "", nil)

	if err := idx.DeleteNamespace(ctx, "doc1"); err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}
	if idx.Len() != 1 {
		t.Errorf("expected 1 entry after delete, got %d", idx.Len())
	}
	// Deleting again is a no-op.
	if err := idx.DeleteNamespace(ctx, "doc1"); err != nil {
		t.Fatalf("second DeleteNamespace: %v", err)
	}
}

func TestMemIndexUpsertReplaces(t *testing.T) {
	idx := NewMemIndex()
	ctx := context.Background()

	idx.Upsert(ctx, "doc1", "0", []float32{1, 0}, "old", nil)
	idx.Upsert(ctx, "doc1", "0", []float32{0, 1}, "new", nil)

	if idx.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", idx.Len())
	}
	matches, _ := idx.Query(ctx, []float32{0, 1}, 1)
	if matches[0].Text != "new" {
		t.Errorf("upsert did not replace, got %q", matches[0].Text)
	}
}

func TestStripSQLFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"SELECT 1", "SELECT 1"},
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"  SELECT 1  ", "SELECT 1"},
	}
	for _, c := range cases {
		if got := stripSQLFences(c.in); got != c.want {
			t.Errorf("stripSQLFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
