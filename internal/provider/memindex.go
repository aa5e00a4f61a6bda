package provider

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemIndex is an in-process VectorIndex using exact cosine similarity.
// It holds every vector in memory, which is fine for the corpus sizes this
// service targets; swap in a real vector database behind the VectorIndex
// interface when that stops being true.
type MemIndex struct {
	mu      sync.RWMutex
	entries map[string]*indexEntry // keyed by namespace + "/" + id
}

type indexEntry struct {
	namespace string
	id        string
	vector    []float32
	norm      float64
	text      string
	metadata  map[string]string
}

// NewMemIndex returns an empty index.
func NewMemIndex() *MemIndex {
	return &MemIndex{entries: make(map[string]*indexEntry)}
}

// Upsert implements VectorIndex. Re-upserting an existing (namespace, id)
// replaces the stored vector.
func (m *MemIndex) Upsert(ctx context.Context, namespace, id string, vector []float32, text string, metadata map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("provider: upsert %s/%s: empty vector", namespace, id)
	}
	e := &indexEntry{
		namespace: namespace,
		id:        id,
		vector:    vector,
		norm:      vectorNorm(vector),
		text:      text,
		metadata:  metadata,
	}
	m.mu.Lock()
	m.entries[namespace+"/"+id] = e
	m.mu.Unlock()
	return nil
}

// Query implements VectorIndex. Results are ordered by descending cosine
// similarity. Entries whose dimension differs from the query are skipped.
func (m *MemIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	qnorm := vectorNorm(vector)
	if qnorm == 0 {
		return nil, fmt.Errorf("provider: query vector has zero norm")
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		if len(e.vector) != len(vector) || e.norm == 0 {
			continue
		}
		var dot float64
		for i := range vector {
			dot += float64(vector[i]) * float64(e.vector[i])
		}
		matches = append(matches, Match{
			ID:       e.namespace + "/" + e.id,
			Score:    dot / (qnorm * e.norm),
			Text:     e.text,
			Metadata: e.metadata,
		})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteNamespace implements VectorIndex. Deleting an absent namespace is a
// no-op.
func (m *MemIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	for key, e := range m.entries {
		if e.namespace == namespace {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored vectors across all namespaces.
func (m *MemIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
