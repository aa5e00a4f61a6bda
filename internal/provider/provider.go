// Package provider defines the collaborator contracts the caching layer sits
// in front of: embedding, answer generation, SQL generation, vector search,
// and SQL execution. Implementations are expected to be expensive; callers
// consult the caches first and reach for a provider only on a miss.
package provider

import (
	"context"
	"errors"
)

// Sentinel errors for provider failures. Callers match with errors.Is.
var (
	// ErrProvider indicates an upstream model or embedding service failed.
	ErrProvider = errors.New("provider: upstream request failed")

	// ErrExecution indicates a generated SQL statement failed to run
	// against the target database.
	ErrExecution = errors.New("provider: sql execution failed")
)

// Answer is the result of a retrieval-augmented generation call.
type Answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
	Model   string   `json:"model,omitempty"`
}

// GeneratedSQL is the result of a text-to-SQL call.
type GeneratedSQL struct {
	SQL   string `json:"sql"`
	Model string `json:"model,omitempty"`
}

// ResultSet holds the rows returned by executing a SQL statement.
type ResultSet struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// Match is a single vector search hit.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// AnswerGenerator produces a grounded answer from a question and retrieved
// context snippets.
type AnswerGenerator interface {
	Generate(ctx context.Context, question string, contextSnippets []string) (*Answer, error)
}

// SQLGenerator translates a natural-language question into a SQL statement
// given a schema description. Implementations must be deterministic for a
// given (question, schema) pair so results are cacheable.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, question, schemaContext string) (*GeneratedSQL, error)
}

// VectorIndex is the retrieval side of the pipeline. Namespaces group the
// vectors belonging to one document so they can be dropped together.
type VectorIndex interface {
	Upsert(ctx context.Context, namespace, id string, vector []float32, text string, metadata map[string]string) error
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Executor runs an approved SQL statement against the analytics database.
type Executor interface {
	Execute(ctx context.Context, query string) (*ResultSet, error)
}
