package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ragcache/ragcache/internal/tracing"
)

// OpenAIConfig configures a Client. BaseURL points at any OpenAI-compatible
// endpoint (api.openai.com, a local vLLM/Ollama gateway, etc.).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
	SQLModel   string
	// Seed makes SQL generation reproducible so responses are cacheable.
	Seed    int
	Timeout time.Duration
}

// Client talks to an OpenAI-compatible HTTP API. It implements Embedder,
// AnswerGenerator and SQLGenerator.
type Client struct {
	cfg  OpenAIConfig
	http *http.Client
}

// NewClient returns a Client for the given endpoint.
func NewClient(cfg OpenAIConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	Seed        *int          `json:"seed,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embedResponse
	err := c.post(ctx, "/v1/embeddings", embedRequest{Model: c.cfg.EmbedModel, Input: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("provider: embeddings count mismatch: sent %d texts, got %d vectors: %w",
			len(texts), len(resp.Data), ErrProvider)
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("provider: embedding index %d out of range: %w", d.Index, ErrProvider)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Generate implements AnswerGenerator. Context snippets are concatenated
// into the system prompt; the model is instructed to answer only from them.
func (c *Client) Generate(ctx context.Context, question string, contextSnippets []string) (*Answer, error) {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the context below. ")
	sb.WriteString("If the context does not contain the answer, say so.\n\n")
	for i, snippet := range contextSnippets {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, snippet)
	}

	req := chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: sb.String()},
			{Role: "user", Content: question},
		},
		Temperature: 0.2,
	}
	var resp chatResponse
	if err := c.post(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider: chat response has no choices: %w", ErrProvider)
	}
	return &Answer{
		Text:    resp.Choices[0].Message.Content,
		Sources: contextSnippets,
		Model:   resp.Model,
	}, nil
}

// GenerateSQL implements SQLGenerator. Temperature is pinned to zero and a
// fixed seed is sent so identical questions produce identical SQL.
func (c *Client) GenerateSQL(ctx context.Context, question, schemaContext string) (*GeneratedSQL, error) {
	model := c.cfg.SQLModel
	if model == "" {
		model = c.cfg.ChatModel
	}
	seed := c.cfg.Seed
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: "You translate questions into a single SQL statement for the schema below. " +
				"Reply with SQL only, no prose, no code fences.\n\n" + schemaContext},
			{Role: "user", Content: question},
		},
		Temperature: 0,
		TopP:        0.1,
		Seed:        &seed,
	}
	var resp chatResponse
	if err := c.post(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider: chat response has no choices: %w", ErrProvider)
	}
	return &GeneratedSQL{
		SQL:   stripSQLFences(resp.Choices[0].Message.Content),
		Model: resp.Model,
	}, nil
}

// stripSQLFences removes markdown code fences that some models wrap SQL in
// despite instructions.
func stripSQLFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("provider: encoding request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("provider: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s: %v: %w", path, err, ErrProvider)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider: %s returned %d: %s: %w", path, resp.StatusCode, string(snippet), ErrProvider)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider: decoding %s response: %v: %w", path, err, ErrProvider)
	}
	return nil
}
