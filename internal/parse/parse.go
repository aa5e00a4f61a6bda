// Package parse turns uploaded documents into chunks ready for embedding.
// Parsers register by file extension; unknown extensions are rejected with
// ErrUnsupportedFormat before any bytes are touched.
package parse

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedFormat means no parser is registered for the file's
	// extension.
	ErrUnsupportedFormat = errors.New("parse: unsupported file format")

	// ErrParse means the bytes could not be parsed as the format the
	// extension claims.
	ErrParse = errors.New("parse: malformed document")
)

// Chunk is one retrievable unit of a document.
type Chunk struct {
	Text    string `json:"text"`
	Heading string `json:"heading,omitempty"`
	Page    int    `json:"page,omitempty"`
	Tokens  int    `json:"tokens"`
}

// Parser extracts chunks from one document format.
type Parser interface {
	// Parse converts raw bytes into chunks. filename is advisory only
	// (error messages); dispatch already happened on extension.
	Parse(data []byte, filename string) ([]Chunk, error)

	// Extensions lists the lowercase extensions this parser handles,
	// without the leading dot.
	Extensions() []string
}

// Registry dispatches to parsers by file extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser for each extension it claims. Later registrations
// win so callers can override defaults.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Supported returns the registered extensions, sorted.
func (r *Registry) Supported() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse dispatches on the filename's extension.
func (r *Registry) Parse(data []byte, filename string) ([]Chunk, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return nil, fmt.Errorf("parse: %s has no extension: %w", filename, ErrUnsupportedFormat)
	}
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("parse: %s: no parser for .%s (supported: %s): %w",
			filename, ext, strings.Join(r.Supported(), ", "), ErrUnsupportedFormat)
	}
	return p.Parse(data, filename)
}

// DefaultRegistry returns a registry with the built-in parsers: plain
// text, markdown, and PDF.
func DefaultRegistry(opts ChunkOptions) (*Registry, error) {
	text, err := NewTextParser(opts)
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	r.Register(text)
	r.Register(NewPDFParser(text))
	return r, nil
}
