package parse

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// ChunkOptions controls how text is split. Sizes are in tokens.
type ChunkOptions struct {
	ChunkSize    int // target chunk size
	MinChunkSize int // flush threshold; smaller chunks merge forward
	Overlap      int // tokens carried into the next chunk
}

// DefaultChunkOptions mirror what the embedding models downstream work
// best with.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{ChunkSize: 512, MinChunkSize: 256, Overlap: 50}
}

// TextParser chunks plain text and markdown. Markdown headings become the
// Heading of the chunks beneath them and force a chunk boundary.
type TextParser struct {
	opts ChunkOptions
	enc  *tiktoken.Tiktoken
}

// NewTextParser builds a parser with a cl100k_base tokenizer.
func NewTextParser(opts ChunkOptions) (*TextParser, error) {
	if opts.ChunkSize <= 0 {
		opts = DefaultChunkOptions()
	}
	if opts.MinChunkSize <= 0 || opts.MinChunkSize > opts.ChunkSize {
		opts.MinChunkSize = opts.ChunkSize / 2
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("parse: loading tokenizer: %w", err)
	}
	return &TextParser{opts: opts, enc: enc}, nil
}

// Extensions implements Parser.
func (p *TextParser) Extensions() []string {
	return []string{"txt", "md", "markdown"}
}

// Parse implements Parser.
func (p *TextParser) Parse(data []byte, filename string) ([]Chunk, error) {
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("parse: %s is empty: %w", filename, ErrParse)
	}
	return p.ChunkText(text, 0), nil
}

// CountTokens reports the tokenizer's token count for s.
func (p *TextParser) CountTokens(s string) int {
	return len(p.enc.Encode(s, nil, nil))
}

// ChunkText splits text into chunks. page is attached to every produced
// chunk (zero for unpaged sources).
func (p *TextParser) ChunkText(text string, page int) []Chunk {
	var (
		chunks  []Chunk
		heading string
		buf     strings.Builder
		bufTok  int
	)

	flush := func() {
		body := strings.TrimSpace(buf.String())
		if body == "" {
			buf.Reset()
			bufTok = 0
			return
		}
		chunks = append(chunks, Chunk{
			Text:    body,
			Heading: heading,
			Page:    page,
			Tokens:  p.CountTokens(body),
		})
		buf.Reset()
		bufTok = 0
	}

	for _, para := range splitParagraphs(text) {
		if h, ok := markdownHeading(para); ok {
			flush()
			heading = h
			continue
		}

		paraTok := p.CountTokens(para)

		// A single paragraph larger than a whole chunk gets split on
		// token boundaries.
		if paraTok > p.opts.ChunkSize {
			flush()
			for _, piece := range p.splitByTokens(para) {
				chunks = append(chunks, Chunk{
					Text:    piece,
					Heading: heading,
					Page:    page,
					Tokens:  p.CountTokens(piece),
				})
			}
			continue
		}

		if bufTok+paraTok > p.opts.ChunkSize && bufTok >= p.opts.MinChunkSize {
			carried := p.overlapTail(buf.String())
			flush()
			if carried != "" {
				buf.WriteString(carried)
				buf.WriteString("\n\n")
				bufTok = p.CountTokens(carried)
			}
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		bufTok += paraTok
	}
	flush()

	return chunks
}

// splitParagraphs splits on blank lines, preserving paragraph text.
func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// markdownHeading returns the heading text when the paragraph is a single
// markdown heading line.
func markdownHeading(para string) (string, bool) {
	if strings.Contains(para, "\n") || !strings.HasPrefix(para, "#") {
		return "", false
	}
	trimmed := strings.TrimLeft(para, "#")
	if trimmed == para || !strings.HasPrefix(trimmed, " ") {
		return "", false
	}
	return strings.TrimSpace(trimmed), true
}

// splitByTokens windows an oversized paragraph into ChunkSize-token pieces
// with Overlap tokens of stride overlap.
func (p *TextParser) splitByTokens(text string) []string {
	tokens := p.enc.Encode(text, nil, nil)
	stride := p.opts.ChunkSize - p.opts.Overlap
	if stride <= 0 {
		stride = p.opts.ChunkSize
	}
	var pieces []string
	for start := 0; start < len(tokens); start += stride {
		end := start + p.opts.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		piece := strings.TrimSpace(p.enc.Decode(tokens[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(tokens) {
			break
		}
	}
	return pieces
}

// overlapTail returns the last Overlap tokens of text, decoded.
func (p *TextParser) overlapTail(text string) string {
	if p.opts.Overlap <= 0 {
		return ""
	}
	tokens := p.enc.Encode(strings.TrimSpace(text), nil, nil)
	if len(tokens) <= p.opts.Overlap {
		return ""
	}
	return strings.TrimSpace(p.enc.Decode(tokens[len(tokens)-p.opts.Overlap:]))
}
