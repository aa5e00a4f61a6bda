package parse

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts per-page text and hands it to the text chunker, so
// every chunk carries its page number.
type PDFParser struct {
	chunker *TextParser
}

// NewPDFParser wraps an existing text chunker.
func NewPDFParser(chunker *TextParser) *PDFParser {
	return &PDFParser{chunker: chunker}
}

// Extensions implements Parser.
func (p *PDFParser) Extensions() []string {
	return []string{"pdf"}
}

// Parse implements Parser.
func (p *PDFParser) Parse(data []byte, filename string) (chunks []Chunk, err error) {
	// The pdf library panics on some malformed files instead of
	// returning an error.
	defer func() {
		if r := recover(); r != nil {
			chunks = nil
			err = fmt.Errorf("parse: %s: pdf reader panic: %v: %w", filename, r, ErrParse)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse: %s: %v: %w", filename, err, ErrParse)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("parse: %s page %d: %v: %w", filename, i, err, ErrParse)
		}
		chunks = append(chunks, p.chunker.ChunkText(text, i)...)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("parse: %s has no extractable text: %w", filename, ErrParse)
	}
	return chunks, nil
}
