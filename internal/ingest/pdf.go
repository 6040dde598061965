package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/finch/internal/vectorindex"
)

// maxChunkChars bounds the size of one indexed chunk; long pages are
// split at word boundaries.
const maxChunkChars = 1200

// Page holds the plain text of one PDF page (1-based numbering).
type Page struct {
	Number int
	Text   string
}

// ExtractPages parses raw PDF bytes and returns per-page plain text.
// Pages with no extractable text are skipped.
func ExtractPages(raw []byte) ([]Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("parsing pdf: %w", err)
	}

	var pages []Page
	for n := 1; n <= r.NumPage(); n++ {
		p := r.Page(n)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d: %w", n, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: n, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf contains no extractable text")
	}
	return pages, nil
}

// Chunks converts extracted pages into index chunks. Each chunk text is
// prefixed with its page number so retrieved passages can cite it.
func Chunks(documentID string, pages []Page) []vectorindex.Chunk {
	var out []vectorindex.Chunk
	for _, p := range pages {
		for i, part := range splitText(p.Text, maxChunkChars) {
			out = append(out, vectorindex.Chunk{
				ID:   fmt.Sprintf("%s-p%d-%d", documentID, p.Number, i),
				Text: fmt.Sprintf("[page %d]\n%s", p.Number, part),
				Page: p.Number,
			})
		}
	}
	return out
}

func splitText(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var parts []string
	for len(text) > max {
		cut := strings.LastIndexAny(text[:max], " \n")
		if cut <= 0 {
			cut = max
		}
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
