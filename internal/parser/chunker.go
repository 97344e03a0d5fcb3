package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

var recursiveSeparators = []string{"\n\n\n", "\n\n", "\n", ". ", " ", ""}

type span struct {
	start, end int
}

// Chunk splits the pages of doc into chunks numbered sequentially across
// the whole document
func (p *Parser) Chunk(doc models.Document, pages []models.Page) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range pages {
		spans, err := p.split(page.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s page %d: %w", doc.ID, page.Number, err)
		}
		for _, s := range spans {
			index := len(chunks)
			chunks = append(chunks, models.Chunk{
				ID:      models.ChunkID(doc.ID, page.Number, index),
				Content: page.Text[s.start:s.end],
				Source:  doc.ID,
				Page:    page.Number,
				Index:   index,
				Offset:  s.start,
			})
		}
	}
	return chunks, nil
}

func (p *Parser) split(text string) ([]span, error) {
	switch p.cfg.Splitter {
	case config.SplitterRecursive:
		return splitRecursive(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	default:
		return chunkContent(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap), nil
	}
}

// chunkContent cuts content into windows of at most maxChars bytes. Each
// window starts overlapChars bytes before the end of the previous one, so
// consecutive windows share exactly the overlap.
func chunkContent(content string, maxChars, overlapChars int) []span {
	if maxChars <= 0 || len(content) == 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	contentLen := len(content)
	if contentLen <= maxChars {
		return []span{{0, contentLen}}
	}

	var spans []span
	start := 0
	for {
		end := min(start+maxChars, contentLen)

		// prefer a clean break within the last 10% of the window
		if end < contentLen {
			lookBack := maxChars / 10
			for i := end - 1; i >= end-lookBack && i > start+overlapChars; i-- {
				if content[i] == ' ' || content[i] == '\n' || content[i] == '.' {
					end = i + 1
					break
				}
			}
			for end > start+1 && !utf8.RuneStart(content[end]) {
				end--
			}
		}

		spans = append(spans, span{start, end})
		if end >= contentLen {
			break
		}

		next := end - overlapChars
		for next < end && !utf8.RuneStart(content[next]) {
			next++
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// splitRecursive delegates to the langchain recursive splitter and recovers
// each chunk's offset by searching forward in text. The splitter trims
// whitespace from its chunks, so every gap is handed back to the chunk before
// it and the spans cover the whole text.
func splitRecursive(text string, size, overlap int) ([]span, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(recursiveSeparators),
		textsplitter.WithKeepSeparator(true),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	spans := make([]span, 0, len(parts))
	from := 0
	for _, part := range parts {
		var s span
		if idx := strings.Index(text[from:], part); idx >= 0 {
			s = span{from + idx, from + idx + len(part)}
		} else {
			// the splitter rewrote the text, fall back to a running offset
			start := 0
			if len(spans) > 0 {
				start = spans[len(spans)-1].end
			}
			s = span{start, min(start+len(part), len(text))}
		}

		if len(spans) == 0 {
			s.start = 0
		} else if prev := &spans[len(spans)-1]; s.start > prev.end {
			prev.end = s.start
		}
		spans = append(spans, s)
		from = min(s.start+1, len(text))
	}
	if len(spans) > 0 {
		spans[len(spans)-1].end = len(text)
	}
	return spans, nil
}

// Reassemble rebuilds the source text from chunks ordered by Index, dropping
// the overlap between consecutive chunks of the same page. Pages are joined
// with a blank line.
func Reassemble(chunks []models.Chunk) string {
	var content strings.Builder
	prevPage, prevEnd := -1, 0
	for i, chunk := range chunks {
		if chunk.Page != prevPage {
			if i > 0 {
				content.WriteString("\n\n")
			}
			content.WriteString(chunk.Content)
			prevPage, prevEnd = chunk.Page, chunk.Offset+len(chunk.Content)
			continue
		}

		overlap := prevEnd - chunk.Offset
		if overlap < 0 {
			overlap = 0
		}
		if overlap < len(chunk.Content) {
			content.WriteString(chunk.Content[overlap:])
		}
		prevEnd = max(prevEnd, chunk.Offset+len(chunk.Content))
	}
	return content.String()
}
