package models

import (
	"fmt"
	"strconv"
	"time"
)

// Document describes one source file of the report collection
type Document struct {
	ID       string `json:"id" yaml:"id"`
	Bytes    int64  `json:"bytes" yaml:"bytes"`
	Pages    int    `json:"pages" yaml:"pages"`
	Checksum uint32 `json:"checksum" yaml:"checksum"`
	Chunks   int    `json:"chunks" yaml:"chunks"`
}

// Page is the extracted text of one page (or sheet, or slide)
type Page struct {
	Number int
	Text   string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Page    int    `json:"page"`
	Index   int    `json:"index"`
	Offset  int    `json:"offset"`
}

// ChunkID builds the deterministic identifier of a chunk
func ChunkID(source string, page, index int) string {
	return fmt.Sprintf("%s#p%d-c%d", source, page, index)
}

// EmbeddingRecord is what gets written to the similarity index
type EmbeddingRecord struct {
	Chunk
	Embedding []float32
}

// Citation is a chunk returned by retrieval
type Citation struct {
	Chunk
	Similarity float32   `json:"similarity"`
	FiscalYear string    `json:"fiscal_year,omitempty"`
	Embedding  []float32 `json:"-"`
}

// Excerpt returns at most n bytes of the citation content
func (c Citation) Excerpt(n int) string {
	if n <= 0 || len(c.Content) <= n {
		return c.Content
	}
	cut := n
	// do not split a multi-byte rune
	for cut > 0 && c.Content[cut]&0xC0 == 0x80 {
		cut--
	}
	return c.Content[:cut] + "..."
}

// Label formats the citation as "[file [FYyyyy-yy] - Page p]"
func (c Citation) Label() string {
	year := ""
	if c.FiscalYear != "" {
		year = fmt.Sprintf(" [FY%s]", c.FiscalYear)
	}
	return fmt.Sprintf("[%s%s - Page %s]", c.Source, year, PageLabel(c.Page))
}

func PageLabel(page int) string {
	if page == UnknownPage {
		return "n/a"
	}
	return strconv.Itoa(page)
}

type QueryResult struct {
	RequestID string     `json:"request_id"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Model     string     `json:"model,omitempty"`
	NoContext bool       `json:"no_context,omitempty"`
}

// Manifest describes the embedding space of a built index
type Manifest struct {
	SchemaVersion  int        `yaml:"schema_version"`
	EmbeddingModel string     `yaml:"embedding_model"`
	Dimension      int        `yaml:"dimension"`
	ChunkSize      int        `yaml:"chunk_size"`
	ChunkOverlap   int        `yaml:"chunk_overlap"`
	Splitter       string     `yaml:"splitter"`
	Documents      []Document `yaml:"documents"`
	Chunks         int        `yaml:"chunks"`
	BuiltAt        time.Time  `yaml:"built_at"`
}
