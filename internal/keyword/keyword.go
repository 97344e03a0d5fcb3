package keyword

import (
	"errors"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/rs/zerolog/log"

	"report-rag/internal/models"
)

const batchSize = 100

// document is what gets indexed for every chunk. The default mapping stores
// each field so hits can be turned back into chunks.
type document struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Page    int    `json:"page"`
	Index   int    `json:"index"`
	Offset  int    `json:"offset"`
}

// Index is a full-text side index over the same chunks as the vector store
type Index struct {
	index bleve.Index
}

// Create builds an empty index at path, replacing any previous one. An empty
// path keeps the index in memory.
func Create(path string) (*Index, error) {
	mapping := bleve.NewIndexMapping()
	if path == "" {
		idx, err := bleve.NewMemOnly(mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to create keyword index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to remove old keyword index: %w", err)
	}
	idx, err := bleve.New(path, mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &Index{index: idx}, nil
}

func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("keyword index %s does not exist: %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}
	return &Index{index: idx}, nil
}

func (i *Index) Add(chunks []models.Chunk) error {
	batch := i.index.NewBatch()
	for _, c := range chunks {
		doc := document{Content: c.Content, Source: c.Source, Page: c.Page, Index: c.Index, Offset: c.Offset}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
		if batch.Size() >= batchSize {
			if err := i.index.Batch(batch); err != nil {
				return fmt.Errorf("failed to write batch: %w", err)
			}
			batch = i.index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := i.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
	}
	log.Debug().Int("count", len(chunks)).Msg("Indexed chunks for keyword search")
	return nil
}

// Search runs a match query over chunk content. Similarity carries the
// bleve score, which is not comparable with vector similarities.
func (i *Index) Search(query string, k int) ([]models.Citation, error) {
	if k <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
	req.Fields = []string{"*"}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	citations := make([]models.Citation, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c := models.Citation{Chunk: models.Chunk{ID: hit.ID}, Similarity: float32(hit.Score)}
		if content, ok := hit.Fields["content"].(string); ok {
			c.Content = content
		}
		if source, ok := hit.Fields["source"].(string); ok {
			c.Source = source
		}
		if page, ok := hit.Fields["page"].(float64); ok {
			c.Page = int(page)
		}
		if index, ok := hit.Fields["index"].(float64); ok {
			c.Index = int(index)
		}
		if offset, ok := hit.Fields["offset"].(float64); ok {
			c.Offset = int(offset)
		}
		citations = append(citations, c)
	}
	return citations, nil
}

func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

func (i *Index) Close() error {
	return i.index.Close()
}
