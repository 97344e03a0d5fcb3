package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"report-rag/internal/config"
	"report-rag/internal/embedding"
	"report-rag/internal/keyword"
	"report-rag/internal/models"
	"report-rag/internal/parser"
)

var (
	ErrNoDocuments = errors.New("no supported documents found")
	ErrNoText      = errors.New("no text extracted")
)

// Store is the write side of a similarity store
type Store interface {
	Reset(ctx context.Context) error
	Add(ctx context.Context, records []models.EmbeddingRecord) error
	WriteManifest(ctx context.Context, m models.Manifest) error
}

// KeywordIndexer receives the same chunks as the vector store
type KeywordIndexer interface {
	Add(chunks []models.Chunk) error
}

// Corpus is the parsed and chunked content of an input directory
type Corpus struct {
	Documents []models.Document
	Chunks    []models.Chunk
	Skipped   []string
}

type Ingester struct {
	cfg      *config.Config
	parser   *parser.Parser
	embedder embeddings.Embedder
	store    Store
	keywords KeywordIndexer

	keywordPath string
}

type Option func(*Ingester)

func WithKeywordIndex(k KeywordIndexer) Option {
	return func(i *Ingester) { i.keywords = k }
}

// WithKeywordIndexPath rebuilds the bleve index at path during Run. The old
// index is only replaced once the documents are loaded and embedded.
func WithKeywordIndexPath(path string) Option {
	return func(i *Ingester) { i.keywordPath = path }
}

// NewIngester wires the parser with the embedder and store. embedder and
// store may be nil when only Load is used.
func NewIngester(cfg *config.Config, embedder embeddings.Embedder, store Store, opts ...Option) (*Ingester, error) {
	p, err := parser.New(cfg.Ingest)
	if err != nil {
		return nil, err
	}
	i := &Ingester{cfg: cfg, parser: p, embedder: embedder, store: store}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// ListFiles returns the supported files directly inside dir in lexical order
func (i *Ingester) ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !i.parser.CanParse(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s (extensions %v)", ErrNoDocuments, dir, i.parser.Extensions())
	}
	return files, nil
}

// Load parses and chunks every file of dir. Unreadable files are logged and
// skipped unless ingest.strict is set.
func (i *Ingester) Load(dir string) (*Corpus, error) {
	files, err := i.ListFiles(dir)
	if err != nil {
		return nil, err
	}

	corpus := &Corpus{}
	for _, path := range files {
		doc, pages, err := i.parser.ParseFile(path)
		if err == nil {
			var chunks []models.Chunk
			chunks, err = i.parser.Chunk(doc, pages)
			if err == nil {
				doc.Chunks = len(chunks)
				corpus.Documents = append(corpus.Documents, doc)
				corpus.Chunks = append(corpus.Chunks, chunks...)
				log.Info().Str("file", doc.ID).Int("pages", doc.Pages).Int("chunks", doc.Chunks).Msg("Processed document")
				continue
			}
		}

		if i.cfg.Ingest.Strict {
			return nil, fmt.Errorf("failed to process %s: %w", path, err)
		}
		log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable document")
		corpus.Skipped = append(corpus.Skipped, filepath.Base(path))
	}

	if len(corpus.Chunks) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNoText, dir)
	}
	return corpus, nil
}

// Run rebuilds the index from dir. The manifest is written last, so an
// interrupted build leaves an index that reads as not built.
func (i *Ingester) Run(ctx context.Context, dir string) (*models.Manifest, *Corpus, error) {
	if i.embedder == nil || i.store == nil {
		return nil, nil, fmt.Errorf("ingester needs an embedder and a store to build the index")
	}

	corpus, err := i.Load(dir)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	records, err := embedding.GenerateEmbeddings(ctx, i.embedder, corpus.Chunks)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Int("chunks", len(records)).Dur("took", time.Since(start)).Msg("Embedded chunks")

	if err := i.store.Reset(ctx); err != nil {
		return nil, nil, err
	}
	if err := i.store.Add(ctx, records); err != nil {
		return nil, nil, err
	}
	keywords := i.keywords
	if keywords == nil && i.keywordPath != "" {
		idx, err := keyword.Create(i.keywordPath)
		if err != nil {
			return nil, nil, err
		}
		defer idx.Close()
		keywords = idx
	}
	if keywords != nil {
		if err := keywords.Add(corpus.Chunks); err != nil {
			return nil, nil, err
		}
	}

	manifest := models.Manifest{
		SchemaVersion:  models.ManifestSchemaVersion,
		EmbeddingModel: i.cfg.EmbeddingModelID(),
		Dimension:      len(records[0].Embedding),
		ChunkSize:      i.cfg.Ingest.ChunkSize,
		ChunkOverlap:   i.cfg.Ingest.ChunkOverlap,
		Splitter:       i.cfg.Ingest.Splitter,
		Documents:      corpus.Documents,
		Chunks:         len(records),
		BuiltAt:        time.Now().UTC(),
	}
	if err := i.store.WriteManifest(ctx, manifest); err != nil {
		return nil, nil, err
	}

	log.Info().
		Int("documents", len(corpus.Documents)).
		Int("skipped", len(corpus.Skipped)).
		Int("chunks", manifest.Chunks).
		Str("embedding_model", manifest.EmbeddingModel).
		Msg("Index built")
	return &manifest, corpus, nil
}
