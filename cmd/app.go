package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"report-rag/internal/chromemdb"
	"report-rag/internal/config"
	"report-rag/internal/db"
	"report-rag/internal/embedding"
	"report-rag/internal/ingest"
	"report-rag/internal/keyword"
	"report-rag/internal/llmservice"
	"report-rag/internal/rag"
)

// vectorStore is implemented by both storage backends
type vectorStore interface {
	rag.Index
	ingest.Store
	Close() error
}

func openStore(cfg *config.Config, embedder embeddings.Embedder) (vectorStore, error) {
	switch cfg.Store.Backend {
	case config.BackendChromem:
		return chromemdb.NewStore(cfg.Store, embedder)
	case config.BackendPgvector:
		return db.NewStore(cfg.Store)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// pipeline holds everything a question needs. close releases the stores.
type pipeline struct {
	rag      *rag.RAG
	store    vectorStore
	keywords *keyword.Index
}

func (p *pipeline) close() {
	if p.keywords != nil {
		p.keywords.Close()
	}
	if err := p.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing store")
	}
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	embedder, err := embedding.NewEmbedder(&cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("error initializing embedder: %w", err)
	}
	llm, err := llmservice.NewClient(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing llm: %w", err)
	}
	store, err := openStore(cfg, embedder)
	if err != nil {
		return nil, err
	}

	p := &pipeline{store: store}
	var opts []rag.Option
	if cfg.RAG.Mode == config.ModeHybrid {
		p.keywords, err = keyword.Open(cfg.RAG.KeywordIndex)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("%w (%w)", rag.ErrIndexNotBuilt, err)
		}
		opts = append(opts, rag.WithKeywordIndex(p.keywords))
	}

	p.rag, err = rag.NewRAG(ctx, cfg, store, embedder, llm, opts...)
	if err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}
