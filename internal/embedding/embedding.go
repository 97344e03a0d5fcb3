package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/cybertron"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

const (
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderLocal   = "local"
	ProviderHashing = "hashing"

	defaultLocalModel = "sentence-transformers/all-MiniLM-L6-v2"
	defaultDimension  = 384
)

// NewEmbedder builds the embedder configured in cfg. The same configuration
// must be used at ingestion and query time.
func NewEmbedder(cfg *config.EmbeddingConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	opts := []embeddings.Option{
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	}

	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaEmbedder(cfg, opts...)
	case ProviderOpenAI:
		llm, err := openai.New(openaiOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai client: %w", err)
		}
		return embeddings.NewEmbedder(llm, opts...)
	case ProviderLocal:
		model := cfg.Model
		if model == "" {
			model = defaultLocalModel
		}
		copts := []cybertron.Option{cybertron.WithModel(model)}
		if cfg.ModelsDir != "" {
			copts = append(copts, cybertron.WithModelsDir(cfg.ModelsDir))
		}
		client, err := cybertron.NewCybertron(copts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load local model %s: %w", model, err)
		}
		return embeddings.NewEmbedder(client, opts...)
	case ProviderHashing:
		dim := cfg.Dimension
		if dim == 0 {
			dim = defaultDimension
		}
		return NewHashingEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// NewOllamaEmbedder creates an embedder backed by an ollama server
func NewOllamaEmbedder(cfg *config.EmbeddingConfig, opts ...embeddings.Option) (*embeddings.EmbedderImpl, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return embeddings.NewEmbedder(llm, opts...)
}

func openaiOptions(cfg *config.EmbeddingConfig) []openai.Option {
	opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKeyEnv != "" {
		opts = append(opts, openai.WithToken(strings.TrimPrefix(os.Getenv(cfg.APIKeyEnv), "Bearer ")))
	}
	return opts
}

// GenerateEmbeddings embeds every chunk. All vectors must share one dimension.
func GenerateEmbeddings(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([]models.EmbeddingRecord, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	dim := len(vectors[0])
	records := make([]models.EmbeddingRecord, len(chunks))
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 || len(vectors[i]) != dim {
			return nil, fmt.Errorf("chunk %s: vector dimension %d, expected %d", chunk.ID, len(vectors[i]), dim)
		}
		records[i] = models.EmbeddingRecord{Chunk: chunk, Embedding: vectors[i]}
	}
	return records, nil
}
