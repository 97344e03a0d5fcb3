package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"report-rag/internal/config"
	"report-rag/internal/helper"
	"report-rag/internal/llmservice"
	"report-rag/internal/models"
)

var (
	ErrIndexNotBuilt = errors.New("index not built: run `report-rag ingest` first")
	ErrStaleIndex    = errors.New("index was built with a different embedding setup: run `report-rag ingest` again")
	ErrGeneration    = errors.New("could not generate an answer")
	ErrEmptyQuestion = errors.New("question must not be empty")
)

// Index is the read side of a similarity store
type Index interface {
	Search(ctx context.Context, embedding []float32, k int) ([]models.Citation, error)
	Count(ctx context.Context) (int, error)
	ReadManifest(ctx context.Context) (*models.Manifest, error)
}

// KeywordSearcher is the full-text index queried in hybrid mode
type KeywordSearcher interface {
	Search(query string, k int) ([]models.Citation, error)
}

// RAG answers questions over a built index. It only reads shared state and
// is safe for concurrent use.
type RAG struct {
	cfg      *config.Config
	index    Index
	keywords KeywordSearcher
	embedder embeddings.Embedder
	llm      llms.Model
	manifest *models.Manifest
	cache    *lru.Cache[string, []float32]
	tokens   *helper.TokenCounter
	prompt   prompts.PromptTemplate
	query    *queryProcessor
}

type Option func(*RAG)

// WithKeywordIndex enables hybrid retrieval
func WithKeywordIndex(k KeywordSearcher) Option {
	return func(r *RAG) { r.keywords = k }
}

func WithTokenCounter(c *helper.TokenCounter) Option {
	return func(r *RAG) { r.tokens = c }
}

// NewRAG checks that the index was built with the configured embedder and
// returns a pipeline ready to answer questions.
func NewRAG(ctx context.Context, cfg *config.Config, index Index, embedder embeddings.Embedder, llm llms.Model, opts ...Option) (*RAG, error) {
	manifest, err := index.ReadManifest(ctx)
	if errors.Is(err, models.ErrManifestNotFound) {
		return nil, ErrIndexNotBuilt
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index manifest: %w", err)
	}
	if err := checkManifest(manifest, cfg); err != nil {
		return nil, err
	}

	n, err := index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count indexed chunks: %w", err)
	}
	if n == 0 {
		return nil, ErrIndexNotBuilt
	}

	r := &RAG{
		cfg:      cfg,
		index:    index,
		embedder: embedder,
		llm:      llm,
		manifest: manifest,
		prompt:   prompts.NewPromptTemplate(models.AnswerPromptTemplate, []string{"fallback", "context", "question"}),
		query:    newQueryProcessor(cfg.RAG.Acronyms),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tokens == nil {
		r.tokens = helper.NewTokenCounter(cfg.RAG.TokenEncoding)
	}
	if cfg.RAG.Mode == config.ModeHybrid && r.keywords == nil {
		return nil, fmt.Errorf("hybrid retrieval needs a keyword index")
	}
	if cfg.Embedding.CacheSize > 0 {
		r.cache, err = lru.New[string, []float32](cfg.Embedding.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
	}

	log.Debug().
		Str("embedding_model", manifest.EmbeddingModel).
		Int("chunks", n).
		Int("documents", len(manifest.Documents)).
		Msg("Index loaded")
	return r, nil
}

func checkManifest(m *models.Manifest, cfg *config.Config) error {
	if m.SchemaVersion != models.ManifestSchemaVersion {
		return fmt.Errorf("%w (schema version %d, expected %d)", ErrStaleIndex, m.SchemaVersion, models.ManifestSchemaVersion)
	}
	if want := cfg.EmbeddingModelID(); m.EmbeddingModel != want {
		return fmt.Errorf("%w (built with %s, configured %s)", ErrStaleIndex, m.EmbeddingModel, want)
	}
	if cfg.Embedding.Dimension > 0 && m.Dimension != cfg.Embedding.Dimension {
		return fmt.Errorf("%w (dimension %d, configured %d)", ErrStaleIndex, m.Dimension, cfg.Embedding.Dimension)
	}
	return nil
}

// Manifest describes the loaded index
func (r *RAG) Manifest() models.Manifest {
	return *r.manifest
}

// Query answers question from the k most similar chunks (rag.top_k when k
// is not positive). When the llm fails the returned result still carries the
// citations and the error wraps ErrGeneration.
func (r *RAG) Query(ctx context.Context, question string, k int) (*models.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = r.cfg.RAG.TopK
	}

	requestID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("request_id", requestID).Logger()

	citations, err := r.Retrieve(ctx, question, k)
	if err != nil {
		return nil, err
	}

	result := &models.QueryResult{
		RequestID: requestID,
		Question:  question,
		Citations: citations,
		Model:     r.cfg.LLM.Model,
	}
	if len(citations) == 0 {
		logger.Info().Msg("No relevant chunks found")
		result.Answer = models.NoInformationAnswer
		result.NoContext = true
		return result, nil
	}

	prompt, used, err := r.buildPrompt(question, citations)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("chunks", used).Int("retrieved", len(citations)).Msg("Prompt built")

	answer, err := llmservice.GenerateContent(ctx, r.llm, &r.cfg.LLM, prompt)
	if err != nil {
		logger.Error().Err(err).Msg("Generation failed")
		return result, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	result.Answer = answer
	logger.Info().Int("citations", len(citations)).Msg("Answered question")
	return result, nil
}

// Retrieve returns the chunks relevant to question, best first. It fetches
// rag.fetch_k candidates, orders them by maximal marginal relevance, reranks
// the whole pool and keeps the best k.
func (r *RAG) Retrieve(ctx context.Context, question string, k int) ([]models.Citation, error) {
	expanded := r.query.expand(question)

	vec, err := r.embedQuery(ctx, expanded)
	if err != nil {
		return nil, err
	}
	if len(vec) != r.manifest.Dimension {
		return nil, fmt.Errorf("%w (query dimension %d, index dimension %d)", ErrStaleIndex, len(vec), r.manifest.Dimension)
	}

	fetch := max(k, r.cfg.RAG.FetchK)
	hits, err := r.index.Search(ctx, vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	hits = filterBySimilarity(hits, r.cfg.RAG.MinSimilarity)
	if fetch > k {
		hits = mmr(hits, r.cfg.RAG.MMRLambda)
	}

	if r.cfg.RAG.Mode == config.ModeHybrid {
		keywordHits, err := r.keywords.Search(expanded, fetch)
		if err != nil {
			return nil, err
		}
		if r.cfg.RAG.MinSimilarity > 0 {
			// keyword-only hits have no similarity to hold against the threshold
			keywordHits = restrictTo(keywordHits, hits)
		}
		hits = fuse(hits, keywordHits, fetch)
	}

	for i := range hits {
		hits[i].FiscalYear = fiscalYear(hits[i].Source)
		hits[i].Embedding = nil
	}
	if r.cfg.RAG.Rerank {
		hits = r.query.rerank(question, hits)
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (r *RAG) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.cache != nil {
		if vec, ok := r.cache.Get(text); ok {
			return vec, nil
		}
	}
	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if r.cache != nil {
		r.cache.Add(text, vec)
	}
	return vec, nil
}

func filterBySimilarity(hits []models.Citation, threshold float32) []models.Citation {
	if threshold <= 0 {
		return hits
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Similarity >= threshold {
			kept = append(kept, h)
		}
	}
	return kept
}
