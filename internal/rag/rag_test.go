package rag

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"report-rag/internal/chromemdb"
	"report-rag/internal/config"
	"report-rag/internal/embedding"
	"report-rag/internal/helper"
	"report-rag/internal/ingest"
	"report-rag/internal/keyword"
	"report-rag/internal/models"
)

const dim = 128

type fakeLLM struct {
	answer  string
	err     error
	calls   atomic.Int32
	prompts []string
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls.Add(1)
	for _, m := range messages {
		for _, p := range m.Parts {
			if text, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// countingEmbedder counts query embeddings
type countingEmbedder struct {
	*embedding.HashingEmbedder
	queries atomic.Int32
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.queries.Add(1)
	return c.HashingEmbedder.EmbedQuery(ctx, text)
}

func writePDF(t *testing.T, path string, pages ...string) {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		pdf.AddPage()
		if text != "" {
			pdf.Cell(40, 10, text)
		}
	}
	require.NoError(t, pdf.OutputFileAndClose(path))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding = config.EmbeddingConfig{Provider: embedding.ProviderHashing, Dimension: dim, BatchSize: 8, CacheSize: 16}
	cfg.Store.Path = filepath.Join(t.TempDir(), "chromem")
	cfg.RAG.KeywordIndex = ""
	cfg.RAG.TokenEncoding = ""
	return cfg
}

// buildIndex writes the given documents as pdfs (one string per page) and
// ingests them
func buildIndex(t *testing.T, cfg *config.Config, docs map[string][]string, opts ...ingest.Option) *chromemdb.Store {
	t.Helper()
	dir := t.TempDir()
	for name, pages := range docs {
		writePDF(t, filepath.Join(dir, name), pages...)
	}

	store, err := chromemdb.NewStore(cfg.Store, embedding.NewHashingEmbedder(dim))
	require.NoError(t, err)
	ing, err := ingest.NewIngester(cfg, embedding.NewHashingEmbedder(dim), store, opts...)
	require.NoError(t, err)
	_, _, err = ing.Run(context.Background(), dir)
	require.NoError(t, err)
	return store
}

func newRAG(t *testing.T, cfg *config.Config, store Index, llm llms.Model, opts ...Option) *RAG {
	t.Helper()
	r, err := NewRAG(context.Background(), cfg, store, embedding.NewHashingEmbedder(dim), llm, opts...)
	require.NoError(t, err)
	return r
}

func Test_Query_CitesTheAnsweringChunk(t *testing.T) {
	cfg := testConfig(t)
	store := buildIndex(t, cfg, map[string][]string{
		"annual_report_2022-23.pdf": {"Balance sheet overview", "Total income: 500 crore"},
	})
	llm := &fakeLLM{answer: "Total income was 500 crore [annual_report_2022-23.pdf - Page 2]."}
	r := newRAG(t, cfg, store, llm)

	res, err := r.Query(context.Background(), "What is the total income?", 1)
	require.NoError(t, err)

	require.Len(t, res.Citations, 1)
	c := res.Citations[0]
	assert.Equal(t, "annual_report_2022-23.pdf", c.Source)
	assert.Equal(t, 2, c.Page)
	assert.Equal(t, "2022-23", c.FiscalYear)
	assert.Contains(t, c.Content, "Total income: 500 crore")
	assert.Equal(t, llm.answer, res.Answer)
	assert.NotEmpty(t, res.RequestID)
	assert.False(t, res.NoContext)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "--- Source 1: annual_report_2022-23.pdf [FY2022-23] (Page 2) ---\nTotal income: 500 crore")
	assert.Contains(t, llm.prompts[0], "Question: What is the total income?")
	assert.Contains(t, llm.prompts[0], models.NoInformationAnswer)
}

func Test_Query_OnlyCitesTheClosestDocument(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAG.MinSimilarity = 0.1
	store := buildIndex(t, cfg, map[string][]string{
		"a.pdf": {"Total income: 500 crore", "Balance sheet overview"},
		"d.pdf": {"Grants to producer organizations rose", "Producer organizations received grants again"},
	})
	r := newRAG(t, cfg, store, &fakeLLM{answer: "ok"})

	res, err := r.Query(context.Background(), "grants to producer organizations", 8)
	require.NoError(t, err)
	require.Len(t, res.Citations, 2)
	for _, c := range res.Citations {
		assert.Equal(t, "d.pdf", c.Source)
	}
}

func Test_Query_SingleChunkIndex(t *testing.T) {
	cfg := testConfig(t)
	store := buildIndex(t, cfg, map[string][]string{"only.pdf": {"Total income: 500 crore"}})
	r := newRAG(t, cfg, store, &fakeLLM{answer: "ok"})

	for _, q := range []string{"rural credit", "What is the total income?", "weather"} {
		res, err := r.Query(context.Background(), q, 5)
		require.NoError(t, err, q)
		require.Len(t, res.Citations, 1, q)
		assert.Equal(t, "only.pdf#p1-c0", res.Citations[0].ID)
	}
}

func Test_NewRAG_IndexNotBuilt(t *testing.T) {
	cfg := testConfig(t)
	store, err := chromemdb.NewStore(cfg.Store, nil)
	require.NoError(t, err)

	_, err = NewRAG(context.Background(), cfg, store, embedding.NewHashingEmbedder(dim), &fakeLLM{})
	assert.ErrorIs(t, err, ErrIndexNotBuilt)
	assert.Contains(t, err.Error(), "report-rag ingest")
}

func Test_NewRAG_EmptyIndexWithManifest(t *testing.T) {
	cfg := testConfig(t)
	store, err := chromemdb.NewStore(cfg.Store, nil)
	require.NoError(t, err)
	require.NoError(t, store.WriteManifest(context.Background(), models.Manifest{
		SchemaVersion:  models.ManifestSchemaVersion,
		EmbeddingModel: cfg.EmbeddingModelID(),
		Dimension:      dim,
	}))

	_, err = NewRAG(context.Background(), cfg, store, embedding.NewHashingEmbedder(dim), &fakeLLM{})
	assert.ErrorIs(t, err, ErrIndexNotBuilt)
}

func Test_NewRAG_StaleIndex(t *testing.T) {
	cfg := testConfig(t)
	store := buildIndex(t, cfg, map[string][]string{"a.pdf": {"Total income: 500 crore"}})

	t.Run("model changed", func(t *testing.T) {
		changed := *cfg
		changed.Embedding.Provider = embedding.ProviderOllama
		changed.Embedding.Model = "nomic-embed-text"
		_, err := NewRAG(context.Background(), &changed, store, embedding.NewHashingEmbedder(dim), &fakeLLM{})
		assert.ErrorIs(t, err, ErrStaleIndex)
	})

	t.Run("dimension changed", func(t *testing.T) {
		changed := *cfg
		changed.Embedding.Dimension = 64
		_, err := NewRAG(context.Background(), &changed, store, embedding.NewHashingEmbedder(64), &fakeLLM{})
		assert.ErrorIs(t, err, ErrStaleIndex)
	})

	t.Run("query dimension differs", func(t *testing.T) {
		changed := *cfg
		changed.Embedding.Dimension = 0
		r, err := NewRAG(context.Background(), &changed, store, embedding.NewHashingEmbedder(64), &fakeLLM{})
		require.NoError(t, err)
		_, err = r.Query(context.Background(), "total income", 3)
		assert.ErrorIs(t, err, ErrStaleIndex)
	})
}

func Test_Query_GenerationFailureKeepsCitations(t *testing.T) {
	cfg := testConfig(t)
	store := buildIndex(t, cfg, map[string][]string{"a.pdf": {"Total income: 500 crore"}})
	r := newRAG(t, cfg, store, &fakeLLM{err: errors.New("upstream timeout")})

	res, err := r.Query(context.Background(), "What is the total income?", 3)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorContains(t, err, "upstream timeout")
	require.NotNil(t, res)
	assert.Len(t, res.Citations, 1)
	assert.Empty(t, res.Answer)
}

func Test_Query_NoContextSkipsLLM(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAG.MinSimilarity = 0.5
	store := buildIndex(t, cfg, map[string][]string{"a.pdf": {"Total income: 500 crore"}})
	llm := &fakeLLM{answer: "should not be used"}
	r := newRAG(t, cfg, store, llm)

	res, err := r.Query(context.Background(), "weather forecast", 3)
	require.NoError(t, err)
	assert.True(t, res.NoContext)
	assert.Equal(t, models.NoInformationAnswer, res.Answer)
	assert.Empty(t, res.Citations)
	assert.Zero(t, llm.calls.Load())
}

func Test_Query_EmptyQuestion(t *testing.T) {
	cfg := testConfig(t)
	store := buildIndex(t, cfg, map[string][]string{"a.pdf": {"Total income: 500 crore"}})
	r := newRAG(t, cfg, store, &fakeLLM{})

	_, err := r.Query(context.Background(), "  \n", 3)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func Test_Query_Idempotent(t *testing.T) {
	docs := map[string][]string{
		"report_2021-22.pdf": {"Total income: 450 crore", "Grants to producer organizations"},
		"report_2022-23.pdf": {"Total income rose to 500 crore", "Refinance to regional rural banks"},
	}
	questions := []string{"What is the total income?", "grants", "RRB refinance in 2022-23"}

	answers := func() [][]string {
		cfg := testConfig(t)
		cfg.RAG.MinSimilarity = 0.05
		store := buildIndex(t, cfg, docs)
		r := newRAG(t, cfg, store, &fakeLLM{answer: "ok"})
		var out [][]string
		for _, q := range questions {
			hits, err := r.Retrieve(context.Background(), q, 3)
			require.NoError(t, err)
			var ids []string
			for _, h := range hits {
				ids = append(ids, h.ID)
			}
			out = append(out, ids)
		}
		return out
	}

	first := answers()
	assert.Equal(t, first, answers())
	assert.Equal(t, []string{"report_2021-22.pdf#p1-c0", "report_2022-23.pdf#p1-c0"}, first[0])
}

func Test_Query_CachesQueryEmbeddings(t *testing.T) {
	cfg := testConfig(t)
	store := buildIndex(t, cfg, map[string][]string{"a.pdf": {"Total income: 500 crore"}})
	embedder := &countingEmbedder{HashingEmbedder: embedding.NewHashingEmbedder(dim)}
	r, err := NewRAG(context.Background(), cfg, store, embedder, &fakeLLM{answer: "ok"})
	require.NoError(t, err)

	for range 3 {
		_, err := r.Query(context.Background(), "What is the total income?", 1)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), embedder.queries.Load())
}

func Test_Query_Hybrid(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAG.Mode = config.ModeHybrid
	keywords, err := keyword.Create("")
	require.NoError(t, err)
	defer keywords.Close()

	store := buildIndex(t, cfg, map[string][]string{
		"a.pdf": {"Total income: 500 crore", "Balance sheet overview"},
	}, ingest.WithKeywordIndex(keywords))

	_, err = NewRAG(context.Background(), cfg, store, embedding.NewHashingEmbedder(dim), &fakeLLM{})
	assert.ErrorContains(t, err, "keyword index")

	r := newRAG(t, cfg, store, &fakeLLM{answer: "ok"}, WithKeywordIndex(keywords))
	res, err := r.Query(context.Background(), "balance sheet", 1)
	require.NoError(t, err)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "a.pdf#p2-c1", res.Citations[0].ID)
}

func Test_buildContext_RespectsBudget(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAG.MaxContextTokens = 20
	r := &RAG{cfg: cfg, tokens: helper.NewTokenCounter("")}

	citations := []models.Citation{
		{Chunk: models.Chunk{Source: "a.pdf", Page: 1, Content: strings.Repeat("x", 200)}},
		{Chunk: models.Chunk{Source: "a.pdf", Page: 2, Content: "short"}},
	}
	text, used := r.buildContext(citations)
	assert.Equal(t, 1, used)
	assert.True(t, strings.HasPrefix(text, "--- Source 1: a.pdf (Page 1) ---\n"))

	cfg.RAG.MaxContextTokens = 0
	text, used = r.buildContext(citations)
	assert.Equal(t, 2, used)
	assert.Contains(t, text, "\n\n--- Source 2: a.pdf (Page 2) ---\nshort\n")
}

func Test_Query_HybridHonoursMinSimilarity(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAG.Mode = config.ModeHybrid
	cfg.RAG.MinSimilarity = 0.99
	keywords, err := keyword.Create("")
	require.NoError(t, err)
	defer keywords.Close()

	store := buildIndex(t, cfg, map[string][]string{
		"a.pdf": {"Total income: 500 crore", "Balance sheet overview"},
	}, ingest.WithKeywordIndex(keywords))
	llm := &fakeLLM{answer: "should not be used"}
	r := newRAG(t, cfg, store, llm, WithKeywordIndex(keywords))

	// bleve matches "balance" but no chunk is similar enough
	kw, err := keywords.Search("balance", 5)
	require.NoError(t, err)
	require.NotEmpty(t, kw)

	res, err := r.Query(context.Background(), "balance", 3)
	require.NoError(t, err)
	assert.Empty(t, res.Citations)
	assert.True(t, res.NoContext)
	assert.Zero(t, llm.calls.Load())
}

// fixedIndex returns its hits in order, up to k
type fixedIndex struct {
	hits     []models.Citation
	manifest models.Manifest
	asked    []int
}

func (f *fixedIndex) Search(ctx context.Context, embedding []float32, k int) ([]models.Citation, error) {
	f.asked = append(f.asked, k)
	return append([]models.Citation(nil), f.hits[:min(k, len(f.hits))]...), nil
}

func (f *fixedIndex) Count(ctx context.Context) (int, error) {
	return len(f.hits), nil
}

func (f *fixedIndex) ReadManifest(ctx context.Context) (*models.Manifest, error) {
	return &f.manifest, nil
}

func Test_Retrieve_CoversRequestedYearsBeyondTopK(t *testing.T) {
	hit := func(source string, page int, content string, sim float32) models.Citation {
		return models.Citation{
			Chunk:      models.Chunk{ID: models.ChunkID(source, page, page-1), Source: source, Page: page, Index: page - 1, Content: content},
			Similarity: sim,
		}
	}
	newIndex := func(cfg *config.Config) *fixedIndex {
		return &fixedIndex{
			hits: []models.Citation{
				hit("report_2022-23.pdf", 1, "Total income rose to 500 crore", 0.9),
				hit("report_2022-23.pdf", 2, "Total income by segment", 0.8),
				hit("report_2022-23.pdf", 3, "Income from grants", 0.7),
				hit("report_2022-23.pdf", 4, "Other income", 0.6),
				hit("report_2021-22.pdf", 5, "Total income: 450 crore", 0.5),
			},
			manifest: models.Manifest{
				SchemaVersion:  models.ManifestSchemaVersion,
				EmbeddingModel: cfg.EmbeddingModelID(),
				Dimension:      dim,
			},
		}
	}
	question := "Total income in 2021-22 and 2022-23"

	t.Run("plain top k", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RAG.FetchK = 0
		index := newIndex(cfg)
		r := newRAG(t, cfg, index, &fakeLLM{})

		hits, err := r.Retrieve(context.Background(), question, 3)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, index.asked)
		for _, h := range hits {
			assert.Equal(t, "2022-23", h.FiscalYear)
		}
	})

	t.Run("larger candidate pool", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RAG.FetchK = 5
		index := newIndex(cfg)
		r := newRAG(t, cfg, index, &fakeLLM{})

		hits, err := r.Retrieve(context.Background(), question, 3)
		require.NoError(t, err)
		assert.Equal(t, []int{5}, index.asked)
		require.Len(t, hits, 3)
		assert.Equal(t, "report_2022-23.pdf#p1-c0", hits[0].ID)
		assert.Equal(t, "report_2021-22.pdf#p5-c4", hits[1].ID)
		assert.Equal(t, "2021-22", hits[1].FiscalYear)
	})
}
