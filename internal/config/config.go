package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	RAG       RAGConfig       `yaml:"rag"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
}

type IngestConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Splitter     string   `yaml:"splitter"`
	Strict       bool     `yaml:"strict"`
	Extensions   []string `yaml:"extensions"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BatchSize int    `yaml:"batch_size"`
	ModelsDir string `yaml:"models_dir"`
	Dimension int    `yaml:"dimension"`
	CacheSize int    `yaml:"cache_size"`
}

type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Key         string        `yaml:"-"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Backend          string         `yaml:"backend"`
	Path             string         `yaml:"path"`
	Collection       string         `yaml:"collection"`
	Compress         bool           `yaml:"compress"`
	EncryptionKeyEnv string         `yaml:"encryption_key_env"`
	Database         DatabaseConfig `yaml:"database"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

type RAGConfig struct {
	TopK             int               `yaml:"top_k"`
	FetchK           int               `yaml:"fetch_k"`
	MMRLambda        float32           `yaml:"mmr_lambda"`
	Mode             string            `yaml:"mode"`
	MinSimilarity    float32           `yaml:"min_similarity"`
	Rerank           bool              `yaml:"rerank"`
	KeywordIndex     string            `yaml:"keyword_index"`
	MaxContextTokens int               `yaml:"max_context_tokens"`
	TokenEncoding    string            `yaml:"token_encoding"`
	MaxCitations     int               `yaml:"max_citations"`
	ExcerptChars     int               `yaml:"excerpt_chars"`
	Acronyms         map[string]string `yaml:"acronyms"`
}

type FeedbackConfig struct {
	Path string `yaml:"path"`
}

const (
	SplitterWindow    = "window"
	SplitterRecursive = "recursive"

	BackendChromem  = "chromem"
	BackendPgvector = "pgvector"

	ModeVector = "vector"
	ModeHybrid = "hybrid"
)

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	return &Config{
		DataDir:  "./data/raw_pdfs",
		LogLevel: "info",
		Ingest: IngestConfig{
			ChunkSize:    2000,
			ChunkOverlap: 400,
			Splitter:     SplitterWindow,
			Extensions:   []string{".pdf"},
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			CacheSize: 256,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			APIKeyEnv:   "GROQ_API_KEY",
			Temperature: 0.1,
			MaxTokens:   2048,
			Timeout:     60 * time.Second,
		},
		Store: StoreConfig{
			Backend:          BackendChromem,
			Path:             "./data/processed/chromem",
			Collection:       "annual_reports",
			EncryptionKeyEnv: "REPORT_RAG_EXPORT_KEY",
			Database:         DatabaseConfig{Driver: "pgdriver"},
		},
		RAG: RAGConfig{
			TopK:             8,
			FetchK:           40,
			MMRLambda:        0.6,
			Mode:             ModeVector,
			Rerank:           true,
			KeywordIndex:     "./data/processed/keyword.bleve",
			MaxContextTokens: 6000,
			TokenEncoding:    "cl100k_base",
			MaxCitations:     5,
			ExcerptChars:     400,
			Acronyms: map[string]string{
				"RRB":    "Regional Rural Bank",
				"MSME":   "Micro, Small and Medium Enterprises",
				"SHG":    "Self Help Group",
				"FPO":    "Farmer Producer Organization",
				"RIDF":   "Rural Infrastructure Development Fund",
				"LTIF":   "Long Term Irrigation Fund",
				"DIDF":   "Dairy Processing Infrastructure Development Fund",
				"KCC":    "Kisan Credit Card",
				"WDRA":   "Warehousing Development and Regulatory Authority",
				"NABARD": "National Bank for Agriculture and Rural Development",
			},
		},
		Feedback: FeedbackConfig{Path: "./data/feedback.csv"},
	}
}

// LoadConfig reads the yaml file at path on top of the defaults. A missing
// file is not an error: the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("unable to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.LLM.Key = os.Getenv(cfg.LLM.APIKeyEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Ingest.ChunkSize == 0 {
		c.Ingest.ChunkSize = d.Ingest.ChunkSize
	}
	if c.Ingest.Splitter == "" {
		c.Ingest.Splitter = d.Ingest.Splitter
	}
	if len(c.Ingest.Extensions) == 0 {
		c.Ingest.Extensions = d.Ingest.Extensions
	}
	for i, ext := range c.Ingest.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Ingest.Extensions[i] = ext
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = d.Embedding.BatchSize
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Store.Collection == "" {
		c.Store.Collection = d.Store.Collection
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = d.RAG.TopK
	}
	if c.RAG.Mode == "" {
		c.RAG.Mode = d.RAG.Mode
	}
	if c.RAG.MaxCitations == 0 {
		c.RAG.MaxCitations = d.RAG.MaxCitations
	}
	if c.RAG.ExcerptChars == 0 {
		c.RAG.ExcerptChars = d.RAG.ExcerptChars
	}
}

// Validate reports the first inconsistent setting
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be greater than zero")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap %d must be in [0, %d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	switch c.Ingest.Splitter {
	case SplitterWindow, SplitterRecursive:
	default:
		return fmt.Errorf("unsupported ingest.splitter: %s", c.Ingest.Splitter)
	}
	switch c.Store.Backend {
	case BackendChromem:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the chromem backend")
		}
	case BackendPgvector:
		if c.Store.Database.DSN == "" {
			return fmt.Errorf("store.database.dsn is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend: %s", c.Store.Backend)
	}
	switch c.RAG.Mode {
	case ModeVector:
	case ModeHybrid:
		if c.RAG.KeywordIndex == "" {
			return fmt.Errorf("rag.keyword_index is required in hybrid mode")
		}
	default:
		return fmt.Errorf("unsupported rag.mode: %s", c.RAG.Mode)
	}
	if c.RAG.TopK < 1 {
		return fmt.Errorf("rag.top_k must be at least 1")
	}
	if c.RAG.FetchK < 0 {
		return fmt.Errorf("rag.fetch_k must not be negative")
	}
	if c.RAG.MMRLambda < 0 || c.RAG.MMRLambda > 1 {
		return fmt.Errorf("rag.mmr_lambda %v must be in [0, 1]", c.RAG.MMRLambda)
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must not be negative")
	}
	return nil
}

// EmbeddingModelID identifies the embedding space, e.g. "ollama/nomic-embed-text"
func (c *Config) EmbeddingModelID() string {
	return c.Embedding.Provider + "/" + c.Embedding.Model
}
