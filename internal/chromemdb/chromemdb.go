package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"gopkg.in/yaml.v3"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

const manifestFile = "manifest.yaml"

// Store keeps the chunk vectors in a persistent chromem-go collection
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
	name       string
	path       string
}

// NewStore opens (or creates) the chromem database at cfg.Path. An empty path
// keeps everything in memory.
func NewStore(cfg config.StoreConfig, embedder embeddings.Embedder) (*Store, error) {
	var db *chromem.DB
	var err error
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	s := &Store{
		db:   db,
		name: cfg.Collection,
		path: cfg.Path,
	}
	if embedder != nil {
		s.embedFunc = embedder.EmbedQuery
	}

	s.collection, err = db.GetOrCreateCollection(s.name, nil, s.embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return s, nil
}

// Reset drops the manifest and the collection so a fresh build can start
func (s *Store) Reset(ctx context.Context) error {
	if s.path != "" {
		err := os.Remove(filepath.Join(s.path, manifestFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove manifest: %w", err)
		}
	}
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	c, err := s.db.GetOrCreateCollection(s.name, nil, s.embedFunc)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	s.collection = c
	return nil
}

// Add inserts the records with their precomputed embeddings
func (s *Store) Add(ctx context.Context, records []models.EmbeddingRecord) error {
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  metadata(r.Chunk),
			Embedding: r.Embedding,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Int("count", len(docs)).Str("collection", s.name).Msg("Added documents")
	return nil
}

// Search returns the k nearest chunks, best first. k is clamped to the
// collection size.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]models.Citation, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if n := s.collection.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	citations := make([]models.Citation, 0, len(results))
	for _, r := range results {
		c := models.Citation{Chunk: chunk(r.ID, r.Content, r.Metadata), Similarity: r.Similarity, Embedding: r.Embedding}
		citations = append(citations, c)
	}
	// equal scores come back in arbitrary order
	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].Similarity != citations[j].Similarity {
			return citations[i].Similarity > citations[j].Similarity
		}
		return citations[i].ID < citations[j].ID
	})
	return citations, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// WriteManifest stores the manifest next to the collection files
func (s *Store) WriteManifest(ctx context.Context, m models.Manifest) error {
	if s.path == "" {
		return fmt.Errorf("in-memory store cannot persist a manifest")
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.path, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (s *Store) ReadManifest(ctx context.Context) (*models.Manifest, error) {
	if s.path == "" {
		return nil, models.ErrManifestNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.path, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.ErrManifestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m models.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Export writes the collection to a single encrypted file. chromem requires
// a 32 byte key.
func (s *Store) Export(ctx context.Context, filePath, encryptionKey string, compress bool) error {
	if encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if len(encryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(encryptionKey))
	}
	if filePath == "" {
		return fmt.Errorf("export file path is required")
	}

	log.Debug().
		Str("collection", s.name).
		Str("file", filePath).
		Bool("compress", compress).
		Msg("Exporting collection")
	if err := s.db.ExportToFile(filePath, compress, encryptionKey, s.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a file written by Export into this store's database
func (s *Store) Import(ctx context.Context, filePath, encryptionKey string) error {
	if err := s.db.ImportFromFile(filePath, encryptionKey, s.name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	s.collection = s.db.GetCollection(s.name, s.embedFunc)
	if s.collection == nil {
		return fmt.Errorf("collection %s not found in %s", s.name, filePath)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

func metadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaSource: c.Source,
		models.MetaPage:   strconv.Itoa(c.Page),
		models.MetaIndex:  strconv.Itoa(c.Index),
		models.MetaOffset: strconv.Itoa(c.Offset),
	}
}

func chunk(id, content string, meta map[string]string) models.Chunk {
	page, _ := strconv.Atoi(meta[models.MetaPage])
	index, _ := strconv.Atoi(meta[models.MetaIndex])
	offset, _ := strconv.Atoi(meta[models.MetaOffset])
	return models.Chunk{
		ID:      id,
		Content: content,
		Source:  meta[models.MetaSource],
		Page:    page,
		Index:   index,
		Offset:  offset,
	}
}
