package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

const (
	DriverPgdriver = "pgdriver"
	DriverPQ       = "postgres"

	insertBatchSize = 500
	undefinedTable  = "42P01"
)

type ChunkRow struct {
	bun.BaseModel `bun:"table:report_chunks,alias:rc"`
	Collection    string          `bun:"collection,pk"`
	ID            string          `bun:"id,pk"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source,notnull"`
	Page          int             `bun:"page,notnull"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	ChunkOffset   int             `bun:"chunk_offset,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Similarity    float32         `bun:"similarity,scanonly"`
}

type ManifestRow struct {
	bun.BaseModel `bun:"table:index_manifest,alias:im"`
	Collection    string          `bun:"collection,pk"`
	Manifest      models.Manifest `bun:"manifest,type:jsonb,notnull"`
	UpdatedAt     time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

// Store keeps the chunk vectors in Postgres with the pgvector extension.
// Rows are namespaced by collection so several indexes can share a database.
type Store struct {
	db         *bun.DB
	collection string
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver. Environment
// variables in the DSN are expanded so passwords can stay out of the file.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := os.ExpandEnv(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("store.database.dsn is required for the pgvector backend")
	}

	switch cfg.Driver {
	case DriverPgdriver, "":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
	case DriverPQ:
		return sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func NewStore(cfg config.StoreConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: NewDB(sqldb, cfg.Database.Debug), collection: cfg.Collection}, nil
}

// InitDB creates the extension and both tables when missing
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	for _, model := range []any{(*ChunkRow)(nil), (*ManifestRow)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	if err := InitDB(ctx, s.db); err != nil {
		return err
	}
	if _, err := s.db.NewDelete().Model((*ManifestRow)(nil)).Where("collection = ?", s.collection).Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	if _, err := s.db.NewDelete().Model((*ChunkRow)(nil)).Where("collection = ?", s.collection).Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove chunks: %w", err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, records []models.EmbeddingRecord) error {
	rows := s.rows(records)
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		batch := rows[start:end]
		if _, err := s.db.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}
	log.Debug().Int("count", len(rows)).Str("collection", s.collection).Msg("Inserted chunks")
	return nil
}

func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]models.Citation, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if k <= 0 {
		return nil, nil
	}

	var rows []ChunkRow
	if err := s.searchQuery(embedding, k).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	citations := make([]models.Citation, len(rows))
	for i, r := range rows {
		citations[i] = models.Citation{
			Chunk: models.Chunk{
				ID:      r.ID,
				Content: r.Content,
				Source:  r.Source,
				Page:    r.Page,
				Index:   r.ChunkIndex,
				Offset:  r.ChunkOffset,
			},
			Similarity: r.Similarity,
			Embedding:  r.Embedding.Slice(),
		}
	}
	return citations, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*ChunkRow)(nil)).Where("collection = ?", s.collection).Count(ctx)
	if isUndefinedTable(err) {
		return 0, nil
	}
	return n, err
}

func (s *Store) WriteManifest(ctx context.Context, m models.Manifest) error {
	row := &ManifestRow{Collection: s.collection, Manifest: m, UpdatedAt: time.Now()}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (collection) DO UPDATE").
		Set("manifest = EXCLUDED.manifest").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (s *Store) ReadManifest(ctx context.Context) (*models.Manifest, error) {
	row := new(ManifestRow)
	err := s.db.NewSelect().Model(row).Where("collection = ?", s.collection).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
		return nil, models.ErrManifestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return &row.Manifest, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rows(records []models.EmbeddingRecord) []ChunkRow {
	rows := make([]ChunkRow, len(records))
	for i, r := range records {
		rows[i] = ChunkRow{
			Collection:  s.collection,
			ID:          r.ID,
			Content:     r.Content,
			Source:      r.Source,
			Page:        r.Page,
			ChunkIndex:  r.Index,
			ChunkOffset: r.Offset,
			Embedding:   pgvector.NewVector(r.Embedding),
		}
	}
	return rows
}

// searchQuery orders by cosine distance; similarity is reported as 1 - distance
func (s *Store) searchQuery(embedding []float32, k int) *bun.SelectQuery {
	vec := pgvector.NewVector(embedding)
	return s.db.NewSelect().
		Model((*ChunkRow)(nil)).
		Column("id", "content", "source", "page", "chunk_index", "chunk_offset", "embedding").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", vec).
		Where("collection = ?", s.collection).
		OrderExpr("embedding <=> ?", vec).
		Limit(k)
}

func isUndefinedTable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == undefinedTable
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == undefinedTable
	}
	return false
}
