package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Postgres stores each index as a table with a pgvector column.
type Postgres struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	spec  *IndexSpec
	table string
}

// NewPostgres creates a pool connected to the given database URL.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, apperr.E(apperr.Configuration, "pgvector.new", err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperr.E(apperr.Configuration, "pgvector.new", err)
	}
	return &Postgres{pool: p}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return backendErr("pgvector.ping", s.pool.Ping(ctx))
}

func (s *Postgres) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	table := pgx.Identifier{spec.Name}.Sanitize()

	dim, err := s.columnDim(ctx, table)
	if err != nil {
		return backendErr("pgvector.ensure_index", err)
	}
	if dim > 0 && dim != spec.Dim {
		return apperr.Configurationf("pgvector.ensure_index", "index %s exists with dimension %d, requested %d", spec.Name, dim, spec.Dim)
	}

	for _, stmt := range schemaStatements(spec.Name, spec.Dim) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return backendErr("pgvector.ensure_index", err)
		}
	}

	s.mu.Lock()
	s.spec = &spec
	s.table = table
	s.mu.Unlock()
	return nil
}

// schemaStatements creates the table and its HNSW index, which can be built
// on an empty table. An ivfflat index left by an earlier release is dropped.
func schemaStatements(name string, dim int) []string {
	table := pgx.Identifier{name}.Sanitize()
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  content    TEXT NOT NULL,
  metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
  embedding  vector(%d) NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT now()
)`, table, dim),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pgx.Identifier{name + "_embedding_hnsw"}.Sanitize(), table),
		fmt.Sprintf("DROP INDEX IF EXISTS %s", pgx.Identifier{name + "_embedding_idx"}.Sanitize()),
	}
}

// columnDim returns the declared dimension of the embedding column, or 0
// when the table does not exist.
func (s *Postgres) columnDim(ctx context.Context, table string) (int, error) {
	const q = `
      SELECT atttypmod
      FROM pg_attribute
      WHERE attrelid = to_regclass($1) AND attname = 'embedding' AND NOT attisdropped`
	var dim int
	err := s.pool.QueryRow(ctx, q, table).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}

func (s *Postgres) ready() (IndexSpec, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.spec == nil {
		return IndexSpec{}, "", ErrIndexNotReady
	}
	return *s.spec, s.table, nil
}

// Upsert inserts or updates entries in one batch.
func (s *Postgres) Upsert(ctx context.Context, entries []models.IndexEntry) (int, error) {
	spec, table, err := s.ready()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := checkDim("pgvector.upsert", len(e.Vector), spec.Dim); err != nil {
			return 0, err
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content    = EXCLUDED.content,
			metadata   = EXCLUDED.metadata,
			embedding  = EXCLUDED.embedding,
			updated_at = now()`, table)

	batch := &pgx.Batch{}
	for _, e := range entries {
		md := e.Metadata
		if md == nil {
			md = models.Metadata{}
		}
		batch.Queue(q, e.ID, e.Text, md, pgvector.NewVector(e.Vector))
	}

	br := s.pool.SendBatch(ctx, batch)
	written := 0
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return written, backendErr("pgvector.upsert", err)
		}
		written++
	}
	if err := br.Close(); err != nil {
		return written, backendErr("pgvector.upsert", err)
	}
	return distinctIDs(entries), nil
}

func (s *Postgres) Query(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error) {
	spec, table, err := s.ready()
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, apperr.E(apperr.Validation, "pgvector.query", errNoK)
	}
	if err := checkDim("pgvector.query", len(vector), spec.Dim); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, id
		LIMIT $2`, table)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, backendErr("pgvector.query", err)
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var e models.IndexEntry
		var score float64
		if err := rows.Scan(&e.ID, &e.Text, &e.Metadata, &score); err != nil {
			return nil, backendErr("pgvector.query", err)
		}
		out = append(out, models.SearchResult{Entry: e, Score: score})
	}
	return out, backendErr("pgvector.query", rows.Err())
}
