package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vector_indexes (
  name       TEXT PRIMARY KEY,
  dimension  INTEGER NOT NULL,
  metric     TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS vector_entries (
  index_name TEXT NOT NULL REFERENCES vector_indexes(name) ON DELETE CASCADE,
  id         TEXT NOT NULL,
  content    TEXT NOT NULL,
  metadata   TEXT NOT NULL DEFAULT '{}',
  embedding  BLOB NOT NULL,
  updated_at TEXT NOT NULL DEFAULT (datetime('now')),
  PRIMARY KEY (index_name, id)
);
`

// SQLite keeps vectors in a single database file and scores them in process.
type SQLite struct {
	db   *sql.DB
	path string

	mu   sync.RWMutex
	spec *IndexSpec
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, apperr.Configurationf("sqlite.new", "sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, apperr.E(apperr.Configuration, "sqlite.new", fmt.Errorf("creating data directory: %w", err))
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, apperr.E(apperr.Configuration, "sqlite.new", fmt.Errorf("opening database: %w", err))
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, apperr.E(apperr.Configuration, "sqlite.new", fmt.Errorf("running migrations: %w", err))
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Ping(ctx context.Context) error {
	return backendErr("sqlite.ping", s.db.PingContext(ctx))
}

func (s *SQLite) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}

	var dim int
	var metric string
	err := s.db.QueryRowContext(ctx, `SELECT dimension, metric FROM vector_indexes WHERE name = ?`, spec.Name).Scan(&dim, &metric)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO vector_indexes (name, dimension, metric) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			spec.Name, spec.Dim, spec.Metric); err != nil {
			return backendErr("sqlite.ensure_index", err)
		}
	case err != nil:
		return backendErr("sqlite.ensure_index", err)
	case dim != spec.Dim || metric != spec.Metric:
		return apperr.Configurationf("sqlite.ensure_index", "index %s exists with dimension %d and metric %s", spec.Name, dim, metric)
	}

	s.mu.Lock()
	s.spec = &spec
	s.mu.Unlock()
	return nil
}

func (s *SQLite) ready() (IndexSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.spec == nil {
		return IndexSpec{}, ErrIndexNotReady
	}
	return *s.spec, nil
}

func (s *SQLite) Upsert(ctx context.Context, entries []models.IndexEntry) (int, error) {
	spec, err := s.ready()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := checkDim("sqlite.upsert", len(e.Vector), spec.Dim); err != nil {
			return 0, err
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, backendErr("sqlite.upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_entries (index_name, id, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(index_name, id) DO UPDATE SET
			content    = excluded.content,
			metadata   = excluded.metadata,
			embedding  = excluded.embedding,
			updated_at = datetime('now')`)
	if err != nil {
		return 0, backendErr("sqlite.upsert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		md, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, apperr.E(apperr.Validation, "sqlite.upsert", fmt.Errorf("marshal metadata for %s: %w", e.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, spec.Name, e.ID, e.Text, string(md), encodeVector(e.Vector)); err != nil {
			return 0, backendErr("sqlite.upsert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, backendErr("sqlite.upsert", err)
	}
	return distinctIDs(entries), nil
}

func (s *SQLite) Query(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error) {
	spec, err := s.ready()
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, apperr.E(apperr.Validation, "sqlite.query", errNoK)
	}
	if err := checkDim("sqlite.query", len(vector), spec.Dim); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM vector_entries WHERE index_name = ?`, spec.Name)
	if err != nil {
		return nil, backendErr("sqlite.query", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var e models.IndexEntry
		var md string
		var blob []byte
		if err := rows.Scan(&e.ID, &e.Text, &md, &blob); err != nil {
			return nil, backendErr("sqlite.query", err)
		}
		if md != "" && md != "null" {
			if err := json.Unmarshal([]byte(md), &e.Metadata); err != nil {
				return nil, apperr.E(apperr.Retrieval, "sqlite.query", fmt.Errorf("decode metadata for %s: %w", e.ID, err))
			}
		}
		e.Vector = decodeVector(blob)
		results = append(results, models.SearchResult{Entry: e, Score: cosineSimilarity(vector, e.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("sqlite.query", err)
	}
	return topK(results, k), nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
