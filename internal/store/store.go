// Package store persists embedded chunks and answers nearest-neighbour
// queries against them.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/rs/zerolog/log"
)

const MetricCosine = "cosine"

// ErrIndexNotReady is returned by Upsert and Query before EnsureIndex.
var ErrIndexNotReady = apperr.Configurationf("store", "index not ready: EnsureIndex has not been called")

// IndexSpec describes a vector index.
type IndexSpec struct {
	Name   string
	Dim    int
	Metric string
}

func (s IndexSpec) validate() error {
	if !validName.MatchString(s.Name) {
		return apperr.Configurationf("store.ensure_index", "invalid index name %q", s.Name)
	}
	if s.Dim <= 0 {
		return apperr.Configurationf("store.ensure_index", "index dimension must be positive, got %d", s.Dim)
	}
	if s.Metric != MetricCosine {
		return apperr.Configurationf("store.ensure_index", "unsupported metric %q", s.Metric)
	}
	return nil
}

var validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,62}$`)

// VectorStore is a similarity index over chunk embeddings.
type VectorStore interface {
	// EnsureIndex creates the index if needed. Calling it again with the same
	// spec is a no-op; a spec that conflicts with the existing index fails.
	EnsureIndex(ctx context.Context, spec IndexSpec) error
	// Upsert writes entries, replacing any with the same ID, and returns how
	// many were written.
	Upsert(ctx context.Context, entries []models.IndexEntry) (int, error)
	// Query returns at most k entries ordered by descending similarity.
	Query(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Provider    string
	DatabaseURL string
	SQLitePath  string
	Host        string
	Scheme      string
	APIKey      string
}

// New opens the backend named by cfg.Provider.
func New(ctx context.Context, cfg Config) (VectorStore, error) {
	switch cfg.Provider {
	case "memory":
		return NewMemory(), nil
	case "pgvector":
		return NewPostgres(ctx, cfg.DatabaseURL)
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "weaviate":
		return NewWeaviate(cfg.Scheme, cfg.Host, cfg.APIKey)
	default:
		return nil, apperr.Configurationf("store.new", "unsupported index provider: %s", cfg.Provider)
	}
}

// WaitReady polls Ping with exponential backoff until it succeeds or ctx ends.
func WaitReady(ctx context.Context, s VectorStore) error {
	delay := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := s.Ping(ctx)
		if err == nil {
			return nil
		}
		log.Info().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("index not reachable yet")

		select {
		case <-ctx.Done():
			return apperr.E(apperr.Retrieval, "store.wait_ready", fmt.Errorf("%w (last error: %v)", ctx.Err(), err))
		case <-time.After(delay):
		}
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}

// distinctIDs counts the entries an upsert actually leaves in the index; a
// repeated ID overwrites the earlier entry.
func distinctIDs(entries []models.IndexEntry) int {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.ID] = struct{}{}
	}
	return len(seen)
}

func checkDim(op string, got, want int) error {
	if got != want {
		return apperr.Configurationf(op, "vector has dimension %d, index expects %d", got, want)
	}
	return nil
}

// backendErr classifies a failure reaching the backend.
func backendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.Unknown {
		return err
	}
	return apperr.E(apperr.Retrieval, op, err)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topK sorts results by descending score, ties broken by id, and keeps k.
func topK(results []models.SearchResult, k int) []models.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

var errNoK = errors.New("k must be positive")
