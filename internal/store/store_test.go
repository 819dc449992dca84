package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

var testSpec = IndexSpec{Name: "portfolio-chatbot", Dim: 3, Metric: MetricCosine}

func entry(id string, v ...float32) models.IndexEntry {
	return models.IndexEntry{ID: id, Vector: v, Text: "text " + id, Metadata: models.Metadata{"source": id + ".pdf"}}
}

// backends returns a fresh instance of every backend that runs without
// external services.
func backends(t *testing.T) map[string]VectorStore {
	t.Helper()
	sq, err := NewSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]VectorStore{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestNotReadyBeforeEnsureIndex(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Upsert(ctx, []models.IndexEntry{entry("a", 1, 0, 0)}); !errors.Is(err, ErrIndexNotReady) {
				t.Errorf("Upsert: expected ErrIndexNotReady, got %v", err)
			}
			if _, err := s.Query(ctx, []float32{1, 0, 0}, 1); !errors.Is(err, ErrIndexNotReady) {
				t.Errorf("Query: expected ErrIndexNotReady, got %v", err)
			}
			if !apperr.Is(ErrIndexNotReady, apperr.Configuration) {
				t.Error("ErrIndexNotReady should be a configuration error")
			}
		})
	}
}

func TestEnsureIndex(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.EnsureIndex(ctx, testSpec); err != nil {
				t.Fatal(err)
			}
			if err := s.EnsureIndex(ctx, testSpec); err != nil {
				t.Fatalf("second EnsureIndex with identical spec should be a no-op: %v", err)
			}
			other := testSpec
			other.Dim = 4
			if err := s.EnsureIndex(ctx, other); !apperr.Is(err, apperr.Configuration) {
				t.Errorf("expected configuration error for dimension conflict, got %v", err)
			}
		})
	}
}

func TestEnsureIndexValidatesSpec(t *testing.T) {
	tests := []struct {
		name string
		spec IndexSpec
	}{
		{name: "empty name", spec: IndexSpec{Dim: 3, Metric: MetricCosine}},
		{name: "bad name", spec: IndexSpec{Name: "drop table;", Dim: 3, Metric: MetricCosine}},
		{name: "zero dim", spec: IndexSpec{Name: "idx", Metric: MetricCosine}},
		{name: "euclidean", spec: IndexSpec{Name: "idx", Dim: 3, Metric: "euclidean"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewMemory().EnsureIndex(context.Background(), tt.spec); !apperr.Is(err, apperr.Configuration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestQueryOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.EnsureIndex(ctx, testSpec); err != nil {
				t.Fatal(err)
			}
			n, err := s.Upsert(ctx, []models.IndexEntry{
				entry("far", 0, 0, 1),
				entry("near", 1, 0.1, 0),
				entry("exact", 2, 0, 0),
				entry("mid", 1, 1, 0),
			})
			if err != nil {
				t.Fatal(err)
			}
			if n != 4 {
				t.Errorf("expected 4 written, got %d", n)
			}

			res, err := s.Query(ctx, []float32{1, 0, 0}, 3)
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"exact", "near", "mid"}
			if len(res) != len(want) {
				t.Fatalf("expected %d results, got %d", len(want), len(res))
			}
			for i, id := range want {
				if res[i].Entry.ID != id {
					t.Errorf("result %d = %s, want %s", i, res[i].Entry.ID, id)
				}
				if i > 0 && res[i].Score > res[i-1].Score {
					t.Errorf("results are not sorted by descending score")
				}
			}
			if res[0].Score < 0.9999 {
				t.Errorf("expected exact match to score 1, got %f", res[0].Score)
			}
			if res[0].Entry.Metadata["source"] != "exact.pdf" || res[0].Entry.Text != "text exact" {
				t.Errorf("entry payload lost: %+v", res[0].Entry)
			}

			all, _ := s.Query(ctx, []float32{1, 0, 0}, 10)
			if len(all) != 4 {
				t.Errorf("expected all 4 entries when k exceeds size, got %d", len(all))
			}
		})
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.EnsureIndex(ctx, testSpec)
			batch := []models.IndexEntry{entry("a", 1, 0, 0), entry("b", 0, 1, 0)}
			for i := 0; i < 2; i++ {
				if _, err := s.Upsert(ctx, batch); err != nil {
					t.Fatal(err)
				}
			}
			updated := entry("a", 0, 0, 1)
			updated.Text = "replaced"
			if _, err := s.Upsert(ctx, []models.IndexEntry{updated}); err != nil {
				t.Fatal(err)
			}

			res, _ := s.Query(ctx, []float32{0, 0, 1}, 10)
			if len(res) != 2 {
				t.Fatalf("expected 2 entries after repeated upserts, got %d", len(res))
			}
			if res[0].Entry.ID != "a" || res[0].Entry.Text != "replaced" {
				t.Errorf("expected replaced entry first, got %+v", res[0].Entry)
			}
		})
	}
}

func TestUpsertCountsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.EnsureIndex(ctx, testSpec)
			last := entry("a", 0, 0, 1)
			last.Text = "last write wins"
			n, err := s.Upsert(ctx, []models.IndexEntry{entry("a", 1, 0, 0), entry("b", 0, 1, 0), last})
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 {
				t.Errorf("expected 2 entries written, got %d", n)
			}
			res, _ := s.Query(ctx, []float32{0, 0, 1}, 10)
			if len(res) != 2 || res[0].Entry.Text != "last write wins" {
				t.Errorf("unexpected index contents %+v", res)
			}
		})
	}
}

func TestQueryResultsDoNotAliasIndex(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.EnsureIndex(ctx, testSpec)
			if _, err := s.Upsert(ctx, []models.IndexEntry{entry("a", 1, 0, 0), entry("b", 0, 1, 0)}); err != nil {
				t.Fatal(err)
			}
			res, _ := s.Query(ctx, []float32{1, 0, 0}, 1)
			if len(res) != 1 {
				t.Fatalf("expected 1 result, got %d", len(res))
			}
			for i := range res[0].Entry.Vector {
				res[0].Entry.Vector[i] = 0
			}
			res[0].Entry.Vector = append(res[0].Entry.Vector, 9)
			res[0].Entry.Metadata["source"] = "changed"

			again, _ := s.Query(ctx, []float32{1, 0, 0}, 1)
			if again[0].Entry.ID != "a" || again[0].Score < 0.9999 {
				t.Errorf("stored vector was modified through a query result: %+v", again[0])
			}
			if again[0].Entry.Metadata["source"] != "a.pdf" {
				t.Errorf("stored metadata was modified through a query result: %v", again[0].Entry.Metadata)
			}
		})
	}
}

func TestPostgresSchemaUsesHNSW(t *testing.T) {
	stmts := strings.Join(schemaStatements("portfolio-chatbot", 384), ";\n")
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "portfolio-chatbot"`,
		"vector(384)",
		`USING hnsw (embedding vector_cosine_ops)`,
		`DROP INDEX IF EXISTS "portfolio-chatbot_embedding_idx"`,
	} {
		if !strings.Contains(stmts, want) {
			t.Errorf("schema is missing %q:\n%s", want, stmts)
		}
	}
	if strings.Contains(stmts, "USING ivfflat") {
		t.Errorf("ivfflat needs training data and must not be built on an empty table:\n%s", stmts)
	}
}

func TestDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.EnsureIndex(ctx, testSpec)
			if _, err := s.Upsert(ctx, []models.IndexEntry{entry("a", 1, 0)}); !apperr.Is(err, apperr.Configuration) {
				t.Errorf("Upsert: expected configuration error, got %v", err)
			}
			if _, err := s.Query(ctx, []float32{1, 0, 0, 0}, 1); !apperr.Is(err, apperr.Configuration) {
				t.Errorf("Query: expected configuration error, got %v", err)
			}
			if _, err := s.Query(ctx, []float32{1, 0, 0}, 0); !apperr.Is(err, apperr.Validation) {
				t.Errorf("Query k=0: expected validation error, got %v", err)
			}
		})
	}
}

func TestEmptyIndexReturnsNoResults(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.EnsureIndex(ctx, testSpec)
			res, err := s.Query(ctx, []float32{1, 0, 0}, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(res) != 0 {
				t.Errorf("expected no results, got %d", len(res))
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.EnsureIndex(ctx, testSpec)
	if _, err := s.Upsert(ctx, []models.IndexEntry{entry("a", 0.5, -0.25, 1)}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	conflict := testSpec
	conflict.Dim = 8
	if err := s.EnsureIndex(ctx, conflict); !apperr.Is(err, apperr.Configuration) {
		t.Errorf("expected stored dimension to be enforced, got %v", err)
	}
	_ = s.EnsureIndex(ctx, testSpec)
	res, err := s.Query(ctx, []float32{0.5, -0.25, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Entry.ID != "a" {
		t.Fatalf("unexpected results %+v", res)
	}
	v := res[0].Entry.Vector
	if v[0] != 0.5 || v[1] != -0.25 || v[2] != 1 {
		t.Errorf("vector did not round trip: %v", v)
	}
}

type flakyStore struct {
	*Memory
	failures int
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitReady(t *testing.T) {
	f := &flakyStore{Memory: NewMemory(), failures: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := WaitReady(ctx, f); err != nil {
		t.Fatalf("expected store to become ready, got %v", err)
	}

	never := &flakyStore{Memory: NewMemory(), failures: 1 << 30}
	ctx, cancel = context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := WaitReady(ctx, never); !apperr.Is(err, apperr.Retrieval) {
		t.Errorf("expected retrieval error, got %v", err)
	}
}

func TestClassName(t *testing.T) {
	tests := map[string]string{
		"portfolio-chatbot": "PortfolioChatbot",
		"docs":              "Docs",
		"my_index_2":        "MyIndex2",
	}
	for in, want := range tests {
		if got := className(in); got != want {
			t.Errorf("className(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "pinecone"}); !apperr.Is(err, apperr.Configuration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
