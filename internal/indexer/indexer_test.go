package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MuhammadOwais03/portfoliochat/internal/ai"
	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/internal/chunker"
	"github.com/MuhammadOwais03/portfoliochat/internal/store"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockEmbedder implements ai.Embedder for testing
type MockEmbedder struct {
	mu                 sync.Mutex
	Calls              int
	EmbedDocumentsFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.EmbedDocumentsFunc != nil {
		return m.EmbedDocumentsFunc(ctx, texts)
	}
	return ai.NewStubEmbedder(3).EmbedDocuments(ctx, texts)
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return ai.NewStubEmbedder(3).EmbedQuery(ctx, text)
}

func (m *MockEmbedder) Dim() int { return 3 }

// MockFileSystemWalker replays a fixed list of paths
type MockFileSystemWalker struct {
	Paths []string
}

func (m *MockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	for _, p := range m.Paths {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestIndexer(t *testing.T, dir string, s store.VectorStore, e ai.Embedder) *Indexer {
	t.Helper()
	sp, err := chunker.New(40, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	ix := New(s, e, sp, dir, "portfolio-chatbot")
	ix.BatchSize = 2
	return ix
}

func TestRunIndexesDirectory(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"about.md":          strings.Repeat("Owais builds Go and Python backends. ", 5),
		"projects/chat.txt": "A medical records chatbot built with retrieval augmented generation.",
		"photo.png":         "not text",
		".hidden/notes.txt": "should not be read",
		".draft.md":         "should not be read",
		"empty.txt":         "   ",
	})
	mem := store.NewMemory()
	ix := newTestIndexer(t, dir, mem, &MockEmbedder{})

	stats, err := ix.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Files != 3 || stats.Documents != 3 {
		t.Errorf("unexpected file/document counts %+v", stats)
	}
	if stats.Chunks == 0 || stats.Written != stats.Chunks {
		t.Errorf("expected every chunk written, got %+v", stats)
	}
	if mem.Len() != stats.Chunks {
		t.Errorf("store has %d entries, expected %d", mem.Len(), stats.Chunks)
	}

	res, err := mem.Query(context.Background(), mustEmbed(t, "x"), 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res {
		if strings.Contains(r.Entry.Text, "should not be read") {
			t.Error("hidden files must be skipped")
		}
		if r.Entry.Metadata["content_hash"] == nil || r.Entry.Metadata["source"] == nil {
			t.Errorf("entry metadata incomplete: %v", r.Entry.Metadata)
		}
	}
}

func mustEmbed(t *testing.T, s string) []float32 {
	v, err := ai.NewStubEmbedder(3).EmbedQuery(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestRunIsIdempotent(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"cv.txt": strings.Repeat("Experience with Postgres, Redis and Kubernetes. ", 8),
	})
	mem := store.NewMemory()
	ix := newTestIndexer(t, dir, mem, &MockEmbedder{})

	first, err := ix.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := ix.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Chunks != second.Chunks || mem.Len() != first.Chunks {
		t.Errorf("second run should overwrite the same entries: first %+v second %+v, stored %d", first, second, mem.Len())
	}
}

func TestRunEmptyCorpus(t *testing.T) {
	dir := writeFiles(t, map[string]string{"image.png": "x"})
	ix := newTestIndexer(t, dir, store.NewMemory(), &MockEmbedder{})
	if _, err := ix.Run(context.Background()); !errors.Is(err, ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}

func TestRunSkipsUnreadableFiles(t *testing.T) {
	ix := newTestIndexer(t, "/data", store.NewMemory(), &MockEmbedder{})
	ix.Walker = &MockFileSystemWalker{Paths: []string{"/data/a.txt", "/data/b.pdf", "/data/c.docx"}}
	ix.Load = func(path string) ([]models.Document, error) {
		if path == "/data/b.pdf" {
			return nil, errors.New("corrupt pdf")
		}
		return []models.Document{{ID: path, Text: "hello from " + path, Metadata: models.Metadata{"source": path}}}, nil
	}

	stats, err := ix.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 2 || stats.Skipped != 1 || stats.Documents != 1 || stats.Written != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRunPropagatesFailures(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.txt": strings.Repeat("word ", 100),
	})

	t.Run("embedding", func(t *testing.T) {
		e := &MockEmbedder{EmbedDocumentsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, apperr.Errorf(apperr.EmbeddingBackend, "mock", "unauthorized")
		}}
		ix := newTestIndexer(t, dir, store.NewMemory(), e)
		if _, err := ix.Run(context.Background()); !apperr.Is(err, apperr.EmbeddingBackend) {
			t.Errorf("expected embedding backend error, got %v", err)
		}
	})

	t.Run("index conflict", func(t *testing.T) {
		mem := store.NewMemory()
		_ = mem.EnsureIndex(context.Background(), store.IndexSpec{Name: "portfolio-chatbot", Dim: 8, Metric: store.MetricCosine})
		ix := newTestIndexer(t, dir, mem, &MockEmbedder{})
		if _, err := ix.Run(context.Background()); !apperr.Is(err, apperr.Configuration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ix := newTestIndexer(t, dir, store.NewMemory(), &MockEmbedder{})
		if _, err := ix.Run(ctx); err == nil {
			t.Error("expected an error for a cancelled context")
		}
	})
}

func TestShouldSkipDir(t *testing.T) {
	tests := map[string]bool{
		"/data/.git":         true,
		"/data/node_modules": true,
		"/data/projects":     false,
		"/data/Vendor":       true,
	}
	for path, want := range tests {
		if got := shouldSkipDir(path); got != want {
			t.Errorf("shouldSkipDir(%q) = %v, want %v", path, got, want)
		}
	}
}
