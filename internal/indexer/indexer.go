package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MuhammadOwais03/portfoliochat/internal/ai"
	"github.com/MuhammadOwais03/portfoliochat/internal/chunker"
	"github.com/MuhammadOwais03/portfoliochat/internal/loader"
	"github.com/MuhammadOwais03/portfoliochat/internal/store"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize = 64
	maxWorkers       = 8
)

// ErrNoDocuments is returned when the data directory yields no text.
var ErrNoDocuments = errors.New("no documents found")

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// LoadFunc reads one file into documents.
type LoadFunc func(path string) ([]models.Document, error)

// Indexer loads, chunks, embeds and stores every document under DataDir.
type Indexer struct {
	Store     store.VectorStore
	Embedder  ai.Embedder
	Splitter  *chunker.Splitter
	DataDir   string
	IndexName string
	BatchSize int
	Walker    FileSystemWalker
	Load      LoadFunc
}

// Stats summarises an ingestion run.
type Stats struct {
	Files     int
	Documents int
	Chunks    int
	Written   int
	Skipped   int
}

// New creates a new Indexer instance.
func New(s store.VectorStore, embedder ai.Embedder, splitter *chunker.Splitter, dataDir, indexName string) *Indexer {
	return &Indexer{
		Store:     s,
		Embedder:  embedder,
		Splitter:  splitter,
		DataDir:   dataDir,
		IndexName: indexName,
		BatchSize: DefaultBatchSize,
		Walker:    &DefaultFileSystemWalker{},
		Load:      loader.Load,
	}
}

// hashContent returns the SHA-1 hash of the given content as a hex string.
func hashContent(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// Documents walks DataDir and loads every supported file. Files that fail
// to load are logged and counted as skipped.
func (ix *Indexer) Documents(ctx context.Context) ([]models.Document, Stats, error) {
	var docs []models.Document
	var stats Stats

	err := ix.Walker.Walk(ix.DataDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de != nil && de.IsDir() {
				if path != ix.DataDir && shouldSkipDir(path) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !loader.Supported(path) || strings.HasPrefix(filepath.Base(path), ".") {
				return nil
			}

			stats.Files++
			loaded, err := ix.Load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to load file")
				stats.Skipped++
				return nil
			}
			for _, d := range loaded {
				if d.Metadata == nil {
					d.Metadata = models.Metadata{}
				}
				d.Metadata["content_hash"] = hashContent(d.Text)
				docs = append(docs, d)
			}
			log.Debug().Str("path", path).Int("documents", len(loaded)).Msg("loaded file")
			return nil
		},
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk %s: %w", ix.DataDir, err)
	}
	stats.Documents = len(docs)
	return docs, stats, nil
}

// Run ingests DataDir into the index. Re-running over unchanged files
// rewrites the same entries.
func (ix *Indexer) Run(ctx context.Context) (Stats, error) {
	spec := store.IndexSpec{Name: ix.IndexName, Dim: ix.Embedder.Dim(), Metric: store.MetricCosine}
	if err := ix.Store.EnsureIndex(ctx, spec); err != nil {
		return Stats{}, err
	}

	docs, stats, err := ix.Documents(ctx)
	if err != nil {
		return stats, err
	}
	chunks := ix.Splitter.Split(docs)
	stats.Chunks = len(chunks)
	if len(chunks) == 0 {
		return stats, fmt.Errorf("%w in %s", ErrNoDocuments, ix.DataDir)
	}
	log.Info().Int("files", stats.Files).Int("documents", stats.Documents).Int("chunks", stats.Chunks).Msg("prepared chunks")

	written, err := ix.embedAndStore(ctx, chunks)
	stats.Written = written
	return stats, err
}

func (ix *Indexer) embedAndStore(ctx context.Context, chunks []models.Chunk) (int, error) {
	batchSize := ix.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	var batches [][]models.Chunk
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}

	// Determine number of workers (default to number of CPU cores)
	numWorkers := runtime.NumCPU()
	if numWorkers > maxWorkers {
		numWorkers = maxWorkers // Cap at 8 to avoid overwhelming the embedding API
	}
	if numWorkers > len(batches) {
		numWorkers = len(batches)
	}
	log.Info().Int("workers", numWorkers).Int("batches", len(batches)).Msg("starting concurrent embedding")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workChan := make(chan []models.Chunk)
	var written atomic.Int64
	var firstErr error
	var once sync.Once
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")
			for batch := range workChan {
				n, err := ix.processBatch(ctx, batch)
				written.Add(int64(n))
				if err != nil {
					fail(err)
				}
			}
			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

send:
	for _, b := range batches {
		select {
		case workChan <- b:
		case <-ctx.Done():
			break send
		}
	}
	close(workChan)
	wg.Wait()

	if firstErr != nil {
		return int(written.Load()), firstErr
	}
	if err := ctx.Err(); err != nil {
		return int(written.Load()), err
	}
	return int(written.Load()), nil
}

func (ix *Indexer) processBatch(ctx context.Context, batch []models.Chunk) (int, error) {
	if ctx.Err() != nil {
		return 0, nil
	}
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vecs, err := ix.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(batch) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(batch))
	}

	entries := make([]models.IndexEntry, len(batch))
	for i, c := range batch {
		entries[i] = models.IndexEntry{ID: c.ID, Vector: vecs[i], Text: c.Text, Metadata: c.Metadata}
	}
	n, err := ix.Store.Upsert(ctx, entries)
	if err != nil {
		log.Error().Err(err).Int("chunks", len(batch)).Msg("upsert failed")
		return n, err
	}
	log.Debug().Int("chunks", n).Msg("stored batch")
	return n, nil
}

// shouldSkipDir returns true for hidden and tooling directories.
func shouldSkipDir(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(base, ".") {
		return true
	}
	switch base {
	case "vendor", "node_modules", "__pycache__", "venv":
		return true
	}
	return false
}
