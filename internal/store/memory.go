package store

import (
	"context"
	"sync"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
)

// Memory is an in-process index searched by brute force.
type Memory struct {
	mu      sync.RWMutex
	spec    *IndexSpec
	entries map[string]models.IndexEntry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]models.IndexEntry)}
}

func (m *Memory) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spec != nil {
		if *m.spec != spec {
			return apperr.Configurationf("memory.ensure_index", "index %s exists with dimension %d and metric %s", m.spec.Name, m.spec.Dim, m.spec.Metric)
		}
		return nil
	}
	m.spec = &spec
	return nil
}

func (m *Memory) Upsert(ctx context.Context, entries []models.IndexEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spec == nil {
		return 0, ErrIndexNotReady
	}
	for _, e := range entries {
		if err := checkDim("memory.upsert", len(e.Vector), m.spec.Dim); err != nil {
			return 0, err
		}
	}
	for _, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		e.Metadata = e.Metadata.Clone()
		m.entries[e.ID] = e
	}
	return distinctIDs(entries), nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.spec == nil {
		return nil, ErrIndexNotReady
	}
	if k <= 0 {
		return nil, apperr.E(apperr.Validation, "memory.query", errNoK)
	}
	if err := checkDim("memory.query", len(vector), m.spec.Dim); err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(m.entries))
	for _, e := range m.entries {
		score := cosineSimilarity(vector, e.Vector)
		e.Vector = append([]float32(nil), e.Vector...)
		e.Metadata = e.Metadata.Clone()
		results = append(results, models.SearchResult{Entry: e, Score: score})
	}
	return topK(results, k), nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }
