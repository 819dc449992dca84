package search

import (
	"context"
	"strings"

	"github.com/MuhammadOwais03/portfoliochat/internal/ai"
	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/internal/store"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/rs/zerolog/log"
)

const DefaultTopK = 2

type Service struct {
	Embedder ai.Embedder
	Store    store.VectorStore
	TopK     int
}

// NewService creates a new retrieval service with the provided embedder and store
func NewService(embedder ai.Embedder, store store.VectorStore, topK int) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{
		Embedder: embedder,
		Store:    store,
		TopK:     topK,
	}
}

// Retrieve returns up to k entries nearest to vec. An empty index is not an error.
func (s *Service) Retrieve(ctx context.Context, vec []float32, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		k = s.TopK
	}
	res, err := s.Store.Query(ctx, vec, k)
	if err != nil {
		// configuration problems (dimension mismatch, missing index) keep their kind
		if apperr.Is(err, apperr.Configuration) || apperr.Is(err, apperr.Validation) {
			return nil, err
		}
		return nil, apperr.E(apperr.Retrieval, "search.retrieve", err)
	}
	if res == nil {
		res = []models.SearchResult{}
	}
	return res, nil
}

// RetrieveText embeds the question and retrieves the TopK nearest chunks.
func (s *Service) RetrieveText(ctx context.Context, question string) ([]models.SearchResult, error) {
	question = strings.TrimSpace(question)

	vec, err := s.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		log.Warn().Err(err).Msg("query embedding failed")
		if apperr.KindOf(err) == apperr.Unknown {
			return nil, apperr.E(apperr.EmbeddingBackend, "search.embed_query", err)
		}
		return nil, err
	}

	res, err := s.Retrieve(ctx, vec, s.TopK)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("results", len(res)).Msg("retrieved context")
	return res, nil
}
