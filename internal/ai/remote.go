package ai

import (
	"context"
	"strings"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const DefaultEmbedBatchSize = 64

// embedFunc embeds one provider batch. query selects the provider's query
// input mode where it distinguishes documents from queries.
type embedFunc func(ctx context.Context, texts []string, query bool) ([][]float32, error)

// remoteEmbedder adapts a hosted embedding API to Embedder: it splits
// inputs into batches, throttles requests and checks returned dimensions.
type remoteEmbedder struct {
	name      string
	dim       int
	batchSize int
	limiter   *rate.Limiter
	embed     embedFunc
}

func newRemoteEmbedder(name string, dim int, config *EmbedderConfig, fn embedFunc) *remoteEmbedder {
	batch := config.BatchSize
	if batch <= 0 {
		batch = DefaultEmbedBatchSize
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return &remoteEmbedder{name: name, dim: dim, batchSize: batch, limiter: limiter, embed: fn}
}

func (r *remoteEmbedder) Dim() int {
	return r.dim
}

func (r *remoteEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	op := r.name + ".embed_documents"
	if len(texts) == 0 {
		return nil, apperr.Validationf(op, "no texts to embed")
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, apperr.Validationf(op, "text %d is empty", i)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.batchSize {
		end := start + r.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := r.call(ctx, op, texts[start:end], false)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
		log.Debug().Str("provider", r.name).Int("done", end).Int("total", len(texts)).Msg("embedded batch")
	}
	return out, nil
}

func (r *remoteEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	op := r.name + ".embed_query"
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validationf(op, "query text is empty")
	}
	vecs, err := r.call(ctx, op, []string{text}, true)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (r *remoteEmbedder) call(ctx context.Context, op string, texts []string, query bool) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, apperr.E(apperr.EmbeddingBackend, op, err)
	}
	vecs, err := r.embed(ctx, texts, query)
	if err != nil {
		if apperr.KindOf(err) != apperr.Unknown {
			return nil, err
		}
		return nil, apperr.E(apperr.EmbeddingBackend, op, err)
	}
	if len(vecs) != len(texts) {
		return nil, apperr.Errorf(apperr.EmbeddingBackend, op, "expected %d embeddings, got %d", len(texts), len(vecs))
	}
	for _, v := range vecs {
		if len(v) != r.dim {
			return nil, apperr.Configurationf(op, "provider returned %d dimensions, index expects %d", len(v), r.dim)
		}
	}
	return vecs, nil
}
