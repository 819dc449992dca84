package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	wmodels "github.com/weaviate/weaviate/entities/models"
)

const weaviateBatchSize = 200

// Weaviate stores each index as a class with externally supplied vectors.
type Weaviate struct {
	client *weaviate.Client

	mu    sync.RWMutex
	spec  *IndexSpec
	class string
}

func NewWeaviate(scheme, host, apiKey string) (*Weaviate, error) {
	if host == "" {
		return nil, apperr.Configurationf("weaviate.new", "index host is required for provider weaviate")
	}
	if scheme == "" {
		scheme = "http"
		if strings.HasPrefix(host, "https://") {
			scheme = "https"
		}
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")

	cfg := weaviate.Config{Host: host, Scheme: scheme}
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
		cfg.Headers = map[string]string{
			"X-Weaviate-Api-Key":     apiKey,
			"X-Weaviate-Cluster-Url": fmt.Sprintf("%s://%s", scheme, host),
		}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, apperr.E(apperr.Configuration, "weaviate.new", fmt.Errorf("failed to create weaviate client: %w", err))
	}
	return &Weaviate{client: client}, nil
}

func (s *Weaviate) Close() error { return nil }

func (s *Weaviate) Ping(ctx context.Context) error {
	ok, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return backendErr("weaviate.ping", err)
	}
	if !ok {
		return apperr.Errorf(apperr.Retrieval, "weaviate.ping", "weaviate is not ready")
	}
	return nil
}

// className turns an index name such as "portfolio-chatbot" into a valid
// class name ("PortfolioChatbot").
func className(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func describe(spec IndexSpec) string {
	return fmt.Sprintf("portfoliochat index dim=%d metric=%s", spec.Dim, spec.Metric)
}

func (s *Weaviate) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	class := className(spec.Name)

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return backendErr("weaviate.ensure_index", err)
	}
	if !exists {
		obj := &wmodels.Class{
			Class:       class,
			Description: describe(spec),
			Properties: []*wmodels.Property{
				{Name: "entryId", DataType: []string{"text"}},
				{Name: "content", DataType: []string{"text"}},
				{Name: "metadata", DataType: []string{"text"}},
			},
			Vectorizer:      "none",
			VectorIndexType: "hnsw",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
		}
		if createErr := s.client.Schema().ClassCreator().WithClass(obj).Do(ctx); createErr != nil {
			// another process may have created the class since the check
			exists, err = s.client.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
			if err != nil || !exists {
				return backendErr("weaviate.ensure_index", createErr)
			}
			log.Debug().Str("class", class).Msg("class created concurrently, checking its schema")
		}
	}
	if exists {
		if err := s.checkClass(ctx, class, spec); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.spec = &spec
	s.class = class
	s.mu.Unlock()
	return nil
}

// checkClass verifies that an existing class matches spec.
func (s *Weaviate) checkClass(ctx context.Context, class string, spec IndexSpec) error {
	existing, err := s.client.Schema().ClassGetter().WithClassName(class).Do(ctx)
	if err != nil {
		return backendErr("weaviate.ensure_index", err)
	}
	var dim int
	var metric string
	if _, err := fmt.Sscanf(existing.Description, "portfoliochat index dim=%d metric=%s", &dim, &metric); err != nil {
		return apperr.Configurationf("weaviate.ensure_index", "class %s exists but was not created by this service", class)
	}
	if dim != spec.Dim || metric != spec.Metric {
		return apperr.Configurationf("weaviate.ensure_index", "index %s exists with dimension %d and metric %s", spec.Name, dim, metric)
	}
	return nil
}

func (s *Weaviate) ready() (IndexSpec, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.spec == nil {
		return IndexSpec{}, "", ErrIndexNotReady
	}
	return *s.spec, s.class, nil
}

// objectID derives a stable UUID so re-ingesting a chunk replaces it.
func objectID(id string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("portfoliochat:"+id)).String())
}

func (s *Weaviate) Upsert(ctx context.Context, entries []models.IndexEntry) (int, error) {
	spec, class, err := s.ready()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := checkDim("weaviate.upsert", len(e.Vector), spec.Dim); err != nil {
			return 0, err
		}
	}

	written := 0
	for i := 0; i < len(entries); i += weaviateBatchSize {
		end := i + weaviateBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		batcher := s.client.Batch().ObjectsBatcher()
		for _, e := range entries[i:end] {
			md, err := json.Marshal(e.Metadata)
			if err != nil {
				return written, apperr.E(apperr.Validation, "weaviate.upsert", err)
			}
			batcher = batcher.WithObjects(&wmodels.Object{
				Class: class,
				ID:    objectID(e.ID),
				Properties: map[string]interface{}{
					"entryId":  e.ID,
					"content":  e.Text,
					"metadata": string(md),
				},
				Vector: e.Vector,
			})
		}

		resp, err := batcher.Do(ctx)
		if err != nil {
			return written, backendErr("weaviate.upsert", fmt.Errorf("failed to insert batch %d-%d: %w", i, end, err))
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return written, apperr.Errorf(apperr.Retrieval, "weaviate.upsert", "object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
			}
		}
		written += end - i
	}
	return distinctIDs(entries), nil
}

func (s *Weaviate) Query(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error) {
	spec, class, err := s.ready()
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, apperr.E(apperr.Validation, "weaviate.query", errNoK)
	}
	if err := checkDim("weaviate.query", len(vector), spec.Dim); err != nil {
		return nil, err
	}

	fields := []graphql.Field{
		{Name: "entryId"},
		{Name: "content"},
		{Name: "metadata"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}, {Name: "id"}}},
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, backendErr("weaviate.query", err)
	}
	if len(result.Errors) > 0 {
		return nil, apperr.Errorf(apperr.Retrieval, "weaviate.query", "search failed: %s", result.Errors[0].Message)
	}

	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, apperr.E(apperr.Retrieval, "weaviate.query", errors.New("unexpected response shape"))
	}
	items, _ := get[class].([]interface{})

	out := make([]models.SearchResult, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		var e models.IndexEntry
		e.ID, _ = obj["entryId"].(string)
		e.Text, _ = obj["content"].(string)
		if md, _ := obj["metadata"].(string); md != "" {
			if err := json.Unmarshal([]byte(md), &e.Metadata); err != nil {
				return nil, apperr.E(apperr.Retrieval, "weaviate.query", fmt.Errorf("decode metadata for %s: %w", e.ID, err))
			}
		}
		var score float64
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				score = 1 - d
			}
		}
		out = append(out, models.SearchResult{Entry: e, Score: score})
	}
	return topK(out, k), nil
}
