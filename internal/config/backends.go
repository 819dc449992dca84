package config

import (
	"strings"

	"github.com/MuhammadOwais03/portfoliochat/internal/ai"
	"github.com/MuhammadOwais03/portfoliochat/internal/store"
)

// Embedder returns the embedding backend settings.
func (s *Specification) Embedder() *ai.EmbedderConfig {
	return &ai.EmbedderConfig{
		Provider:  ai.Provider(strings.ToLower(s.EmbedProvider)),
		APIKey:    s.EmbedAPIKey,
		Model:     s.EmbedModel,
		BaseURL:   s.EmbedBaseURL,
		Dim:       s.Dim,
		BatchSize: s.EmbedBatchSize,
		RateLimit: s.EmbedRateLimit,
		ModelPath: s.LocalModelPath,
		ProjectID: s.ProjectID,
		Location:  s.Location,
		Timeout:   s.RequestTimeout,
	}
}

// Model returns the language model settings.
func (s *Specification) Model() *ai.ModelConfig {
	return &ai.ModelConfig{
		Provider:  ai.Provider(strings.ToLower(s.LLMProvider)),
		APIKey:    s.LLMAPIKey,
		Model:     s.LLMModel,
		BaseURL:   s.LLMBaseURL,
		ProjectID: s.ProjectID,
		Location:  s.Location,
	}
}

// Store returns the vector index settings. IndexHost may carry a scheme
// ("https://cluster.weaviate.network"); https is assumed otherwise.
func (s *Specification) Store() store.Config {
	scheme, host := "https", s.IndexHost
	if i := strings.Index(host, "://"); i >= 0 {
		scheme, host = host[:i], host[i+3:]
	}
	return store.Config{
		Provider:    strings.ToLower(s.IndexProvider),
		DatabaseURL: s.Database,
		SQLitePath:  s.SQLitePath,
		Host:        strings.TrimRight(host, "/"),
		Scheme:      scheme,
		APIKey:      s.IndexAPIKey,
	}
}
