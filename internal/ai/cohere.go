package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/rs/zerolog/log"
)

const (
	defaultCohereURL   = "https://api.cohere.ai/v1/embed"
	defaultCohereModel = "embed-multilingual-v2.0"
)

type CohereClient struct {
	apiKey string
	model  string
	url    string
	http   *http.Client
}

// NewCohereEmbedder embeds through the Cohere v1 embed endpoint.
func NewCohereEmbedder(config *EmbedderConfig) (Embedder, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, apperr.Configurationf("cohere.new_embedder", "embed api key is required for provider cohere")
	}
	c := &CohereClient{
		apiKey: config.APIKey,
		model:  config.Model,
		url:    config.BaseURL,
		http:   &http.Client{Timeout: 20 * time.Second},
	}
	if c.model == "" {
		c.model = defaultCohereModel
	}
	if c.url == "" {
		c.url = defaultCohereURL
	}
	if config.Timeout > 0 {
		c.http.Timeout = config.Timeout
	}

	dim := config.Dim
	if dim == 0 {
		dim = cohereDim(c.model)
	}
	return newRemoteEmbedder("cohere", dim, config, c.embed), nil
}

func cohereDim(model string) int {
	switch {
	case strings.Contains(model, "light"):
		return 384
	case model == "embed-english-v2.0":
		return 4096
	case strings.HasPrefix(model, "embed-") && strings.HasSuffix(model, "-v3.0"):
		return 1024
	default:
		return 768
	}
}

func (c *CohereClient) embed(ctx context.Context, texts []string, query bool) ([][]float32, error) {
	inputType := "search_document"
	if query {
		inputType = "search_query"
	}
	payload := map[string]any{
		"texts":      texts,
		"model":      c.model,
		"input_type": inputType,
		"truncate":   "END",
	}

	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Message
		if msg == "" {
			msg = resp.Status
		}
		kind := apperr.EmbeddingBackend
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
			kind = apperr.Validation
		}
		return nil, apperr.E(kind, "cohere.embed", errors.New(msg))
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 {
		return nil, errors.New("no embedding")
	}
	return out.Embeddings, nil
}
