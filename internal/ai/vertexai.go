package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"google.golang.org/genai"
)

const (
	defaultGeminiEmbedModel = "text-embedding-004"
	defaultGeminiEmbedDim   = 768
	defaultGeminiModel      = "gemini-2.5-pro"
)

// newGenAIClient creates a client for the Gemini API when provider is
// gemini and for Vertex AI otherwise.
func newGenAIClient(ctx context.Context, provider Provider, apiKey, project, location string) (*genai.Client, error) {
	cc := genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if provider == ProviderVertexAI {
		cc.Backend = genai.BackendVertexAI
		if location == "" && strings.TrimSpace(apiKey) == "" {
			location = "us-central1"
		}
		if strings.TrimSpace(project) != "" {
			cc.Project = project
		}
		if strings.TrimSpace(location) != "" {
			cc.Location = location
		}
	}
	if strings.TrimSpace(apiKey) != "" {
		cc.APIKey = apiKey
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// NewVertexAIEmbedder embeds through the Gemini or Vertex AI embedding models.
func NewVertexAIEmbedder(ctx context.Context, config *EmbedderConfig) (Embedder, error) {
	if config.Provider == ProviderGemini && strings.TrimSpace(config.APIKey) == "" {
		return nil, apperr.Configurationf("gemini.new_embedder", "embed api key is required for provider gemini")
	}
	client, err := newGenAIClient(ctx, config.Provider, config.APIKey, config.ProjectID, config.Location)
	if err != nil {
		return nil, apperr.E(apperr.Configuration, "gemini.new_embedder", err)
	}

	model := config.Model
	if model == "" {
		model = defaultGeminiEmbedModel
	}
	dim := config.Dim
	if dim == 0 {
		dim = defaultGeminiEmbedDim
	}

	fn := func(ctx context.Context, texts []string, query bool) ([][]float32, error) {
		cfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
		if query {
			cfg.TaskType = "RETRIEVAL_QUERY"
		}
		if config.Dim > 0 {
			d := int32(config.Dim)
			cfg.OutputDimensionality = &d
		}

		contents := make([]*genai.Content, len(texts))
		for i, t := range texts {
			contents[i] = genai.NewContentFromText(t, genai.RoleUser)
		}

		res, err := client.Models.EmbedContent(ctx, model, contents, &cfg)
		if err != nil {
			return nil, classifyGenAI(err, apperr.EmbeddingBackend, "gemini.embed")
		}
		if res == nil || len(res.Embeddings) == 0 {
			return nil, errors.New("no embedding returned")
		}
		out := make([][]float32, len(res.Embeddings))
		for i, e := range res.Embeddings {
			out[i] = e.Values
		}
		return out, nil
	}
	return newRemoteEmbedder(string(config.Provider), dim, config, fn), nil
}

type VertexAIModel struct {
	config *ModelConfig
	client *genai.Client
}

// NewVertexAIModel creates a Gemini model client. A missing Gemini API key
// is reported by Generate, not here, so the service can still start.
func NewVertexAIModel(ctx context.Context, config *ModelConfig) (*VertexAIModel, error) {
	if config.Model == "" {
		config.Model = defaultGeminiModel
	}
	m := &VertexAIModel{config: config}
	if config.Provider == ProviderGemini && strings.TrimSpace(config.APIKey) == "" {
		return m, nil
	}
	client, err := newGenAIClient(ctx, config.Provider, config.APIKey, config.ProjectID, config.Location)
	if err != nil {
		return nil, apperr.E(apperr.Configuration, "gemini.new_model", err)
	}
	m.client = client
	return m, nil
}

func (m *VertexAIModel) Generate(ctx context.Context, p Prompt) (string, error) {
	if m.client == nil {
		return "", apperr.Errorf(apperr.Generation, "gemini.generate", "llm api key unset")
	}

	cfg := genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	contents := make([]*genai.Content, 0, len(p.Messages))
	for _, msg := range p.Messages {
		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, genai.Role(role)))
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.config.Model, contents, &cfg)
	if err != nil {
		return "", classifyGenAI(err, apperr.Generation, "gemini.generate")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", apperr.Errorf(apperr.Generation, "gemini.generate", "no answer returned")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

func classifyGenAI(err error, fallback apperr.Kind, op string) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if fallback == apperr.EmbeddingBackend && code == http.StatusBadRequest {
		return apperr.E(apperr.Validation, op, err)
	}
	return apperr.E(fallback, op, err)
}
