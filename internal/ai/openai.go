package ai

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/sashabaranov/go-openai"
)

func openAIClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	// Create HTTP client with optional TLS skip verification
	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("PORTFOLIOCHAT_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout, Transport: transport}
	return openai.NewClientWithConfig(cfg)
}

// NewOpenAIEmbedder embeds through the OpenAI embeddings endpoint.
func NewOpenAIEmbedder(config *EmbedderConfig) (Embedder, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, apperr.Configurationf("openai.new_embedder", "embed api key is required for provider openai")
	}
	model := config.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	dim := config.Dim
	// text-embedding-3 models can shorten their output; older ones cannot.
	shorten := dim > 0 && strings.HasPrefix(model, "text-embedding-3")
	if dim == 0 {
		// Set default dimensions based on the embedding model
		switch model {
		case string(openai.LargeEmbedding3):
			dim = 3072
		default:
			dim = 1536
		}
	}

	client := openAIClient(config.APIKey, config.BaseURL, config.Timeout)
	fn := func(ctx context.Context, texts []string, _ bool) ([][]float32, error) {
		req := openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(model),
		}
		if shorten {
			req.Dimensions = dim
		}
		resp, err := client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, classifyOpenAI(err, apperr.EmbeddingBackend, "openai.embed")
		}
		out := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(out) {
				return nil, apperr.Errorf(apperr.EmbeddingBackend, "openai.embed", "embedding index %d out of range", d.Index)
			}
			out[d.Index] = d.Embedding
		}
		return out, nil
	}
	return newRemoteEmbedder("openai", dim, config, fn), nil
}

type OpenAIModel struct {
	config *ModelConfig
	client *openai.Client
}

func NewOpenAIModel(config *ModelConfig) *OpenAIModel {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	return &OpenAIModel{
		config: config,
		client: openAIClient(config.APIKey, config.BaseURL, 0),
	}
}

func (m *OpenAIModel) Generate(ctx context.Context, p Prompt) (string, error) {
	if strings.TrimSpace(m.config.APIKey) == "" {
		return "", apperr.Errorf(apperr.Generation, "openai.generate", "llm api key unset")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(p.Messages)+1)
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	for _, msg := range p.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    m.config.Model,
		Messages: msgs,
	})
	if err != nil {
		return "", classifyOpenAI(err, apperr.Generation, "openai.generate")
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Errorf(apperr.Generation, "openai.generate", "no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classifyOpenAI maps provider rejections of the input to Validation and
// everything else to fallback.
func classifyOpenAI(err error, fallback apperr.Kind, op string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusBadRequest && fallback == apperr.EmbeddingBackend {
			return apperr.E(apperr.Validation, op, err)
		}
		return apperr.E(fallback, op, err)
	}
	return apperr.E(fallback, op, err)
}
