package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
)

// Embedder maps text to fixed-length vectors. Implementations are
// deterministic for a given model version.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// LanguageModel answers a prompt with a single completion.
type LanguageModel interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Prompt is a system instruction followed by alternating conversation
// messages; the last message is the question being asked.
type Prompt struct {
	System   string
	Messages []Message
}

// Text flattens the prompt, mostly for token counting and logging.
func (p Prompt) Text() string {
	var b strings.Builder
	b.WriteString(p.System)
	for _, m := range p.Messages {
		b.WriteString("\n")
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderOpenAI   Provider = "openai"
	ProviderCohere   Provider = "cohere"
	ProviderGemini   Provider = "gemini"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// EmbedderConfig holds configuration for embedding backends
type EmbedderConfig struct {
	Provider  Provider
	APIKey    string
	Model     string
	BaseURL   string
	Dim       int
	BatchSize int
	RateLimit float64 // requests per second, hosted backends only
	ModelPath string  // local backend artifact
	ProjectID string
	Location  string
	Timeout   time.Duration
}

// ModelConfig holds configuration for language model clients
type ModelConfig struct {
	Provider  Provider
	APIKey    string
	Model     string
	BaseURL   string
	ProjectID string
	Location  string
}

// NewEmbedder creates the embedding backend named by config.Provider.
func NewEmbedder(ctx context.Context, config *EmbedderConfig) (Embedder, error) {
	if config == nil {
		return nil, errors.New("embedder config is required")
	}

	switch config.Provider {
	case ProviderLocal:
		return NewLocalEmbedder(config.ModelPath, config.Dim)
	case ProviderOpenAI:
		return NewOpenAIEmbedder(config)
	case ProviderCohere:
		return NewCohereEmbedder(config)
	case ProviderGemini, ProviderVertexAI:
		return NewVertexAIEmbedder(ctx, config)
	case ProviderStub:
		return NewStubEmbedder(config.Dim), nil
	default:
		return nil, apperr.Configurationf("ai.new_embedder", "unsupported embed provider: %s", config.Provider)
	}
}

// NewModel creates the language model client named by config.Provider.
func NewModel(ctx context.Context, config *ModelConfig) (LanguageModel, error) {
	if config == nil {
		return nil, errors.New("model config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIModel(config), nil
	case ProviderGemini, ProviderVertexAI:
		return NewVertexAIModel(ctx, config)
	case ProviderStub:
		return &StubModel{}, nil
	default:
		return nil, apperr.Configurationf("ai.new_model", "unsupported llm provider: %s", config.Provider)
	}
}

// StubEmbedder derives a pseudo-random unit vector from a hash of the text.
// Equal texts map to equal vectors; it has no notion of meaning.
type StubEmbedder struct {
	dim int
}

func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = DefaultLocalDim
	}
	return &StubEmbedder{dim: dim}
}

func (s *StubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperr.Validationf("stub.embed_documents", "no texts to embed")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vector(t)
	}
	return out, nil
}

func (s *StubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validationf("stub.embed_query", "query text is empty")
	}
	return s.vector(text), nil
}

func (s *StubEmbedder) Dim() int {
	return s.dim
}

func (s *StubEmbedder) vector(text string) []float32 {
	v := make([]float32, s.dim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := range v {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		u := binary.BigEndian.Uint32(block[(i%8)*4:])
		v[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}
	normalize(v)
	return v
}

// StubModel answers without calling a provider. Answer, when set, is
// returned verbatim; otherwise the question is echoed with context size.
type StubModel struct {
	Answer string
}

func (m *StubModel) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Answer != "" {
		return m.Answer, nil
	}
	q := ""
	if n := len(p.Messages); n > 0 {
		q = p.Messages[n-1].Content
	}
	return fmt.Sprintf("You asked %q; %d characters of context were available.", q, len(p.System)), nil
}

// normalize scales v to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
