// Package generator turns retrieved context and conversation history into an
// answer from the language model.
package generator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/ai"
	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/internal/memory"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const (
	ContextPlaceholder = "{context}"

	DefaultSystemPrompt = "You are an AI assistant for Muhammad Owais's portfolio.\n\n" +
		"Context:\n{context}\n\n" +
		"Answer accordingly using only the context provided. Be clear, and helpful."

	DefaultTimeout = 45 * time.Second
	tokenEncoding  = "cl100k_base"
)

// Options configures a Generator. Zero values select the defaults.
type Options struct {
	SystemPrompt    string
	MaxPromptTokens int // 0 disables history trimming
	Timeout         time.Duration
}

type Generator struct {
	model           ai.LanguageModel
	systemPrompt    string
	maxPromptTokens int
	timeout         time.Duration

	encoder atomic.Pointer[tiktoken.Tiktoken]
	count   func(string) int
}

func New(model ai.LanguageModel, opts Options) (*Generator, error) {
	if model == nil {
		return nil, errors.New("language model is required")
	}
	g := &Generator{
		model:           model,
		systemPrompt:    opts.SystemPrompt,
		maxPromptTokens: opts.MaxPromptTokens,
		timeout:         opts.Timeout,
	}
	if g.systemPrompt == "" {
		g.systemPrompt = DefaultSystemPrompt
	}
	if !strings.Contains(g.systemPrompt, ContextPlaceholder) {
		return nil, apperr.Configurationf("generator.new", "system prompt must contain %s", ContextPlaceholder)
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.maxPromptTokens > 0 {
		go g.loadEncoder()
	}
	return g, nil
}

// Answer asks the model once and, on success, records the exchange in mem.
// On failure mem is left untouched.
func (g *Generator) Answer(ctx context.Context, question string, results []models.SearchResult, mem *memory.Memory) (models.ChatResponse, error) {
	var history []models.Turn
	if mem != nil {
		history = mem.History()
	}
	prompt := g.BuildPrompt(question, results, history)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	answer, err := g.model.Generate(ctx, prompt)
	if err != nil {
		if apperr.Is(err, apperr.Generation) {
			return models.ChatResponse{}, err
		}
		return models.ChatResponse{}, apperr.E(apperr.Generation, "generator.answer", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return models.ChatResponse{}, apperr.Errorf(apperr.Generation, "generator.answer", "malformed response: model returned no text")
	}
	log.Debug().Dur("took", time.Since(start)).Int("context_chunks", len(results)).Int("history_turns", len(history)).Msg("generated answer")

	if mem != nil {
		mem.Append(models.Turn{Question: question, Answer: answer})
	}

	sources := make([]models.Metadata, len(results))
	for i, r := range results {
		sources[i] = r.Entry.Metadata.Clone()
	}
	return models.ChatResponse{Answer: answer, Sources: sources}, nil
}

// BuildPrompt assembles the system instruction, history and question. When a
// token budget is set the oldest turns are left out until the prompt fits.
func (g *Generator) BuildPrompt(question string, results []models.SearchResult, history []models.Turn) ai.Prompt {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Entry.Text
	}
	system := strings.ReplaceAll(g.systemPrompt, ContextPlaceholder, strings.Join(texts, "\n\n"))

	build := func(turns []models.Turn) ai.Prompt {
		msgs := make([]ai.Message, 0, 2*len(turns)+1)
		for _, t := range turns {
			msgs = append(msgs,
				ai.Message{Role: ai.RoleUser, Content: t.Question},
				ai.Message{Role: ai.RoleAssistant, Content: t.Answer},
			)
		}
		msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: question})
		return ai.Prompt{System: system, Messages: msgs}
	}

	p := build(history)
	if g.maxPromptTokens <= 0 {
		return p
	}
	dropped := 0
	for dropped < len(history) && g.tokens(p.Text()) > g.maxPromptTokens {
		dropped++
		p = build(history[dropped:])
	}
	if dropped > 0 {
		log.Debug().Int("dropped_turns", dropped).Int("budget", g.maxPromptTokens).Msg("trimmed history to fit prompt budget")
	}
	return p
}

// loadEncoder fetches the BPE ranks once. Prompts built before it finishes,
// or after it fails, use estimateTokens.
func (g *Generator) loadEncoder() {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		log.Warn().Err(err).Msg("token encoder unavailable, estimating prompt size")
		return
	}
	g.encoder.Store(enc)
	log.Debug().Str("encoding", tokenEncoding).Msg("token encoder loaded")
}

func (g *Generator) tokens(s string) int {
	if g.count != nil {
		return g.count(s)
	}
	if enc := g.encoder.Load(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return estimateTokens(s)
}

// estimateTokens assumes about four bytes per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
