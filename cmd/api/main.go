package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/ai"
	"github.com/MuhammadOwais03/portfoliochat/internal/api"
	"github.com/MuhammadOwais03/portfoliochat/internal/config"
	"github.com/MuhammadOwais03/portfoliochat/internal/generator"
	"github.com/MuhammadOwais03/portfoliochat/internal/memory"
	"github.com/MuhammadOwais03/portfoliochat/internal/search"
	"github.com/MuhammadOwais03/portfoliochat/internal/session"
	"github.com/MuhammadOwais03/portfoliochat/internal/store"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const (
	readyTimeout  = 30 * time.Second
	sweepInterval = time.Minute
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("portfoliochat-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s': %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().
		Str("llm_provider", cfg.LLMProvider).
		Str("embed_provider", cfg.EmbedProvider).
		Str("index_provider", cfg.IndexProvider).
		Str("log_level", cfg.LogLevel).
		Msg("starting portfoliochat api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder, err := ai.NewEmbedder(ctx, cfg.Embedder())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create embedder")
	}
	model, err := ai.NewModel(ctx, cfg.Model())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create language model")
	}
	logger.Info().Int("embedding_dim", embedder.Dim()).Str("llm_model", cfg.LLMModel).Msg("AI clients initialized")

	st, err := store.New(ctx, cfg.Store())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open vector index")
	}
	defer st.Close()

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err = store.WaitReady(readyCtx, st)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("vector index not reachable")
	}

	// Use the embedder's dimension for the index
	spec := store.IndexSpec{Name: cfg.IndexName, Dim: embedder.Dim(), Metric: store.MetricCosine}
	if err := st.EnsureIndex(ctx, spec); err != nil {
		logger.Fatal().Err(err).Str("index", cfg.IndexName).Msg("failed to prepare vector index")
	}

	gen, err := generator.New(model, generator.Options{
		SystemPrompt:    cfg.SystemPrompt,
		MaxPromptTokens: cfg.MaxPromptTokens,
		Timeout:         cfg.GenerateTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create generator")
	}

	sessions, err := session.NewManager(cfg.SessionSecret, session.DefaultTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session manager")
	}
	memories := memory.NewRegistry(cfg.MaxTurns, cfg.SessionIdleTTL)
	go sweep(ctx, memories, logger)

	app := &api.App{
		Retriever:      search.NewService(embedder, st, cfg.TopK),
		Generator:      gen,
		Sessions:       sessions,
		Memories:       memories,
		Health:         st,
		Greeting:       cfg.Greeting,
		CORSOrigin:     cfg.CORSOrigin,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	}

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: app.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("api server stopped")
}

// sweep drops idle conversation memories until ctx is done.
func sweep(ctx context.Context, memories *memory.Registry, logger zerolog.Logger) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := memories.Sweep(now); n > 0 {
				logger.Debug().Int("removed", n).Int("remaining", memories.Len()).Msg("swept idle sessions")
			}
		}
	}
}
