package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/ai"
	"github.com/MuhammadOwais03/portfoliochat/internal/chunker"
	"github.com/MuhammadOwais03/portfoliochat/internal/config"
	"github.com/MuhammadOwais03/portfoliochat/internal/indexer"
	"github.com/MuhammadOwais03/portfoliochat/internal/search"
	"github.com/MuhammadOwais03/portfoliochat/internal/store"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const previewLength = 200

func main() {
	fs := pflag.NewFlagSet("portfoliochat-ingest", pflag.ExitOnError)
	fitLocal := fs.Bool("fit-local-model", false, "Learn local embedding weights from the corpus and save them to --local-model-path")

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

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
	if *fitLocal && !strings.EqualFold(cfg.EmbedProvider, string(ai.ProviderLocal)) {
		logger.Fatal().Str("embed_provider", cfg.EmbedProvider).Msg("--fit-local-model requires the local embed provider")
	}
	logger.Info().Str("data_dir", cfg.DataDir).Str("embed_provider", cfg.EmbedProvider).Str("index_provider", cfg.IndexProvider).Msg("starting ingestion")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, cfg.Recursive)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid chunking settings")
	}

	st, err := store.New(ctx, cfg.Store())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open vector index")
	}
	defer st.Close()

	readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.WaitReady(readyCtx, st)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("vector index not reachable")
	}

	ix := indexer.New(st, nil, splitter, cfg.DataDir, cfg.IndexName)
	if cfg.EmbedBatchSize > 0 {
		ix.BatchSize = cfg.EmbedBatchSize
	}

	if *fitLocal {
		ix.Embedder, err = fitLocalModel(ctx, ix, splitter, cfg.LocalModelPath, cfg.Dim)
	} else {
		ix.Embedder, err = ai.NewEmbedder(ctx, cfg.Embedder())
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create embedder")
	}

	start := time.Now()
	stats, err := ix.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Interface("stats", stats).Msg("ingestion failed")
	}
	logger.Info().
		Int("files", stats.Files).
		Int("documents", stats.Documents).
		Int("chunks", stats.Chunks).
		Int("written", stats.Written).
		Int("skipped", stats.Skipped).
		Dur("dur", time.Since(start)).
		Msg("ingestion complete")

	if cfg.SmokeQuery == "" {
		return
	}
	res, err := search.NewService(ix.Embedder, st, 1).RetrieveText(ctx, cfg.SmokeQuery)
	if err != nil {
		logger.Fatal().Err(err).Str("query", cfg.SmokeQuery).Msg("smoke query failed")
	}
	if len(res) == 0 {
		logger.Warn().Str("query", cfg.SmokeQuery).Msg("smoke query returned nothing")
		return
	}
	preview := []rune(res[0].Entry.Text)
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	logger.Info().Str("query", cfg.SmokeQuery).Float64("score", res[0].Score).Interface("source", res[0].Entry.Metadata["source"]).Str("preview", string(preview)).Msg("smoke query")
}

// fitLocalModel learns idf weights from the chunks the indexer is about to
// write and saves them where the api will load them.
func fitLocalModel(ctx context.Context, ix *indexer.Indexer, splitter *chunker.Splitter, path string, dim int) (ai.Embedder, error) {
	docs, _, err := ix.Documents(ctx)
	if err != nil {
		return nil, err
	}
	chunks := splitter.Split(docs)
	corpus := make([]string, len(chunks))
	for i, c := range chunks {
		corpus[i] = c.Text
	}
	e, err := ai.FitLocalEmbedder(corpus, dim)
	if err != nil {
		return nil, err
	}
	if err := e.Save(path); err != nil {
		return nil, fmt.Errorf("save local model: %w", err)
	}
	zlog.Info().Str("path", path).Int("chunks", len(corpus)).Int("dim", e.Dim()).Msg("fitted local embedding model")
	return e, nil
}
