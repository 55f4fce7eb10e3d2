package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/config"
	"github.com/Kenji11/aivideo-sub002/continuity"
	"github.com/Kenji11/aivideo-sub002/generation"
	"github.com/Kenji11/aivideo-sub002/internal/platform"
	"github.com/Kenji11/aivideo-sub002/media"
	"github.com/Kenji11/aivideo-sub002/pipeline"
	"github.com/Kenji11/aivideo-sub002/processing"
	"github.com/Kenji11/aivideo-sub002/selection"
	"github.com/Kenji11/aivideo-sub002/store"
	"github.com/Kenji11/aivideo-sub002/tasks"
	"github.com/Kenji11/aivideo-sub002/worker"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := platform.NewLogger(cfg)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := platform.NewDBConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	rdb, err := platform.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	cat := mustCatalog(cfg, logger)

	orch, err := pipeline.New(buildDeps(cfg, cat, store.NewPostgres(db, logger), pipeline.NewRedisNotifier(rdb), logger))
	if err != nil {
		logger.Fatal("build orchestrator", zap.Error(err))
	}

	processor := worker.NewProcessor(rdb, logger)
	handler := worker.HandleStage(orch, processor, logger)
	for _, q := range tasks.StageQueues() {
		processor.Register(q, handler)
	}

	processor.Listen(ctx, cfg.Pipeline.WorkerConcurrency, tasks.StageQueues()...)
	logger.Info("worker stopped")
}

func mustCatalog(cfg config.Config, logger *zap.Logger) *catalog.Catalog {
	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.Pipeline.CatalogPath != "" {
		cat, err = catalog.Load(cfg.Pipeline.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		logger.Fatal("load catalog", zap.Error(err))
	}
	return cat
}

// buildDeps wires the orchestrator's collaborators. Without an OpenAI key
// runs need a caller-supplied plan and asset matching falls back to
// lexical similarity.
func buildDeps(cfg config.Config, cat *catalog.Catalog, st pipeline.Store, notifier pipeline.Notifier, logger *zap.Logger) pipeline.Deps {
	policy := cfg.Pipeline.RetryPolicy()
	gen := cfg.Generation

	video := generation.NewVideoClient(gen.BaseURL, gen.APIKey, gen.Timeout(), logger)
	video.PollInterval = gen.PollInterval()
	storyboards := generation.NewStoryboardClient(gen.BaseURL, gen.APIKey, gen.Timeout(), logger)
	music := generation.NewMusicClient(gen.BaseURL, gen.APIKey, gen.Timeout(), logger)
	ff := media.NewFFmpeg(cfg.Media.FFmpegBinary, cfg.Media.WorkDir, cfg.Media.PublicBaseURL, logger)

	engine := continuity.NewEngine(video, ff, storyboards, policy, logger)
	engine.Concurrency = cfg.Pipeline.LaneConcurrency
	engine.ChainAcrossBeats = cfg.Pipeline.ChainAcrossBeats

	deps := pipeline.Deps{
		Store:    st,
		Catalog:  cat,
		Engine:   engine,
		Stitcher: ff,
		Music:    music,
		Muxer:    ff,
		Notifier: notifier,
		Policy:   policy,
		Logger:   logger,
		Selector: selection.NewSelector(nil, logger),
	}

	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set: planner and entity extraction disabled")
		return deps
	}
	settings := processing.Settings{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
	}
	client, err := processing.NewClient(settings)
	if err != nil {
		logger.Fatal("openai client", zap.Error(err))
	}
	deps.Planner = processing.NewPlanner(client, settings, cat, logger)
	deps.Extractor = processing.NewEntityExtractor(client, settings)
	deps.Selector = selection.NewSelector(processing.NewEmbeddingSimilarity(client, settings), logger)
	return deps
}
