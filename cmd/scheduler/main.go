package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kenji11/aivideo-sub002/config"
	"github.com/Kenji11/aivideo-sub002/internal/platform"
	"github.com/Kenji11/aivideo-sub002/store"
	"github.com/Kenji11/aivideo-sub002/worker"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// The scheduler re-queues runs whose worker died mid-stage. Run a single
// instance so sweeps do not overlap.
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

	db, err := platform.NewDBConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	rdb, err := platform.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	runs := store.NewPostgres(db, logger)
	queue := worker.NewProcessor(rdb, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err = c.AddFunc(cfg.Scheduler.SweepSpec, func() {
		n, err := worker.SweepStalled(ctx, runs, queue, cfg.Scheduler.StallAfter(), time.Now(), logger)
		if err != nil {
			logger.Error("stalled-run sweep", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("stalled-run sweep", zap.Int("requeued", n))
		}
	})
	if err != nil {
		logger.Fatal("schedule sweep", zap.String("spec", cfg.Scheduler.SweepSpec), zap.Error(err))
	}
	c.Start()
	logger.Info("scheduler started", zap.String("sweep", cfg.Scheduler.SweepSpec))

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
}
