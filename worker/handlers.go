package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kenji11/aivideo-sub002/pipeline"
	"github.com/Kenji11/aivideo-sub002/tasks"
	"go.uber.org/zap"
)

// Executor runs one stage of a run. *pipeline.Orchestrator satisfies it.
type Executor interface {
	Execute(ctx context.Context, runID string, stage pipeline.Stage) (pipeline.Stage, error)
}

// StageQueue enqueues stage jobs. *Processor satisfies it.
type StageQueue interface {
	EnqueueStage(ctx context.Context, runID string, stage pipeline.Stage) error
}

// HandleStage returns the handler for every stage queue: execute the stage,
// then chain to the next one.
func HandleStage(exec Executor, queue StageQueue, logger *zap.Logger) TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, payload string) error {
		var task tasks.StagePayload
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			return fmt.Errorf("decode stage payload: %w", err)
		}
		log := logger.With(zap.String("run_id", task.RunID), zap.String("stage", string(task.Stage)))
		log.Info("processing stage")

		next, err := exec.Execute(ctx, task.RunID, task.Stage)
		var runErr *pipeline.RunError
		switch {
		case errors.Is(err, pipeline.ErrStaleJob):
			// Whoever moved the run on queued its next job already.
			log.Warn("dropping stale job", zap.String("current_stage", string(next)))
			return nil
		case errors.As(err, &runErr):
			// Recorded on the run; nothing for the queue to retry.
			log.Warn("run failed", zap.String("kind", string(runErr.Kind)), zap.String("error", runErr.Message))
			return nil
		case err != nil:
			return err
		}

		if next == pipeline.StageDone {
			log.Info("run finished")
			return nil
		}
		if err := queue.EnqueueStage(ctx, task.RunID, next); err != nil {
			return fmt.Errorf("queue %s for run %s: %w", next, task.RunID, err)
		}
		log.Info("queued next stage", zap.String("next", string(next)))
		return nil
	}
}

// StalledLister finds runs that stopped making progress.
type StalledLister interface {
	ListStalledRuns(ctx context.Context, updatedBefore time.Time) ([]pipeline.Run, error)
}

// SweepStalled re-queues every unfinished run untouched for stallAfter at its
// current stage. A duplicate job for a run that is in fact still moving is
// dropped as stale or finds its stage result already recorded.
func SweepStalled(ctx context.Context, runs StalledLister, queue StageQueue, stallAfter time.Duration, now time.Time, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stalled, err := runs.ListStalledRuns(ctx, now.Add(-stallAfter))
	if err != nil {
		return 0, fmt.Errorf("list stalled runs: %w", err)
	}
	queued := 0
	for _, run := range stalled {
		if !run.Stage.Valid() {
			continue
		}
		if err := queue.EnqueueStage(ctx, run.ID, run.Stage); err != nil {
			logger.Error("re-queue stalled run", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		queued++
		logger.Info("re-queued stalled run",
			zap.String("run_id", run.ID),
			zap.String("stage", string(run.Stage)),
			zap.Time("last_update", run.UpdatedAt),
		)
	}
	return queued, nil
}
