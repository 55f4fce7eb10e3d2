package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/continuity"
	"github.com/Kenji11/aivideo-sub002/retry"
	"github.com/Kenji11/aivideo-sub002/selection"
	"github.com/Kenji11/aivideo-sub002/videospec"
	"go.uber.org/zap"
)

// Deps are the orchestrator's collaborators. Planner and Extractor may be
// nil: runs then need a caller-supplied plan, and prompts go without
// entities.
type Deps struct {
	Store     Store
	Catalog   *catalog.Catalog
	Planner   Planner
	Extractor Extractor
	Selector  *selection.Selector
	Engine    *continuity.Engine
	Stitcher  Stitcher
	Music     MusicGenerator
	Muxer     Muxer
	Notifier  Notifier
	Policy    retry.Policy
	Logger    *zap.Logger
}

// Orchestrator sequences the stages of a run, one stage per call.
type Orchestrator struct {
	store     Store
	catalog   *catalog.Catalog
	planner   Planner
	extractor Extractor
	builder   *videospec.Builder
	selector  *selection.Selector
	chunks    *chunking.Planner
	engine    *continuity.Engine
	stitcher  Stitcher
	music     MusicGenerator
	muxer     Muxer
	notifier  Notifier
	policy    retry.Policy
	logger    *zap.Logger
}

func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case d.Catalog == nil:
		return nil, errors.New("pipeline: catalog is required")
	case d.Engine == nil:
		return nil, errors.New("pipeline: continuity engine is required")
	case d.Stitcher == nil || d.Music == nil || d.Muxer == nil:
		return nil, errors.New("pipeline: stitcher, music generator and muxer are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	selector := d.Selector
	if selector == nil {
		selector = selection.NewSelector(nil, logger)
	}
	return &Orchestrator{
		store:     d.Store,
		catalog:   d.Catalog,
		planner:   d.Planner,
		extractor: d.Extractor,
		builder:   videospec.NewBuilder(d.Catalog, logger),
		selector:  selector,
		chunks:    chunking.NewPlanner(logger),
		engine:    d.Engine,
		stitcher:  d.Stitcher,
		music:     d.Music,
		muxer:     d.Muxer,
		notifier:  d.Notifier,
		policy:    d.Policy,
		logger:    logger,
	}, nil
}

// Execute runs one stage of a run and returns the stage to enqueue next,
// StageDone when nothing follows. A stage failure is recorded on the run
// and returned as *RunError; any other error is an infrastructure problem
// and leaves the run where it was.
func (o *Orchestrator) Execute(ctx context.Context, runID string, stage Stage) (Stage, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	log := o.logger.With(zap.String("run_id", runID), zap.String("stage", string(stage)))

	if run.Status.Terminal() {
		log.Info("run already finished, dropping job", zap.String("status", string(run.Status)))
		return StageDone, nil
	}
	if run.Stage != stage {
		log.Warn("stale job", zap.String("current_stage", string(run.Stage)))
		return run.Stage, ErrStaleJob
	}
	if run.CancelRequested {
		return StageDone, o.cancel(ctx, &run)
	}
	if run.Status == StatusQueued {
		run.Status = StatusRunning
		if err := o.save(ctx, &run); err != nil {
			return "", err
		}
	}

	_, recorded, err := o.store.LoadStageResult(ctx, runID, stage)
	if err != nil {
		return "", err
	}
	if recorded {
		log.Info("stage result already recorded, skipping")
	} else {
		start := time.Now()
		payload, err := o.runStage(ctx, &run, stage)
		if err != nil {
			if interrupted(ctx, err) {
				return "", err
			}
			return StageDone, o.fail(ctx, &run, stage, err)
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode %s result: %w", stage, err)
		}
		if err := o.store.SaveStageResult(ctx, runID, stage, data); err != nil {
			return "", fmt.Errorf("record %s result: %w", stage, err)
		}
		log.Info("stage complete", zap.Duration("elapsed", time.Since(start)))
	}

	// Re-read for a cancellation that arrived while the stage ran. The stage
	// result above is kept either way.
	fresh, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	run.CancelRequested = fresh.CancelRequested
	run.Costs = fresh.Costs

	next := stage.Next()
	run.Stage = next
	run.Progress = progressBefore(next)
	if next == StageDone {
		return StageDone, o.succeed(ctx, &run)
	}
	if run.CancelRequested {
		return StageDone, o.cancel(ctx, &run)
	}
	if err := o.save(ctx, &run); err != nil {
		return "", err
	}
	return next, nil
}

// Run drives a run to a terminal status in-process.
func (o *Orchestrator) Run(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	for stage := run.Stage; stage != StageDone; {
		next, err := o.Execute(ctx, runID, stage)
		if err != nil {
			return err
		}
		stage = next
	}
	return nil
}

// Resume puts a failed or cancelled run back in the queue at the stage it
// stopped in and returns that stage. Recorded stage results and finished
// chunks are reused.
func Resume(ctx context.Context, s Store, runID string) (Stage, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run.Status != StatusFailed && run.Status != StatusCancelled {
		return "", fmt.Errorf("%w: run is %s", ErrNotResumable, run.Status)
	}
	if run.CancelRequested {
		if err := s.ClearCancel(ctx, runID); err != nil {
			return "", err
		}
	}
	run.Status = StatusQueued
	run.Error = nil
	if err := s.SaveRun(ctx, run); err != nil {
		return "", fmt.Errorf("save run %s: %w", runID, err)
	}
	return run.Stage, nil
}

// Resume is the package-level Resume plus a progress notification.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (Stage, error) {
	stage, err := Resume(ctx, o.store, runID)
	if err != nil {
		return "", err
	}
	if run, err := o.store.GetRun(ctx, runID); err == nil {
		o.notify(ctx, run)
	}
	o.logger.Info("run resumed", zap.String("run_id", runID), zap.String("stage", string(stage)))
	return stage, nil
}

func (o *Orchestrator) runStage(ctx context.Context, run *Run, stage Stage) (interface{}, error) {
	switch stage {
	case StageSpecBuild:
		return o.buildSpec(ctx, run)
	case StageAssetSelect:
		return o.selectAssets(ctx, run)
	case StageChunkPlan:
		return o.planChunks(ctx, run)
	case StageGenerate:
		return o.generate(ctx, run)
	case StageStitch:
		return o.stitch(ctx, run)
	case StageScore:
		return o.score(ctx, run)
	}
	return nil, fmt.Errorf("unknown stage %q", stage)
}

func (o *Orchestrator) succeed(ctx context.Context, run *Run) error {
	var sel SelectResult
	if err := o.loadResult(ctx, run.ID, StageAssetSelect, &sel); err != nil {
		return err
	}
	if ids := sel.Spec.ReferenceMapping.AssetIDs(sel.Spec.Beats); len(ids) > 0 {
		if err := o.store.IncrementAssetUsage(ctx, run.ID, ids); err != nil {
			return fmt.Errorf("increment asset usage: %w", err)
		}
	}
	var score ScoreResult
	if err := o.loadResult(ctx, run.ID, StageScore, &score); err != nil {
		return err
	}
	run.OutputURL = score.VideoURL
	run.Status = StatusSucceeded
	run.Progress = 100
	if err := o.save(ctx, run); err != nil {
		return err
	}
	o.logger.Info("run succeeded",
		zap.String("run_id", run.ID),
		zap.String("output_url", run.OutputURL),
		zap.Float64("total_cost", run.TotalCost()),
	)
	return nil
}

func (o *Orchestrator) cancel(ctx context.Context, run *Run) error {
	run.Status = StatusCancelled
	if err := o.save(ctx, run); err != nil {
		return err
	}
	o.logger.Info("run cancelled", zap.String("run_id", run.ID), zap.String("stage", string(run.Stage)))
	return nil
}

// fail records err on the run. The returned error is the *RunError unless
// the record itself could not be written.
func (o *Orchestrator) fail(ctx context.Context, run *Run, stage Stage, err error) error {
	re := classify(stage, err)
	run.Status = StatusFailed
	run.Error = re
	if saveErr := o.save(ctx, run); saveErr != nil {
		return fmt.Errorf("record failure (%v): %w", re, saveErr)
	}
	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.String("stage", string(stage)),
		zap.String("kind", string(re.Kind)),
		zap.Error(err),
	}
	if re.ChunkIndex != nil {
		fields = append(fields, zap.Int("chunk", *re.ChunkIndex))
	}
	o.logger.Error("run failed", fields...)
	return re
}

func (o *Orchestrator) save(ctx context.Context, run *Run) error {
	if err := o.store.SaveRun(ctx, *run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	o.notify(ctx, *run)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, run Run) {
	if o.notifier == nil {
		return
	}
	if fresh, err := o.store.GetRun(ctx, run.ID); err == nil {
		run.Costs = fresh.Costs
		if fresh.Progress > run.Progress {
			run.Progress = fresh.Progress
		}
	}
	if err := o.notifier.Publish(ctx, run); err != nil {
		o.logger.Warn("publish run progress", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// call retries one external operation under the orchestrator's policy and
// turns exhaustion into a StageFailure.
func (o *Orchestrator) call(ctx context.Context, stage Stage, op func(ctx context.Context) error) error {
	p := o.policy
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		o.logger.Warn("retrying external call",
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := retry.Do(ctx, p, op); err != nil {
		if interrupted(ctx, err) {
			return err
		}
		return &StageFailure{Stage: stage, Err: err}
	}
	return nil
}
