package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/continuity"
	"github.com/Kenji11/aivideo-sub002/generation"
	"github.com/Kenji11/aivideo-sub002/selection"
	"github.com/Kenji11/aivideo-sub002/videospec"
	"go.uber.org/zap"
)

func (o *Orchestrator) buildSpec(ctx context.Context, run *Run) (interface{}, error) {
	plan := run.Plan
	if plan == nil {
		if o.planner == nil {
			return nil, errors.New("no plan supplied and no planner configured")
		}
		var out videospec.PlannerOutput
		err := o.call(ctx, StageSpecBuild, func(ctx context.Context) error {
			var err error
			out, err = o.planner.Plan(ctx, run.Prompt, run.TotalDuration)
			return err
		})
		if err != nil {
			return nil, err
		}
		plan = &out
	}

	spec, err := o.builder.Build(*plan, run.TotalDuration)
	if err != nil {
		return nil, err
	}
	return SpecResult{Spec: spec, Warnings: videospec.SoftChecks(spec)}, nil
}

func (o *Orchestrator) selectAssets(ctx context.Context, run *Run) (interface{}, error) {
	var sr SpecResult
	if err := o.loadResult(ctx, run.ID, StageSpecBuild, &sr); err != nil {
		return nil, err
	}
	assets, err := o.store.ListAssets(ctx, run.UserID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	if len(assets) == 0 {
		// No library, nothing to match: skip extraction entirely.
		o.logger.Info("no reference assets, skipping selection", zap.String("run_id", run.ID))
		return SelectResult{Spec: sr.Spec.WithReferences(nil)}, nil
	}

	var entities videospec.Entities
	if o.extractor != nil {
		err := o.call(ctx, StageAssetSelect, func(ctx context.Context) error {
			var err error
			entities, err = o.extractor.Extract(ctx, run.Prompt)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	backend, _ := o.catalog.Backend(run.BackendID)
	mapping, err := o.selector.Select(ctx, assets, entities, sr.Spec.Beats, selection.Options{
		MaxPerBeat:      backend.MaxReferenceImages,
		OpeningLogoFits: sr.Spec.OpeningLogoFits,
		Prompt:          run.Prompt,
	})
	if err != nil {
		return nil, &StageFailure{Stage: StageAssetSelect, Err: err}
	}

	byID := make(map[string]selection.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}
	anchors := make(map[string]string)
	for beatID, ref := range mapping {
		for _, id := range ref.AssetIDs {
			if url := byID[id].ImageURL; url != "" {
				anchors[beatID] = url
				break
			}
		}
	}
	return SelectResult{Entities: entities, Spec: sr.Spec.WithReferences(mapping), AnchorImages: anchors}, nil
}

func (o *Orchestrator) backend(id string) (catalog.Backend, error) {
	b, ok := o.catalog.Backend(id)
	if !ok {
		return catalog.Backend{}, &chunking.ChunkPlanError{Kind: chunking.UnknownBackend, BackendID: id,
			Detail: fmt.Sprintf("backend %q is not in the capability table", id)}
	}
	return b, nil
}

func (o *Orchestrator) planChunks(ctx context.Context, run *Run) (interface{}, error) {
	var sel SelectResult
	if err := o.loadResult(ctx, run.ID, StageAssetSelect, &sel); err != nil {
		return nil, err
	}
	backend, err := o.backend(run.BackendID)
	if err != nil {
		return nil, err
	}
	plan, err := o.chunks.Plan(sel.Spec, backend)
	if err != nil {
		return nil, err
	}
	for _, c := range plan.Chunks {
		if err := o.store.SaveChunk(ctx, run.ID, c); err != nil {
			return nil, fmt.Errorf("save chunk %d: %w", c.Index, err)
		}
	}
	return plan, nil
}

func (o *Orchestrator) generate(ctx context.Context, run *Run) (interface{}, error) {
	var sel SelectResult
	if err := o.loadResult(ctx, run.ID, StageAssetSelect, &sel); err != nil {
		return nil, err
	}
	var plan chunking.Plan
	if err := o.loadResult(ctx, run.ID, StageChunkPlan, &plan); err != nil {
		return nil, err
	}
	backend, err := o.backend(run.BackendID)
	if err != nil {
		return nil, err
	}

	// Chunks persisted by an earlier attempt carry the media already paid for.
	chunks, err := o.store.ListChunks(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) != len(plan.Chunks) {
		chunks = plan.Chunks
	}

	anchors := make(map[string]continuity.Anchor, len(sel.AnchorImages))
	for beatID, url := range sel.AnchorImages {
		anchors[beatID] = continuity.Anchor{ImageURL: url, AssetIDs: sel.Spec.ReferenceMapping[beatID].AssetIDs}
	}

	obs := newRunObserver(o, run.ID, chunks)
	out, err := o.engine.Materialize(ctx, continuity.Input{
		RunID:     run.ID,
		Backend:   backend,
		Spec:      sel.Spec,
		Entities:  sel.Entities,
		Chunks:    chunks,
		Anchors:   anchors,
		ImageCost: o.catalog.ImageCost(),
	}, obs)
	if err != nil {
		return nil, err
	}
	return GenerateResult{Chunks: out}, nil
}

func (o *Orchestrator) stitch(ctx context.Context, run *Run) (interface{}, error) {
	var gen GenerateResult
	if err := o.loadResult(ctx, run.ID, StageGenerate, &gen); err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(gen.Chunks))
	for _, c := range gen.Chunks {
		if c.State != chunking.StateDone || c.OutputURL == "" {
			return nil, fmt.Errorf("chunk %d is %s, refusing to stitch a partial video", c.Index, c.State)
		}
		urls = append(urls, c.OutputURL)
	}

	var url string
	err := o.call(ctx, StageStitch, func(ctx context.Context) error {
		var err error
		url, err = o.stitcher.Stitch(ctx, urls, run.ID+"/stitched.mp4")
		return err
	})
	if err != nil {
		return nil, err
	}
	return StitchResult{VideoURL: url}, nil
}

func (o *Orchestrator) score(ctx context.Context, run *Run) (interface{}, error) {
	var sel SelectResult
	if err := o.loadResult(ctx, run.ID, StageAssetSelect, &sel); err != nil {
		return nil, err
	}
	var plan chunking.Plan
	if err := o.loadResult(ctx, run.ID, StageChunkPlan, &plan); err != nil {
		return nil, err
	}
	var st StitchResult
	if err := o.loadResult(ctx, run.ID, StageStitch, &st); err != nil {
		return nil, err
	}

	// The stitched video runs for the chunks' covered length, which exceeds
	// the requested total when beats do not divide the backend's clip length.
	req := generation.MusicRequest{
		Duration:  plan.CoveredDuration(),
		Mood:      sel.Spec.Style.Mood,
		Aesthetic: sel.Spec.Style.Aesthetic,
		Energy:    dominantEnergy(sel.Spec.Beats),
		Key:       run.ID + "/music.mp3",
	}
	var music string
	err := o.call(ctx, StageScore, func(ctx context.Context) error {
		var err error
		music, err = o.music.Compose(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := o.store.AddCost(ctx, run.ID, StageScore, "music", o.catalog.MusicCost()); err != nil {
		return nil, fmt.Errorf("charge music: %w", err)
	}

	var final string
	err = o.call(ctx, StageScore, func(ctx context.Context) error {
		var err error
		final, err = o.muxer.Mux(ctx, st.VideoURL, music, run.ID+"/final.mp4")
		return err
	})
	if err != nil {
		return nil, err
	}
	return ScoreResult{MusicURL: music, VideoURL: final}, nil
}

// dominantEnergy is the energy level covering the most seconds.
func dominantEnergy(beats []videospec.ResolvedBeat) string {
	seconds := make(map[string]int)
	best := ""
	for _, b := range beats {
		seconds[b.EnergyLevel] += b.Duration
		if seconds[b.EnergyLevel] > seconds[best] || best == "" {
			best = b.EnergyLevel
		}
	}
	return best
}

// runObserver persists chunk updates and charges for one run's generate
// stage, and advances progress per finished chunk.
type runObserver struct {
	o     *Orchestrator
	runID string
	total int

	mu   sync.Mutex
	done map[int]bool
}

func newRunObserver(o *Orchestrator, runID string, chunks []chunking.Chunk) *runObserver {
	obs := &runObserver{o: o, runID: runID, total: len(chunks), done: make(map[int]bool)}
	for _, c := range chunks {
		if c.State == chunking.StateDone {
			obs.done[c.Index] = true
		}
	}
	return obs
}

func (r *runObserver) ChunkUpdated(ctx context.Context, c chunking.Chunk) error {
	if err := r.o.store.SaveChunk(ctx, r.runID, c); err != nil {
		return err
	}
	if c.State != chunking.StateDone || r.total == 0 {
		return nil
	}
	r.mu.Lock()
	r.done[c.Index] = true
	progress := progressBefore(StageGenerate) + stageWeights[StageGenerate]*len(r.done)/r.total
	r.mu.Unlock()
	if err := r.o.store.UpdateProgress(ctx, r.runID, progress); err != nil {
		r.o.logger.Warn("update progress", zap.String("run_id", r.runID), zap.Error(err))
	}
	return nil
}

func (r *runObserver) Charged(ctx context.Context, item string, amount float64) error {
	return r.o.store.AddCost(ctx, r.runID, StageGenerate, item, amount)
}
