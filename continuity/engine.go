package continuity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/retry"
	"github.com/Kenji11/aivideo-sub002/videospec"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GenerateRequest is one image-to-video call.
type GenerateRequest struct {
	RunID       string
	ChunkIndex  int
	SourceImage string
	Prompt      string
	Duration    int
}

// VideoGenerator animates a source image into a clip and returns its URL.
type VideoGenerator interface {
	Generate(ctx context.Context, backend catalog.Backend, req GenerateRequest) (string, error)
}

// FrameExtractor pulls the final frame of a clip and stores it as an image.
type FrameExtractor interface {
	LastFrame(ctx context.Context, videoURL string, duration int, key string) (string, error)
}

// ImageRenderer renders a storyboard image for beats without a reference.
type ImageRenderer interface {
	Render(ctx context.Context, prompt string, key string) (string, error)
}

// Observer is told about every chunk state change and every realized charge.
// Calls may arrive from several lanes at once.
type Observer interface {
	ChunkUpdated(ctx context.Context, c chunking.Chunk) error
	Charged(ctx context.Context, item string, amount float64) error
}

// Anchor is the reference image that opens a beat.
type Anchor struct {
	ImageURL string
	AssetIDs []string
}

// Input is everything one materialization pass needs.
type Input struct {
	RunID    string
	Backend  catalog.Backend
	Spec     videospec.VideoSpec
	Entities videospec.Entities
	// Chunks is the planner skeleton, possibly with chunks already DONE from
	// an earlier attempt.
	Chunks  []chunking.Chunk
	Anchors map[string]Anchor
	// ImageCost is charged per storyboard render.
	ImageCost float64
}

// Engine materializes chunks with continuity chaining.
type Engine struct {
	generator   VideoGenerator
	frames      FrameExtractor
	storyboards ImageRenderer
	policy      retry.Policy
	logger      *zap.Logger

	// ChainAcrossBeats makes beats without a reference image continue from
	// the previous beat's last frame instead of a fresh storyboard.
	ChainAcrossBeats bool
	// Concurrency bounds how many independent lanes run at once.
	Concurrency int
}

// NewEngine wires an engine to its collaborators.
func NewEngine(gen VideoGenerator, frames FrameExtractor, storyboards ImageRenderer, policy retry.Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		generator:   gen,
		frames:      frames,
		storyboards: storyboards,
		policy:      policy,
		logger:      logger,
		Concurrency: 1,
	}
}

// Materialize generates every chunk that is not already DONE and returns
// the full, ordered chunk list. On failure the returned slice still holds
// every chunk's latest state.
func (e *Engine) Materialize(ctx context.Context, in Input, obs Observer) ([]chunking.Chunk, error) {
	chunks := append([]chunking.Chunk(nil), in.Chunks...)
	for i := range chunks {
		rearm(&chunks[i])
	}
	beats := make(map[int]videospec.ResolvedBeat, len(in.Spec.Beats))
	for _, b := range in.Spec.Beats {
		beats[b.Index] = b
	}
	graph := BuildGraph(chunks, func(beatID string) bool {
		return in.Anchors[beatID].ImageURL != ""
	}, e.ChainAcrossBeats)

	e.logger.Info("materializing chunks",
		zap.String("run_id", in.RunID),
		zap.Int("chunks", len(chunks)),
		zap.Int("lanes", len(graph.Lanes)),
		zap.Bool("chain_across_beats", e.ChainAcrossBeats),
	)

	limit := e.Concurrency
	if limit < 1 {
		limit = 1
	}
	var (
		g       errgroup.Group
		stopped atomic.Bool
		mu      sync.Mutex
	)
	g.SetLimit(limit)

	for _, lane := range graph.Lanes {
		lane := lane
		g.Go(func() error {
			for _, idx := range lane {
				// Another lane failed: let in-flight work finish, start nothing new.
				if stopped.Load() {
					return nil
				}
				mu.Lock()
				c := chunks[idx]
				var pred *chunking.Chunk
				if dep := graph.DependsOn[idx]; dep != NoDependency {
					p := chunks[dep]
					pred = &p
				}
				mu.Unlock()

				if c.State == chunking.StateDone {
					continue
				}
				err := e.runChunk(ctx, in, beats[c.BeatIndex], &c, pred, obs)
				mu.Lock()
				chunks[idx] = c
				mu.Unlock()
				if err != nil {
					stopped.Store(true)
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chunks, err
	}
	return chunks, nil
}

func (e *Engine) runChunk(ctx context.Context, in Input, beat videospec.ResolvedBeat, c *chunking.Chunk, pred *chunking.Chunk, obs Observer) error {
	log := e.logger.With(zap.String("run_id", in.RunID), zap.Int("chunk", c.Index), zap.String("beat_id", c.BeatID))

	fail := func(phase chunking.State, cause error) error {
		if err := advance(c, chunking.StateFailed); err != nil {
			return err
		}
		if err := obs.ChunkUpdated(ctx, *c); err != nil {
			log.Error("persist failed chunk", zap.Error(err))
		}
		log.Warn("chunk failed", zap.String("phase", string(phase)), zap.Error(cause))
		if phase == chunking.StateGenerating && pred != nil {
			return &ContinuityBreak{Index: c.Index, Predecessor: pred.Index, SourceImage: c.SourceImage, Err: cause}
		}
		return &ChunkFailure{Index: c.Index, Phase: phase, Err: cause}
	}

	// SOURCING
	if err := advance(c, chunking.StateSourcing); err != nil {
		return err
	}
	source, err := e.source(ctx, in, beat, c, pred, obs)
	if err != nil {
		return fail(chunking.StateSourcing, err)
	}
	c.SourceImage = source

	// GENERATING
	if err := advance(c, chunking.StateGenerating); err != nil {
		return err
	}
	if err := obs.ChunkUpdated(ctx, *c); err != nil {
		return fmt.Errorf("persist chunk %d: %w", c.Index, err)
	}
	if c.OutputURL == "" {
		req := GenerateRequest{
			RunID:       in.RunID,
			ChunkIndex:  c.Index,
			SourceImage: c.SourceImage,
			Prompt:      ComposePrompt(beat, in.Entities, in.Spec.Style, *c),
			Duration:    c.Duration,
		}
		var url string
		err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
			var callErr error
			url, callErr = e.generator.Generate(ctx, in.Backend, req)
			return callErr
		})
		if err != nil {
			return fail(chunking.StateGenerating, err)
		}
		c.OutputURL = url
		if err := obs.Charged(ctx, fmt.Sprintf("chunk:%d", c.Index), in.Backend.CostPerCall); err != nil {
			return fmt.Errorf("charge chunk %d: %w", c.Index, err)
		}
	} else {
		log.Info("reusing clip from earlier attempt", zap.String("output_url", c.OutputURL))
	}

	// EXTRACTING: one retry, whatever the failure looks like.
	if err := advance(c, chunking.StateExtracting); err != nil {
		return err
	}
	if err := obs.ChunkUpdated(ctx, *c); err != nil {
		return fmt.Errorf("persist chunk %d: %w", c.Index, err)
	}
	key := fmt.Sprintf("%s/chunk-%03d-last.jpg", in.RunID, c.Index)
	var frame string
	err = retry.Do(ctx, e.policy.WithMaxAttempts(2), func(ctx context.Context) error {
		var callErr error
		frame, callErr = e.frames.LastFrame(ctx, c.OutputURL, c.Duration, key)
		return retry.Transient("extract last frame", callErr)
	})
	if err != nil {
		return fail(chunking.StateExtracting, err)
	}
	c.LastFrameURL = frame

	if err := advance(c, chunking.StateDone); err != nil {
		return err
	}
	if err := obs.ChunkUpdated(ctx, *c); err != nil {
		return fmt.Errorf("persist chunk %d: %w", c.Index, err)
	}
	log.Info("chunk done", zap.String("output_url", c.OutputURL), zap.String("last_frame_url", c.LastFrameURL))
	return nil
}

// source picks the chunk's source image: the predecessor's last frame when
// chained, otherwise the beat anchor, otherwise a storyboard render.
func (e *Engine) source(ctx context.Context, in Input, beat videospec.ResolvedBeat, c *chunking.Chunk, pred *chunking.Chunk, obs Observer) (string, error) {
	if pred != nil {
		if pred.State != chunking.StateDone || pred.LastFrameURL == "" {
			return "", fmt.Errorf("predecessor chunk %d not done", pred.Index)
		}
		return pred.LastFrameURL, nil
	}
	if a := in.Anchors[c.BeatID]; a.ImageURL != "" {
		return a.ImageURL, nil
	}
	if c.SourceImage != "" {
		// Storyboard rendered by an earlier attempt.
		return c.SourceImage, nil
	}
	if e.storyboards == nil {
		return "", errors.New("no reference image and no storyboard renderer")
	}
	prompt := beat.RenderPrompt(in.Entities, in.Spec.Style)
	key := fmt.Sprintf("%s/beat-%02d-storyboard.png", in.RunID, beat.Index)
	var url string
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		var callErr error
		url, callErr = e.storyboards.Render(ctx, prompt, key)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("render storyboard: %w", err)
	}
	if err := obs.Charged(ctx, fmt.Sprintf("storyboard:%d", beat.Index), in.ImageCost); err != nil {
		return "", fmt.Errorf("charge storyboard: %w", err)
	}
	return url, nil
}

// ComposePrompt is the beat prompt plus camera and continuity direction.
func ComposePrompt(beat videospec.ResolvedBeat, e videospec.Entities, s videospec.Style, c chunking.Chunk) string {
	parts := []string{beat.RenderPrompt(e, s)}
	if beat.ShotType != "" {
		parts = append(parts, "Shot: "+beat.ShotType+".")
	}
	if beat.CameraMovement != "" {
		parts = append(parts, "Camera: "+beat.CameraMovement+".")
	}
	if len(e.StyleKeywords) > 0 {
		parts = append(parts, "Style: "+strings.Join(e.StyleKeywords, ", ")+".")
	}
	if !c.FirstOfBeat() {
		parts = append(parts, "Continue seamlessly from the opening frame, same subject and lighting.")
	}
	return strings.Join(parts, " ")
}
