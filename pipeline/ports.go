package pipeline

import (
	"context"
	"time"

	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/generation"
	"github.com/Kenji11/aivideo-sub002/selection"
	"github.com/Kenji11/aivideo-sub002/videospec"
)

// Store is the durable state of runs, stage results, chunks, costs and the
// asset library.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	// SaveRun writes stage, status, progress, error and output. It never
	// touches the cancellation flag.
	SaveRun(ctx context.Context, run Run) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	RequestCancel(ctx context.Context, id string) error
	ClearCancel(ctx context.Context, id string) error
	ListStalledRuns(ctx context.Context, updatedBefore time.Time) ([]Run, error)

	SaveStageResult(ctx context.Context, runID string, stage Stage, payload []byte) error
	LoadStageResult(ctx context.Context, runID string, stage Stage) ([]byte, bool, error)

	SaveChunk(ctx context.Context, runID string, c chunking.Chunk) error
	ListChunks(ctx context.Context, runID string) ([]chunking.Chunk, error)

	// AddCost records a realized charge. A second charge for the same item
	// of the same run is ignored.
	AddCost(ctx context.Context, runID string, stage Stage, item string, amount float64) error

	ListAssets(ctx context.Context, userID uint) ([]selection.Asset, error)
	// IncrementAssetUsage bumps usage_count of the given assets by one,
	// atomically and at most once per run.
	IncrementAssetUsage(ctx context.Context, runID string, assetIDs []string) error
}

type Planner interface {
	Plan(ctx context.Context, prompt string, totalDuration int) (videospec.PlannerOutput, error)
}

type Extractor interface {
	Extract(ctx context.Context, prompt string) (videospec.Entities, error)
}

type Stitcher interface {
	Stitch(ctx context.Context, clipURLs []string, key string) (string, error)
}

type MusicGenerator interface {
	Compose(ctx context.Context, req generation.MusicRequest) (string, error)
}

type Muxer interface {
	Mux(ctx context.Context, videoURL, audioURL, key string) (string, error)
}

// Notifier pushes run snapshots to whoever reports progress.
type Notifier interface {
	Publish(ctx context.Context, run Run) error
}
