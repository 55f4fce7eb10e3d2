package chunking

import (
	"errors"
	"fmt"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/videospec"
	"go.uber.org/zap"
)

// State is a chunk's position in the generation lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateSourcing   State = "sourcing"
	StateGenerating State = "generating"
	StateExtracting State = "extracting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Chunk is one backend-generated segment. The planner emits skeletons; the
// continuity engine fills in the media fields.
type Chunk struct {
	Index        int    `json:"chunk_index"`
	BeatID       string `json:"beat_id"`
	BeatIndex    int    `json:"beat_index"`
	Ordinal      int    `json:"ordinal"` // position within its beat
	StartOffset  int    `json:"start_offset"`
	Duration     int    `json:"duration"`
	SourceImage  string `json:"source_image,omitempty"`
	OutputURL    string `json:"output_url,omitempty"`
	LastFrameURL string `json:"last_frame_url,omitempty"`
	State        State  `json:"state"`
}

// FirstOfBeat reports whether the chunk opens its beat.
func (c Chunk) FirstOfBeat() bool { return c.Ordinal == 0 }

// BeatCoverage reconciles a requested beat length against what the backend
// will actually produce.
type BeatCoverage struct {
	BeatID    string `json:"beat_id"`
	BeatIndex int    `json:"beat_index"`
	Requested int    `json:"requested"`
	Chunks    int    `json:"chunks"`
	Covered   int    `json:"covered"`
}

// Slack is the over-coverage accepted for the beat.
func (c BeatCoverage) Slack() int { return c.Covered - c.Requested }

// Plan is the chunk skeleton for a whole video.
type Plan struct {
	BackendID       string         `json:"backend_id"`
	Chunks          []Chunk        `json:"chunks"`
	TotalChunkCount int            `json:"total_chunk_count"`
	Coverage        []BeatCoverage `json:"coverage"`
}

// CoveredDuration is the video length the chunks add up to.
func (p Plan) CoveredDuration() int {
	total := 0
	for _, c := range p.Chunks {
		total += c.Duration
	}
	return total
}

// ErrorKind names the inconsistency that stopped planning.
type ErrorKind string

const (
	InvalidBackendDuration ErrorKind = "invalid_backend_duration"
	ZeroBeatDuration       ErrorKind = "zero_beat_duration"
	UnknownBackend         ErrorKind = "unknown_backend"
)

// ChunkPlanError signals inconsistent capability or spec data. It is a
// configuration bug and is never retried.
type ChunkPlanError struct {
	Kind      ErrorKind
	BackendID string
	BeatID    string
	Detail    string
}

func (e *ChunkPlanError) Error() string {
	return fmt.Sprintf("chunk plan error (%s): %s", e.Kind, e.Detail)
}

// AsChunkPlanError unwraps err into a *ChunkPlanError when it is one.
func AsChunkPlanError(err error) (*ChunkPlanError, bool) {
	var ce *ChunkPlanError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Planner maps beats onto whole backend-length chunks.
type Planner struct {
	logger *zap.Logger
}

func NewPlanner(logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{logger: logger}
}

// Plan emits ceil(beat.Duration / backend.ActualOutputDuration) chunks per
// beat on a contiguous clock. The backend's real output length is used even
// when its duration is steerable: requested durations are not trusted.
func (p *Planner) Plan(spec videospec.VideoSpec, backend catalog.Backend) (Plan, error) {
	unit := backend.ActualOutputDuration
	if unit <= 0 {
		return Plan{}, &ChunkPlanError{Kind: InvalidBackendDuration, BackendID: backend.ID,
			Detail: fmt.Sprintf("backend %q reports actual output duration %d", backend.ID, unit)}
	}

	plan := Plan{BackendID: backend.ID}
	clock := 0
	for _, b := range spec.Beats {
		if b.Duration <= 0 {
			return Plan{}, &ChunkPlanError{Kind: ZeroBeatDuration, BackendID: backend.ID, BeatID: b.BeatID,
				Detail: fmt.Sprintf("beat %d %q has duration %d", b.Index, b.BeatID, b.Duration)}
		}
		n := ChunksFor(b.Duration, unit)
		for i := 0; i < n; i++ {
			plan.Chunks = append(plan.Chunks, Chunk{
				Index:       len(plan.Chunks),
				BeatID:      b.BeatID,
				BeatIndex:   b.Index,
				Ordinal:     i,
				StartOffset: clock,
				Duration:    unit,
				State:       StatePending,
			})
			clock += unit
		}
		cov := BeatCoverage{BeatID: b.BeatID, BeatIndex: b.Index, Requested: b.Duration, Chunks: n, Covered: n * unit}
		plan.Coverage = append(plan.Coverage, cov)
		p.logger.Info("beat chunk reconciliation",
			zap.String("beat_id", b.BeatID),
			zap.Int("requested", cov.Requested),
			zap.Int("chunks", cov.Chunks),
			zap.Int("covered", cov.Covered),
			zap.Int("slack", cov.Slack()),
			zap.Bool("steerable", backend.DurationIsSteerable),
		)
	}
	plan.TotalChunkCount = len(plan.Chunks)
	p.logger.Info("chunk plan ready",
		zap.String("backend", backend.ID),
		zap.Int("total_chunk_count", plan.TotalChunkCount),
		zap.Int("requested_duration", spec.TotalDuration),
		zap.Int("covered_duration", plan.CoveredDuration()),
	)
	return plan, nil
}

// ChunksFor is ceil(duration / unit) for positive inputs.
func ChunksFor(duration, unit int) int {
	return (duration + unit - 1) / unit
}
