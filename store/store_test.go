package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/models"
	"github.com/Kenji11/aivideo-sub002/pipeline"
	"github.com/Kenji11/aivideo-sub002/selection"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
)

func TestMemoryCostIsChargedOncePerItem(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	run := pipeline.NewRun(1, "p", 15, "kling_v21", nil)
	if err := m.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	m.AddCost(ctx, run.ID, pipeline.StageGenerate, "chunk:0", 0.25)
	m.AddCost(ctx, run.ID, pipeline.StageGenerate, "chunk:0", 0.25)
	m.AddCost(ctx, run.ID, pipeline.StageGenerate, "chunk:1", 0.25)
	m.AddCost(ctx, run.ID, pipeline.StageScore, "music", 0.10)

	got, err := m.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Costs[pipeline.StageGenerate] != 0.5 || got.Costs[pipeline.StageScore] != 0.10 {
		t.Fatalf("costs = %v", got.Costs)
	}
}

func TestMemoryIncrementAssetUsageOncePerRun(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _ := m.CreateAsset(ctx, 7, selection.Asset{Kind: selection.KindProduct, ImageURL: "a.png"})
	b, _ := m.CreateAsset(ctx, 7, selection.Asset{Kind: selection.KindLogo, ImageURL: "b.png"})

	m.IncrementAssetUsage(ctx, "run-1", []string{a.ID, b.ID})
	m.IncrementAssetUsage(ctx, "run-1", []string{a.ID, b.ID})
	m.IncrementAssetUsage(ctx, "run-2", []string{a.ID})

	assets, _ := m.ListAssets(ctx, 7)
	usage := map[string]int{}
	for _, x := range assets {
		usage[x.ID] = x.UsageCount
	}
	if usage[a.ID] != 2 || usage[b.ID] != 1 {
		t.Fatalf("usage = %v", usage)
	}
}

func TestMemoryDuplicateAsset(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.CreateAsset(ctx, 1, selection.Asset{ImageURL: "x.png"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateAsset(ctx, 1, selection.Asset{ImageURL: "x.png"}); !errors.Is(err, ErrDuplicateAsset) {
		t.Fatalf("expected ErrDuplicateAsset, got %v", err)
	}
	if _, err := m.CreateAsset(ctx, 2, selection.Asset{ImageURL: "x.png"}); err != nil {
		t.Fatalf("another user may register the same image: %v", err)
	}
}

func TestMemoryStalledRunsAndCancelFlag(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m := NewMemory().WithClock(func() time.Time { return now })

	old := pipeline.NewRun(1, "old", 15, "kling_v21", nil)
	m.CreateRun(ctx, old)
	done := pipeline.NewRun(1, "done", 15, "kling_v21", nil)
	m.CreateRun(ctx, done)
	done.Status = pipeline.StatusSucceeded
	m.SaveRun(ctx, *done)

	now = base.Add(30 * time.Minute)
	fresh := pipeline.NewRun(1, "fresh", 15, "kling_v21", nil)
	m.CreateRun(ctx, fresh)

	stalled, _ := m.ListStalledRuns(ctx, base.Add(10*time.Minute))
	if len(stalled) != 1 || stalled[0].ID != old.ID {
		t.Fatalf("stalled = %+v", stalled)
	}

	if err := m.RequestCancel(ctx, fresh.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	fresh.Status = pipeline.StatusRunning
	m.SaveRun(ctx, *fresh)
	got, _ := m.GetRun(ctx, fresh.ID)
	if !got.CancelRequested {
		t.Fatalf("SaveRun must not clear the cancellation flag")
	}
	if err := m.RequestCancel(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestMemoryChunkWriteKeepsRunOutOfSweep(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m := NewMemory().WithClock(func() time.Time { return now })

	run := pipeline.NewRun(1, "long generate", 60, "veo3_fast", nil)
	m.CreateRun(ctx, run)

	// Twenty minutes into generation with no progress step, one chunk
	// finishes its retries and is recorded.
	now = base.Add(20 * time.Minute)
	if err := m.SaveChunk(ctx, run.ID, chunking.Chunk{Index: 0, State: chunking.StateGenerating}); err != nil {
		t.Fatalf("save chunk: %v", err)
	}

	stalled, _ := m.ListStalledRuns(ctx, now.Add(-15*time.Minute))
	if len(stalled) != 0 {
		t.Fatalf("run with a fresh chunk write reported stalled: %+v", stalled)
	}
	got, _ := m.GetRun(ctx, run.ID)
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, now)
	}
}

func TestMemoryProgressOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	run := pipeline.NewRun(1, "p", 15, "kling_v21", nil)
	m.CreateRun(ctx, run)
	m.UpdateProgress(ctx, run.ID, 40)
	m.UpdateProgress(ctx, run.ID, 30)
	got, _ := m.GetRun(ctx, run.ID)
	if got.Progress != 40 {
		t.Fatalf("progress = %d", got.Progress)
	}
}

func TestMemoryChunksUpsertInOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, i := range []int{2, 0, 1} {
		m.SaveChunk(ctx, "r", chunking.Chunk{Index: i, State: chunking.StatePending})
	}
	m.SaveChunk(ctx, "r", chunking.Chunk{Index: 1, State: chunking.StateDone})
	chunks, _ := m.ListChunks(ctx, "r")
	if fmt.Sprint(len(chunks), chunks[0].Index, chunks[1].State, chunks[2].Index) != "3 0 done 2" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Fatalf("23505 should be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) || isUniqueViolation(errors.New("boom")) {
		t.Fatalf("only 23505 is a unique violation")
	}
}

func TestRunFromModel(t *testing.T) {
	chunk := 2
	row := models.PipelineRun{
		ID:         uuid.New(),
		Stage:      string(pipeline.StageGenerate),
		Status:     string(pipeline.StatusFailed),
		Plan:       datatypes.JSON(`{"archetype_id":"story_driven","beat_sequence":[{"beat_id":"hero_shot","duration":5}],"style":{"aesthetic":"","palette":"","mood":"","lighting":""},"opening_logo_fits":false}`),
		ErrorKind:  string(pipeline.KindContinuityBreak),
		ErrorStage: string(pipeline.StageGenerate),
		ErrorChunk: &chunk,
		Error:      "boom",
	}
	run, err := runFromModel(row)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if run.Plan == nil || run.Plan.ArchetypeID != "story_driven" {
		t.Fatalf("plan not decoded: %+v", run.Plan)
	}
	if run.Error == nil || run.Error.Kind != pipeline.KindContinuityBreak || *run.Error.ChunkIndex != 2 {
		t.Fatalf("error not decoded: %+v", run.Error)
	}
}
