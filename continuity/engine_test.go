package continuity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/retry"
	"github.com/Kenji11/aivideo-sub002/videospec"
)

type stubGenerator struct {
	mu       sync.Mutex
	failures map[int]int // remaining failures per chunk index, -1 = always
	calls    []GenerateRequest
}

func (g *stubGenerator) Generate(_ context.Context, _ catalog.Backend, req GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if n, ok := g.failures[req.ChunkIndex]; ok && n != 0 {
		if n > 0 {
			g.failures[req.ChunkIndex] = n - 1
		}
		return "", retry.Transient("generate", errors.New("503 from backend"))
	}
	return fmt.Sprintf("clip-%d.mp4", req.ChunkIndex), nil
}

func (g *stubGenerator) callsFor(idx int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.ChunkIndex == idx {
			n++
		}
	}
	return n
}

type stubFrames struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *stubFrames) LastFrame(_ context.Context, videoURL string, _ int, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return "", errors.New("ffmpeg exited 1")
	}
	return strings.TrimSuffix(videoURL, ".mp4") + "-last.jpg", nil
}

type stubStoryboards struct {
	mu    sync.Mutex
	calls int
}

func (s *stubStoryboards) Render(_ context.Context, _ string, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "storyboard:" + key, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	charges map[string]float64
	states  map[int][]chunking.State
	last    map[int]chunking.Chunk
}

func newObserver() *recordingObserver {
	return &recordingObserver{charges: map[string]float64{}, states: map[int][]chunking.State{}, last: map[int]chunking.Chunk{}}
}

func (o *recordingObserver) ChunkUpdated(_ context.Context, c chunking.Chunk) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[c.Index] = append(o.states[c.Index], c.State)
	o.last[c.Index] = c
	return nil
}

func (o *recordingObserver) Charged(_ context.Context, item string, amount float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.charges[item] += amount
	return nil
}

var backend = catalog.Backend{ID: "kling_v21", ActualOutputDuration: 5, CostPerCall: 0.25}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func planFor(t *testing.T, durations ...int) (videospec.VideoSpec, []chunking.Chunk) {
	t.Helper()
	spec := videospec.VideoSpec{ArchetypeID: "test", Style: videospec.Style{Mood: "bold"}}
	offset := 0
	for i, d := range durations {
		spec.Beats = append(spec.Beats, videospec.ResolvedBeat{
			Index: i, BeatID: fmt.Sprintf("beat%d", i), Duration: d, StartOffset: offset,
			PromptTemplate: "shot of {product}", CameraMovement: "dolly in",
		})
		offset += d
	}
	spec.TotalDuration = offset
	plan, err := chunking.NewPlanner(nil).Plan(spec, backend)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return spec, plan.Chunks
}

func TestMaterializeChainsWithinBeat(t *testing.T) {
	spec, chunks := planFor(t, 10, 10)
	gen := &stubGenerator{}
	obs := newObserver()
	e := NewEngine(gen, &stubFrames{}, &stubStoryboards{}, fastPolicy(), nil)

	out, err := e.Materialize(context.Background(), Input{
		RunID: "run-1", Backend: backend, Spec: spec, Chunks: chunks,
		Anchors: map[string]Anchor{"beat0": {ImageURL: "ref-a.png"}, "beat1": {ImageURL: "ref-b.png"}},
	}, obs)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(out))
	}
	if out[0].SourceImage != "ref-a.png" || out[2].SourceImage != "ref-b.png" {
		t.Fatalf("beat openers should use anchors: %q %q", out[0].SourceImage, out[2].SourceImage)
	}
	for _, i := range []int{1, 3} {
		if out[i].SourceImage != out[i-1].LastFrameURL {
			t.Fatalf("chunk %d source %q != previous last frame %q", i, out[i].SourceImage, out[i-1].LastFrameURL)
		}
	}
	for _, c := range out {
		if c.State != chunking.StateDone || c.OutputURL == "" || c.LastFrameURL == "" {
			t.Fatalf("chunk %d not materialized: %+v", c.Index, c)
		}
	}
	wantStates := []chunking.State{chunking.StateGenerating, chunking.StateExtracting, chunking.StateDone}
	if got := obs.states[0]; fmt.Sprint(got) != fmt.Sprint(wantStates) {
		t.Fatalf("observer saw %v, want %v", got, wantStates)
	}
	total := 0.0
	for _, v := range obs.charges {
		total += v
	}
	if total != 4*backend.CostPerCall {
		t.Fatalf("expected 4 chunk charges, got %v", obs.charges)
	}
}

func TestMaterializeStoryboardWhenNoReference(t *testing.T) {
	spec, chunks := planFor(t, 5, 5)
	boards := &stubStoryboards{}
	obs := newObserver()
	e := NewEngine(&stubGenerator{}, &stubFrames{}, boards, fastPolicy(), nil)

	out, err := e.Materialize(context.Background(), Input{
		RunID: "run-2", Backend: backend, Spec: spec, Chunks: chunks, ImageCost: 0.04,
	}, obs)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if boards.calls != 2 {
		t.Fatalf("expected one storyboard per beat, got %d", boards.calls)
	}
	if !strings.HasPrefix(out[1].SourceImage, "storyboard:") {
		t.Fatalf("second beat should open on its storyboard, got %q", out[1].SourceImage)
	}
	if obs.charges["storyboard:0"] != 0.04 || obs.charges["storyboard:1"] != 0.04 {
		t.Fatalf("storyboards not charged: %v", obs.charges)
	}
}

func TestMaterializeChainAcrossBeats(t *testing.T) {
	spec, chunks := planFor(t, 5, 5)
	boards := &stubStoryboards{}
	e := NewEngine(&stubGenerator{}, &stubFrames{}, boards, fastPolicy(), nil)
	e.ChainAcrossBeats = true

	out, err := e.Materialize(context.Background(), Input{RunID: "run-3", Backend: backend, Spec: spec, Chunks: chunks}, newObserver())
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if boards.calls != 1 {
		t.Fatalf("only the first beat needs a storyboard, got %d renders", boards.calls)
	}
	if out[1].SourceImage != out[0].LastFrameURL {
		t.Fatalf("second beat should chain from first: %q vs %q", out[1].SourceImage, out[0].LastFrameURL)
	}
}

func TestMaterializeContinuityBreakPreservesSource(t *testing.T) {
	// One 20-unit beat on a 5-unit backend: four chained chunks.
	spec, chunks := planFor(t, 20)
	gen := &stubGenerator{failures: map[int]int{2: -1}}
	obs := newObserver()
	e := NewEngine(gen, &stubFrames{}, &stubStoryboards{}, fastPolicy(), nil)

	out, err := e.Materialize(context.Background(), Input{
		RunID: "run-e", Backend: backend, Spec: spec, Chunks: chunks,
		Anchors: map[string]Anchor{"beat0": {ImageURL: "ref.png"}},
	}, obs)
	var cb *ContinuityBreak
	if !errors.As(err, &cb) {
		t.Fatalf("expected ContinuityBreak, got %v", err)
	}
	if cb.Index != 2 || cb.Predecessor != 1 {
		t.Fatalf("unexpected break %+v", cb)
	}
	if !retry.IsTransient(err) {
		t.Fatalf("cause should still be the transient backend fault")
	}
	if gen.callsFor(2) != 3 {
		t.Fatalf("expected 3 attempts on chunk 2, got %d", gen.callsFor(2))
	}
	if gen.callsFor(3) != 0 {
		t.Fatalf("chunk 3 must not start after chunk 2 failed")
	}
	if out[2].State != chunking.StateFailed || out[2].SourceImage != out[1].LastFrameURL {
		t.Fatalf("failed chunk should keep its chaining source: %+v", out[2])
	}
	if persisted := obs.last[2]; persisted.SourceImage != out[1].LastFrameURL || persisted.State != chunking.StateFailed {
		t.Fatalf("failed chunk not persisted with its source: %+v", persisted)
	}
	if obs.charges["chunk:0"] != backend.CostPerCall || obs.charges["chunk:1"] != backend.CostPerCall {
		t.Fatalf("chunks 0-1 should stay charged: %v", obs.charges)
	}
	if _, ok := obs.charges["chunk:2"]; ok {
		t.Fatalf("failed generation must not be charged")
	}
}

func TestMaterializeResumesFromDoneChunks(t *testing.T) {
	spec, chunks := planFor(t, 20)
	chunks[0].State, chunks[0].OutputURL, chunks[0].LastFrameURL = chunking.StateDone, "clip-0.mp4", "clip-0-last.jpg"
	chunks[1].State, chunks[1].OutputURL, chunks[1].LastFrameURL = chunking.StateDone, "clip-1.mp4", "clip-1-last.jpg"
	chunks[2].State, chunks[2].SourceImage = chunking.StateFailed, "clip-1-last.jpg"

	gen := &stubGenerator{}
	out, err := NewEngine(gen, &stubFrames{}, &stubStoryboards{}, fastPolicy(), nil).Materialize(context.Background(), Input{
		RunID: "run-r", Backend: backend, Spec: spec, Chunks: chunks,
		Anchors: map[string]Anchor{"beat0": {ImageURL: "ref.png"}},
	}, newObserver())
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if gen.callsFor(0) != 0 || gen.callsFor(1) != 0 {
		t.Fatalf("done chunks must not be regenerated")
	}
	if out[2].SourceImage != "clip-1-last.jpg" || out[3].SourceImage != out[2].LastFrameURL {
		t.Fatalf("chain not resumed: %+v", out)
	}
}

func TestMaterializeRetriesExtractionOnce(t *testing.T) {
	spec, chunks := planFor(t, 5)
	frames := &stubFrames{failures: 1}
	out, err := NewEngine(&stubGenerator{}, frames, &stubStoryboards{}, fastPolicy(), nil).Materialize(context.Background(),
		Input{RunID: "run-x", Backend: backend, Spec: spec, Chunks: chunks}, newObserver())
	if err != nil {
		t.Fatalf("one extraction failure should be absorbed: %v", err)
	}
	if frames.calls != 2 || out[0].State != chunking.StateDone {
		t.Fatalf("calls=%d state=%s", frames.calls, out[0].State)
	}

	frames = &stubFrames{failures: -1}
	_, chunks = planFor(t, 5)
	_, err = NewEngine(&stubGenerator{}, frames, &stubStoryboards{}, fastPolicy(), nil).Materialize(context.Background(),
		Input{RunID: "run-y", Backend: backend, Spec: spec, Chunks: chunks}, newObserver())
	var cf *ChunkFailure
	if !errors.As(err, &cf) || cf.Phase != chunking.StateExtracting {
		t.Fatalf("expected extraction ChunkFailure, got %v", err)
	}
	if frames.calls != 2 {
		t.Fatalf("extraction should be tried exactly twice, got %d", frames.calls)
	}
}

func TestMaterializeRunsIndependentLanesConcurrently(t *testing.T) {
	spec, chunks := planFor(t, 10, 10, 10)
	gen := &stubGenerator{}
	e := NewEngine(gen, &stubFrames{}, &stubStoryboards{}, fastPolicy(), nil)
	e.Concurrency = 3

	out, err := e.Materialize(context.Background(), Input{
		RunID: "run-p", Backend: backend, Spec: spec, Chunks: chunks,
		Anchors: map[string]Anchor{"beat0": {ImageURL: "a"}, "beat1": {ImageURL: "b"}, "beat2": {ImageURL: "c"}},
	}, newObserver())
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	for i := 1; i < len(out); i += 2 {
		if out[i].SourceImage != out[i-1].LastFrameURL {
			t.Fatalf("chunk %d lost its chain under concurrency", i)
		}
	}
	// Within a lane the opener must have been generated before its follower.
	gen.mu.Lock()
	defer gen.mu.Unlock()
	seen := map[int]bool{}
	for _, c := range gen.calls {
		if c.ChunkIndex%2 == 1 && !seen[c.ChunkIndex-1] {
			t.Fatalf("chunk %d generated before its predecessor", c.ChunkIndex)
		}
		seen[c.ChunkIndex] = true
	}
}

func TestBuildGraphLanes(t *testing.T) {
	_, chunks := planFor(t, 10, 5, 10)
	hasRef := func(id string) bool { return id == "beat2" }

	g := BuildGraph(chunks, hasRef, false)
	if len(g.Lanes) != 3 {
		t.Fatalf("expected a lane per beat without cross-beat chaining, got %v", g.Lanes)
	}
	g = BuildGraph(chunks, hasRef, true)
	// beat1 chains from beat0; beat2 has a reference and starts a new lane.
	if len(g.Lanes) != 2 || fmt.Sprint(g.Lanes[0]) != "[0 1 2]" || fmt.Sprint(g.Lanes[1]) != "[3 4]" {
		t.Fatalf("unexpected lanes %v", g.Lanes)
	}
	if g.DependsOn[2] != 1 || !g.Anchored(3) || g.DependsOn[4] != 3 {
		t.Fatalf("unexpected edges %v", g.DependsOn)
	}
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	c := chunking.Chunk{Index: 7, State: chunking.StatePending}
	if err := advance(&c, chunking.StateDone); err == nil {
		t.Fatalf("pending -> done must be rejected")
	}
	if err := advance(&c, chunking.StateFailed); err != nil {
		t.Fatalf("pending -> failed should be allowed: %v", err)
	}
	if err := advance(&c, chunking.StateSourcing); err == nil {
		t.Fatalf("failed is terminal")
	}
}

func TestComposePromptAddsDirection(t *testing.T) {
	b := videospec.ResolvedBeat{PromptTemplate: "{product} on table", ShotType: "macro", CameraMovement: "pan right"}
	got := ComposePrompt(b, videospec.Entities{Product: "Mug"}, videospec.Style{}, chunking.Chunk{Ordinal: 1})
	want := "Mug on table Shot: macro. Camera: pan right. Continue seamlessly from the opening frame, same subject and lighting."
	if got != want {
		t.Fatalf("prompt = %q", got)
	}
}
