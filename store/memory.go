package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/pipeline"
	"github.com/Kenji11/aivideo-sub002/selection"
	"github.com/google/uuid"
)

type costKey struct {
	runID string
	item  string
}

type costRow struct {
	stage  pipeline.Stage
	amount float64
}

// Memory is an in-process store for tests and single-binary runs.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	runs    map[string]pipeline.Run
	results map[string]map[pipeline.Stage][]byte
	chunks  map[string]map[int]chunking.Chunk
	costs   map[costKey]costRow
	assets  map[uint][]selection.Asset
	counted map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		runs:    make(map[string]pipeline.Run),
		results: make(map[string]map[pipeline.Stage][]byte),
		chunks:  make(map[string]map[int]chunking.Chunk),
		costs:   make(map[costKey]costRow),
		assets:  make(map[uint][]selection.Asset),
		counted: make(map[string]bool),
	}
}

// WithClock replaces the time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) CreateRun(_ context.Context, run *pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	run.CreatedAt, run.UpdatedAt = now, now
	stored := *run
	stored.Costs = nil
	m.runs[run.ID] = stored
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return pipeline.Run{}, ErrRunNotFound
	}
	run.Costs = make(map[pipeline.Stage]float64)
	for k, c := range m.costs {
		if k.runID == id {
			run.Costs[c.stage] += c.amount
		}
	}
	if run.Error != nil {
		e := *run.Error
		run.Error = &e
	}
	return run, nil
}

func (m *Memory) SaveRun(_ context.Context, run pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[run.ID]
	if !ok {
		return ErrRunNotFound
	}
	cur.Stage = run.Stage
	cur.Status = run.Status
	cur.Progress = run.Progress
	cur.OutputURL = run.OutputURL
	cur.Error = nil
	if run.Error != nil {
		e := *run.Error
		cur.Error = &e
	}
	cur.UpdatedAt = m.now()
	m.runs[run.ID] = cur
	return nil
}

func (m *Memory) UpdateProgress(_ context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if progress > cur.Progress {
		cur.Progress = progress
		cur.UpdatedAt = m.now()
		m.runs[id] = cur
	}
	return nil
}

func (m *Memory) RequestCancel(_ context.Context, id string) error {
	return m.setCancel(id, true)
}

func (m *Memory) ClearCancel(_ context.Context, id string) error {
	return m.setCancel(id, false)
}

func (m *Memory) setCancel(id string, requested bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	cur.CancelRequested = requested
	cur.UpdatedAt = m.now()
	m.runs[id] = cur
	return nil
}

func (m *Memory) ListStalledRuns(_ context.Context, updatedBefore time.Time) ([]pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pipeline.Run
	for _, r := range m.runs {
		if !r.Status.Terminal() && r.UpdatedAt.Before(updatedBefore) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) SaveStageResult(_ context.Context, runID string, stage pipeline.Stage, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results[runID] == nil {
		m.results[runID] = make(map[pipeline.Stage][]byte)
	}
	m.results[runID][stage] = append([]byte(nil), payload...)
	return nil
}

func (m *Memory) LoadStageResult(_ context.Context, runID string, stage pipeline.Stage) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.results[runID][stage]
	return append([]byte(nil), data...), ok, nil
}

func (m *Memory) SaveChunk(_ context.Context, runID string, c chunking.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks[runID] == nil {
		m.chunks[runID] = make(map[int]chunking.Chunk)
	}
	m.chunks[runID][c.Index] = c
	if r, ok := m.runs[runID]; ok {
		r.UpdatedAt = m.now()
		m.runs[runID] = r
	}
	return nil
}

func (m *Memory) ListChunks(_ context.Context, runID string) ([]chunking.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chunking.Chunk, 0, len(m.chunks[runID]))
	for _, c := range m.chunks[runID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *Memory) AddCost(_ context.Context, runID string, stage pipeline.Stage, item string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := costKey{runID: runID, item: item}
	if _, ok := m.costs[k]; !ok {
		m.costs[k] = costRow{stage: stage, amount: amount}
	}
	return nil
}

func (m *Memory) ListAssets(_ context.Context, userID uint) ([]selection.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]selection.Asset(nil), m.assets[userID]...), nil
}

func (m *Memory) CreateAsset(_ context.Context, userID uint, a selection.Asset) (selection.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assets[userID] {
		if existing.ImageURL == a.ImageURL {
			return selection.Asset{}, ErrDuplicateAsset
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.assets[userID] = append(m.assets[userID], a)
	return a, nil
}

func (m *Memory) IncrementAssetUsage(_ context.Context, runID string, assetIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counted[runID] {
		return nil
	}
	m.counted[runID] = true
	want := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		want[id] = true
	}
	for user, list := range m.assets {
		for i := range list {
			if want[list[i].ID] {
				list[i].UsageCount++
			}
		}
		m.assets[user] = list
	}
	return nil
}

var _ pipeline.Store = (*Memory)(nil)
