package pipeline

import (
	"time"

	"github.com/Kenji11/aivideo-sub002/videospec"
	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further stage will run.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Stage is one step of the pipeline. Each stage runs as its own job.
type Stage string

const (
	StageSpecBuild   Stage = "spec_build"
	StageAssetSelect Stage = "asset_select"
	StageChunkPlan   Stage = "chunk_plan"
	StageGenerate    Stage = "generate"
	StageStitch      Stage = "stitch"
	StageScore       Stage = "score"
	// StageDone follows the last stage.
	StageDone Stage = "done"
)

// Stages in execution order.
var Stages = []Stage{StageSpecBuild, StageAssetSelect, StageChunkPlan, StageGenerate, StageStitch, StageScore}

// stageWeights are the progress points each stage is worth. They add up to 100.
var stageWeights = map[Stage]int{
	StageSpecBuild:   5,
	StageAssetSelect: 5,
	StageChunkPlan:   5,
	StageGenerate:    65,
	StageStitch:      10,
	StageScore:       10,
}

// Next returns the stage after s, StageDone after the last one.
func (s Stage) Next() Stage {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1]
		}
	}
	return StageDone
}

// Valid reports whether s is a runnable stage.
func (s Stage) Valid() bool {
	_, ok := stageWeights[s]
	return ok
}

// progressBefore is the progress of a run about to start s.
func progressBefore(s Stage) int {
	total := 0
	for _, st := range Stages {
		if st == s {
			return total
		}
		total += stageWeights[st]
	}
	return 100
}

// Run is the top-level state of one video request.
type Run struct {
	ID            string
	UserID        uint
	Prompt        string
	TotalDuration int
	BackendID     string
	// Plan, when set, replaces the LLM planner.
	Plan *videospec.PlannerOutput

	Stage           Stage
	Status          Status
	Progress        int
	Costs           map[Stage]float64
	Error           *RunError
	CancelRequested bool
	OutputURL       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRun creates a queued run positioned at the first stage.
func NewRun(userID uint, prompt string, totalDuration int, backendID string, plan *videospec.PlannerOutput) *Run {
	return &Run{
		ID:            uuid.NewString(),
		UserID:        userID,
		Prompt:        prompt,
		TotalDuration: totalDuration,
		BackendID:     backendID,
		Plan:          plan,
		Stage:         StageSpecBuild,
		Status:        StatusQueued,
		Costs:         map[Stage]float64{},
	}
}

// TotalCost sums the per-stage cost breakdown.
func (r Run) TotalCost() float64 {
	total := 0.0
	for _, c := range r.Costs {
		total += c
	}
	return total
}
