package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/continuity"
	"github.com/Kenji11/aivideo-sub002/videospec"
)

var (
	ErrRunNotFound = errors.New("run not found")
	// ErrStaleJob is returned for a job whose stage the run has already left.
	ErrStaleJob = errors.New("stale stage job")
	// ErrNotResumable is returned when resuming a run that has not stopped.
	ErrNotResumable = errors.New("run cannot be resumed")
)

// ErrorKind is the machine-readable failure class recorded on a run.
type ErrorKind string

const (
	KindSpecError       ErrorKind = "spec_error"
	KindChunkPlanError  ErrorKind = "chunk_plan_error"
	KindStageFailure    ErrorKind = "stage_failure"
	KindContinuityBreak ErrorKind = "continuity_break"
)

// StageFailure is a stage that could not complete after retries.
type StageFailure struct {
	Stage Stage
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// RunError is the failure recorded on a run and returned by Execute.
type RunError struct {
	Kind       ErrorKind `json:"kind"`
	Stage      Stage     `json:"stage"`
	ChunkIndex *int      `json:"chunk_index,omitempty"`
	Message    string    `json:"message"`
}

func (e *RunError) Error() string {
	if e.ChunkIndex != nil {
		return fmt.Sprintf("%s in %s (chunk %d): %s", e.Kind, e.Stage, *e.ChunkIndex, e.Message)
	}
	return fmt.Sprintf("%s in %s: %s", e.Kind, e.Stage, e.Message)
}

// classify turns a stage error into the record kept on the run.
func classify(stage Stage, err error) *RunError {
	re := &RunError{Kind: KindStageFailure, Stage: stage, Message: err.Error()}

	var se *videospec.SpecError
	var ce *chunking.ChunkPlanError
	var cb *continuity.ContinuityBreak
	switch {
	case errors.As(err, &se):
		re.Kind = KindSpecError
	case errors.As(err, &ce):
		re.Kind = KindChunkPlanError
	case errors.As(err, &cb):
		re.Kind = KindContinuityBreak
	}
	if idx, ok := continuity.FailedChunk(err); ok {
		re.ChunkIndex = &idx
	}
	return re
}

// interrupted reports whether err comes from the worker shutting down rather
// than from the stage itself.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
