package continuity

import (
	"errors"
	"fmt"

	"github.com/Kenji11/aivideo-sub002/chunking"
)

// ChunkFailure is a chunk that could not be materialized.
type ChunkFailure struct {
	Index int
	Phase chunking.State
	Err   error
}

func (e *ChunkFailure) Error() string {
	return fmt.Sprintf("chunk %d failed while %s: %v", e.Index, e.Phase, e.Err)
}

func (e *ChunkFailure) Unwrap() error { return e.Err }

// ContinuityBreak is a chained chunk whose generation failed after its
// predecessor succeeded. The run stops here instead of restarting the chain
// from a reference image, which would cut the take without saying so.
// SourceImage is the predecessor's last frame, kept for a later resume.
type ContinuityBreak struct {
	Index       int
	Predecessor int
	SourceImage string
	Err         error
}

func (e *ContinuityBreak) Error() string {
	return fmt.Sprintf("continuity break at chunk %d (after chunk %d): %v", e.Index, e.Predecessor, e.Err)
}

func (e *ContinuityBreak) Unwrap() error { return e.Err }

// FailedChunk extracts the failing chunk index from an engine error.
func FailedChunk(err error) (int, bool) {
	var cb *ContinuityBreak
	if errors.As(err, &cb) {
		return cb.Index, true
	}
	var cf *ChunkFailure
	if errors.As(err, &cf) {
		return cf.Index, true
	}
	return 0, false
}
