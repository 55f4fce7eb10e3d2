package continuity

import (
	"fmt"

	"github.com/Kenji11/aivideo-sub002/chunking"
)

// transitions is the per-chunk lifecycle. FAILED is reachable from every
// non-terminal state; DONE and FAILED have no way out within one pass.
var transitions = map[chunking.State][]chunking.State{
	chunking.StatePending:    {chunking.StateSourcing, chunking.StateFailed},
	chunking.StateSourcing:   {chunking.StateGenerating, chunking.StateFailed},
	chunking.StateGenerating: {chunking.StateExtracting, chunking.StateFailed},
	chunking.StateExtracting: {chunking.StateDone, chunking.StateFailed},
}

// advance moves c to state to, rejecting transitions the lifecycle forbids.
func advance(c *chunking.Chunk, to chunking.State) error {
	for _, allowed := range transitions[c.State] {
		if allowed == to {
			c.State = to
			return nil
		}
	}
	return fmt.Errorf("chunk %d: illegal transition %s -> %s", c.Index, c.State, to)
}

// rearm puts a chunk left over from an earlier attempt back to PENDING. Media
// already produced (source image, output clip) is kept so it is not paid
// for twice.
func rearm(c *chunking.Chunk) {
	if c.State != chunking.StateDone {
		c.State = chunking.StatePending
		c.LastFrameURL = ""
	}
}
