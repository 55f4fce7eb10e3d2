package continuity

import "github.com/Kenji11/aivideo-sub002/chunking"

// NoDependency marks a chunk whose source image does not come from another
// chunk.
const NoDependency = -1

// Graph is the explicit "depends on previous" structure of a chunk list.
// A lane is a maximal chain of dependent chunks; lanes are independent of
// each other and may run concurrently, chunks inside a lane may not.
type Graph struct {
	DependsOn []int
	Lanes     [][]int
}

// BuildGraph wires every chunk to its source. Chunks after the first in a
// beat always chain from their predecessor. A beat's first chunk is
// anchored (no dependency) when the beat has a reference image or when
// cross-beat chaining is off; otherwise it chains from the previous beat's
// last chunk. The very first chunk never has a predecessor.
func BuildGraph(chunks []chunking.Chunk, hasReference func(beatID string) bool, chainAcrossBeats bool) Graph {
	g := Graph{DependsOn: make([]int, len(chunks))}
	for i, c := range chunks {
		dep := NoDependency
		switch {
		case i == 0:
		case !c.FirstOfBeat():
			dep = i - 1
		case hasReference(c.BeatID):
		case chainAcrossBeats:
			dep = i - 1
		}
		g.DependsOn[i] = dep

		if dep == NoDependency {
			g.Lanes = append(g.Lanes, []int{i})
			continue
		}
		last := len(g.Lanes) - 1
		g.Lanes[last] = append(g.Lanes[last], i)
	}
	return g
}

// Anchored reports whether chunk i starts a lane.
func (g Graph) Anchored(i int) bool { return g.DependsOn[i] == NoDependency }
