// Package selection supplies the pluggable callbacks an evolution driver
// uses to decide who reproduces: a mate-selection function over a
// population's current members, a Buffer that hands its groupings out one at
// a time, and Dedupe. A grouping's length follows the group-size convention
// (0 = seed genetic material, 1 = asexual, 2 = sexual, 3+ =
// implementation-defined).
package selection

import (
	"math"
	"math/rand"
	"sort"

	"github.com/kiosk404/npcmaker/internal/population"
)

// Func selects numGroups groupings of parents from members, for the driver
// to mate into new individuals. Each returned group's length carries the
// group-size convention described above.
type Func func(members []population.Stub, numGroups int) [][]population.Stub

// RankExponential returns a selection function that samples parent pairs
// by rank: members are sorted descending by score, then sampled so that
// the member at rank r (0 = best) is selected with probability proportional
// to exp(-ln2*r/medianRank), a weight that halves every medianRank ranks, so
// about half of all picks fall within the first medianRank ranks.
// medianRank controls how strongly selection favors top performers; smaller
// values bias more heavily toward the best members.
func RankExponential(medianRank float64) Func {
	if medianRank <= 0 {
		medianRank = 1
	}
	return func(members []population.Stub, numGroups int) [][]population.Stub {
		if len(members) == 0 || numGroups <= 0 {
			return nil
		}
		ranked := append([]population.Stub(nil), members...)
		sort.SliceStable(ranked, func(i, j int) bool {
			a, b := ranked[i].Score, ranked[j].Score
			if math.IsNaN(a) {
				return false
			}
			if math.IsNaN(b) {
				return true
			}
			return a > b
		})

		weights := make([]float64, len(ranked))
		total := 0.0
		lambda := math.Ln2 / medianRank
		for i := range ranked {
			weights[i] = math.Exp(-lambda * float64(i))
			total += weights[i]
		}

		sample := func() population.Stub {
			target := rand.Float64() * total
			cumulative := 0.0
			for i, w := range weights {
				cumulative += w
				if target <= cumulative {
					return ranked[i]
				}
			}
			return ranked[len(ranked)-1]
		}

		groups := make([][]population.Stub, numGroups)
		for i := range groups {
			groups[i] = []population.Stub{sample(), sample()}
		}
		return groups
	}
}

// Buffer incrementally drains a Func's groupings one pair at a time,
// refilling from the selection function whenever it runs dry. numGroups is
// the number of groupings to request per refill: the population size under
// a Generation replacement policy, or 1 otherwise (spec §4.7).
type Buffer struct {
	fn        Func
	numGroups int
	pending   [][]population.Stub
}

// NewBuffer constructs a Buffer around fn, requesting numGroups groupings
// per refill.
func NewBuffer(fn Func, numGroups int) *Buffer {
	if numGroups <= 0 {
		numGroups = 1
	}
	return &Buffer{fn: fn, numGroups: numGroups}
}

// Next pops one grouping, refilling from the underlying Func first if the
// buffer is empty. Duplicate pointers within a single grouping (the same
// member selected twice) are left as-is; callers that require distinct
// parents should dedupe before mating.
func (b *Buffer) Next(members []population.Stub) []population.Stub {
	if len(b.pending) == 0 {
		b.pending = b.fn(members, b.numGroups)
	}
	if len(b.pending) == 0 {
		return nil
	}
	group := b.pending[0]
	b.pending = b.pending[1:]
	return group
}

// Dedupe drops repeated entries from a grouping by stub path, preserving
// order. A grouping that collapses to fewer members may legitimately fall
// back to an asexual reproduction (group size 1).
func Dedupe(group []population.Stub) []population.Stub {
	seen := make(map[string]bool, len(group))
	out := make([]population.Stub, 0, len(group))
	for _, s := range group {
		if seen[s.Path] {
			continue
		}
		seen[s.Path] = true
		out = append(out, s)
	}
	return out
}
