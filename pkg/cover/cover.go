// Package cover picks a small set of tiles that together cover every
// coverable annotation.
//
// Minimum set cover is NP-hard; Select uses the classic greedy
// approximation, which stays within a logarithmic factor of optimal. Each
// round takes the tile covering the most still-uncovered annotations. Ties go
// to the lowest tile id, so the result is reproducible.
package cover

import (
	"fmt"
)

// Select returns tile ids in pick order. coverage[id] lists the annotation
// indices tile id covers; every index must be in [0, universe). Annotations
// no tile covers are left out without error.
func Select(universe int, coverage [][]int) ([]int, error) {
	if universe < 0 {
		return nil, fmt.Errorf("negative universe size %d", universe)
	}
	for id, members := range coverage {
		for _, m := range members {
			if m < 0 || m >= universe {
				return nil, fmt.Errorf("tile %d covers annotation %d outside [0, %d)", id, m, universe)
			}
		}
	}

	remaining := make([]bool, universe)
	for i := range remaining {
		remaining[i] = true
	}
	left := universe

	// stamp[m] == round marks m as already counted this round, so duplicate
	// members are not counted twice
	stamp := make([]int, universe)
	round := 0

	var selection []int
	for left > 0 {
		best, bestGain := -1, 0
		for id, members := range coverage {
			round++
			gain := 0
			for _, m := range members {
				if remaining[m] && stamp[m] != round {
					stamp[m] = round
					gain++
				}
			}
			if gain > bestGain {
				best, bestGain = id, gain
			}
		}
		if best < 0 {
			break
		}

		selection = append(selection, best)
		for _, m := range coverage[best] {
			if remaining[m] {
				remaining[m] = false
				left--
			}
		}
	}
	return selection, nil
}

// Covered returns the sorted, distinct annotation indices covered by the
// given tiles.
func Covered(universe int, coverage [][]int, tiles []int) []int {
	seen := make([]bool, universe)
	for _, id := range tiles {
		for _, m := range coverage[id] {
			if m >= 0 && m < universe {
				seen[m] = true
			}
		}
	}
	var out []int
	for m, ok := range seen {
		if ok {
			out = append(out, m)
		}
	}
	return out
}
