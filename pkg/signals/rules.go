package signals

import "github.com/codeready-toolchain/verihub/pkg/models"

// Score computes the rule score from a signal list: a clamped sum of
// weights (spec.md §4.4). Deterministic, total, pure.
func Score(sigs []models.Signal) int {
	sum := 0
	for _, s := range sigs {
		sum += s.Weight
	}
	return clamp(sum, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
