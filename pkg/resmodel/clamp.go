package resmodel

import "golang.org/x/exp/constraints"

// Clamp pins v into [lo, hi]. Every out-of-range weight or percentage
// in the compilers goes through this one helper so the clamping policy
// stays consistent across backends.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
