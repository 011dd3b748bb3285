package vulkan

import "golang.org/x/exp/constraints"

// AlignUp rounds v up to the next multiple of a. a must be a power of two;
// zero leaves v unchanged.
func AlignUp[T constraints.Unsigned](v, a T) T {
	if a == 0 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}
