package memory

import "golang.org/x/exp/constraints"

const PageSize = 4096

// Align rounds a up to a multiple of b, which must be a power of two.
func Align[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}
