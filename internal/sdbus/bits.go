// internal/sdbus/bits.go

package sdbus

import "golang.org/x/exp/constraints"

// Bits returns the bit slice v[lo:hi], hi exclusive, shifted down to bit 0.
func Bits[T constraints.Unsigned](v T, lo, hi int) T {
	return v >> lo & (1<<(hi-lo) - 1)
}

// Bit reports whether bit i of v is set.
func Bit[T constraints.Unsigned](v T, i int) bool {
	return v>>i&1 == 1
}

// PutByte replaces the 8-bit field of v at the given shift with b.
func PutByte[T constraints.Unsigned](v T, shift int, b byte) T {
	return v&^(0xff<<shift) | T(b)<<shift
}
