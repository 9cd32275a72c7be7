// Package conv provides checked integer conversions for the public
// []byte / int seams of the allocator API.
package conv

import (
	"fmt"
	"math"
)

// IntToUintptr converts int to uintptr safely.
func IntToUintptr(v int) (uintptr, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uintptr (negative)", v)
	}
	return uintptr(v), nil
}

// UintptrToInt converts uintptr to int safely.
func UintptrToInt(v uintptr) (int, error) {
	if uint64(v) > uint64(math.MaxInt) {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int (too large)", v)
	}
	return int(v), nil
}
