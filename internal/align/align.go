// Package align provides the byte-alignment arithmetic every generation
// boundary must respect, and the Provider abstraction over platform
// alignment discovery.
package align

import (
	"fmt"
	"os"
)

// SpaceAlignment is the smallest granularity a generation boundary may use.
// Heap alignment is always at least this and at least the OS page size.
const SpaceAlignment uint64 = 64 * 1024

// Provider reports the heap alignment the platform requires. All sizes the
// policy emits are multiples of this value.
type Provider interface {
	HeapAlignment() uint64
}

// Platform derives the heap alignment from the OS page size.
type Platform struct{}

func (Platform) HeapAlignment() uint64 {
	page := uint64(os.Getpagesize())
	if page > SpaceAlignment {
		// Page and space alignment are both powers of two, so the larger
		// is a multiple of the smaller.
		return page
	}
	return SpaceAlignment
}

// Fixed is a Provider with a constant alignment, for tests and for
// configurations that pin the granularity explicitly.
type Fixed uint64

func (f Fixed) HeapAlignment() uint64 { return uint64(f) }

// IsPowerOfTwo reports whether a is a nonzero power of two.
func IsPowerOfTwo(a uint64) bool {
	return a != 0 && a&(a-1) == 0
}

// Up rounds v up to the nearest multiple of a. a must be a power of two.
func Up(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

// Down rounds v down to the nearest multiple of a. a must be a power of two.
func Down(v, a uint64) uint64 {
	return v &^ (a - 1)
}

// IsAligned reports whether v is a multiple of a.
func IsAligned(v, a uint64) bool {
	return v&(a-1) == 0
}

// Validate rejects alignments the sizing arithmetic cannot work with.
func Validate(a uint64) error {
	if !IsPowerOfTwo(a) {
		return fmt.Errorf("heap alignment %d is not a power of two", a)
	}
	return nil
}
