package policy

import (
	"errors"
	"fmt"

	"github.com/genvm/genheap/internal/align"
)

// ErrInvalidConfiguration marks a heap configuration no assignment of
// generation sizes can satisfy. It aborts startup; over-subscribed but
// satisfiable requests are corrected instead (see Correction).
var ErrInvalidConfiguration = errors.New("invalid heap configuration")

// CorrectionReason classifies why a requested value could not be honored
// verbatim.
type CorrectionReason string

const (
	// ReasonMaxYoungCapped: the young ceiling left no room for the old
	// generation and was reduced.
	ReasonMaxYoungCapped CorrectionReason = "max_young_capped"
	// ReasonYoungBumped: a young size below the hard lower bound was raised.
	ReasonYoungBumped CorrectionReason = "young_bumped"
	// ReasonYoungInitialCapped: an explicit NewSize exceeded the resolved
	// young ceiling or the initial heap and was reduced.
	ReasonYoungInitialCapped CorrectionReason = "young_initial_capped"
	// ReasonOldExceedsCapacity: an explicit OldSize exceeded the heap
	// capacity left after the young ceiling and was reduced.
	ReasonOldExceedsCapacity CorrectionReason = "old_exceeds_capacity"
	// ReasonInitialRebalanced: the initial generation sizes did not sum to
	// the initial heap and were rebalanced.
	ReasonInitialRebalanced CorrectionReason = "initial_rebalanced"
	// ReasonHeapBoundsAdjusted: a heap total was moved to restore
	// min <= initial <= max ordering after alignment.
	ReasonHeapBoundsAdjusted CorrectionReason = "heap_bounds_adjusted"
)

// Correction records an ergonomic deviation from a requested value. It is
// not an error: the resolver silently applies it to keep the sizing
// consistent, and surfaces it so operators can diagnose unexpected sizes.
type Correction struct {
	Reason    CorrectionReason
	Flag      string
	Requested uint64
	Applied   uint64
}

func (c Correction) String() string {
	return fmt.Sprintf("%s: %s requested=%d applied=%d", c.Reason, c.Flag, c.Requested, c.Applied)
}

// maxSize bounds the heap totals the arithmetic accepts; beyond it the
// alignment rounding itself would overflow.
const maxSize = uint64(1) << 62

// Sizer resolves a Snapshot into a Result. It is pure with respect to its
// inputs: the alignment is fixed at construction and Resolve keeps no state
// between calls.
type Sizer struct {
	alignment uint64
}

// NewSizer validates the provider's alignment and returns a Sizer bound to it.
func NewSizer(provider align.Provider) (*Sizer, error) {
	a := provider.HeapAlignment()
	if err := align.Validate(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return &Sizer{alignment: a}, nil
}

// Alignment returns the heap alignment every resolved size is a multiple of.
func (s *Sizer) Alignment() uint64 {
	return s.alignment
}

// scaleByNewRatio returns the young generation's NewRatio share of total,
// rounded down to the heap alignment.
func (s *Sizer) scaleByNewRatio(total, ratio uint64) uint64 {
	return align.Down(total/(ratio+1), s.alignment)
}

// Resolve derives a consistent generation sizing from snap. It fails only
// when the configuration is unsatisfiable at this alignment; conflicting but
// satisfiable requests are reconciled and reported as Corrections.
func (s *Sizer) Resolve(snap Snapshot) (Result, []Correction, error) {
	a := s.alignment
	var corrections []Correction
	correct := func(reason CorrectionReason, flag string, requested, applied uint64) {
		corrections = append(corrections, Correction{
			Reason:    reason,
			Flag:      flag,
			Requested: requested,
			Applied:   applied,
		})
	}

	ratio := snap.NewRatio.Value
	if ratio+1 == 0 {
		return Result{}, nil, fmt.Errorf("%w: NewRatio %d out of range", ErrInvalidConfiguration, ratio)
	}

	// Smallest young generation the policy will ever commit to.
	youngLowerBound := align.Up(snap.MinHeapDeltaBytes.Value, a)
	if youngLowerBound < a {
		youngLowerBound = a
	}
	smallestHeap := youngLowerBound + a

	if snap.MaxHeapSize.Value == 0 || snap.MaxHeapSize.Value > maxSize {
		return Result{}, nil, fmt.Errorf("%w: MaxHeapSize %d out of range", ErrInvalidConfiguration, snap.MaxHeapSize.Value)
	}
	if snap.InitialHeapSize.Value > maxSize || snap.MinHeapSize.Value > maxSize {
		return Result{}, nil, fmt.Errorf("%w: heap bounds exceed %d", ErrInvalidConfiguration, maxSize)
	}
	maxHeap := align.Up(snap.MaxHeapSize.Value, a)
	if maxHeap < smallestHeap {
		return Result{}, nil, fmt.Errorf(
			"%w: MaxHeapSize %d cannot hold two generations at alignment %d (need at least %d)",
			ErrInvalidConfiguration, snap.MaxHeapSize.Value, a, smallestHeap)
	}

	// Zero InitialHeapSize means no initial size was chosen anywhere; start
	// fully committed.
	initialHeap := align.Up(snap.InitialHeapSize.Value, a)
	if initialHeap == 0 {
		initialHeap = maxHeap
	}
	if initialHeap > maxHeap {
		correct(ReasonHeapBoundsAdjusted, "InitialHeapSize", initialHeap, maxHeap)
		initialHeap = maxHeap
	}
	if initialHeap < smallestHeap {
		correct(ReasonHeapBoundsAdjusted, "InitialHeapSize", initialHeap, smallestHeap)
		initialHeap = smallestHeap
	}
	minHeap := align.Up(snap.MinHeapSize.Value, a)
	if minHeap > initialHeap {
		minHeap = initialHeap
	}

	// Young generation sizes.
	newSize := align.Down(snap.NewSize.Value, a)
	if newSize < youngLowerBound {
		if snap.NewSize.Value != 0 && !snap.NewSize.Default() {
			correct(ReasonYoungBumped, "NewSize", snap.NewSize.Value, youngLowerBound)
		}
		newSize = youngLowerBound
	}

	var maxYoung uint64
	if snap.MaxNewSize.Default() {
		// No young ceiling was requested: NewRatio decides, bounded below by
		// NewSize since the ergonomics may already have raised it.
		maxYoung = s.scaleByNewRatio(maxHeap, ratio)
		if maxYoung < newSize {
			maxYoung = newSize
		}
	} else {
		maxYoung = align.Down(snap.MaxNewSize.Value, a)
	}
	// The old generation always keeps at least one alignment unit.
	if ceiling := maxHeap - a; maxYoung > ceiling {
		correct(ReasonMaxYoungCapped, "MaxNewSize", maxYoung, ceiling)
		maxYoung = ceiling
	}
	if maxYoung < youngLowerBound {
		maxYoung = youngLowerBound
	}

	var initialYoung, minYoung uint64
	switch {
	case snap.NewSize.Explicit():
		// An operator-supplied NewSize is the initial size verbatim, and the
		// minimum as well when it fits inside the minimum heap.
		initialYoung = newSize
		if initialYoung > maxYoung {
			correct(ReasonYoungInitialCapped, "NewSize", initialYoung, maxYoung)
			initialYoung = maxYoung
		}
		if ceiling := initialHeap - a; initialYoung > ceiling {
			correct(ReasonYoungInitialCapped, "NewSize", initialYoung, ceiling)
			initialYoung = ceiling
		}
		if newSize <= minHeap {
			minYoung = initialYoung
		} else {
			// NewSize only governs the initial size; the minimum falls back
			// to the NewRatio share of the minimum heap.
			minYoung = s.scaleByNewRatio(minHeap, ratio)
			if minYoung < youngLowerBound {
				minYoung = youngLowerBound
			}
			if minYoung > initialYoung {
				minYoung = initialYoung
			}
		}
	case initialHeap == maxHeap:
		// Initial and maximum heap coincide, so the young initial must match
		// its share of the (single) heap size.
		initialYoung = s.scaleByNewRatio(initialHeap, ratio)
		if initialYoung < youngLowerBound {
			initialYoung = youngLowerBound
		}
		if initialYoung > maxYoung {
			initialYoung = maxYoung
		}
		minYoung = initialYoung
		if snap.NewSize.Ergonomic() && newSize < minYoung {
			minYoung = newSize
		}
	default:
		// Ergonomic or default NewSize: NewRatio drives the initial size and
		// the flag value only bounds the minimum from above.
		initialYoung = s.scaleByNewRatio(initialHeap, ratio)
		if initialYoung < youngLowerBound {
			initialYoung = youngLowerBound
		}
		if initialYoung > maxYoung {
			initialYoung = maxYoung
		}
		if ceiling := initialHeap - a; initialYoung > ceiling {
			initialYoung = ceiling
		}
		minYoung = newSize
		if minYoung > initialYoung {
			minYoung = initialYoung
		}
	}

	// Old generation sizes. The maximum is whatever the young ceiling leaves.
	maxOld := maxHeap - maxYoung

	oldSize := align.Down(snap.OldSize.Value, a)
	if oldSize < a {
		oldSize = a
	}

	var initialOld, minOld uint64
	if snap.OldSize.Explicit() {
		initialOld = oldSize
		if initialOld > maxOld {
			correct(ReasonOldExceedsCapacity, "OldSize", initialOld, maxOld)
			initialOld = maxOld
		}
		if ceiling := initialHeap - minYoung; initialOld > ceiling {
			correct(ReasonOldExceedsCapacity, "OldSize", initialOld, ceiling)
			initialOld = ceiling
		}
		// The minimum never exceeds the request; the minimum-heap floor may
		// tighten it further.
		minOld = initialOld
		if minHeap > minYoung && minHeap-minYoung < minOld {
			minOld = minHeap - minYoung
		}
		if minOld < a {
			minOld = a
		}
	} else {
		minOld = a
		if minHeap > minYoung+a {
			minOld = minHeap - minYoung
			if minOld > maxOld {
				minOld = maxOld
			}
		}
		initialOld = initialHeap - initialYoung
		if initialOld < minOld {
			initialOld = minOld
		}
		if initialOld > maxOld {
			initialOld = maxOld
		}
	}

	// Reconcile the initial sizes against the initial heap. An explicit
	// NewSize is never moved here; otherwise the young side is re-derived as
	// the remainder after the old initial, clamped to its own bounds, and
	// the old side takes what is left. Clamping at the young ceiling is what
	// makes the old initial the complement of the maximum young size.
	if total := initialYoung + initialOld; total != initialHeap {
		if snap.NewSize.Explicit() {
			rebalanced := initialHeap - initialYoung
			if rebalanced > maxOld {
				rebalanced = maxOld
				adjusted := initialHeap - rebalanced
				correct(ReasonInitialRebalanced, "NewSize", initialYoung, adjusted)
				initialYoung = adjusted
			}
			if rebalanced != initialOld {
				correct(ReasonInitialRebalanced, "OldSize", initialOld, rebalanced)
				initialOld = rebalanced
			}
		} else {
			young := initialHeap - initialOld
			if young < minYoung {
				young = minYoung
			}
			if young > maxYoung {
				young = maxYoung
			}
			old := initialHeap - young
			if old > maxOld {
				old = maxOld
				young = initialHeap - old
			}
			if young != initialYoung {
				correct(ReasonInitialRebalanced, "NewSize", initialYoung, young)
			}
			if old != initialOld {
				correct(ReasonInitialRebalanced, "OldSize", initialOld, old)
			}
			initialYoung, initialOld = young, old
		}
	}

	// Ordering per generation must survive every adjustment above.
	if minYoung > initialYoung {
		minYoung = initialYoung
	}
	if minOld > initialOld {
		minOld = initialOld
	}

	res := Result{
		MinYoung:     minYoung,
		InitialYoung: initialYoung,
		MaxYoung:     maxYoung,
		MinOld:       minOld,
		InitialOld:   initialOld,
		MaxOld:       maxOld,
	}
	if err := s.check(res, initialHeap, maxHeap); err != nil {
		return Result{}, nil, err
	}
	return res, corrections, nil
}

// check is the resolver's own exit guard: it refuses to return a result that
// violates the sizing invariants.
func (s *Sizer) check(r Result, initialHeap, maxHeap uint64) error {
	for _, v := range []struct {
		name string
		val  uint64
	}{
		{"min young", r.MinYoung},
		{"initial young", r.InitialYoung},
		{"max young", r.MaxYoung},
		{"min old", r.MinOld},
		{"initial old", r.InitialOld},
		{"max old", r.MaxOld},
	} {
		if !align.IsAligned(v.val, s.alignment) {
			return fmt.Errorf("%w: %s %d not aligned to %d", ErrInvalidConfiguration, v.name, v.val, s.alignment)
		}
		if v.val == 0 {
			return fmt.Errorf("%w: %s resolved to zero", ErrInvalidConfiguration, v.name)
		}
	}
	if r.MinYoung > r.InitialYoung || r.InitialYoung > r.MaxYoung {
		return fmt.Errorf("%w: young sizes out of order: %d/%d/%d", ErrInvalidConfiguration, r.MinYoung, r.InitialYoung, r.MaxYoung)
	}
	if r.MinOld > r.InitialOld || r.InitialOld > r.MaxOld {
		return fmt.Errorf("%w: old sizes out of order: %d/%d/%d", ErrInvalidConfiguration, r.MinOld, r.InitialOld, r.MaxOld)
	}
	if r.InitialHeap() != initialHeap {
		return fmt.Errorf("%w: initial sizes sum to %d, want %d", ErrInvalidConfiguration, r.InitialHeap(), initialHeap)
	}
	if r.MaxHeap() != maxHeap {
		return fmt.Errorf("%w: max sizes sum to %d, want %d", ErrInvalidConfiguration, r.MaxHeap(), maxHeap)
	}
	return nil
}
