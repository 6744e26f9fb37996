package policy

import (
	"github.com/genvm/genheap/internal/flags"
)

// Param is a tunable value together with the provenance of that value.
type Param struct {
	Value  uint64
	Origin flags.Origin
}

func (p Param) Explicit() bool  { return p.Origin == flags.OriginExplicit }
func (p Param) Ergonomic() bool { return p.Origin == flags.OriginErgonomic }
func (p Param) Default() bool   { return p.Origin == flags.OriginDefault }

// Snapshot is a consistent read of every tunable the resolver consumes.
// A resolution pass reads one Snapshot and never re-reads the store.
type Snapshot struct {
	InitialHeapSize   Param
	MaxHeapSize       Param
	MinHeapSize       Param
	NewSize           Param
	MaxNewSize        Param
	OldSize           Param
	MinHeapDeltaBytes Param
	NewRatio          Param
}

// ReadSnapshot captures the current state of the flag store.
func ReadSnapshot(store *flags.Store) Snapshot {
	read := func(n flags.Name) Param {
		v, origin := store.Get(n)
		return Param{Value: v, Origin: origin}
	}
	return Snapshot{
		InitialHeapSize:   read(flags.InitialHeapSize),
		MaxHeapSize:       read(flags.MaxHeapSize),
		MinHeapSize:       read(flags.MinHeapSize),
		NewSize:           read(flags.NewSize),
		MaxNewSize:        read(flags.MaxNewSize),
		OldSize:           read(flags.OldSize),
		MinHeapDeltaBytes: read(flags.MinHeapDeltaBytes),
		NewRatio:          read(flags.NewRatio),
	}
}

// Result is a fully-resolved generation sizing. All fields are multiples of
// the heap alignment, min <= initial <= max holds per generation, and the
// initial and max sizes of the two generations sum to the aligned initial
// and max heap sizes respectively.
type Result struct {
	MinYoung     uint64
	InitialYoung uint64
	MaxYoung     uint64
	MinOld       uint64
	InitialOld   uint64
	MaxOld       uint64
}

// InitialHeap returns the aligned total initial heap the result commits to.
func (r Result) InitialHeap() uint64 { return r.InitialYoung + r.InitialOld }

// MaxHeap returns the aligned total heap ceiling the result commits to.
func (r Result) MaxHeap() uint64 { return r.MaxYoung + r.MaxOld }
