// Package flags is the process-wide registry of heap tunables. Every entry
// carries the provenance of its current value, because the sizing policy
// dispatches on how a value was set, not only on what it is.
package flags

import (
	"fmt"
	"sync"
)

// Origin records where a flag's current value came from.
type Origin uint8

const (
	// OriginDefault means the built-in default is still in effect.
	OriginDefault Origin = iota
	// OriginErgonomic means runtime heuristics chose the value.
	OriginErgonomic
	// OriginExplicit means the operator set the value (command-line
	// equivalent). Explicit provenance is durable: it survives later
	// ergonomic writes for the lifetime of the store.
	OriginExplicit
)

func (o Origin) String() string {
	switch o {
	case OriginDefault:
		return "default"
	case OriginErgonomic:
		return "ergonomic"
	case OriginExplicit:
		return "explicit"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

// Name identifies a heap tunable.
type Name string

const (
	InitialHeapSize   Name = "InitialHeapSize"
	MaxHeapSize       Name = "MaxHeapSize"
	MinHeapSize       Name = "MinHeapSize"
	NewSize           Name = "NewSize"
	MaxNewSize        Name = "MaxNewSize"
	OldSize           Name = "OldSize"
	MinHeapDeltaBytes Name = "MinHeapDeltaBytes"
	NewRatio          Name = "NewRatio"
)

// All lists every registered tunable.
var All = []Name{
	InitialHeapSize,
	MaxHeapSize,
	MinHeapSize,
	NewSize,
	MaxNewSize,
	OldSize,
	MinHeapDeltaBytes,
	NewRatio,
}

const (
	k = uint64(1024)
	m = 1024 * k
)

// NoLimit marks a size flag whose default imposes no bound.
const NoLimit = ^uint64(0)

type entry struct {
	value  uint64
	origin Origin
}

func defaults() map[Name]entry {
	return map[Name]entry{
		InitialHeapSize:   {value: 0},
		MaxHeapSize:       {value: 96 * m},
		MinHeapSize:       {value: 0},
		NewSize:           {value: 1*m + 512*k},
		MaxNewSize:        {value: NoLimit},
		OldSize:           {value: 4 * m},
		MinHeapDeltaBytes: {value: 128 * k},
		NewRatio:          {value: 2},
	}
}

// Store holds the tunables. A single Store is shared by the configuration
// loader and the sizing policy; it serializes all access so a resolution
// pass observes a consistent snapshot.
type Store struct {
	mu      sync.Mutex
	entries map[Name]entry
}

// NewStore returns a store seeded with built-in defaults.
func NewStore() *Store {
	return &Store{entries: defaults()}
}

// Get returns the current value and provenance of name.
func (s *Store) Get(name Name) (uint64, Origin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		panic(fmt.Sprintf("flags: unknown tunable %q", name))
	}
	return e.value, e.origin
}

// Value returns just the current value of name.
func (s *Store) Value(name Name) uint64 {
	v, _ := s.Get(name)
	return v
}

// SetErgo records an ergonomically-computed value. It is a no-op against a
// flag the operator set explicitly; explicit provenance is irreversible.
func (s *Store) SetErgo(name Name, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		panic(fmt.Sprintf("flags: unknown tunable %q", name))
	}
	if e.origin == OriginExplicit {
		return
	}
	s.entries[name] = entry{value: v, origin: OriginErgonomic}
}

// SetExplicit records an operator-supplied value. The flag keeps explicit
// provenance for the remaining lifetime of the store.
func (s *Store) SetExplicit(name Name, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		panic(fmt.Sprintf("flags: unknown tunable %q", name))
	}
	s.entries[name] = entry{value: v, origin: OriginExplicit}
}

// Guard snapshots the named flags (all flags when none are named) and
// returns a func that restores them, including provenance. Test scaffolding
// defers the restore so temporary mutation cannot leak across cases.
func (s *Store) Guard(names ...Name) (restore func()) {
	if len(names) == 0 {
		names = All
	}
	s.mu.Lock()
	saved := make(map[Name]entry, len(names))
	for _, n := range names {
		saved[n] = s.entries[n]
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for n, e := range saved {
			s.entries[n] = e
		}
	}
}
