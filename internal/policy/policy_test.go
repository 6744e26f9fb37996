package policy

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genvm/genheap/internal/align"
	"github.com/genvm/genheap/internal/flags"
)

const mb = uint64(1) << 20

// Policy tests run against a fixed 1MiB alignment so every expected value is
// exact regardless of the host page size.
const testAlignment = 1 * mb

// baseStore seeds the flag table the way startup ergonomics would before the
// sizing pass runs: a 256MiB ceiling, 100MiB initial heap, small young
// generation, 40MiB minimum heap.
func baseStore() *flags.Store {
	s := flags.NewStore()
	s.SetErgo(flags.MaxHeapSize, 256*mb)
	s.SetErgo(flags.InitialHeapSize, 100*mb)
	s.SetErgo(flags.OldSize, 4*mb)
	s.SetErgo(flags.NewSize, 1*mb)
	s.SetErgo(flags.MaxNewSize, 50*mb)
	s.SetErgo(flags.MinHeapSize, 40*mb)
	return s
}

func newTestPolicy(t *testing.T, store *flags.Store) *Policy {
	t.Helper()
	p, err := New(store, align.Fixed(testAlignment), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func scaledByNewRatio(total uint64) uint64 {
	return align.Down(total/3, testAlignment) // default NewRatio is 2
}

// If NewSize has been ergonomically set, the resolved young minimum must not
// exceed it.
func TestYoungMinErgo(t *testing.T) {
	store := baseStore()
	store.SetErgo(flags.NewSize, 20*mb)

	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())

	assert.LessOrEqual(t, p.MinYoungSize(), 20*mb)
}

// An ergonomic NewSize bounds the minimum, but the initial young size comes
// from NewRatio — and the stored NewSize is normalized to the scaled value.
func TestYoungScaledInitialErgo(t *testing.T) {
	store := baseStore()
	store.SetErgo(flags.NewSize, 20*mb)

	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())

	initialHeap := store.Value(flags.InitialHeapSize)
	expected := scaledByNewRatio(initialHeap)

	assert.Equal(t, expected, p.InitialYoungSize())
	assert.Equal(t, expected, store.Value(flags.NewSize),
		"stored NewSize must be normalized to the resolved initial young size")
}

// An explicit NewSize no larger than the minimum heap is used verbatim for
// both the minimum and the initial young size.
func TestYoungExplicitSmall(t *testing.T) {
	store := baseStore()
	store.SetExplicit(flags.NewSize, 20*mb)

	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())

	assert.Equal(t, 20*mb, p.MinYoungSize())
	assert.Equal(t, 20*mb, p.InitialYoungSize())
}

// An explicit NewSize larger than the minimum heap governs only the initial
// size; the minimum falls back to the NewRatio share of the minimum heap.
func TestYoungExplicitLarge(t *testing.T) {
	store := baseStore()
	store.SetExplicit(flags.NewSize, 50*mb)

	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())

	assert.Equal(t, 50*mb, p.InitialYoungSize())
	assert.Equal(t, scaledByNewRatio(store.Value(flags.MinHeapSize)), p.MinYoungSize())
	assert.Equal(t, 50*mb, store.Value(flags.NewSize),
		"explicit NewSize must survive the sizing pass untouched")
}

// An explicit OldSize below the minimum heap bounds the old minimum, while
// the old initial is rebalanced to the remainder after the young ceiling.
func TestOldExplicitSmall(t *testing.T) {
	store := baseStore()
	store.SetExplicit(flags.OldSize, 20*mb)

	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())

	assert.LessOrEqual(t, p.MinOldSize(), 20*mb)

	initialHeap := align.Up(100*mb, testAlignment)
	assert.Equal(t, initialHeap-p.MaxYoungSize(), p.InitialOldSize())
	assert.Equal(t, 20*mb, store.Value(flags.OldSize),
		"explicit OldSize must survive the sizing pass untouched")
}

// When explicit MaxNewSize and OldSize together oversubscribe the heap, the
// old initial shrinks to the remainder instead of failing startup.
func TestOldOversubscribed(t *testing.T) {
	store := baseStore()
	maxHeap := align.Up(store.Value(flags.MaxHeapSize), testAlignment)
	store.SetExplicit(flags.OldSize, 30*mb)
	store.SetExplicit(flags.MaxNewSize, maxHeap-30*mb+20*mb)

	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())

	assert.Equal(t, maxHeap-store.Value(flags.MaxNewSize), p.InitialOldSize())
	assert.LessOrEqual(t, p.MinOldSize(), 30*mb)

	var reasons []CorrectionReason
	for _, c := range p.SizingPlan().Corrections {
		reasons = append(reasons, c.Reason)
	}
	assert.Contains(t, reasons, ReasonOldExceedsCapacity)
}

// Every resolution must satisfy the structural invariants: alignment,
// min <= initial <= max, and generation sums matching the heap totals.
func TestResolutionInvariants(t *testing.T) {
	cases := []struct {
		name string
		prep func(*flags.Store)
	}{
		{name: "base_ergonomic", prep: func(*flags.Store) {}},
		{name: "new_size_ergo", prep: func(s *flags.Store) { s.SetErgo(flags.NewSize, 20*mb) }},
		{name: "new_size_explicit_small", prep: func(s *flags.Store) { s.SetExplicit(flags.NewSize, 20*mb) }},
		{name: "new_size_explicit_large", prep: func(s *flags.Store) { s.SetExplicit(flags.NewSize, 50*mb) }},
		{name: "old_size_explicit", prep: func(s *flags.Store) { s.SetExplicit(flags.OldSize, 20*mb) }},
		{name: "oversubscribed", prep: func(s *flags.Store) {
			s.SetExplicit(flags.OldSize, 30*mb)
			s.SetExplicit(flags.MaxNewSize, 246*mb)
		}},
		{name: "initial_equals_max", prep: func(s *flags.Store) { s.SetErgo(flags.InitialHeapSize, 256*mb) }},
		{name: "unaligned_requests", prep: func(s *flags.Store) {
			s.SetExplicit(flags.InitialHeapSize, 100*mb+12345)
			s.SetExplicit(flags.NewSize, 20*mb+777)
		}},
		{name: "tiny_heap", prep: func(s *flags.Store) {
			s.SetExplicit(flags.MaxHeapSize, 4*mb)
			s.SetErgo(flags.InitialHeapSize, 3*mb)
			s.SetErgo(flags.MinHeapSize, 2*mb)
			s.SetErgo(flags.NewSize, 1*mb)
			s.SetErgo(flags.MaxNewSize, 2*mb)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := baseStore()
			tc.prep(store)

			p := newTestPolicy(t, store)
			require.NoError(t, p.InitializeAll())
			res := p.SizingPlan().Result

			for name, v := range map[string]uint64{
				"min_young":     res.MinYoung,
				"initial_young": res.InitialYoung,
				"max_young":     res.MaxYoung,
				"min_old":       res.MinOld,
				"initial_old":   res.InitialOld,
				"max_old":       res.MaxOld,
			} {
				assert.True(t, align.IsAligned(v, testAlignment), "%s=%d not aligned", name, v)
				assert.NotZero(t, v, name)
			}

			assert.LessOrEqual(t, res.MinYoung, res.InitialYoung)
			assert.LessOrEqual(t, res.InitialYoung, res.MaxYoung)
			assert.LessOrEqual(t, res.MinOld, res.InitialOld)
			assert.LessOrEqual(t, res.InitialOld, res.MaxOld)

			assert.Equal(t, align.Up(store.Value(flags.InitialHeapSize), testAlignment), res.InitialHeap(),
				"initial generation sizes must sum to the aligned initial heap")
			assert.Equal(t, align.Up(store.Value(flags.MaxHeapSize), testAlignment), res.MaxHeap(),
				"max generation sizes must sum to the aligned max heap")
		})
	}
}

// Write-back converges: after the first pass has normalized the ergonomic
// flags, further passes reproduce the same result bit for bit.
func TestRepeatedInitializeConverges(t *testing.T) {
	store := baseStore()
	store.SetErgo(flags.NewSize, 20*mb)

	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())
	require.NoError(t, p.InitializeAll())
	second := p.SizingPlan().Result

	require.NoError(t, p.InitializeAll())
	assert.Equal(t, second, p.SizingPlan().Result)
}

// With nothing left for write-back to normalize, a repeated pass is an exact
// replay of the first.
func TestRepeatedInitializeExplicitStable(t *testing.T) {
	store := baseStore()
	store.SetExplicit(flags.NewSize, 20*mb)
	store.SetExplicit(flags.OldSize, 20*mb)

	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())
	first := p.SizingPlan().Result

	require.NoError(t, p.InitializeAll())
	assert.Equal(t, first, p.SizingPlan().Result)
}

func TestInitializeAllFailsOnUnsatisfiableHeap(t *testing.T) {
	store := baseStore()
	store.SetExplicit(flags.MaxHeapSize, 1*mb)

	p := newTestPolicy(t, store)
	err := p.InitializeAll()
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestAccessorsBeforeInitializePanic(t *testing.T) {
	p := newTestPolicy(t, baseStore())
	assert.Panics(t, func() { p.MinYoungSize() })
	assert.Panics(t, func() { p.SizingPlan() })
}

func TestSizingPlanReportsPass(t *testing.T) {
	store := baseStore()
	p := newTestPolicy(t, store)
	require.NoError(t, p.InitializeAll())

	plan := p.SizingPlan()
	assert.NotEmpty(t, plan.PassID)
	assert.Equal(t, testAlignment, plan.Alignment)

	require.NoError(t, p.InitializeAll())
	assert.NotEqual(t, plan.PassID, p.SizingPlan().PassID, "each pass gets its own id")
}
