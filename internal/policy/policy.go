// Package policy reconciles user-supplied and ergonomically-derived heap
// tunables into a consistent young/old generation sizing.
package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/genvm/genheap/internal/align"
	"github.com/genvm/genheap/internal/flags"
	"github.com/genvm/genheap/internal/metrics"
)

// Policy orchestrates sizing passes over a shared flag store. InitializeAll
// resolves the current flags and writes normalized values back, so every
// later read of the store agrees with the resolved sizing. Accessors are
// valid once InitializeAll has succeeded at least once.
type Policy struct {
	store  *flags.Store
	sizer  *Sizer
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	result      Result
	corrections []Correction
	passID      string
}

// Plan is a point-in-time view of the latest resolution.
type Plan struct {
	PassID      string
	Alignment   uint64
	Result      Result
	Corrections []Correction
}

// New builds a Policy over store using provider's heap alignment.
func New(store *flags.Store, provider align.Provider, logger *slog.Logger) (*Policy, error) {
	sizer, err := NewSizer(provider)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		store:  store,
		sizer:  sizer,
		logger: logger.With("component", "policy"),
	}, nil
}

// InitializeAll runs one sizing pass: snapshot the flags, resolve, write
// normalized values back, publish the result. Passes are serialized; a pass
// over unchanged flags reproduces the previous result.
func (p *Policy) InitializeAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	passID := uuid.NewString()
	snap := ReadSnapshot(p.store)

	res, corrections, err := p.sizer.Resolve(snap)
	if err != nil {
		metrics.FatalErrorsTotal.Inc()
		p.logger.Error("heap sizing failed", "pass_id", passID, "error", err)
		return fmt.Errorf("initialize heap sizing: %w", err)
	}

	p.writeBack(snap, res)

	p.result = res
	p.corrections = corrections
	p.passID = passID
	p.initialized = true

	metrics.ResolutionsTotal.Inc()
	for _, c := range corrections {
		metrics.CorrectionsTotal.WithLabelValues(string(c.Reason)).Inc()
		p.logger.Warn("ergonomic correction",
			"pass_id", passID,
			"reason", string(c.Reason),
			"flag", c.Flag,
			"requested", c.Requested,
			"applied", c.Applied,
		)
	}
	p.publishGauges(res)
	p.logger.Info("heap sizing resolved",
		"pass_id", passID,
		"alignment", p.sizer.Alignment(),
		"young_min", res.MinYoung,
		"young_initial", res.InitialYoung,
		"young_max", res.MaxYoung,
		"old_min", res.MinOld,
		"old_initial", res.InitialOld,
		"old_max", res.MaxOld,
	)
	return nil
}

// writeBack normalizes the stored flags to the resolved sizing. Ergonomic
// writes never touch explicit flags, so operator-supplied values survive
// verbatim even when the resolution corrected around them.
func (p *Policy) writeBack(snap Snapshot, res Result) {
	if !snap.NewSize.Explicit() && snap.NewSize.Value != res.InitialYoung {
		p.store.SetErgo(flags.NewSize, res.InitialYoung)
	}
	if !snap.OldSize.Explicit() && snap.OldSize.Value != res.InitialOld {
		p.store.SetErgo(flags.OldSize, res.InitialOld)
	}
	if initialHeap := res.InitialHeap(); snap.InitialHeapSize.Value != initialHeap {
		p.store.SetErgo(flags.InitialHeapSize, initialHeap)
	}
	if maxHeap := res.MaxHeap(); snap.MaxHeapSize.Value != maxHeap {
		p.store.SetErgo(flags.MaxHeapSize, maxHeap)
	}
}

func (p *Policy) publishGauges(res Result) {
	set := func(generation, bound string, v uint64) {
		metrics.ResolvedBytes.WithLabelValues(generation, bound).Set(float64(v))
	}
	set("young", "min", res.MinYoung)
	set("young", "initial", res.InitialYoung)
	set("young", "max", res.MaxYoung)
	set("old", "min", res.MinOld)
	set("old", "initial", res.InitialOld)
	set("old", "max", res.MaxOld)
}

func (p *Policy) resolved() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		panic("policy: accessor called before InitializeAll")
	}
	return p.result
}

func (p *Policy) MinYoungSize() uint64     { return p.resolved().MinYoung }
func (p *Policy) InitialYoungSize() uint64 { return p.resolved().InitialYoung }
func (p *Policy) MaxYoungSize() uint64     { return p.resolved().MaxYoung }
func (p *Policy) MinOldSize() uint64       { return p.resolved().MinOld }
func (p *Policy) InitialOldSize() uint64   { return p.resolved().InitialOld }
func (p *Policy) MaxOldSize() uint64       { return p.resolved().MaxOld }

// HeapAlignment returns the alignment the policy resolved against.
func (p *Policy) HeapAlignment() uint64 { return p.sizer.Alignment() }

// SizingPlan returns the latest resolution with its corrections and pass id.
func (p *Policy) SizingPlan() Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		panic("policy: SizingPlan called before InitializeAll")
	}
	corrections := make([]Correction, len(p.corrections))
	copy(corrections, p.corrections)
	return Plan{
		PassID:      p.passID,
		Alignment:   p.sizer.Alignment(),
		Result:      p.result,
		Corrections: corrections,
	}
}
