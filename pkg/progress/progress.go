// Package progress turns coarse pipeline lifecycle phases into a monotonic
// 0-100 percentage for callers, synthesizing bounded increments for phases
// where the underlying subprocess emits no telemetry.
package progress

import (
	"sync"
	"time"
)

// Snapshot is one progress observation delivered to the observer.
type Snapshot struct {
	Percentage   int
	Message      string
	BytesCurrent int64 // 0 when the phase has no real byte counter
	BytesTotal   int64
}

// Observer receives progress snapshots. Implementations must tolerate
// concurrent calls; the estimator serializes emission internally.
type Observer func(Snapshot)

// Phase is one stage of a create or apply operation. Each phase owns a fixed
// percentage sub-range; phases always advance, never revisit.
type Phase struct {
	Name    string
	Message string
	Floor   int
	Ceiling int
}

// CreatePhases are the lifecycle stages of patch creation.
var CreatePhases = []Phase{
	{Name: "validating", Message: "Validating input files", Floor: 0, Ceiling: 10},
	{Name: "checking-tool", Message: "Checking delta tool availability", Floor: 10, Ceiling: 20},
	{Name: "planning", Message: "Planning chunk layout", Floor: 20, Ceiling: 30},
	{Name: "encoding", Message: "Encoding chunk deltas", Floor: 30, Ceiling: 90},
	{Name: "combining", Message: "Combining patch container", Floor: 90, Ceiling: 99},
}

// ApplyPhases are the lifecycle stages of patch application.
var ApplyPhases = []Phase{
	{Name: "validating", Message: "Validating patch and base file", Floor: 0, Ceiling: 15},
	{Name: "checking-tool", Message: "Checking delta tool availability", Floor: 15, Ceiling: 25},
	{Name: "decoding", Message: "Decoding chunk deltas", Floor: 25, Ceiling: 85},
	{Name: "verifying", Message: "Verifying restored file", Floor: 85, Ceiling: 99},
}

// minEmitInterval bounds how often mid-phase updates reach the observer so
// slow consumers are never overwhelmed. Phase transitions and terminal
// events always go through.
const minEmitInterval = 150 * time.Millisecond

// syntheticStep is the fraction (1/syntheticStep) of the remaining gap to
// the phase ceiling consumed by each synthetic tick. The sequence is
// strictly increasing yet never reaches the ceiling before the phase ends.
const syntheticStep = 8

// Estimator tracks one operation's progress. Not shared across operations;
// create one per Create/Apply call.
type Estimator struct {
	mu        sync.Mutex
	phases    []Phase
	observer  Observer
	phaseIdx  int
	percent   float64
	lastEmit  time.Time
	emitted   int
	done      bool
	now       func() time.Time
}

// NewEstimator builds an estimator over the given phase table. observer may
// be nil, in which case the estimator only tracks state.
func NewEstimator(phases []Phase, observer Observer) *Estimator {
	return &Estimator{
		phases:   phases,
		observer: observer,
		phaseIdx: -1,
		now:      time.Now,
	}
}

// EnterPhase advances to the named phase and snaps the percentage to its
// floor (or the current value if already past it). Phase entry is always
// emitted regardless of rate limiting.
func (e *Estimator) EnterPhase(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := -1
	for i, p := range e.phases {
		if p.Name == name {
			target = i
			break
		}
	}
	if target < 0 || target < e.phaseIdx || e.done {
		return // unknown phase or backwards transition
	}

	// Snap the outgoing phase to its ceiling first.
	if e.phaseIdx >= 0 {
		e.lift(float64(e.phases[e.phaseIdx].Ceiling))
	}

	e.phaseIdx = target
	e.lift(float64(e.phases[target].Floor))
	e.emit(e.phases[target].Message, 0, 0, true)
}

// Tick emits one synthetic increment within the current phase: a fixed
// fraction of the remaining distance to the ceiling, monotonic and bounded.
func (e *Estimator) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || e.phaseIdx < 0 {
		return
	}

	p := e.phases[e.phaseIdx]
	gap := float64(p.Ceiling) - e.percent
	if gap <= 0 {
		return
	}

	e.lift(e.percent + gap/syntheticStep)
	e.emit(p.Message, 0, 0, false)
}

// Observe reports real byte progress within the current phase, mapping
// done/total linearly onto the phase's sub-range.
func (e *Estimator) Observe(done, total int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || e.phaseIdx < 0 || total <= 0 {
		return
	}

	if done > total {
		done = total
	}

	p := e.phases[e.phaseIdx]
	span := float64(p.Ceiling - p.Floor)
	e.lift(float64(p.Floor) + float64(done)/float64(total)*span)
	e.emit(p.Message, done, total, done == total)
}

// Finish marks terminal success, snapping to exactly 100.
func (e *Estimator) Finish(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return
	}
	e.done = true
	e.lift(100)
	e.emit(message, 0, 0, true)
}

// Fail freezes the estimator at its current percentage. Failed operations
// never report 100.
func (e *Estimator) Fail(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return
	}
	e.done = true
	e.emit(message, 0, 0, true)
}

// Percentage returns the current monotonic percentage.
func (e *Estimator) Percentage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.percent)
}

// lift raises the percentage, never lowering it.
func (e *Estimator) lift(to float64) {
	if to > e.percent {
		e.percent = to
	}
	if e.percent > 100 {
		e.percent = 100
	}
}

// emit delivers a snapshot, rate-limited unless forced.
func (e *Estimator) emit(message string, current, total int64, force bool) {
	if e.observer == nil {
		return
	}

	now := e.now()
	if !force && now.Sub(e.lastEmit) < minEmitInterval {
		return
	}
	e.lastEmit = now
	e.emitted++

	e.observer(Snapshot{
		Percentage:   int(e.percent),
		Message:      message,
		BytesCurrent: current,
		BytesTotal:   total,
	})
}
