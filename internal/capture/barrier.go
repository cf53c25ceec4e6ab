package capture

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gridframe-data/gridframe/internal/monitoring"
	"github.com/gridframe-data/gridframe/internal/rig"
)

// DefaultAwaitTimeout bounds how long Await blocks for stragglers before
// finalizing a partial frame. One simulation step is 50 ms; a full second
// gives slow sensor transports twenty steps of slack before we give up.
const DefaultAwaitTimeout = 1 * time.Second

// Barrier is the per-step synchronization point between concurrently
// arriving sensor callbacks and the single orchestrator goroutine.
//
// Each in-flight frame index owns an accumulator holding the samples
// received so far and the set of sensors still pending. Submit is
// non-blocking and O(1): it stores the caller's sample and shrinks the
// pending set. Await blocks the control goroutine until the pending set
// empties or the timeout fires, then seals the accumulator into an
// immutable Frame exactly once.
//
// Steps may overlap when sensors are slow, but release order follows the
// caller's ascending Await order; the barrier never reorders frames.
type Barrier struct {
	mu sync.Mutex

	expected map[string]rig.SensorKind // registered sensors and their kinds
	inflight map[uint64]*accumulator

	released    uint64 // highest released frame index
	anyReleased bool

	warnings WarningCounts
}

// accumulator collects one frame's samples while sensors deliver.
// Sensor callbacks only ever write their own slot; the bookkeeping lock
// lives on the Barrier, not here.
type accumulator struct {
	samples map[string]rig.SensorSample
	pending map[string]bool
	done    chan struct{} // closed when pending empties
}

// NewBarrier creates a Barrier with no sensors attached.
func NewBarrier() *Barrier {
	return &Barrier{
		expected: make(map[string]rig.SensorKind),
		inflight: make(map[uint64]*accumulator),
	}
}

// Register attaches a sensor to the expected-arrival set. Only legal while
// no step is in flight: adjusting expectations mid-step would make the
// pending-set semantics ambiguous.
func (b *Barrier) Register(name string, kind rig.SensorKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.inflight) > 0 {
		return fmt.Errorf("%w: register %q while %d frames in flight", rig.ErrConfiguration, name, len(b.inflight))
	}
	if _, ok := b.expected[name]; ok {
		return fmt.Errorf("%w: sensor %q registered twice", rig.ErrConfiguration, name)
	}
	b.expected[name] = kind
	return nil
}

// Deregister removes a sensor from the expected-arrival set, with the same
// legality window as Register.
func (b *Barrier) Deregister(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.inflight) > 0 {
		return fmt.Errorf("%w: deregister %q while frames in flight", rig.ErrConfiguration, name)
	}
	if _, ok := b.expected[name]; !ok {
		return fmt.Errorf("%w: deregister unknown sensor %q", rig.ErrConfiguration, name)
	}
	delete(b.expected, name)
	return nil
}

// Registered returns the sorted names of attached sensors.
func (b *Barrier) Registered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.expected))
	for name := range b.expected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Submit records one sensor's contribution for the step identified by
// index. It never blocks: sensor callbacks arrive on independent
// goroutines and must not wait on each other.
//
// A duplicate (sensor, index) submission drops the later sample and counts
// a duplicate-sample warning; transports may redeliver on retry. A
// submission for an already-released index is rejected with ErrStaleFrame.
func (b *Barrier) Submit(name string, sample rig.SensorSample, index uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind, ok := b.expected[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSensor, name)
	}
	if b.anyReleased && index <= b.released {
		return fmt.Errorf("%w: sensor %q frame %d (released through %d)", ErrStaleFrame, name, index, b.released)
	}
	if sample.Kind != kind {
		return fmt.Errorf("sensor %q submitted %s sample, registered as %s", name, sample.Kind, kind)
	}
	if err := sample.CheckKind(); err != nil {
		return fmt.Errorf("sensor %q: %w", name, err)
	}

	acc := b.accumulatorLocked(index)
	if _, dup := acc.samples[name]; dup {
		b.warnings.DuplicateSamples++
		monitoring.Logf("[Barrier] duplicate sample dropped: sensor=%s frame=%d", name, index)
		return nil
	}
	acc.samples[name] = sample
	delete(acc.pending, name)
	if len(acc.pending) == 0 {
		close(acc.done)
	}
	return nil
}

// accumulatorLocked returns the accumulator for index, creating it with a
// snapshot of the current expected set. Caller holds b.mu.
func (b *Barrier) accumulatorLocked(index uint64) *accumulator {
	acc, ok := b.inflight[index]
	if !ok {
		acc = &accumulator{
			samples: make(map[string]rig.SensorSample, len(b.expected)),
			pending: make(map[string]bool, len(b.expected)),
			done:    make(chan struct{}),
		}
		for name := range b.expected {
			acc.pending[name] = true
		}
		if len(acc.pending) == 0 {
			close(acc.done)
		}
		b.inflight[index] = acc
	}
	return acc
}

// Await blocks until every expected sensor has submitted for index or
// timeout elapses, then seals the frame. On timeout the frame is finalized
// anyway with the missing sensors' slots set to explicit absent markers
// and a partial-frame warning counted; capture never stalls indefinitely
// because one sensor failed to fire.
//
// timeout <= 0 selects DefaultAwaitTimeout. Callers must Await in
// ascending index order; an index at or below the last released one fails
// with ErrSimulationDesync.
func (b *Barrier) Await(sceneID int, index uint64, simTime float64, timeout time.Duration) (*rig.Frame, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}

	b.mu.Lock()
	if b.anyReleased && index <= b.released {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: await frame %d after releasing %d", ErrSimulationDesync, index, b.released)
	}
	acc := b.accumulatorLocked(index)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-acc.done:
	case <-timer.C:
		timedOut = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Finalization is exactly-once: whoever holds the lock now seals the
	// accumulator and removes it from the in-flight set.
	if _, ok := b.inflight[index]; !ok {
		return nil, fmt.Errorf("%w: frame %d finalized twice", ErrStaleFrame, index)
	}
	delete(b.inflight, index)

	frame := &rig.Frame{
		SceneID: sceneID,
		Index:   index,
		SimTime: simTime,
		Samples: make(map[string]rig.SensorSample, len(b.expected)),
	}
	for name, sample := range acc.samples {
		frame.Samples[name] = sample
	}
	for name := range acc.pending {
		frame.Samples[name] = rig.AbsentSample(b.expected[name])
		frame.Missing = append(frame.Missing, name)
	}
	sort.Strings(frame.Missing)

	if len(frame.Missing) > 0 {
		frame.Partial = true
		b.warnings.PartialFrames++
		monitoring.Logf("[Barrier] partial frame %d released after %v: missing %v (timed_out=%v)",
			index, timeout, frame.Missing, timedOut)
	}

	b.released = index
	b.anyReleased = true
	return frame, nil
}

// Warnings returns a snapshot of the non-fatal condition counters.
func (b *Barrier) Warnings() WarningCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.warnings
}

// Reset clears all in-flight state so the barrier can serve a new scene.
// Registered sensors are kept; release-order tracking restarts.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k := range b.inflight {
		delete(b.inflight, k)
	}
	b.released = 0
	b.anyReleased = false
}
