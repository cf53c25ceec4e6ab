// Package capture implements the tick-synchronized multi-sensor capture
// core: the frame barrier that assembles concurrently-arriving sensor
// callbacks into released frames, and the orchestrator that drives scene
// lifecycles and fans finalized frames out to storage.
package capture

import "errors"

// Error taxonomy for the capture side. Per-sensor faults (unknown sensor,
// stale submission) are isolated: the sample is dropped, capture continues.
// Structural faults (configuration, desync) abort the run.
var (
	// ErrUnknownSensor is returned by Submit for a sensor name that is not
	// registered with the barrier.
	ErrUnknownSensor = errors.New("capture: sensor not registered")

	// ErrStaleFrame is returned by Submit when the targeted frame index has
	// already been released. The released frame is unaffected.
	ErrStaleFrame = errors.New("capture: frame already released")

	// ErrSimulationDesync is returned when the stepping source reports a
	// frame index at or below the last released one. Ordering is a
	// correctness invariant of the barrier and of storage layout, so this
	// is fatal.
	ErrSimulationDesync = errors.New("capture: frame index regressed")
)

// WarningCounts tallies the non-fatal conditions the barrier signals.
// Duplicates are redelivered samples dropped on arrival; partials are
// frames finalized with one or more sensors marked absent after timeout.
type WarningCounts struct {
	DuplicateSamples uint64
	PartialFrames    uint64
}
