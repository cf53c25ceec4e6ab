package capture

import (
	"fmt"
	"sort"
	"time"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/monitoring"
	"github.com/gridframe-data/gridframe/internal/rig"
)

// SampleSink consumes finalized per-sensor samples. The orchestrator's
// contract with it: each sensor's sample for a frame is delivered exactly
// once, in ascending frame-index order, and never re-delivered after
// release. The sink owns on-disk encoding and directory layout.
type SampleSink interface {
	WriteSample(frame *rig.Frame, sensor string, sample rig.SensorSample) error
}

// AnnotationSink consumes bounding boxes derived from instance cameras,
// keyed by the RGB camera that requested collection.
type AnnotationSink interface {
	WriteAnnotations(frame *rig.Frame, camera string, boxes []annotate.BoundingBox) error
}

// SceneStats accumulates per-scene capture quality numbers for logging and
// the report package.
type SceneStats struct {
	SceneID       int
	Frames        int
	PartialFrames int
	Annotations   int

	// MissingBySensor counts frames where the named sensor was absent.
	MissingBySensor map[string]int

	// ArrivalCounts holds, per released frame, how many sensors delivered
	// real samples. Feeds the gonum summary in the report.
	ArrivalCounts []float64
}

// Config configures an Orchestrator. Zero values select defaults in the
// manner of the frame builder: nil Barrier allocates one, zero timeout
// uses DefaultAwaitTimeout.
type Config struct {
	Sink            SampleSink
	Annotations     AnnotationSink
	Barrier         *Barrier
	AwaitTimeout    time.Duration
	AnnotateOptions annotate.Options
}

// Orchestrator drives one scene at a time: registers the rig's sensors on
// the barrier, awaits each simulation step's frame, and fans finalized
// samples out to storage. Scenes run strictly sequentially; no two scenes'
// barriers are ever concurrently active.
type Orchestrator struct {
	barrier     *Barrier
	sink        SampleSink
	annotations AnnotationSink
	timeout     time.Duration
	annotateOpt annotate.Options

	// Scene state, owned by the single control goroutine.
	sceneID   int
	steps     int
	specs     map[string]rig.SensorSpec
	order     []string
	stats     SceneStats
	lastIndex uint64
	anyFrame  bool
	active    bool
}

// NewOrchestrator creates an Orchestrator. Sink is required.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: orchestrator requires a sample sink", rig.ErrConfiguration)
	}
	if cfg.Barrier == nil {
		cfg.Barrier = NewBarrier()
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = DefaultAwaitTimeout
	}
	return &Orchestrator{
		barrier:     cfg.Barrier,
		sink:        cfg.Sink,
		annotations: cfg.Annotations,
		timeout:     cfg.AwaitTimeout,
		annotateOpt: cfg.AnnotateOptions,
	}, nil
}

// Barrier exposes the underlying barrier so sensor transports can wire
// their callbacks directly to Submit.
func (o *Orchestrator) Barrier() *Barrier { return o.barrier }

// StartScene attaches the sensor set for a new scene. The specs are taken
// by value and never mutated; duration is the number of simulation steps
// the external stepping loop will drive.
func (o *Orchestrator) StartScene(sceneID int, specs []rig.SensorSpec, steps int) error {
	if o.active {
		return fmt.Errorf("%w: scene %d still active", rig.ErrConfiguration, o.sceneID)
	}
	if steps <= 0 {
		return fmt.Errorf("%w: scene duration must be positive", rig.ErrConfiguration)
	}
	if err := rig.ValidateSpecs(specs); err != nil {
		return err
	}

	o.barrier.Reset()
	byName := make(map[string]rig.SensorSpec, len(specs))
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		if err := o.barrier.Register(spec.Name, spec.Kind); err != nil {
			return err
		}
		byName[spec.Name] = spec
		order = append(order, spec.Name)
	}
	sort.Strings(order)

	o.sceneID = sceneID
	o.steps = steps
	o.specs = byName
	o.order = order
	o.stats = SceneStats{SceneID: sceneID, MissingBySensor: make(map[string]int)}
	o.lastIndex = 0
	o.anyFrame = false
	o.active = true

	monitoring.Logf("[Capture] scene %d started: %d sensors, %d steps", sceneID, len(specs), steps)
	return nil
}

// Submit forwards one sensor callback to the barrier. Safe for concurrent
// use; sensor transports call it from their own goroutines.
func (o *Orchestrator) Submit(sensor string, sample rig.SensorSample, index uint64) error {
	return o.barrier.Submit(sensor, sample, index)
}

// Step finalizes one simulation step: waits for the frame at index, then
// delivers it sensor-by-sensor to the sink and runs annotation extraction
// for bbox-collecting cameras. Fails fast with ErrSimulationDesync when
// the stepping source reports a non-increasing index — time must not go
// backwards.
func (o *Orchestrator) Step(index uint64, simTime float64) (*rig.Frame, error) {
	if !o.active {
		return nil, fmt.Errorf("%w: step outside an active scene", rig.ErrConfiguration)
	}
	if o.anyFrame && index <= o.lastIndex {
		return nil, fmt.Errorf("%w: step index %d after %d", ErrSimulationDesync, index, o.lastIndex)
	}

	frame, err := o.barrier.Await(o.sceneID, index, simTime, o.timeout)
	if err != nil {
		return nil, err
	}
	o.lastIndex = index
	o.anyFrame = true

	arrived := 0
	for _, name := range o.order {
		sample := frame.Samples[name]
		if !sample.Absent {
			arrived++
		}
		if err := o.sink.WriteSample(frame, name, sample); err != nil {
			return nil, fmt.Errorf("write sample %s frame %d: %w", name, index, err)
		}
	}
	for _, name := range frame.Missing {
		o.stats.MissingBySensor[name]++
	}
	o.stats.Frames++
	if frame.Partial {
		o.stats.PartialFrames++
	}
	o.stats.ArrivalCounts = append(o.stats.ArrivalCounts, float64(arrived))

	if err := o.annotateFrame(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// annotateFrame derives bounding boxes for every camera that collects
// them, using the paired instance camera's raster captured under the same
// frame index. An absent instance sample simply yields no annotations for
// the frame; per-sensor gaps never abort the scene.
func (o *Orchestrator) annotateFrame(frame *rig.Frame) error {
	if o.annotations == nil {
		return nil
	}
	for _, name := range o.order {
		spec := o.specs[name]
		if spec.Kind != rig.KindCamera || !spec.CollectBBox {
			continue
		}
		instName := rig.InstanceCameraName(name)
		inst, ok := frame.Samples[instName]
		if !ok || inst.Absent || inst.Image == nil {
			continue
		}
		boxes, err := annotate.Extract(*inst.Image, frame.Index, o.annotateOpt)
		if err != nil {
			monitoring.Logf("[Capture] annotation failed: camera=%s frame=%d: %v", name, frame.Index, err)
			continue
		}
		if err := o.annotations.WriteAnnotations(frame, name, boxes); err != nil {
			return fmt.Errorf("write annotations %s frame %d: %w", name, frame.Index, err)
		}
		o.stats.Annotations += len(boxes)
	}
	return nil
}

// EndScene detaches the scene's sensors and returns its statistics.
func (o *Orchestrator) EndScene() (SceneStats, error) {
	if !o.active {
		return SceneStats{}, fmt.Errorf("%w: no active scene", rig.ErrConfiguration)
	}
	// Discard any accumulators left by an aborted scene so deregistration
	// is legal.
	o.barrier.Reset()
	for _, name := range o.order {
		if err := o.barrier.Deregister(name); err != nil {
			return SceneStats{}, err
		}
	}
	o.active = false
	stats := o.stats

	warnings := o.barrier.Warnings()
	monitoring.Logf("[Capture] scene %d finished: frames=%d partial=%d annotations=%d duplicates=%d",
		stats.SceneID, stats.Frames, stats.PartialFrames, stats.Annotations, warnings.DuplicateSamples)
	return stats, nil
}
