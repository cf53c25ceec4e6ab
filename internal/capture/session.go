package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/monitoring"
	"github.com/gridframe-data/gridframe/internal/rig"
)

// SubmitFunc delivers one sensor callback into the active barrier.
type SubmitFunc func(sensor string, sample rig.SensorSample, index uint64) error

// SteppingSource produces the simulation's sensor callbacks. NextStep
// drives one tick: the source delivers every sensor's callback through
// submit (concurrently if it likes) and returns the tick's frame index and
// simulation time. Indices must be strictly increasing within a scene.
type SteppingSource interface {
	StartScene(sceneID int, specs []rig.SensorSpec) error
	NextStep(submit SubmitFunc) (index uint64, simTime float64, err error)
	EndScene() error
}

// SinkFactory builds the per-scene storage sinks. The annotation sink may
// be nil when no camera collects boxes.
type SinkFactory func(sceneID int, specs []rig.SensorSpec, steps int) (SampleSink, AnnotationSink, error)

// SessionConfig configures a capture session.
type SessionConfig struct {
	Rig             *rig.Config
	Source          SteppingSource
	Sinks           SinkFactory
	AwaitTimeout    time.Duration
	AnnotateOptions annotate.Options
}

// Session runs a full capture: NumScenes scenes back to back, each driven
// for TicksPerScene steps against the stepping source. A failed scene
// aborts the session; per-sensor gaps inside a scene do not.
type Session struct {
	cfg SessionConfig
}

// NewSession validates the configuration.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Rig == nil {
		return nil, fmt.Errorf("%w: session requires a rig config", rig.ErrConfiguration)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: session requires a stepping source", rig.ErrConfiguration)
	}
	if cfg.Sinks == nil {
		return nil, fmt.Errorf("%w: session requires a sink factory", rig.ErrConfiguration)
	}
	if err := cfg.Rig.Validate(); err != nil {
		return nil, err
	}
	return &Session{cfg: cfg}, nil
}

// Run executes every scene and returns their statistics. Context
// cancellation stops cleanly at the next step boundary.
func (s *Session) Run(ctx context.Context) ([]SceneStats, error) {
	specs, err := s.cfg.Rig.ExpandedSensors()
	if err != nil {
		return nil, err
	}
	steps := s.cfg.Rig.Simulation.TicksPerScene()

	var all []SceneStats
	for sceneID := 1; sceneID <= s.cfg.Rig.Simulation.NumScenes; sceneID++ {
		stats, err := s.runScene(ctx, sceneID, specs, steps)
		if err != nil {
			return all, fmt.Errorf("scene %d: %w", sceneID, err)
		}
		all = append(all, stats)
	}
	return all, nil
}

func (s *Session) runScene(ctx context.Context, sceneID int, specs []rig.SensorSpec, steps int) (SceneStats, error) {
	sink, annotations, err := s.cfg.Sinks(sceneID, specs, steps)
	if err != nil {
		return SceneStats{}, err
	}

	orch, err := NewOrchestrator(Config{
		Sink:            sink,
		Annotations:     annotations,
		AwaitTimeout:    s.cfg.AwaitTimeout,
		AnnotateOptions: s.cfg.AnnotateOptions,
	})
	if err != nil {
		return SceneStats{}, err
	}
	if err := orch.StartScene(sceneID, specs, steps); err != nil {
		return SceneStats{}, err
	}
	if err := s.cfg.Source.StartScene(sceneID, specs); err != nil {
		return SceneStats{}, err
	}
	defer func() {
		if err := s.cfg.Source.EndScene(); err != nil {
			monitoring.Logf("[Capture] source end scene %d: %v", sceneID, err)
		}
	}()

	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return SceneStats{}, err
		}
		index, simTime, err := s.cfg.Source.NextStep(orch.Submit)
		if err != nil {
			return SceneStats{}, fmt.Errorf("source step %d: %w", step, err)
		}
		if _, err := orch.Step(index, simTime); err != nil {
			return SceneStats{}, err
		}
	}
	return orch.EndScene()
}
