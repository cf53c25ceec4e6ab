package capture

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/rig"
)

// memorySink records deliveries in arrival order.
type memorySink struct {
	writes []sinkWrite
	failOn string
}

type sinkWrite struct {
	index  uint64
	sensor string
	absent bool
}

func (m *memorySink) WriteSample(frame *rig.Frame, sensor string, sample rig.SensorSample) error {
	if m.failOn != "" && m.failOn == sensor {
		return fmt.Errorf("sink failure for %s", sensor)
	}
	m.writes = append(m.writes, sinkWrite{index: frame.Index, sensor: sensor, absent: sample.Absent})
	return nil
}

type memoryAnnotations struct {
	byFrame map[uint64][]annotate.BoundingBox
}

func (m *memoryAnnotations) WriteAnnotations(frame *rig.Frame, camera string, boxes []annotate.BoundingBox) error {
	if m.byFrame == nil {
		m.byFrame = make(map[uint64][]annotate.BoundingBox)
	}
	m.byFrame[frame.Index] = boxes
	return nil
}

func testSpecs() []rig.SensorSpec {
	return []rig.SensorSpec{
		{Name: "front_radar", Kind: rig.KindRadar},
		{Name: "gnss", Kind: rig.KindGNSS},
		{Name: "imu", Kind: rig.KindIMU},
	}
}

func radarSample() rig.SensorSample {
	return rig.RadarSample([]rig.RadarDetection{{Depth: 12, Velocity: -3, Intensity: 0.5}})
}

func sampleFor(kind rig.SensorKind) rig.SensorSample {
	switch kind {
	case rig.KindRadar:
		return radarSample()
	case rig.KindGNSS:
		return gnssSample()
	default:
		return imuSample()
	}
}

func TestOrchestratorFullRunWithOneFailedStep(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	o, err := NewOrchestrator(Config{Sink: sink, AwaitTimeout: 25 * time.Millisecond})
	require.NoError(t, err)

	specs := testSpecs()
	require.NoError(t, o.StartScene(1, specs, 20))

	for step := uint64(1); step <= 20; step++ {
		for _, spec := range specs {
			// imu misses step 10.
			if step == 10 && spec.Name == "imu" {
				continue
			}
			require.NoError(t, o.Submit(spec.Name, sampleFor(spec.Kind), step))
		}
		frame, err := o.Step(step, float64(step)*0.05)
		require.NoError(t, err)

		if step == 10 {
			assert.True(t, frame.Partial)
			assert.Equal(t, []string{"imu"}, frame.Missing)
		} else {
			assert.False(t, frame.Partial, "step %d", step)
		}
	}

	stats, err := o.EndScene()
	require.NoError(t, err)

	assert.Equal(t, 20, stats.Frames)
	assert.Equal(t, 1, stats.PartialFrames)
	assert.Equal(t, map[string]int{"imu": 1}, stats.MissingBySensor)
	require.Len(t, stats.ArrivalCounts, 20)
	assert.Equal(t, 2.0, stats.ArrivalCounts[9])
	assert.Equal(t, 3.0, stats.ArrivalCounts[0])

	// Every sensor delivered exactly once per frame, absent or not, in
	// ascending index order.
	require.Len(t, sink.writes, 60)
	for i, w := range sink.writes {
		assert.Equal(t, uint64(i/3+1), w.index)
	}
}

func TestOrchestratorStepDesync(t *testing.T) {
	t.Parallel()

	o, err := NewOrchestrator(Config{Sink: &memorySink{}, AwaitTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, o.StartScene(1, testSpecs(), 5))

	_, err = o.Step(3, 0.15)
	require.NoError(t, err)

	_, err = o.Step(3, 0.15)
	assert.ErrorIs(t, err, ErrSimulationDesync)
	_, err = o.Step(2, 0.10)
	assert.ErrorIs(t, err, ErrSimulationDesync)

	// Forward progress still works.
	_, err = o.Step(4, 0.20)
	assert.NoError(t, err)
}

func TestOrchestratorSceneLifecycle(t *testing.T) {
	t.Parallel()

	o, err := NewOrchestrator(Config{Sink: &memorySink{}})
	require.NoError(t, err)

	_, err = o.Step(1, 0.05)
	assert.ErrorIs(t, err, rig.ErrConfiguration)
	_, err = o.EndScene()
	assert.ErrorIs(t, err, rig.ErrConfiguration)

	require.NoError(t, o.StartScene(1, testSpecs(), 5))
	assert.ErrorIs(t, o.StartScene(2, testSpecs(), 5), rig.ErrConfiguration)

	_, err = o.EndScene()
	require.NoError(t, err)

	// Scenes run back to back on the same orchestrator.
	assert.NoError(t, o.StartScene(2, testSpecs(), 5))
}

func TestOrchestratorAnnotatesCollectingCameras(t *testing.T) {
	t.Parallel()

	annotations := &memoryAnnotations{}
	o, err := NewOrchestrator(Config{
		Sink:         &memorySink{},
		Annotations:  annotations,
		AwaitTimeout: 25 * time.Millisecond,
	})
	require.NoError(t, err)

	camera := rig.SensorSpec{
		Name: "front_camera",
		Kind: rig.KindCamera,
		Attributes: map[string]string{
			"image_size_x": "64",
			"image_size_y": "64",
		},
		CollectBBox: true,
	}
	specs := rig.ExpandSpecs([]rig.SensorSpec{camera})
	require.Len(t, specs, 2)
	require.NoError(t, o.StartScene(1, specs, 2))

	camImg := rig.ImageData{Width: 64, Height: 64, Channels: 4, Pixels: make([]byte, 64*64*4)}

	// Instance raster: one 10x10 vehicle block at (20, 30), id 258.
	instImg := rig.ImageData{Width: 64, Height: 64, Channels: 4, Pixels: make([]byte, 64*64*4)}
	for y := 30; y < 40; y++ {
		for x := 20; x < 30; x++ {
			i := (y*64 + x) * 4
			instImg.Pixels[i] = 14
			instImg.Pixels[i+1] = 1 // object id 258 = (1<<8)|2
			instImg.Pixels[i+2] = 2
		}
	}

	require.NoError(t, o.Submit("front_camera", rig.ImageSample(rig.KindCamera, camImg), 1))
	require.NoError(t, o.Submit("instance_front_camera", rig.ImageSample(rig.KindInstanceCamera, instImg), 1))
	_, err = o.Step(1, 0.05)
	require.NoError(t, err)

	require.Len(t, annotations.byFrame[1], 1)
	box := annotations.byFrame[1][0]
	assert.Equal(t, uint32(258), box.ObjectID)
	assert.Equal(t, uint8(14), box.ClassID)
	assert.Equal(t, float32(20), box.X)
	assert.Equal(t, float32(30), box.Y)
	assert.Equal(t, float32(10), box.W)
	assert.Equal(t, float32(10), box.H)
	assert.Equal(t, uint64(1), box.SourceFrame)

	// An absent instance sample yields no annotations, not an error.
	require.NoError(t, o.Submit("front_camera", rig.ImageSample(rig.KindCamera, camImg), 2))
	_, err = o.Step(2, 0.10)
	require.NoError(t, err)
	_, ok := annotations.byFrame[2]
	assert.False(t, ok)

	stats, err := o.EndScene()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Annotations)
}
