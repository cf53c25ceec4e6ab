package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridframe-data/gridframe/internal/rig"
)

func gnssSample() rig.SensorSample {
	return rig.GNSSSample(rig.GNSSFix{Latitude: 49.0, Longitude: 8.0, Altitude: 3.0})
}

func imuSample() rig.SensorSample {
	return rig.IMUSample(rig.IMUReading{Accel: [3]float64{0, 0, 9.81}})
}

func newTestBarrier(t *testing.T) *Barrier {
	t.Helper()
	b := NewBarrier()
	require.NoError(t, b.Register("gnss", rig.KindGNSS))
	require.NoError(t, b.Register("imu", rig.KindIMU))
	return b
}

func TestBarrierReleasesWhenAllArrive(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	require.NoError(t, b.Submit("gnss", gnssSample(), 1))
	require.NoError(t, b.Submit("imu", imuSample(), 1))

	frame, err := b.Await(7, 1, 0.05, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 7, frame.SceneID)
	assert.Equal(t, uint64(1), frame.Index)
	assert.False(t, frame.Partial)
	assert.Empty(t, frame.Missing)
	assert.Len(t, frame.Samples, 2)
	assert.False(t, frame.Samples["gnss"].Absent)
	assert.False(t, frame.Samples["imu"].Absent)
}

func TestBarrierTimeoutReleasesPartial(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	require.NoError(t, b.Submit("gnss", gnssSample(), 1))

	frame, err := b.Await(1, 1, 0.05, 20*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, frame.Partial)
	assert.Equal(t, []string{"imu"}, frame.Missing)

	absent := frame.Samples["imu"]
	assert.True(t, absent.Absent)
	assert.Equal(t, rig.KindIMU, absent.Kind)

	assert.Equal(t, uint64(1), b.Warnings().PartialFrames)
}

func TestBarrierStaleSubmitRejected(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	require.NoError(t, b.Submit("gnss", gnssSample(), 1))
	require.NoError(t, b.Submit("imu", imuSample(), 1))
	_, err := b.Await(1, 1, 0.05, time.Second)
	require.NoError(t, err)

	err = b.Submit("gnss", gnssSample(), 1)
	assert.ErrorIs(t, err, ErrStaleFrame)

	// Later indices are still accepted.
	assert.NoError(t, b.Submit("gnss", gnssSample(), 2))
}

func TestBarrierUnknownSensor(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	err := b.Submit("thermal", gnssSample(), 1)
	assert.ErrorIs(t, err, ErrUnknownSensor)
}

func TestBarrierKindMismatch(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	err := b.Submit("gnss", imuSample(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered as")
}

func TestBarrierDuplicateKeepsFirst(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	first := rig.GNSSSample(rig.GNSSFix{Latitude: 1})
	second := rig.GNSSSample(rig.GNSSFix{Latitude: 2})

	require.NoError(t, b.Submit("gnss", first, 1))
	require.NoError(t, b.Submit("gnss", second, 1))
	require.NoError(t, b.Submit("imu", imuSample(), 1))

	frame, err := b.Await(1, 1, 0.05, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 1.0, frame.Samples["gnss"].GNSS.Latitude)
	assert.Equal(t, uint64(1), b.Warnings().DuplicateSamples)
}

func TestBarrierAwaitIndexRegression(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	require.NoError(t, b.Submit("gnss", gnssSample(), 2))
	require.NoError(t, b.Submit("imu", imuSample(), 2))
	_, err := b.Await(1, 2, 0.1, time.Second)
	require.NoError(t, err)

	_, err = b.Await(1, 2, 0.1, time.Second)
	assert.ErrorIs(t, err, ErrSimulationDesync)
	_, err = b.Await(1, 1, 0.05, time.Second)
	assert.ErrorIs(t, err, ErrSimulationDesync)
}

func TestBarrierRegistrationWindow(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	// A submission opens an in-flight frame, closing the window.
	require.NoError(t, b.Submit("gnss", gnssSample(), 1))
	assert.ErrorIs(t, b.Register("radar", rig.KindRadar), rig.ErrConfiguration)
	assert.ErrorIs(t, b.Deregister("imu"), rig.ErrConfiguration)

	// Releasing the frame reopens it.
	_, err := b.Await(1, 1, 0.05, 20*time.Millisecond)
	require.NoError(t, err)
	assert.NoError(t, b.Register("radar", rig.KindRadar))
	assert.Equal(t, []string{"gnss", "imu", "radar"}, b.Registered())
}

func TestBarrierDoubleRegister(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)
	assert.ErrorIs(t, b.Register("gnss", rig.KindGNSS), rig.ErrConfiguration)
}

func TestBarrierOverlappingSteps(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	// Step 2's samples arrive while step 1 is still pending.
	require.NoError(t, b.Submit("gnss", gnssSample(), 2))
	require.NoError(t, b.Submit("gnss", gnssSample(), 1))
	require.NoError(t, b.Submit("imu", imuSample(), 1))

	frame1, err := b.Await(1, 1, 0.05, time.Second)
	require.NoError(t, err)
	assert.False(t, frame1.Partial)

	require.NoError(t, b.Submit("imu", imuSample(), 2))
	frame2, err := b.Await(1, 2, 0.1, time.Second)
	require.NoError(t, err)
	assert.False(t, frame2.Partial)
}

func TestBarrierConcurrentSubmissions(t *testing.T) {
	t.Parallel()
	b := NewBarrier()
	sensors := []string{"a", "b", "c", "d", "e"}
	for _, name := range sensors {
		require.NoError(t, b.Register(name, rig.KindGNSS))
	}

	for index := uint64(1); index <= 50; index++ {
		var wg sync.WaitGroup
		for _, name := range sensors {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				assert.NoError(t, b.Submit(name, gnssSample(), index))
			}(name)
		}
		frame, err := b.Await(1, index, float64(index)*0.05, time.Second)
		wg.Wait()
		require.NoError(t, err)
		assert.False(t, frame.Partial, "frame %d", index)
		assert.Len(t, frame.Samples, len(sensors))
	}
	assert.Equal(t, WarningCounts{}, b.Warnings())
}

func TestBarrierResetRestartsReleaseTracking(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	require.NoError(t, b.Submit("gnss", gnssSample(), 5))
	require.NoError(t, b.Submit("imu", imuSample(), 5))
	_, err := b.Await(1, 5, 0.25, time.Second)
	require.NoError(t, err)

	b.Reset()

	// A fresh scene may reuse low indices.
	require.NoError(t, b.Submit("gnss", gnssSample(), 1))
	require.NoError(t, b.Submit("imu", imuSample(), 1))
	frame, err := b.Await(2, 1, 0.05, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.SceneID)
}

func TestBarrierSubmitNeverBlocks(t *testing.T) {
	t.Parallel()
	b := newTestBarrier(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 100; i++ {
			_ = b.Submit("gnss", gnssSample(), i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked")
	}
}
