package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/rig"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func testSpecs() []rig.SensorSpec {
	return []rig.SensorSpec{
		{
			Name: "front_camera",
			Kind: rig.KindCamera,
			Attributes: map[string]string{
				"image_size_x": "8",
				"image_size_y": "8",
			},
			CollectBBox: true,
		},
		{Name: "front_radar", Kind: rig.KindRadar},
		{Name: "gnss", Kind: rig.KindGNSS},
	}
}

func frameAt(index uint64) *rig.Frame {
	return &rig.Frame{
		SceneID: 1,
		Index:   index,
		SimTime: float64(index) * 0.05,
		Samples: map[string]rig.SensorSample{},
	}
}

func cameraSample() rig.SensorSample {
	img := rig.ImageData{Width: 8, Height: 8, Channels: 4, Pixels: make([]byte, 8*8*4)}
	for i := 0; i < len(img.Pixels); i += 4 {
		img.Pixels[i] = byte(i)
		img.Pixels[i+3] = 0xff
	}
	return rig.ImageSample(rig.KindCamera, img)
}

func TestCodecRadarRoundTrip(t *testing.T) {
	t.Parallel()

	dets := []rig.RadarDetection{
		{Depth: 10, ElevationDeg: -1.5, AzimuthDeg: 12.25, Velocity: -4.5, Intensity: 10},
		{Depth: 55.5, ElevationDeg: 0.25, AzimuthDeg: -8, Velocity: 2.125, Intensity: 0.01},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeSample(&buf, rig.RadarSample(dets), 150))

	decoded, err := DecodeSample(&buf, rig.KindRadar)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(dets, decoded.Radar))
}

func TestCodecEmptyPointSets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, EncodeSample(&buf, rig.LidarSample(nil), 0))

	decoded, err := DecodeSample(&buf, rig.KindLidar)
	require.NoError(t, err)
	assert.Empty(t, decoded.Lidar)
}

func TestCodecImageRoundTrip(t *testing.T) {
	t.Parallel()

	sample := cameraSample()
	var buf bytes.Buffer
	require.NoError(t, EncodeSample(&buf, sample, 50))

	decoded, err := DecodeSample(&buf, rig.KindCamera)
	require.NoError(t, err)
	require.NotNil(t, decoded.Image)
	assert.Equal(t, sample.Image.Width, decoded.Image.Width)
	assert.Equal(t, sample.Image.Height, decoded.Image.Height)
	assert.Equal(t, sample.Image.Pixels, decoded.Image.Pixels)
}

func TestCodecGNSSCarriesTimestamp(t *testing.T) {
	t.Parallel()

	fix := rig.GNSSFix{Latitude: 48.1, Longitude: 8.2, Altitude: 3.5}
	var buf bytes.Buffer
	require.NoError(t, EncodeSample(&buf, rig.GNSSSample(fix), 1250))

	assert.Contains(t, buf.String(), `"timestamp": 1250`)

	decoded, err := DecodeSample(&buf, rig.KindGNSS)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(fix, *decoded.GNSS))
}

func TestCodecRefusesAbsent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := EncodeSample(&buf, rig.AbsentSample(rig.KindRadar), 0)
	assert.Error(t, err)
}

func TestSceneWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	ix := testIndex(t)
	specs := testSpecs()

	sw, err := NewSceneWriter(base, 1, "", 3, specs, ix)
	require.NoError(t, err)

	radar := rig.RadarSample([]rig.RadarDetection{{Depth: 20, Intensity: 0.6}})

	for index := uint64(1); index <= 3; index++ {
		frame := frameAt(index)
		require.NoError(t, sw.WriteSample(frame, "front_camera", cameraSample()))
		require.NoError(t, sw.WriteSample(frame, "gnss", gnssAt(index)))
		// Radar misses frame 2.
		if index != 2 {
			require.NoError(t, sw.WriteSample(frame, "front_radar", radar))
		} else {
			require.NoError(t, sw.WriteSample(frame, "front_radar", rig.AbsentSample(rig.KindRadar)))
		}
	}

	reader, err := NewSceneReader(ix, 1)
	require.NoError(t, err)

	names := make([]string, 0)
	for _, spec := range reader.Sensors() {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"front_camera", "front_radar", "gnss"}, names)

	observed, err := reader.ObservedIndices()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, observed["front_camera"])
	assert.Equal(t, []uint64{1, 3}, observed["front_radar"], "absent samples are never indexed")

	sample, err := reader.LoadSample("front_radar", 3)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(radar.Radar, sample.Radar))

	gnss, err := reader.LoadSample("gnss", 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, gnss.GNSS.Altitude)

	_, err = reader.LoadSample("front_radar", 2)
	assert.Error(t, err)
	_, err = reader.LoadSample("thermal", 1)
	assert.Error(t, err)
}

func gnssAt(index uint64) rig.SensorSample {
	return rig.GNSSSample(rig.GNSSFix{Latitude: 48, Longitude: 8, Altitude: float64(index)})
}

func TestSceneWriterAnnotations(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	ix := testIndex(t)

	sw, err := NewSceneWriter(base, 1, "", 1, testSpecs(), ix)
	require.NoError(t, err)

	boxes := []annotate.BoundingBox{
		{ObjectID: 258, ClassID: 14, X: 2, Y: 3, W: 4, H: 5, SourceFrame: 1},
		{ObjectID: 300, ClassID: 16, X: 1, Y: 1, W: 2, H: 2, SourceFrame: 1},
	}
	frame := frameAt(1)
	require.NoError(t, sw.WriteAnnotations(frame, "front_camera", boxes))

	// JSON sidecar exists under the annotations tree.
	path := filepath.Join(SceneDir(base, 1), "annotations", "front_camera", "50.json")
	_, err = os.Stat(path)
	assert.NoError(t, err)

	reader, err := NewSceneReader(ix, 1)
	require.NoError(t, err)
	loaded, err := reader.LoadAnnotations("front_camera", 1)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(boxes, loaded))
}

func TestIndexSessionAndSceneListing(t *testing.T) {
	t.Parallel()

	ix := testIndex(t)
	session, err := ix.InsertScene(1, "", "/tmp/data", 100, testSpecs())
	require.NoError(t, err)
	assert.NotEmpty(t, session)

	// Same session groups subsequent scenes.
	again, err := ix.InsertScene(2, session, "/tmp/data", 100, testSpecs())
	require.NoError(t, err)
	assert.Equal(t, session, again)

	scenes, err := ix.Scenes()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, scenes)

	base, err := ix.SceneBasePath(2)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/data", base)

	_, err = ix.SceneBasePath(9)
	assert.Error(t, err)
}

func TestPruneSceneReportsOrphans(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	ix := testIndex(t)

	sw, err := NewSceneWriter(base, 1, "", 1, testSpecs(), ix)
	require.NoError(t, err)
	require.NoError(t, sw.WriteSample(frameAt(1), "gnss", gnssAt(1)))

	// Simulate a crash between file write and index insert.
	orphan := filepath.Join(SceneDir(base, 1), "front_radar", "999.bin")
	require.NoError(t, os.WriteFile(orphan, []byte{0, 0, 0, 0}, 0o644))

	// Annotation files are not orphans.
	annDir := filepath.Join(SceneDir(base, 1), "annotations", "front_camera")
	require.NoError(t, os.MkdirAll(annDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(annDir, "50.json"), []byte("[]"), 0o644))

	orphans, err := PruneScene(base, 1, ix)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, orphans)
}
