package rig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cameraSpec(name string, collect bool) SensorSpec {
	return SensorSpec{
		Name: name,
		Kind: KindCamera,
		Attributes: map[string]string{
			"image_size_x": "640",
			"image_size_y": "480",
		},
		CollectBBox: collect,
	}
}

func TestExpandSpecsPairsInstanceCameras(t *testing.T) {
	t.Parallel()

	specs := ExpandSpecs([]SensorSpec{
		cameraSpec("front_camera", true),
		cameraSpec("rear_camera", false),
		{Name: "gnss", Kind: KindGNSS},
	})

	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "instance_front_camera")
	assert.NotContains(t, names, "instance_rear_camera")

	for _, s := range specs {
		if s.Name == "instance_front_camera" {
			assert.Equal(t, KindInstanceCamera, s.Kind)
			assert.False(t, s.CollectBBox)
			assert.Equal(t, "640", s.Attributes["image_size_x"])
		}
	}
}

func TestValidateSpecs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		specs   []SensorSpec
		wantErr bool
	}{
		{"valid", []SensorSpec{cameraSpec("cam", true), {Name: "gnss", Kind: KindGNSS}}, false},
		{"empty name", []SensorSpec{{Name: "", Kind: KindGNSS}}, true},
		{"duplicate names", []SensorSpec{{Name: "a", Kind: KindGNSS}, {Name: "a", Kind: KindIMU}}, true},
		{"unknown kind", []SensorSpec{{Name: "x", Kind: SensorKind("thermal")}}, true},
		{"camera without dimensions", []SensorSpec{{Name: "cam", Kind: KindCamera}}, true},
		{"collect_bbox on radar", []SensorSpec{{Name: "r", Kind: KindRadar, CollectBBox: true}}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSpecs(tt.specs)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`
simulation:
  num_scenes: 3
  seconds_per_scene: 20
  base_save_path: /data/run1
  traffic:
    num_vehicles: 30
    num_pedestrians: 10
sensors:
  - name: front_camera
    kind: camera
    attributes:
      image_size_x: "1280"
      image_size_y: "720"
    collect_bbox: true
    pose:
      x: 1.5
      z: 2.4
  - name: roof_lidar
    kind: lidar
    attributes:
      channels: "64"
`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Simulation.NumScenes)
	assert.Equal(t, 400, cfg.Simulation.TicksPerScene(), "20 s at the default 20 Hz")
	assert.Equal(t, 30, cfg.Simulation.Traffic.NumVehicles)

	require.Len(t, cfg.Sensors, 2)
	assert.Equal(t, 1.5, cfg.Sensors[0].Pose.X)
	assert.True(t, cfg.Sensors[0].CollectBBox)

	expanded, err := cfg.ExpandedSensors()
	require.NoError(t, err)
	assert.Len(t, expanded, 3)
}

func TestParseConfigRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "{{"},
		{"zero scenes", "simulation:\n  num_scenes: 0\n  seconds_per_scene: 10\n  base_save_path: /d\n"},
		{"missing save path", "simulation:\n  num_scenes: 1\n  seconds_per_scene: 10\n"},
		{"negative tick rate", "simulation:\n  num_scenes: 1\n  seconds_per_scene: 10\n  tick_rate: -5\n  base_save_path: /d\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseConfig([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	kind, err := ParseKind("semantic_lidar")
	require.NoError(t, err)
	assert.Equal(t, KindSemanticLidar, kind)

	_, err = ParseKind("sonar")
	assert.ErrorIs(t, err, ErrConfiguration)

	assert.True(t, KindInstanceCamera.CameraLike())
	assert.False(t, KindRadar.CameraLike())
}

func TestSampleCheckKind(t *testing.T) {
	t.Parallel()

	good := RadarSample([]RadarDetection{{Depth: 10}})
	assert.NoError(t, good.CheckKind())

	// A radar sample must carry radar payload, not an image.
	bad := SensorSample{Kind: KindRadar, Image: &ImageData{Width: 1, Height: 1, Channels: 4, Pixels: make([]byte, 4)}}
	assert.Error(t, bad.CheckKind())

	absent := AbsentSample(KindLidar)
	assert.True(t, absent.Absent)
	assert.Equal(t, KindLidar, absent.Kind)
	assert.NoError(t, absent.CheckKind())
}

func TestFrameTimestampMillis(t *testing.T) {
	t.Parallel()

	f := Frame{SimTime: 12.345}
	assert.Equal(t, int64(12345), f.TimestampMillis())
}
