package rig

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrConfiguration marks an invalid or inconsistent rig configuration.
// Configuration faults are fatal: they abort before any capture starts.
var ErrConfiguration = errors.New("rig: configuration error")

// Pose is a sensor mount pose relative to the vehicle origin.
// Distances are metres, angles degrees.
type Pose struct {
	X     float64 `yaml:"x" json:"x"`
	Y     float64 `yaml:"y" json:"y"`
	Z     float64 `yaml:"z" json:"z"`
	Pitch float64 `yaml:"pitch" json:"pitch"`
	Yaw   float64 `yaml:"yaw" json:"yaw"`
	Roll  float64 `yaml:"roll" json:"roll"`
}

// SensorSpec describes one mounted sensor. Specs are immutable once a
// scene starts; the capture orchestrator receives them by value at
// construction and never writes back.
type SensorSpec struct {
	Name        string            `yaml:"name" json:"name"`
	Kind        SensorKind        `yaml:"kind" json:"kind"`
	Attributes  map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Pose        Pose              `yaml:"pose" json:"pose"`
	CollectBBox bool              `yaml:"collect_bbox,omitempty" json:"collect_bbox,omitempty"`
}

// InstanceCameraName returns the conventional name for the instance
// segmentation camera paired with a bbox-collecting camera.
func InstanceCameraName(cameraName string) string {
	return "instance_" + cameraName
}

// PairedInstance returns the instance-segmentation spec that shadows a
// bbox-collecting camera: same pose and attributes, CollectBBox cleared.
func (s SensorSpec) PairedInstance() SensorSpec {
	attrs := make(map[string]string, len(s.Attributes))
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	return SensorSpec{
		Name:       InstanceCameraName(s.Name),
		Kind:       KindInstanceCamera,
		Attributes: attrs,
		Pose:       s.Pose,
	}
}

// ExpandSpecs returns specs with an instance-segmentation camera appended
// directly after every plain camera that has CollectBBox set. The instance
// camera captures in lockstep with its RGB twin so annotations can be
// derived under the same frame index.
func ExpandSpecs(specs []SensorSpec) []SensorSpec {
	out := make([]SensorSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, s)
		if s.Kind == KindCamera && s.CollectBBox {
			out = append(out, s.PairedInstance())
		}
	}
	return out
}

// ImageSize reads the camera raster dimensions from a spec's attributes.
// Only meaningful for camera-like kinds.
func (s SensorSpec) ImageSize() (width, height int, err error) {
	w, err := strconv.Atoi(s.Attributes["image_size_x"])
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("%w: sensor %q has invalid image_size_x", ErrConfiguration, s.Name)
	}
	h, err := strconv.Atoi(s.Attributes["image_size_y"])
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("%w: sensor %q has invalid image_size_y", ErrConfiguration, s.Name)
	}
	return w, h, nil
}

// ValidateSpecs checks a sensor list for the faults that must abort before
// capture: duplicate names, unknown kinds, camera specs without usable
// raster dimensions.
func ValidateSpecs(specs []SensorSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: no sensors configured", ErrConfiguration)
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return fmt.Errorf("%w: sensor with empty name", ErrConfiguration)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate sensor name %q", ErrConfiguration, s.Name)
		}
		seen[s.Name] = true
		if !s.Kind.Valid() {
			return fmt.Errorf("%w: sensor %q has unknown kind %q", ErrConfiguration, s.Name, s.Kind)
		}
		if s.Kind.CameraLike() {
			if _, _, err := s.ImageSize(); err != nil {
				return err
			}
		}
		if s.CollectBBox && s.Kind != KindCamera {
			return fmt.Errorf("%w: collect_bbox is only valid on plain cameras (sensor %q is %s)", ErrConfiguration, s.Name, s.Kind)
		}
	}
	return nil
}
