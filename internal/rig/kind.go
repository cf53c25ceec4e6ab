// Package rig describes the sensor rig mounted on the simulated vehicle:
// which sensors exist, how they are posed, and the shape of the samples
// they deliver. Everything here is plain value data; the capture and
// replay packages consume it read-only.
package rig

import "fmt"

// SensorKind identifies the payload family a sensor produces.
type SensorKind string

const (
	KindCamera         SensorKind = "camera"
	KindSemanticCamera SensorKind = "semantic_camera"
	KindInstanceCamera SensorKind = "instance_camera"
	KindRadar          SensorKind = "radar"
	KindLidar          SensorKind = "lidar"
	KindSemanticLidar  SensorKind = "semantic_lidar"
	KindGNSS           SensorKind = "gnss"
	KindIMU            SensorKind = "imu"
)

// Kinds lists every valid sensor kind.
var Kinds = []SensorKind{
	KindCamera, KindSemanticCamera, KindInstanceCamera,
	KindRadar, KindLidar, KindSemanticLidar, KindGNSS, KindIMU,
}

// Valid reports whether k names a known sensor kind.
func (k SensorKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// CameraLike reports whether samples of this kind carry a pixel raster.
func (k SensorKind) CameraLike() bool {
	return k == KindCamera || k == KindSemanticCamera || k == KindInstanceCamera
}

// ParseKind converts a string to a SensorKind, rejecting unknown values.
func ParseKind(s string) (SensorKind, error) {
	k := SensorKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown sensor kind %q", ErrConfiguration, s)
	}
	return k, nil
}
