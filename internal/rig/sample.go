package rig

import "fmt"

// RadarDetection is one radar return in sensor-local polar coordinates.
// Angles are degrees, depth metres, velocity m/s towards the sensor.
type RadarDetection struct {
	Depth        float32
	ElevationDeg float32
	AzimuthDeg   float32
	Velocity     float32
	Intensity    float32
}

// LidarPoint is one cartesian lidar return in the sensor frame.
type LidarPoint struct {
	X, Y, Z   float32
	Intensity float32
}

// SemanticLidarPoint carries the semantic lidar's per-return labelling in
// addition to geometry. ObjectIdx is the simulator's per-object id and
// SemanticTag its class.
type SemanticLidarPoint struct {
	X, Y, Z      float32
	CosIncidence float32
	ObjectIdx    uint32
	SemanticTag  uint32
}

// ImageData is a raw interleaved raster as delivered by camera-like sensors.
type ImageData struct {
	Width    int
	Height   int
	Channels int
	Pixels   []byte
}

// GNSSFix is one GNSS measurement.
type GNSSFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// IMUReading is one inertial measurement. Accel is m/s², Gyro rad/s,
// Compass degrees from north.
type IMUReading struct {
	Accel   [3]float64 `json:"accelerometer"`
	Gyro    [3]float64 `json:"gyroscope"`
	Compass float64    `json:"compass"`
}

// SensorSample is the tagged union of every payload a sensor can deliver
// for one tick. Exactly one payload field is populated, selected by Kind;
// Absent marks a sensor that timed out for the frame. Consumers switch
// exhaustively over Kind rather than probing fields.
type SensorSample struct {
	Kind   SensorKind
	Absent bool

	Image         *ImageData
	Radar         []RadarDetection
	Lidar         []LidarPoint
	SemanticLidar []SemanticLidarPoint
	GNSS          *GNSSFix
	IMU           *IMUReading
}

// AbsentSample returns the explicit marker recorded for a sensor that did
// not deliver before the frame timeout.
func AbsentSample(kind SensorKind) SensorSample {
	return SensorSample{Kind: kind, Absent: true}
}

// ImageSample wraps a raster payload.
func ImageSample(kind SensorKind, img ImageData) SensorSample {
	return SensorSample{Kind: kind, Image: &img}
}

// RadarSample wraps a detection list.
func RadarSample(dets []RadarDetection) SensorSample {
	return SensorSample{Kind: KindRadar, Radar: dets}
}

// LidarSample wraps a cartesian point cloud.
func LidarSample(points []LidarPoint) SensorSample {
	return SensorSample{Kind: KindLidar, Lidar: points}
}

// SemanticLidarSample wraps a labelled point cloud.
func SemanticLidarSample(points []SemanticLidarPoint) SensorSample {
	return SensorSample{Kind: KindSemanticLidar, SemanticLidar: points}
}

// GNSSSample wraps a position fix.
func GNSSSample(fix GNSSFix) SensorSample {
	return SensorSample{Kind: KindGNSS, GNSS: &fix}
}

// IMUSample wraps an inertial reading.
func IMUSample(r IMUReading) SensorSample {
	return SensorSample{Kind: KindIMU, IMU: &r}
}

// CheckKind verifies the sample's payload matches the declared kind. The
// barrier calls this on submit so a mismatched payload is caught where the
// sensor delivered it, not where storage decodes it.
func (s SensorSample) CheckKind() error {
	if s.Absent {
		return nil
	}
	var ok bool
	switch s.Kind {
	case KindCamera, KindSemanticCamera, KindInstanceCamera:
		ok = s.Image != nil
	case KindRadar:
		ok = s.Radar != nil
	case KindLidar:
		ok = s.Lidar != nil
	case KindSemanticLidar:
		ok = s.SemanticLidar != nil
	case KindGNSS:
		ok = s.GNSS != nil
	case KindIMU:
		ok = s.IMU != nil
	default:
		return fmt.Errorf("sample has unknown kind %q", s.Kind)
	}
	if !ok {
		return fmt.Errorf("sample kind %q has no matching payload", s.Kind)
	}
	return nil
}

// Frame is the synchronized bundle of all sensors' samples for one tick.
// The barrier creates it exactly once per completed step; it is immutable
// after release.
type Frame struct {
	SceneID int
	Index   uint64
	SimTime float64 // simulation seconds
	Samples map[string]SensorSample
	Partial bool
	Missing []string
}

// TimestampMillis returns the frame's simulation time in integer
// milliseconds, the unit used for on-disk file stems.
func (f *Frame) TimestampMillis() int64 {
	return int64(f.SimTime * 1e3)
}
