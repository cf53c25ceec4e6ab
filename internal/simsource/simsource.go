// Package simsource is a deterministic synthetic stepping source. It
// stands in for the simulator in tests and demos: every sensor kind gets a
// plausible payload derived from a seeded generator, delivered on its own
// goroutine the way real sensor callbacks arrive.
package simsource

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/capture"
	"github.com/gridframe-data/gridframe/internal/rig"
)

// Radar synthesis constants from the capture pipeline's intensity model:
// intensity = (refDistance/depth)^4 * rcs.
const (
	radarRCS         = 10.0
	radarRefDistance = 10.0
)

// Config tunes the source. The zero value is a fully reliable source at
// 20 Hz with seed 0.
type Config struct {
	Seed     int64
	TickRate int

	// DropRate is the per-sensor per-tick probability of simulating a
	// missed callback. Drops are deterministic for a given seed.
	DropRate float64

	// DropPlan forces specific sensors to miss specific frame indices,
	// for scripted failure scenarios. Applied on top of DropRate.
	DropPlan map[uint64][]string
}

// Source implements capture.SteppingSource.
type Source struct {
	cfg   Config
	specs []rig.SensorSpec
	rngs  map[string]*rand.Rand
	drop  *rand.Rand
	step  uint64
}

// New creates a source. Each sensor gets an independent generator seeded
// from Config.Seed and the sensor name, so per-sensor goroutines never
// share rand state and output does not depend on delivery order.
func New(cfg Config) *Source {
	if cfg.TickRate <= 0 {
		cfg.TickRate = rig.DefaultTickRate
	}
	return &Source{cfg: cfg}
}

// StartScene resets generation for a scene's sensor set.
func (s *Source) StartScene(sceneID int, specs []rig.SensorSpec) error {
	s.specs = specs
	s.rngs = make(map[string]*rand.Rand, len(specs))
	for _, spec := range specs {
		s.rngs[spec.Name] = rand.New(rand.NewSource(s.cfg.Seed ^ int64(sceneID)<<32 ^ nameSeed(spec.Name)))
	}
	s.drop = rand.New(rand.NewSource(s.cfg.Seed ^ int64(sceneID)))
	return nil
}

// EndScene releases scene state.
func (s *Source) EndScene() error {
	s.specs = nil
	s.rngs = nil
	return nil
}

// NextStep advances one tick and delivers every non-dropped sensor's
// sample through submit, one goroutine per sensor. It returns once all
// deliveries have completed.
func (s *Source) NextStep(submit capture.SubmitFunc) (uint64, float64, error) {
	if s.specs == nil {
		return 0, 0, fmt.Errorf("%w: NextStep outside a scene", rig.ErrConfiguration)
	}
	s.step++
	index := s.step
	simTime := float64(index) / float64(s.cfg.TickRate)

	// Decide drops up front: the drop rng is shared, so consulting it from
	// delivery goroutines would be racy and order-dependent.
	dropped := make(map[string]bool, len(s.specs))
	for _, spec := range s.specs {
		if s.cfg.DropRate > 0 && s.drop.Float64() < s.cfg.DropRate {
			dropped[spec.Name] = true
		}
	}
	for _, name := range s.cfg.DropPlan[index] {
		dropped[name] = true
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(s.specs))
	for _, spec := range s.specs {
		if dropped[spec.Name] {
			continue
		}
		sample, err := s.generate(spec, index)
		if err != nil {
			return 0, 0, err
		}
		wg.Add(1)
		go func(name string, sample rig.SensorSample) {
			defer wg.Done()
			if err := submit(name, sample, index); err != nil {
				errs <- fmt.Errorf("submit %s: %w", name, err)
			}
		}(spec.Name, sample)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return 0, 0, err
	}
	return index, simTime, nil
}

func nameSeed(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

func (s *Source) generate(spec rig.SensorSpec, index uint64) (rig.SensorSample, error) {
	rng := s.rngs[spec.Name]
	switch spec.Kind {
	case rig.KindCamera, rig.KindSemanticCamera:
		img, err := s.paintBackdrop(spec, index)
		if err != nil {
			return rig.SensorSample{}, err
		}
		return rig.ImageSample(spec.Kind, img), nil
	case rig.KindInstanceCamera:
		img, err := s.paintInstances(spec, index)
		if err != nil {
			return rig.SensorSample{}, err
		}
		return rig.ImageSample(spec.Kind, img), nil
	case rig.KindRadar:
		return rig.RadarSample(genRadar(rng)), nil
	case rig.KindLidar:
		return rig.LidarSample(genLidar(rng)), nil
	case rig.KindSemanticLidar:
		return rig.SemanticLidarSample(genSemanticLidar(rng)), nil
	case rig.KindGNSS:
		return rig.GNSSSample(genGNSS(rng, index)), nil
	case rig.KindIMU:
		return rig.IMUSample(genIMU(rng)), nil
	default:
		return rig.SensorSample{}, fmt.Errorf("%w: cannot synthesize kind %q", rig.ErrConfiguration, spec.Kind)
	}
}

// paintBackdrop fills a camera raster with a frame-varying gradient.
func (s *Source) paintBackdrop(spec rig.SensorSpec, index uint64) (rig.ImageData, error) {
	w, h, err := spec.ImageSize()
	if err != nil {
		return rig.ImageData{}, err
	}
	img := rig.ImageData{Width: w, Height: h, Channels: 4, Pixels: make([]byte, w*h*4)}
	shade := byte(index * 7)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			img.Pixels[i] = byte(x) + shade
			img.Pixels[i+1] = byte(y)
			img.Pixels[i+2] = shade
			img.Pixels[i+3] = 0xff
		}
	}
	return img, nil
}

// paintInstances renders an instance-segmentation raster: background plus
// a few vehicle rectangles. Each rectangle carries a stable object id in
// (G<<8)|B and a vehicle class in R, drifting rightwards over time so
// consecutive frames differ.
func (s *Source) paintInstances(spec rig.SensorSpec, index uint64) (rig.ImageData, error) {
	w, h, err := spec.ImageSize()
	if err != nil {
		return rig.ImageData{}, err
	}
	img := rig.ImageData{Width: w, Height: h, Channels: 4, Pixels: make([]byte, w*h*4)}
	for i := 3; i < len(img.Pixels); i += 4 {
		img.Pixels[i] = 0xff
	}

	vehicles := 3
	for v := 0; v < vehicles; v++ {
		objectID := uint32(100 + v)
		class := annotate.VehicleClasses[v%len(annotate.VehicleClasses)]
		bw, bh := w/8, h/8
		x0 := (v*w/vehicles + int(index)*2) % (w - bw)
		y0 := (v * h / (vehicles + 1)) % (h - bh)
		for y := y0; y < y0+bh; y++ {
			for x := x0; x < x0+bw; x++ {
				i := (y*w + x) * 4
				img.Pixels[i] = class
				img.Pixels[i+1] = byte(objectID >> 8)
				img.Pixels[i+2] = byte(objectID)
			}
		}
	}
	return img, nil
}

func genRadar(rng *rand.Rand) []rig.RadarDetection {
	n := 20 + rng.Intn(30)
	dets := make([]rig.RadarDetection, n)
	for i := range dets {
		depth := 5 + rng.Float64()*195
		dets[i] = rig.RadarDetection{
			Depth:        float32(depth),
			AzimuthDeg:   float32(rng.Float64()*60 - 30),
			ElevationDeg: float32(rng.Float64()*10 - 5),
			Velocity:     float32(rng.Float64()*50 - 25),
			Intensity:    float32(math.Pow(radarRefDistance/depth, 4) * radarRCS),
		}
	}
	return dets
}

func genLidar(rng *rand.Rand) []rig.LidarPoint {
	const rings = 16
	const pointsPerRing = 90
	pts := make([]rig.LidarPoint, 0, rings*pointsPerRing)
	for ring := 0; ring < rings; ring++ {
		elevation := -15.0 + 2.0*float64(ring)
		for i := 0; i < pointsPerRing; i++ {
			azimuth := 2 * math.Pi * float64(i) / pointsPerRing
			r := 10 + rng.Float64()*40
			horiz := r * math.Cos(elevation*math.Pi/180)
			pts = append(pts, rig.LidarPoint{
				X:         float32(horiz * math.Cos(azimuth)),
				Y:         float32(horiz * math.Sin(azimuth)),
				Z:         float32(r * math.Sin(elevation*math.Pi/180)),
				Intensity: float32(rng.Float64()),
			})
		}
	}
	return pts
}

func genSemanticLidar(rng *rand.Rand) []rig.SemanticLidarPoint {
	base := genLidar(rng)
	pts := make([]rig.SemanticLidarPoint, len(base))
	for i, p := range base {
		pts[i] = rig.SemanticLidarPoint{
			X: p.X, Y: p.Y, Z: p.Z,
			CosIncidence: float32(rng.Float64()),
			ObjectIdx:    uint32(100 + rng.Intn(3)),
			SemanticTag:  uint32(annotate.VehicleClasses[rng.Intn(len(annotate.VehicleClasses))]),
		}
	}
	return pts
}

func genGNSS(rng *rand.Rand, index uint64) rig.GNSSFix {
	// Slow walk away from a fixed origin.
	return rig.GNSSFix{
		Latitude:  48.9999 + float64(index)*1e-6 + rng.Float64()*1e-7,
		Longitude: 8.0001 + float64(index)*1e-6 + rng.Float64()*1e-7,
		Altitude:  3.0 + rng.Float64()*0.1,
	}
}

func genIMU(rng *rand.Rand) rig.IMUReading {
	noise := func(scale float64) float64 { return (rng.Float64() - 0.5) * scale }
	return rig.IMUReading{
		Accel:   [3]float64{noise(0.2), noise(0.2), 9.81 + noise(0.05)},
		Gyro:    [3]float64{noise(0.02), noise(0.02), noise(0.02)},
		Compass: rng.Float64() * 2 * math.Pi,
	}
}
