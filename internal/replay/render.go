package replay

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/gridframe-data/gridframe/internal/rig"
	"github.com/gridframe-data/gridframe/internal/store"
	"github.com/gridframe-data/gridframe/internal/timeline"
)

// Radar heatmap binning. Detections beyond these limits clamp to the edge
// bins rather than vanish.
const (
	heatmapBins    = 128
	heatmapRangeM  = 250.0
	heatmapVelMS   = 30.0
	plotSizeInches = 6
)

// Renderer materializes presented frames as PNG files, one per sensor per
// position. It is the headless presentation backend: the player calls
// Present from its run loop.
type Renderer struct {
	reader *store.SceneReader
	outDir string
	specs  []rig.SensorSpec
}

// NewRenderer creates a renderer writing under outDir.
func NewRenderer(reader *store.SceneReader, outDir string) (*Renderer, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: create render dir: %w", err)
	}
	return &Renderer{reader: reader, outDir: outDir, specs: reader.Sensors()}, nil
}

// Present renders every sensor's view of one presented frame. A sensor
// resolved to Missing gets an explicit placeholder image; render failures
// for one sensor do not abort the rest.
func (r *Renderer) Present(frame timeline.PresentedFrame) error {
	var firstErr error
	for _, spec := range r.specs {
		path := filepath.Join(r.outDir, fmt.Sprintf("%s_pos%05d.png", spec.Name, frame.Position))

		srcIdx, ok := frame.Source(spec.Name)
		if !ok {
			if err := r.renderPlaceholder(path, spec.Name); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}

		sample, err := r.reader.LoadSample(spec.Name, srcIdx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("replay: load %s@%d: %w", spec.Name, srcIdx, err)
			}
			continue
		}
		if err := r.renderSample(path, spec, sample, srcIdx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Renderer) renderSample(path string, spec rig.SensorSpec, sample rig.SensorSample, srcIdx uint64) error {
	switch spec.Kind {
	case rig.KindCamera, rig.KindSemanticCamera, rig.KindInstanceCamera:
		var boxes []box
		if spec.Kind == rig.KindCamera && spec.CollectBBox {
			recorded, err := r.reader.LoadAnnotations(spec.Name, srcIdx)
			if err != nil {
				return err
			}
			for _, b := range recorded {
				boxes = append(boxes, box{x: int(b.X), y: int(b.Y), w: int(b.W), h: int(b.H)})
			}
		}
		return renderImage(path, sample.Image, boxes)
	case rig.KindRadar:
		return renderRadarHeatmap(path, spec.Name, sample.Radar)
	case rig.KindLidar:
		pts := make(plotter.XYs, len(sample.Lidar))
		for i, p := range sample.Lidar {
			pts[i] = plotter.XY{X: float64(p.X), Y: float64(p.Y)}
		}
		return renderScatter(path, spec.Name+" top-down", pts)
	case rig.KindSemanticLidar:
		pts := make(plotter.XYs, len(sample.SemanticLidar))
		for i, p := range sample.SemanticLidar {
			pts[i] = plotter.XY{X: float64(p.X), Y: float64(p.Y)}
		}
		return renderScatter(path, spec.Name+" top-down", pts)
	case rig.KindGNSS:
		fix := sample.GNSS
		return renderTextPanel(path, spec.Name, []string{
			fmt.Sprintf("lat  %.6f", fix.Latitude),
			fmt.Sprintf("lon  %.6f", fix.Longitude),
			fmt.Sprintf("alt  %.2f m", fix.Altitude),
		})
	case rig.KindIMU:
		imu := sample.IMU
		return renderTextPanel(path, spec.Name, []string{
			fmt.Sprintf("accel  %.3f %.3f %.3f", imu.Accel[0], imu.Accel[1], imu.Accel[2]),
			fmt.Sprintf("gyro   %.3f %.3f %.3f", imu.Gyro[0], imu.Gyro[1], imu.Gyro[2]),
			fmt.Sprintf("compass %.3f", imu.Compass),
		})
	default:
		return fmt.Errorf("replay: cannot render sensor kind %q", spec.Kind)
	}
}

type box struct{ x, y, w, h int }

// renderImage writes a camera raster with annotation outlines drawn on top.
func renderImage(path string, img *rig.ImageData, boxes []box) error {
	if img == nil {
		return fmt.Errorf("replay: camera sample has no raster")
	}
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			src := (y*img.Width + x) * img.Channels
			dst := rgba.PixOffset(x, y)
			rgba.Pix[dst] = img.Pixels[src]
			rgba.Pix[dst+1] = img.Pixels[src+1]
			rgba.Pix[dst+2] = img.Pixels[src+2]
			rgba.Pix[dst+3] = 0xff
		}
	}
	outline := color.RGBA{R: 0xff, A: 0xff}
	for _, b := range boxes {
		drawRect(rgba, b.x, b.y, b.w, b.h, outline)
	}
	return writePNG(path, rgba)
}

// drawRect draws a one-pixel rectangle outline, clipped to the image.
func drawRect(img *image.RGBA, x, y, w, h int, c color.RGBA) {
	bounds := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(bounds) {
			img.SetRGBA(px, py, c)
		}
	}
	for dx := 0; dx < w; dx++ {
		set(x+dx, y)
		set(x+dx, y+h-1)
	}
	for dy := 0; dy < h; dy++ {
		set(x, y+dy)
		set(x+w-1, y+dy)
	}
}

// rangeDopplerGrid bins radar detections into a range-vs-velocity count
// grid for the heatmap plotter.
type rangeDopplerGrid struct {
	counts [heatmapBins][heatmapBins]float64
}

func newRangeDopplerGrid(dets []rig.RadarDetection) *rangeDopplerGrid {
	g := &rangeDopplerGrid{}
	for _, d := range dets {
		rb := int(float64(d.Depth) / heatmapRangeM * heatmapBins)
		vb := int((float64(d.Velocity) + heatmapVelMS) / (2 * heatmapVelMS) * heatmapBins)
		g.counts[clampBin(rb)][clampBin(vb)] += float64(d.Intensity)
	}
	return g
}

func clampBin(b int) int {
	if b < 0 {
		return 0
	}
	if b >= heatmapBins {
		return heatmapBins - 1
	}
	return b
}

func (g *rangeDopplerGrid) Dims() (c, r int) { return heatmapBins, heatmapBins }
func (g *rangeDopplerGrid) Z(c, r int) float64 {
	return g.counts[r][c]
}
func (g *rangeDopplerGrid) X(c int) float64 {
	return -heatmapVelMS + 2*heatmapVelMS*float64(c)/float64(heatmapBins-1)
}
func (g *rangeDopplerGrid) Y(r int) float64 {
	return heatmapRangeM * float64(r) / float64(heatmapBins-1)
}

func renderRadarHeatmap(path, name string, dets []rig.RadarDetection) error {
	p := plot.New()
	p.Title.Text = name + " range-Doppler"
	p.X.Label.Text = "Velocity (m/s)"
	p.Y.Label.Text = "Range (m)"

	hm := plotter.NewHeatMap(newRangeDopplerGrid(dets), palette.Heat(12, 1))
	p.Add(hm)

	return p.Save(plotSizeInches*vg.Inch, plotSizeInches*vg.Inch, path)
}

func renderScatter(path, title string, pts plotter.XYs) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	if len(pts) > 0 {
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Radius = vg.Points(1)
		sc.GlyphStyle.Color = color.RGBA{B: 0xc0, A: 0xff}
		p.Add(sc)
	}
	return p.Save(plotSizeInches*vg.Inch, plotSizeInches*vg.Inch, path)
}

// renderTextPanel draws readings as labels on an empty plot. GNSS and IMU
// have no natural raster; a text panel keeps every sensor visible in the
// same PNG grid.
func renderTextPanel(path, title string, lines []string) error {
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	xys := make(plotter.XYs, len(lines))
	for i := range lines {
		xys[i] = plotter.XY{X: 0.1, Y: float64(len(lines) - i)}
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: lines})
	if err != nil {
		return err
	}
	p.Add(labels)
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, float64(len(lines)+1)

	return p.Save(plotSizeInches*vg.Inch, plotSizeInches/2*vg.Inch, path)
}

func (r *Renderer) renderPlaceholder(path, name string) error {
	return renderTextPanel(path, name, []string{"no sample recorded"})
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("replay: create image file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("replay: encode image: %w", err)
	}
	return nil
}
