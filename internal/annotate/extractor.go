// Package annotate derives 2D bounding-box annotations from
// instance-segmentation rasters. The extractor is a pure function over
// pixel data: the same raster always yields the same boxes, and nothing
// here touches the simulator, storage, or clocks.
package annotate

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"sort"

	"github.com/gridframe-data/gridframe/internal/rig"
)

// DefaultMinPixels drops no groups; every visible object id yields a box.
const DefaultMinPixels = 1

// NoiseMinPixels is the threshold the annotate CLI uses to discard tiny
// occluded silhouettes. A knob, not an invariant.
const NoiseMinPixels = 50

// VehicleClasses are the semantic tags the dataset pipeline treats as
// vehicles: car, truck, bus, motorcycle.
var VehicleClasses = []uint8{14, 15, 16, 18}

// BoundingBox is one derived annotation. Extents are inclusive pixel
// counts: a 10x10 block of one object id yields W=H=10 and a single-pixel
// object W=H=1. SourceFrame ties the record back to the raster it was
// computed from; annotations have no independent lifecycle.
type BoundingBox struct {
	ObjectID    uint32  `json:"object_id"`
	ClassID     uint8   `json:"class_id"`
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	W           float32 `json:"w"`
	H           float32 `json:"h"`
	SourceFrame uint64  `json:"source_frame"`
}

// Options tune extraction. The zero value is usable: every class accepted,
// MinPixels defaulting to 1.
type Options struct {
	// MinPixels drops object groups with fewer pixels. Values below 1 are
	// treated as DefaultMinPixels.
	MinPixels int

	// ClassFilter, when non-nil, restricts extraction to these semantic
	// class ids (channel R values). Nil accepts everything.
	ClassFilter []uint8
}

func (o Options) minPixels() int {
	if o.MinPixels < 1 {
		return DefaultMinPixels
	}
	return o.MinPixels
}

func (o Options) classAllowed(class uint8) bool {
	if o.ClassFilter == nil {
		return true
	}
	for _, c := range o.ClassFilter {
		if c == class {
			return true
		}
	}
	return false
}

// group accumulates one object id's pixel extents and class votes.
type group struct {
	minX, minY int
	maxX, maxY int
	count      int
	classVotes map[uint8]int
}

// Extract decodes an instance-segmentation raster into bounding boxes.
//
// Channel 0 (R) holds the semantic class; channels 1-2 (G,B) together hold
// a 16-bit object id, G the high byte. Pixels with object id 0 are
// background. Object ids wider than 16 bits wrap silently upstream; the
// extractor sees only what the raster encodes. The ego vehicle's own id is
// not filtered here — exclusion is the caller's policy.
//
// An all-background raster yields an empty slice and no error.
func Extract(img rig.ImageData, sourceFrame uint64, opts Options) ([]BoundingBox, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("annotate: raster has invalid dimensions %dx%d", img.Width, img.Height)
	}
	if img.Channels < 3 {
		return nil, fmt.Errorf("annotate: raster needs at least 3 channels, got %d", img.Channels)
	}
	if want := img.Width * img.Height * img.Channels; len(img.Pixels) < want {
		return nil, fmt.Errorf("annotate: raster buffer has %d bytes, want %d", len(img.Pixels), want)
	}

	groups := make(map[uint32]*group)

	// Single pass: reconstruct object ids and grow each group's extents.
	for y := 0; y < img.Height; y++ {
		row := y * img.Width * img.Channels
		for x := 0; x < img.Width; x++ {
			px := row + x*img.Channels
			r := img.Pixels[px]
			g := img.Pixels[px+1]
			b := img.Pixels[px+2]

			objectID := uint32(g)<<8 | uint32(b)
			if objectID == 0 {
				continue
			}
			if !opts.classAllowed(r) {
				continue
			}

			grp, ok := groups[objectID]
			if !ok {
				grp = &group{minX: x, minY: y, maxX: x, maxY: y, classVotes: make(map[uint8]int)}
				groups[objectID] = grp
			} else {
				if x < grp.minX {
					grp.minX = x
				}
				if x > grp.maxX {
					grp.maxX = x
				}
				if y < grp.minY {
					grp.minY = y
				}
				if y > grp.maxY {
					grp.maxY = y
				}
			}
			grp.count++
			grp.classVotes[r]++
		}
	}

	boxes := make([]BoundingBox, 0, len(groups))
	for id, grp := range groups {
		if grp.count < opts.minPixels() {
			continue
		}
		boxes = append(boxes, BoundingBox{
			ObjectID:    id,
			ClassID:     majorityClass(grp.classVotes),
			X:           float32(grp.minX),
			Y:           float32(grp.minY),
			W:           float32(grp.maxX - grp.minX + 1),
			H:           float32(grp.maxY - grp.minY + 1),
			SourceFrame: sourceFrame,
		})
	}
	sortBoxes(boxes)
	return boxes, nil
}

// majorityClass picks the most-voted semantic class; exact ties resolve to
// the smallest class id for determinism.
func majorityClass(votes map[uint8]int) uint8 {
	var best uint8
	bestCount := -1
	for class, count := range votes {
		if count > bestCount || (count == bestCount && class < best) {
			best = class
			bestCount = count
		}
	}
	return best
}

// sortBoxes orders results by object id so repeated runs produce identical
// output byte-for-byte.
func sortBoxes(boxes []BoundingBox) {
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].ObjectID < boxes[j].ObjectID })
}

// DecodePNG reads a stored instance-segmentation image back into the raw
// raster form Extract consumes. Used by the offline annotation pass over
// already-recorded scenes.
func DecodePNG(r io.Reader) (rig.ImageData, error) {
	src, err := png.Decode(r)
	if err != nil {
		return rig.ImageData{}, fmt.Errorf("annotate: decode png: %w", err)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := rig.ImageData{Width: w, Height: h, Channels: 4, Pixels: make([]byte, w*h*4)}

	rgba, ok := src.(*image.RGBA)
	if ok && rgba.Stride == w*4 {
		copy(out.Pixels, rgba.Pix)
		return out, nil
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r16, g16, b16, a16 := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*w + x) * 4
			out.Pixels[i] = byte(r16 >> 8)
			out.Pixels[i+1] = byte(g16 >> 8)
			out.Pixels[i+2] = byte(b16 >> 8)
			out.Pixels[i+3] = byte(a16 >> 8)
		}
	}
	return out, nil
}
