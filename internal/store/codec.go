package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/rig"
)

// On-disk sample encodings. Cameras store PNG, GNSS and IMU store JSON,
// and the point-style sensors store little-endian packed records with a
// uint32 count prefix, matching the frame log's length-prefixed binary
// convention. Every encoder has a matching decoder so replay reads back
// exactly what capture wrote.

// FileExtension returns the extension used for a sensor kind's samples.
func FileExtension(kind rig.SensorKind) string {
	switch kind {
	case rig.KindGNSS, rig.KindIMU:
		return ".json"
	case rig.KindRadar, rig.KindLidar, rig.KindSemanticLidar:
		return ".bin"
	default:
		return ".png"
	}
}

// EncodeSample serializes a sample to w according to its kind.
func EncodeSample(w io.Writer, sample rig.SensorSample, timestampMs int64) error {
	if sample.Absent {
		return fmt.Errorf("store: refusing to encode absent sample")
	}
	switch sample.Kind {
	case rig.KindCamera, rig.KindSemanticCamera, rig.KindInstanceCamera:
		return encodeImage(w, sample.Image)
	case rig.KindRadar:
		return encodeRecords(w, uint32(len(sample.Radar)), sample.Radar)
	case rig.KindLidar:
		return encodeRecords(w, uint32(len(sample.Lidar)), sample.Lidar)
	case rig.KindSemanticLidar:
		return encodeRecords(w, uint32(len(sample.SemanticLidar)), sample.SemanticLidar)
	case rig.KindGNSS:
		return encodeJSON(w, timestampMs, sample.GNSS)
	case rig.KindIMU:
		return encodeJSON(w, timestampMs, sample.IMU)
	default:
		return fmt.Errorf("store: cannot encode sample kind %q", sample.Kind)
	}
}

// DecodeSample reads a stored sample back for the given kind.
func DecodeSample(r io.Reader, kind rig.SensorKind) (rig.SensorSample, error) {
	switch kind {
	case rig.KindCamera, rig.KindSemanticCamera, rig.KindInstanceCamera:
		img, err := decodeImage(r)
		if err != nil {
			return rig.SensorSample{}, err
		}
		return rig.ImageSample(kind, img), nil
	case rig.KindRadar:
		var dets []rig.RadarDetection
		if err := decodeRecords(r, &dets); err != nil {
			return rig.SensorSample{}, err
		}
		return rig.RadarSample(dets), nil
	case rig.KindLidar:
		var pts []rig.LidarPoint
		if err := decodeRecords(r, &pts); err != nil {
			return rig.SensorSample{}, err
		}
		return rig.LidarSample(pts), nil
	case rig.KindSemanticLidar:
		var pts []rig.SemanticLidarPoint
		if err := decodeRecords(r, &pts); err != nil {
			return rig.SensorSample{}, err
		}
		return rig.SemanticLidarSample(pts), nil
	case rig.KindGNSS:
		var fix rig.GNSSFix
		if err := json.NewDecoder(r).Decode(&struct {
			*rig.GNSSFix
			Timestamp int64 `json:"timestamp"`
		}{GNSSFix: &fix}); err != nil {
			return rig.SensorSample{}, fmt.Errorf("store: decode gnss json: %w", err)
		}
		return rig.GNSSSample(fix), nil
	case rig.KindIMU:
		var reading rig.IMUReading
		if err := json.NewDecoder(r).Decode(&struct {
			*rig.IMUReading
			Timestamp int64 `json:"timestamp"`
		}{IMUReading: &reading}); err != nil {
			return rig.SensorSample{}, fmt.Errorf("store: decode imu json: %w", err)
		}
		return rig.IMUSample(reading), nil
	default:
		return rig.SensorSample{}, fmt.Errorf("store: cannot decode sample kind %q", kind)
	}
}

func encodeImage(w io.Writer, img *rig.ImageData) error {
	if img == nil {
		return fmt.Errorf("store: image sample has no raster")
	}
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			src := (y*img.Width + x) * img.Channels
			dst := rgba.PixOffset(x, y)
			rgba.Pix[dst] = img.Pixels[src]
			rgba.Pix[dst+1] = img.Pixels[src+1]
			rgba.Pix[dst+2] = img.Pixels[src+2]
			if img.Channels >= 4 {
				rgba.Pix[dst+3] = img.Pixels[src+3]
			} else {
				rgba.Pix[dst+3] = 0xff
			}
		}
	}
	if err := png.Encode(w, rgba); err != nil {
		return fmt.Errorf("store: encode png: %w", err)
	}
	return nil
}

// decodeImage delegates to the annotation package's PNG reader so the
// online and offline passes share one PNG-to-raster conversion.
func decodeImage(r io.Reader) (rig.ImageData, error) {
	img, err := annotate.DecodePNG(r)
	if err != nil {
		return rig.ImageData{}, fmt.Errorf("store: %w", err)
	}
	return img, nil
}

// encodeRecords writes a count-prefixed fixed-layout record slice.
// The record structs contain only fixed-size fields, so binary.Write's
// reflection path produces a stable little-endian layout.
func encodeRecords(w io.Writer, count uint32, records interface{}) error {
	if err := binary.Write(w, binary.LittleEndian, count); err != nil {
		return fmt.Errorf("store: write record count: %w", err)
	}
	if count == 0 {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, records); err != nil {
		return fmt.Errorf("store: write records: %w", err)
	}
	return nil
}

func decodeRecords(r io.Reader, out interface{}) error {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("store: read record count: %w", err)
	}
	switch dst := out.(type) {
	case *[]rig.RadarDetection:
		*dst = make([]rig.RadarDetection, count)
		if count == 0 {
			return nil
		}
		return binary.Read(r, binary.LittleEndian, *dst)
	case *[]rig.LidarPoint:
		*dst = make([]rig.LidarPoint, count)
		if count == 0 {
			return nil
		}
		return binary.Read(r, binary.LittleEndian, *dst)
	case *[]rig.SemanticLidarPoint:
		*dst = make([]rig.SemanticLidarPoint, count)
		if count == 0 {
			return nil
		}
		return binary.Read(r, binary.LittleEndian, *dst)
	default:
		return fmt.Errorf("store: unsupported record type %T", out)
	}
}

func encodeJSON(w io.Writer, timestampMs int64, payload interface{}) error {
	// Flatten the timestamp next to the payload fields, matching the
	// recorded dataset layout consumed by external tooling.
	body := map[string]interface{}{"timestamp": timestampMs}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: marshal sample: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("store: flatten sample: %w", err)
	}
	for k, v := range fields {
		body[k] = v
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		return fmt.Errorf("store: encode sample json: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
