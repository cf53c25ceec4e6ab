package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/rig"
	"github.com/gridframe-data/gridframe/internal/security"
)

// Scene directory layout:
//
//	<base>/scene_<id>/<sensor>/<timestamp_ms><ext>
//	<base>/scene_<id>/annotations/<camera>/<timestamp_ms>.json
//
// Timestamps are simulation milliseconds, so file stems sort in capture
// order. Absent samples get no file and no index row; the resulting
// per-sensor gaps are what the timeline reconciler smooths over at replay.

// SceneDir returns the directory for one scene under base.
func SceneDir(base string, sceneID int) string {
	return filepath.Join(base, fmt.Sprintf("scene_%d", sceneID))
}

// sensorDir returns a sensor's sample directory. Sensor names come from
// user configuration, so the path component is sanitized.
func sensorDir(base string, sceneID int, sensor string) string {
	return filepath.Join(SceneDir(base, sceneID), security.SanitizeFilename(sensor))
}

// SceneWriter persists one scene's finalized samples and annotations. It
// implements the capture fan-out interfaces; the orchestrator calls it
// from its single control goroutine, so no locking is needed.
type SceneWriter struct {
	base    string
	sceneID int
	index   *Index
	specs   map[string]rig.SensorSpec

	samples     int
	annotations int
}

// NewSceneWriter creates the scene directory tree and registers the scene
// in the index. Index may be nil for layouts consumed only by external
// tooling; replay requires it.
func NewSceneWriter(base string, sceneID int, sessionID string, steps int, specs []rig.SensorSpec, index *Index) (*SceneWriter, error) {
	byName := make(map[string]rig.SensorSpec, len(specs))
	for _, spec := range specs {
		if err := os.MkdirAll(sensorDir(base, sceneID, spec.Name), 0o755); err != nil {
			return nil, fmt.Errorf("store: create sensor dir: %w", err)
		}
		byName[spec.Name] = spec
	}
	if index != nil {
		if _, err := index.InsertScene(sceneID, sessionID, base, steps, specs); err != nil {
			return nil, err
		}
	}
	return &SceneWriter{base: base, sceneID: sceneID, index: index, specs: byName}, nil
}

// WriteSample encodes one sensor's finalized sample to disk and indexes
// it. Absent samples are skipped entirely.
func (sw *SceneWriter) WriteSample(frame *rig.Frame, sensor string, sample rig.SensorSample) error {
	if sample.Absent {
		return nil
	}
	spec, ok := sw.specs[sensor]
	if !ok {
		return fmt.Errorf("store: sensor %q not part of scene %d", sensor, sw.sceneID)
	}

	ts := frame.TimestampMillis()
	path := filepath.Join(sensorDir(sw.base, sw.sceneID, sensor),
		fmt.Sprintf("%d%s", ts, FileExtension(spec.Kind)))

	var buf bytes.Buffer
	if err := EncodeSample(&buf, sample, ts); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("store: write sample file: %w", err)
	}

	if sw.index != nil {
		if err := sw.index.InsertSample(sw.sceneID, sensor, frame.Index, ts, path, frame.Partial); err != nil {
			return err
		}
	}
	sw.samples++
	return nil
}

// WriteAnnotations persists one camera frame's derived boxes as JSON next
// to the sample tree and mirrors them into the index. Empty box sets still
// write a file, so downstream consumers can tell "no objects" from "not
// annotated".
func (sw *SceneWriter) WriteAnnotations(frame *rig.Frame, camera string, boxes []annotate.BoundingBox) error {
	dir := filepath.Join(SceneDir(sw.base, sw.sceneID), "annotations", security.SanitizeFilename(camera))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create annotations dir: %w", err)
	}

	raw, err := json.MarshalIndent(boxes, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal annotations: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", frame.TimestampMillis()))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("store: write annotations file: %w", err)
	}

	if sw.index != nil {
		if err := sw.index.InsertAnnotations(sw.sceneID, camera, frame.Index, boxes); err != nil {
			return err
		}
	}
	sw.annotations += len(boxes)
	return nil
}

// Counts reports totals written so far.
func (sw *SceneWriter) Counts() (samples, annotations int) {
	return sw.samples, sw.annotations
}

// SceneReader loads recorded samples back for replay. All lookups go
// through the index; the directory tree is only touched to read file
// contents.
type SceneReader struct {
	index   *Index
	sceneID int
	specs   map[string]rig.SensorSpec
}

// NewSceneReader opens a recorded scene.
func NewSceneReader(index *Index, sceneID int) (*SceneReader, error) {
	specs, err := index.SceneSensors(sceneID)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("store: scene %d has no recorded sensors", sceneID)
	}
	byName := make(map[string]rig.SensorSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}
	return &SceneReader{index: index, sceneID: sceneID, specs: byName}, nil
}

// Sensors returns the scene's sensor specs sorted by name.
func (sr *SceneReader) Sensors() []rig.SensorSpec {
	out := make([]rig.SensorSpec, 0, len(sr.specs))
	for _, spec := range sr.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ObservedIndices returns each sensor's recorded frame indices, the
// reconciler's input.
func (sr *SceneReader) ObservedIndices() (map[string][]uint64, error) {
	return sr.index.ObservedIndices(sr.sceneID)
}

// LoadSample reads one recorded sample back from disk.
func (sr *SceneReader) LoadSample(sensor string, frameIndex uint64) (rig.SensorSample, error) {
	spec, ok := sr.specs[sensor]
	if !ok {
		return rig.SensorSample{}, fmt.Errorf("store: sensor %q not part of scene %d", sensor, sr.sceneID)
	}
	path, err := sr.index.SamplePath(sr.sceneID, sensor, frameIndex)
	if err != nil {
		return rig.SensorSample{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return rig.SensorSample{}, fmt.Errorf("store: open sample: %w", err)
	}
	defer f.Close()
	return DecodeSample(f, spec.Kind)
}

// LoadAnnotations returns the derived boxes recorded for one camera frame.
func (sr *SceneReader) LoadAnnotations(camera string, frameIndex uint64) ([]annotate.BoundingBox, error) {
	return sr.index.Annotations(sr.sceneID, camera, frameIndex)
}

// PruneScene walks a scene directory and reports sample files the index
// does not know about. Orphans come from runs that crashed between the
// file write and the index insert; callers decide whether to delete them.
func PruneScene(base string, sceneID int, index *Index) ([]string, error) {
	indexed := make(map[string]bool)
	rows, err := index.Query(`SELECT path FROM samples WHERE scene_id = ?`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("store: prune query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		indexed[filepath.Clean(p)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var orphans []string
	dir := SceneDir(base, sceneID)
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Annotation JSON lives outside the samples table.
			if d.Name() == "annotations" {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexed[filepath.Clean(path)] {
			orphans = append(orphans, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: prune walk: %w", err)
	}
	sort.Strings(orphans)
	return orphans, nil
}
