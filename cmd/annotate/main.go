// Command annotate regenerates bounding-box annotations for recorded
// scenes from their instance-segmentation rasters, replacing whatever the
// capture run derived online.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/rig"
	"github.com/gridframe-data/gridframe/internal/security"
	"github.com/gridframe-data/gridframe/internal/store"
)

var (
	dbPath      = flag.String("db", "dataset/index.db", "Sample index path")
	sceneID     = flag.Int("scene", 0, "Scene to annotate (0 annotates all recorded scenes)")
	minPixels   = flag.Int("min-pixels", annotate.NoiseMinPixels, "Minimum pixel count per box")
	vehicleOnly = flag.Bool("vehicles-only", true, "Restrict annotations to vehicle classes")
)

func main() {
	flag.Parse()

	index, err := store.NewIndex(*dbPath)
	if err != nil {
		log.Fatalf("open index: %v", err)
	}
	defer index.Close()

	scenes := []int{*sceneID}
	if *sceneID == 0 {
		scenes, err = index.Scenes()
		if err != nil {
			log.Fatalf("list scenes: %v", err)
		}
	}

	opts := annotate.Options{MinPixels: *minPixels}
	if *vehicleOnly {
		opts.ClassFilter = annotate.VehicleClasses
	}

	for _, id := range scenes {
		boxes, frames, err := annotateScene(index, id, opts)
		if err != nil {
			log.Fatalf("scene %d: %v", id, err)
		}
		log.Printf("scene %d: %d boxes across %d frames", id, boxes, frames)
	}
}

// annotateScene rebuilds every bbox-collecting camera's annotations from
// the recorded instance rasters. Frames where the instance camera missed
// its tick are simply skipped.
func annotateScene(index *store.Index, sceneID int, opts annotate.Options) (boxes, frames int, err error) {
	reader, err := store.NewSceneReader(index, sceneID)
	if err != nil {
		return 0, 0, err
	}
	base, err := index.SceneBasePath(sceneID)
	if err != nil {
		return 0, 0, err
	}
	observed, err := reader.ObservedIndices()
	if err != nil {
		return 0, 0, err
	}

	for _, spec := range reader.Sensors() {
		if spec.Kind != rig.KindCamera || !spec.CollectBBox {
			continue
		}
		instName := rig.InstanceCameraName(spec.Name)
		indices := observed[instName]
		if len(indices) == 0 {
			log.Printf("scene %d: camera %s has no recorded instance frames", sceneID, spec.Name)
			continue
		}
		if err := index.DeleteAnnotations(sceneID, spec.Name); err != nil {
			return boxes, frames, err
		}

		outDir := filepath.Join(store.SceneDir(base, sceneID), "annotations", security.SanitizeFilename(spec.Name))
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return boxes, frames, fmt.Errorf("create annotations dir: %w", err)
		}

		for _, idx := range indices {
			sample, err := reader.LoadSample(instName, idx)
			if err != nil {
				return boxes, frames, err
			}
			derived, err := annotate.Extract(*sample.Image, idx, opts)
			if err != nil {
				return boxes, frames, fmt.Errorf("frame %d: %w", idx, err)
			}
			if err := index.InsertAnnotations(sceneID, spec.Name, idx, derived); err != nil {
				return boxes, frames, err
			}

			_, simTimeMs, err := index.SampleMeta(sceneID, instName, idx)
			if err != nil {
				return boxes, frames, err
			}
			raw, err := json.MarshalIndent(derived, "", "  ")
			if err != nil {
				return boxes, frames, fmt.Errorf("marshal annotations: %w", err)
			}
			path := filepath.Join(outDir, fmt.Sprintf("%d.json", simTimeMs))
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return boxes, frames, fmt.Errorf("write annotations: %w", err)
			}

			boxes += len(derived)
			frames++
		}
	}
	return boxes, frames, nil
}
