// Package store owns the wire contract between capture and replay: the
// scene directory layout, per-kind sample encodings, and the SQLite index
// that records which (scene, sensor, frame) samples exist on disk.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/rig"
)

// Index is the SQLite catalogue of recorded samples and derived
// annotations. Replay uses it to discover per-sensor frame-index sets
// without globbing the dataset directories.
type Index struct {
	*sql.DB
}

// NewIndex opens (creating if needed) the sample index at path. The
// bootstrap schema is applied idempotently; versioned changes beyond it go
// through the migrate helpers.
func NewIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scenes (
			scene_id          INTEGER PRIMARY KEY,
			session_id        TEXT NOT NULL,
			base_path         TEXT NOT NULL,
			steps             INTEGER NOT NULL DEFAULT 0,
			created_at_ns     BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS scene_sensors (
			scene_id          INTEGER NOT NULL,
			name              TEXT NOT NULL,
			kind              TEXT NOT NULL,
			collect_bbox      INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (scene_id, name)
		);
		CREATE TABLE IF NOT EXISTS samples (
			scene_id          INTEGER NOT NULL,
			sensor            TEXT NOT NULL,
			frame_index       BIGINT NOT NULL,
			sim_time_ms       BIGINT NOT NULL,
			path              TEXT NOT NULL,
			partial           INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (scene_id, sensor, frame_index)
		);
		CREATE TABLE IF NOT EXISTS annotations (
			scene_id          INTEGER NOT NULL,
			camera            TEXT NOT NULL,
			frame_index       BIGINT NOT NULL,
			object_id         INTEGER NOT NULL,
			class_id          INTEGER NOT NULL,
			x                 REAL NOT NULL,
			y                 REAL NOT NULL,
			w                 REAL NOT NULL,
			h                 REAL NOT NULL,
			PRIMARY KEY (scene_id, camera, frame_index, object_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Index{db}, nil
}

// InsertScene registers a scene and its sensor set. If sessionID is empty
// a new UUID is generated; the session groups scenes recorded by one run.
func (ix *Index) InsertScene(sceneID int, sessionID, basePath string, steps int, sensors []rig.SensorSpec) (string, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	tx, err := ix.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO scenes (scene_id, session_id, base_path, steps, created_at_ns) VALUES (?, ?, ?, ?, ?)`,
		sceneID, sessionID, basePath, steps, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("store: insert scene %d: %w", sceneID, err)
	}
	for _, s := range sensors {
		_, err = tx.Exec(`INSERT INTO scene_sensors (scene_id, name, kind, collect_bbox) VALUES (?, ?, ?, ?)`,
			sceneID, s.Name, string(s.Kind), boolToInt(s.CollectBBox))
		if err != nil {
			return "", fmt.Errorf("store: insert sensor %s: %w", s.Name, err)
		}
	}
	return sessionID, tx.Commit()
}

// InsertSample records one written sample file.
func (ix *Index) InsertSample(sceneID int, sensor string, frameIndex uint64, simTimeMs int64, path string, partial bool) error {
	_, err := ix.Exec(`INSERT INTO samples (scene_id, sensor, frame_index, sim_time_ms, path, partial) VALUES (?, ?, ?, ?, ?, ?)`,
		sceneID, sensor, int64(frameIndex), simTimeMs, path, boolToInt(partial))
	if err != nil {
		return fmt.Errorf("store: insert sample %s/%d: %w", sensor, frameIndex, err)
	}
	return nil
}

// InsertAnnotations records one frame's derived bounding boxes.
func (ix *Index) InsertAnnotations(sceneID int, camera string, frameIndex uint64, boxes []annotate.BoundingBox) error {
	if len(boxes) == 0 {
		return nil
	}
	tx, err := ix.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range boxes {
		_, err = tx.Exec(`INSERT INTO annotations (scene_id, camera, frame_index, object_id, class_id, x, y, w, h)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sceneID, camera, int64(frameIndex), b.ObjectID, b.ClassID, b.X, b.Y, b.W, b.H)
		if err != nil {
			return fmt.Errorf("store: insert annotation obj=%d: %w", b.ObjectID, err)
		}
	}
	return tx.Commit()
}

// SceneSensors returns the sensor specs recorded for a scene (name, kind,
// collect_bbox; attributes and pose are not round-tripped through the
// index — replay does not need them).
func (ix *Index) SceneSensors(sceneID int) ([]rig.SensorSpec, error) {
	rows, err := ix.Query(`SELECT name, kind, collect_bbox FROM scene_sensors WHERE scene_id = ? ORDER BY name`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("store: scene sensors: %w", err)
	}
	defer rows.Close()

	var specs []rig.SensorSpec
	for rows.Next() {
		var spec rig.SensorSpec
		var kind string
		var collect int
		if err := rows.Scan(&spec.Name, &kind, &collect); err != nil {
			return nil, err
		}
		spec.Kind = rig.SensorKind(kind)
		spec.CollectBBox = collect != 0
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// ObservedIndices returns each sensor's recorded frame indices for a
// scene, sorted ascending. This is the timeline reconciler's input: the
// sets are not necessarily aligned, because absent samples are never
// indexed.
func (ix *Index) ObservedIndices(sceneID int) (map[string][]uint64, error) {
	rows, err := ix.Query(`SELECT sensor, frame_index FROM samples WHERE scene_id = ? ORDER BY sensor, frame_index`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("store: observed indices: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]uint64)
	for rows.Next() {
		var sensor string
		var idx int64
		if err := rows.Scan(&sensor, &idx); err != nil {
			return nil, err
		}
		out[sensor] = append(out[sensor], uint64(idx))
	}
	return out, rows.Err()
}

// SamplePath resolves the on-disk file for one recorded sample.
func (ix *Index) SamplePath(sceneID int, sensor string, frameIndex uint64) (string, error) {
	var path string
	err := ix.QueryRow(`SELECT path FROM samples WHERE scene_id = ? AND sensor = ? AND frame_index = ?`,
		sceneID, sensor, int64(frameIndex)).Scan(&path)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("store: no sample for %s frame %d in scene %d", sensor, frameIndex, sceneID)
	}
	if err != nil {
		return "", fmt.Errorf("store: sample path: %w", err)
	}
	return path, nil
}

// SampleMeta resolves the file path and simulation timestamp for one
// recorded sample.
func (ix *Index) SampleMeta(sceneID int, sensor string, frameIndex uint64) (path string, simTimeMs int64, err error) {
	err = ix.QueryRow(`SELECT path, sim_time_ms FROM samples WHERE scene_id = ? AND sensor = ? AND frame_index = ?`,
		sceneID, sensor, int64(frameIndex)).Scan(&path, &simTimeMs)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("store: no sample for %s frame %d in scene %d", sensor, frameIndex, sceneID)
	}
	if err != nil {
		return "", 0, fmt.Errorf("store: sample meta: %w", err)
	}
	return path, simTimeMs, nil
}

// SceneBasePath returns the dataset root a scene was recorded under.
func (ix *Index) SceneBasePath(sceneID int) (string, error) {
	var base string
	err := ix.QueryRow(`SELECT base_path FROM scenes WHERE scene_id = ?`, sceneID).Scan(&base)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("store: scene %d not recorded", sceneID)
	}
	if err != nil {
		return "", fmt.Errorf("store: scene base path: %w", err)
	}
	return base, nil
}

// Annotations returns the derived boxes for one camera frame.
func (ix *Index) Annotations(sceneID int, camera string, frameIndex uint64) ([]annotate.BoundingBox, error) {
	rows, err := ix.Query(`SELECT object_id, class_id, x, y, w, h FROM annotations
		WHERE scene_id = ? AND camera = ? AND frame_index = ? ORDER BY object_id`,
		sceneID, camera, int64(frameIndex))
	if err != nil {
		return nil, fmt.Errorf("store: annotations: %w", err)
	}
	defer rows.Close()

	var boxes []annotate.BoundingBox
	for rows.Next() {
		b := annotate.BoundingBox{SourceFrame: frameIndex}
		if err := rows.Scan(&b.ObjectID, &b.ClassID, &b.X, &b.Y, &b.W, &b.H); err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
	return boxes, rows.Err()
}

// DeleteAnnotations clears a camera's annotations for a scene so an
// offline pass can regenerate them.
func (ix *Index) DeleteAnnotations(sceneID int, camera string) error {
	_, err := ix.Exec(`DELETE FROM annotations WHERE scene_id = ? AND camera = ?`, sceneID, camera)
	if err != nil {
		return fmt.Errorf("store: delete annotations: %w", err)
	}
	return nil
}

// Scenes lists recorded scene ids in ascending order.
func (ix *Index) Scenes() ([]int, error) {
	rows, err := ix.Query(`SELECT scene_id FROM scenes ORDER BY scene_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list scenes: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
