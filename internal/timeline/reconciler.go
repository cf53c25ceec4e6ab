// Package timeline reconciles independently-indexed per-sensor recordings
// into one presentable replay sequence. Sensors miss ticks and may join or
// leave between scenes, so their recorded frame indices rarely agree; the
// reconciler computes the canonical ordered timeline and, per presented
// frame, which recorded sample each sensor should show.
package timeline

import "sort"

// Missing marks a sensor slot with no recorded sample at or before the
// presented index. It is valid timeline state, not an error; the player
// renders it as an explicit placeholder.
const Missing = ^uint64(0)

// PresentedFrame is one position on the reconciled timeline. Sources maps
// each sensor to the recorded frame index it should display: the exact
// index when the sensor captured that tick, otherwise the nearest earlier
// one (hold-last-known-good), otherwise Missing.
type PresentedFrame struct {
	Position int
	Index    uint64
	Sources  map[string]uint64
}

// Source resolves one sensor's display index, with ok=false for Missing.
func (p PresentedFrame) Source(sensor string) (uint64, bool) {
	idx, found := p.Sources[sensor]
	if !found || idx == Missing {
		return 0, false
	}
	return idx, true
}

// Timeline is the ordered, deduplicated sequence of presentable frames for
// one replay session. Built once from recorded indices, read-only after.
type Timeline struct {
	frames  []PresentedFrame
	sensors []string
}

// SensorCoverage summarizes how one sensor's recording maps onto the
// reconciled timeline.
type SensorCoverage struct {
	Exact   int // frames where the sensor recorded this very index
	Held    int // frames resolved by hold-last-known-good
	Missing int // frames before the sensor's first sample
}

// Reconcile builds the timeline from per-sensor sets of recorded frame
// indices. The reference timeline is the union of all observed indices,
// sorted ascending and deduplicated: a replay session exposes every moment
// captured by any sensor rather than silently dropping frames other
// sensors missed.
//
// Reconcile is pure: the same inputs always produce the same Timeline.
func Reconcile(observed map[string][]uint64) *Timeline {
	sensors := make([]string, 0, len(observed))
	for name := range observed {
		sensors = append(sensors, name)
	}
	sort.Strings(sensors)

	union := make(map[uint64]bool)
	sorted := make(map[string][]uint64, len(observed))
	for name, indices := range observed {
		own := append([]uint64(nil), indices...)
		sort.Slice(own, func(i, j int) bool { return own[i] < own[j] })
		sorted[name] = own
		for _, idx := range own {
			union[idx] = true
		}
	}

	reference := make([]uint64, 0, len(union))
	for idx := range union {
		reference = append(reference, idx)
	}
	sort.Slice(reference, func(i, j int) bool { return reference[i] < reference[j] })

	tl := &Timeline{
		frames:  make([]PresentedFrame, 0, len(reference)),
		sensors: sensors,
	}

	// cursor[name] walks each sensor's sorted indices alongside the
	// reference sweep, so resolution is O(total indices), not O(n log n)
	// per frame.
	cursor := make(map[string]int, len(sensors))

	for pos, refIdx := range reference {
		frame := PresentedFrame{
			Position: pos,
			Index:    refIdx,
			Sources:  make(map[string]uint64, len(sensors)),
		}
		for _, name := range sensors {
			own := sorted[name]
			c := cursor[name]
			for c < len(own) && own[c] <= refIdx {
				c++
			}
			cursor[name] = c
			if c == 0 {
				// No sample at or before this moment yet.
				frame.Sources[name] = Missing
			} else {
				frame.Sources[name] = own[c-1]
			}
		}
		tl.frames = append(tl.frames, frame)
	}
	return tl
}

// Len returns the number of presentable frames.
func (t *Timeline) Len() int { return len(t.frames) }

// Frame returns the presented frame at position pos.
func (t *Timeline) Frame(pos int) PresentedFrame { return t.frames[pos] }

// Frames returns the full presented sequence.
func (t *Timeline) Frames() []PresentedFrame { return t.frames }

// Sensors returns the sorted sensor names the timeline covers.
func (t *Timeline) Sensors() []string { return t.sensors }

// Indices returns the reference timeline: every presented frame index in
// ascending order.
func (t *Timeline) Indices() []uint64 {
	out := make([]uint64, len(t.frames))
	for i, f := range t.frames {
		out[i] = f.Index
	}
	return out
}

// Coverage computes per-sensor exact/held/missing counts across the
// timeline, consumed by the scene report.
func (t *Timeline) Coverage() map[string]SensorCoverage {
	out := make(map[string]SensorCoverage, len(t.sensors))
	for _, frame := range t.frames {
		for _, name := range t.sensors {
			cov := out[name]
			switch src := frame.Sources[name]; {
			case src == Missing:
				cov.Missing++
			case src == frame.Index:
				cov.Exact++
			default:
				cov.Held++
			}
			out[name] = cov
		}
	}
	return out
}
