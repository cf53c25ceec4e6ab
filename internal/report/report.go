// Package report summarizes capture quality: how completely each sensor's
// recording covers the reconciled timeline, and how many sensors made each
// frame. Summaries print as text and render as a standalone HTML page.
package report

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/gridframe-data/gridframe/internal/capture"
	"github.com/gridframe-data/gridframe/internal/timeline"
)

// SceneSummary is one scene's capture quality numbers.
type SceneSummary struct {
	SceneID       int
	Frames        int
	PartialFrames int
	Annotations   int

	// Arrival statistics over per-frame counts of sensors that delivered
	// real samples.
	ArrivalMean   float64
	ArrivalStdDev float64
	ArrivalMedian float64

	// Coverage maps each sensor to its exact/held/missing split across the
	// reconciled timeline.
	Coverage map[string]timeline.SensorCoverage
}

// Summarize folds a scene's capture stats and timeline coverage into one
// summary.
func Summarize(stats capture.SceneStats, coverage map[string]timeline.SensorCoverage) SceneSummary {
	s := SceneSummary{
		SceneID:       stats.SceneID,
		Frames:        stats.Frames,
		PartialFrames: stats.PartialFrames,
		Annotations:   stats.Annotations,
		Coverage:      coverage,
	}
	if n := len(stats.ArrivalCounts); n > 0 {
		counts := append([]float64(nil), stats.ArrivalCounts...)
		sort.Float64s(counts)
		s.ArrivalMean = stat.Mean(counts, nil)
		if n > 1 {
			s.ArrivalStdDev = stat.StdDev(counts, nil)
		}
		s.ArrivalMedian = stat.Quantile(0.5, stat.Empirical, counts, nil)
	}
	return s
}

// sensors returns the summary's sensor names sorted for stable output.
func (s SceneSummary) sensors() []string {
	names := make([]string, 0, len(s.Coverage))
	for name := range s.Coverage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteText prints a fixed-width summary table.
func (s SceneSummary) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "scene %d: frames=%d partial=%d annotations=%d arrivals mean=%.2f sd=%.2f median=%.1f\n",
		s.SceneID, s.Frames, s.PartialFrames, s.Annotations, s.ArrivalMean, s.ArrivalStdDev, s.ArrivalMedian)
	if err != nil {
		return err
	}
	for _, name := range s.sensors() {
		cov := s.Coverage[name]
		if _, err := fmt.Fprintf(w, "  %-24s exact=%-5d held=%-5d missing=%-5d\n",
			name, cov.Exact, cov.Held, cov.Missing); err != nil {
			return err
		}
	}
	return nil
}
