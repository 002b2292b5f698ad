package analysis

import (
	"math"
	"time"

	"rank-alerts/internal/serp"
)

// Analyzer computes a rolling coefficient-of-variation metric over a sliding
// window of positions. stddev/mean is scale-invariant, so a keyword
// oscillating around rank 3 and one around rank 60 are compared fairly.
type Analyzer struct {
	window     time.Duration
	minSamples int
}

// NewAnalyzer builds an analyzer. Defaults: 24h window, 10 samples minimum.
func NewAnalyzer(window time.Duration, minSamples int) *Analyzer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	return &Analyzer{window: window, minSamples: minSamples}
}

// Window is the analyzer's sliding window length.
func (a *Analyzer) Window() time.Duration {
	return a.window
}

// Volatility returns stddev(positions)/mean(positions) over the present
// (ranked) positions in the snapshot window, plus the positions it used.
// It returns 0 when fewer than the minimum sample count is available.
func (a *Analyzer) Volatility(snapshots []serp.RankingSnapshot) (float64, []int) {
	positions := make([]int, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.Position != nil {
			positions = append(positions, *snap.Position)
		}
	}
	if len(positions) < a.minSamples {
		return 0, positions
	}

	mean := 0.0
	for _, p := range positions {
		mean += float64(p)
	}
	mean /= float64(len(positions))
	if mean == 0 {
		return 0, positions
	}

	variance := 0.0
	for _, p := range positions {
		d := float64(p) - mean
		variance += d * d
	}
	variance /= float64(len(positions))

	return math.Sqrt(variance) / mean, positions
}
