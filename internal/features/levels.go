package features

import (
	"math"
	"sort"
)

// NextRoundResistance rounds price up to the round level at or above it
// using the tiered convention: sub-$1 steps by nickels, $1-5 by dimes,
// $5-10 by quarters, above $10 by half dollars. This matches the round-number psychology the original strategy
// materials describe and is also used directly as a resistance candidate.
func NextRoundResistance(price float64) float64 {
	var step float64
	switch {
	case price < 1:
		step = 0.05
	case price < 5:
		step = 0.10
	case price < 10:
		step = 0.25
	default:
		step = 0.50
	}
	return math.Ceil(price/step) * step
}

// roundLevelsNear returns every round level within +/-5% of price using the
// same tiered step as NextRoundResistance.
func roundLevelsNear(price float64) []float64 {
	var step float64
	switch {
	case price < 1:
		step = 0.05
	case price < 5:
		step = 0.10
	case price < 10:
		step = 0.25
	default:
		step = 0.50
	}
	lo := price * 0.95
	hi := price * 1.05
	var levels []float64
	start := math.Floor(lo/step) * step
	for lvl := start; lvl <= hi; lvl += step {
		if lvl >= lo {
			levels = append(levels, math.Round(lvl/step)*step)
		}
	}
	return levels
}

// ClusterLevels merges a sorted slice of levels into groups whose members
// are all within tolerance (as a fraction, e.g. 0.002 for 0.2%) of the
// group's running mean, returning one representative (the group mean) per
// cluster. Used to collapse PMH/PML/PDH/PDL/pivots/round-numbers that sit
// within a hair's breadth of each other into a single tradeable level.
func ClusterLevels(levels []float64, tolerance float64) []float64 {
	if len(levels) == 0 {
		return nil
	}
	sorted := append([]float64{}, levels...)
	sort.Float64s(sorted)

	var clusters [][]float64
	cur := []float64{sorted[0]}
	for _, lvl := range sorted[1:] {
		mean := meanOf(cur)
		if math.Abs(lvl-mean)/mean <= tolerance {
			cur = append(cur, lvl)
		} else {
			clusters = append(clusters, cur)
			cur = []float64{lvl}
		}
	}
	clusters = append(clusters, cur)

	out := make([]float64, len(clusters))
	for i, c := range clusters {
		out[i] = meanOf(c)
	}
	return out
}

func meanOf(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Pivot is a rolling fractal high or low: a bar whose high (low) is the
// strict max (min) over a centered window of bars already seen — "centered"
// here means centered in bar-index terms among already-seen bars, with the
// pivot only confirmed `window` bars after it occurs, which keeps the
// computation causal (a pivot at index i is not known until bar i+window).
type Pivot struct {
	Index int
	Price float64
	High  bool
}

// PivotDetector keeps every bar's high and low, examines the trailing
// `2*window+1` bars on each update, and emits a confirmed pivot once the
// center bar is `window` bars in the past on both sides.
type PivotDetector struct {
	window int
	highs  []float64
	lows   []float64
	idx    int
}

func NewPivotDetector(window int) *PivotDetector {
	return &PivotDetector{window: window}
}

// Update feeds one more bar's (high, low) and returns any pivot that just
// became confirmed (nil if none).
func (p *PivotDetector) Update(high, low float64) []Pivot {
	p.highs = append(p.highs, high)
	p.lows = append(p.lows, low)
	center := len(p.highs) - 1 - p.window
	if center < p.window {
		p.idx++
		return nil
	}
	lo := center - p.window
	hi := center + p.window
	if hi >= len(p.highs) {
		p.idx++
		return nil
	}
	var out []Pivot
	if isMax(p.highs[lo:hi+1], p.window) {
		out = append(out, Pivot{Index: center, Price: p.highs[center], High: true})
	}
	if isMin(p.lows[lo:hi+1], p.window) {
		out = append(out, Pivot{Index: center, Price: p.lows[center], High: false})
	}
	p.idx++
	return out
}

func isMax(window []float64, centerOffset int) bool {
	center := window[centerOffset]
	for i, v := range window {
		if i == centerOffset {
			continue
		}
		if v >= center {
			return false
		}
	}
	return true
}

func isMin(window []float64, centerOffset int) bool {
	center := window[centerOffset]
	for i, v := range window {
		if i == centerOffset {
			continue
		}
		if v <= center {
			return false
		}
	}
	return true
}
