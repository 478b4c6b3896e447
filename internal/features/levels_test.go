package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextRoundResistance_TieredStep(t *testing.T) {
	assert.InDelta(t, 0.55, NextRoundResistance(0.52), 1e-9)
	assert.InDelta(t, 2.10, NextRoundResistance(2.05), 1e-9)
	assert.InDelta(t, 7.25, NextRoundResistance(7.10), 1e-9)
	assert.InDelta(t, 15.50, NextRoundResistance(15.10), 1e-9)
}

func TestClusterLevels_MergesNearbyLevelsWithinTolerance(t *testing.T) {
	levels := []float64{10.00, 10.01, 10.02, 12.50}
	clustered := ClusterLevels(levels, 0.002)
	assert.Len(t, clustered, 2)
	assert.InDelta(t, 10.01, clustered[0], 0.01)
	assert.InDelta(t, 12.50, clustered[1], 1e-9)
}

func TestClusterLevels_EmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, ClusterLevels(nil, 0.002))
}

func TestPivotDetector_ConfirmsHighAfterWindowBarsPass(t *testing.T) {
	d := NewPivotDetector(2)
	highs := []float64{1, 2, 5, 2, 1, 1}
	lows := []float64{1, 2, 4, 2, 1, 1}
	var pivots []Pivot
	for i := range highs {
		pivots = append(pivots, d.Update(highs[i], lows[i])...)
	}
	require := pivots
	found := false
	for _, p := range require {
		if p.High && p.Index == 2 {
			found = true
			assert.Equal(t, 5.0, p.Price)
		}
	}
	assert.True(t, found, "expected a confirmed high pivot at index 2")
}

func TestPivotDetector_NoPivotWithoutEnoughTrailingBars(t *testing.T) {
	d := NewPivotDetector(3)
	pivots := d.Update(5, 4)
	assert.Empty(t, pivots)
}
