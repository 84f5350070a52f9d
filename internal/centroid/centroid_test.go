package centroid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"misir/internal/domain"
)

func vec(n int, set map[int]float32) []float32 {
	v := make([]float32, n)
	for i, x := range set {
		v[i] = x
	}
	return v
}

func TestUpdate_BootstrapFromNilCentroid(t *testing.T) {
	signal := vec(4, map[int]float32{1: 1})
	res := Update(nil, signal, 0.1)
	require.InDelta(t, 1.0, domain.L2Norm(res.NewCentroid), 1e-9)
	require.Equal(t, 0.0, res.Drift)
}

func TestUpdate_SmallAlphaNudgesCentroid(t *testing.T) {
	prev := vec(4, map[int]float32{0: 1})
	signal := vec(4, map[int]float32{1: 1})
	res := Update(prev, signal, 0.1)

	require.InDelta(t, 0.9939, res.NewCentroid[0], 1e-3)
	require.InDelta(t, 0.1104, res.NewCentroid[1], 1e-3)
	require.Less(t, res.Drift, 0.05, "drift should stay below the default history threshold")
	require.InDelta(t, 0.0061, res.Drift, 1e-3)
}

func TestUpdate_LargeAlphaClearsDriftThreshold(t *testing.T) {
	prev := vec(4, map[int]float32{0: 1})
	signal := vec(4, map[int]float32{1: 1})
	res := Update(prev, signal, 0.5)

	require.InDelta(t, 0.2929, res.Drift, 1e-3)
	require.True(t, ShouldLogDrift(res.Drift, 0.05, 10, 5))
}

func TestUpdate_CentroidAlwaysUnitNorm(t *testing.T) {
	prev := domain.Normalize(vec(8, map[int]float32{0: 3, 2: -1}))
	signal := domain.Normalize(vec(8, map[int]float32{1: 2, 5: 4}))
	res := Update(prev, signal, 0.37)
	require.InDelta(t, 1.0, domain.L2Norm(res.NewCentroid), 1e-6)
}

func TestShouldLogDrift_RequiresBothThresholdAndSpacing(t *testing.T) {
	require.False(t, ShouldLogDrift(0.2, 0.05, 1, 5), "too few signals since last log")
	require.False(t, ShouldLogDrift(0.01, 0.05, 10, 5), "drift below threshold")
	require.True(t, ShouldLogDrift(0.2, 0.05, 5, 5))
}

func TestVelocity_FloorsSubSecondDelta(t *testing.T) {
	prev := vec(2, map[int]float32{0: 1})
	next := vec(2, map[int]float32{0: 0, 1: 1})
	v1 := Velocity(prev, next, 0.2)
	v2 := Velocity(prev, next, 1.0)
	require.Equal(t, v1, v2, "sub-second dt should floor to 1 second")
}

func TestBatchCoherence_ClippedAndSkipsMismatched(t *testing.T) {
	centroid := vec(3, map[int]float32{0: 1})
	batch := [][]float32{
		vec(3, map[int]float32{0: 1}),
		vec(3, map[int]float32{0: 1}),
		{1, 2}, // mismatched dim, skipped
	}
	c := BatchCoherence(batch, centroid)
	require.InDelta(t, 1.0, c, 1e-9)
	require.Equal(t, 0.0, BatchCoherence(nil, centroid))
}

func TestConfidenceEMA_ClipsToUnitInterval(t *testing.T) {
	require.InDelta(t, 0.05*1.0+0.95*0.5, ConfidenceEMA(0.5, 1.0, 0.05), 1e-9)
	require.LessOrEqual(t, ConfidenceEMA(1.0, 1.0, 0.5), 1.0)
	require.GreaterOrEqual(t, ConfidenceEMA(0.0, 0.0, 0.5), 0.0)
}

func TestDecayMarkerWeight_NeverBelowFloor(t *testing.T) {
	w := 1.0
	for i := 0; i < 1000; i++ {
		w = DecayMarkerWeight(w, 0.5, 0.05)
		require.GreaterOrEqual(t, w, 0.05)
	}
	require.InDelta(t, 0.05, w, 1e-9)
}

func TestNextState_Lifecycle(t *testing.T) {
	require.Equal(t, domain.SubspaceUninitialized, NextState(false, 0, 0))
	require.Equal(t, domain.SubspaceLearning, NextState(true, 0.5, 25))
	require.Equal(t, domain.SubspaceStable, NextState(true, 0.85, 25))
	require.Equal(t, domain.SubspaceLearning, NextState(true, 0.85, 10), "artifact count gate not met")
}
