// Package centroid implements online centroid learning (OSCL): a set of
// pure functions over (prev centroid, new signal, learning rate) that the
// store applies atomically alongside a signal insert. Nothing here holds
// a reference to a subspace row or talks to storage; persistence is
// entirely the caller's responsibility.
package centroid

import "misir/internal/domain"

// UpdateResult is what a single OSCL step produces: the renormalized
// centroid and its drift from the previous one. Velocity is not part of
// it; callers that know the previous update time compute it with Velocity.
type UpdateResult struct {
	NewCentroid []float32
	Drift       float64
}

// Update applies the EMA rule. A nil prev centroid means the subspace is
// Uninitialized: the new centroid becomes the (already unit-L2) signal
// vector verbatim and drift is zero, since there is nothing to drift from.
func Update(prev []float32, signal []float32, alpha float64) UpdateResult {
	if prev == nil {
		return UpdateResult{NewCentroid: domain.Normalize(signal), Drift: 0}
	}
	n := len(prev)
	if len(signal) != n {
		n = min(n, len(signal))
	}
	blended := make([]float32, n)
	for i := 0; i < n; i++ {
		blended[i] = float32((1-alpha)*float64(prev[i]) + alpha*float64(signal[i]))
	}
	newCentroid := domain.Normalize(blended)
	drift := domain.Clip(1-domain.CosineSimilarity(prev, newCentroid), 0, 1)
	return UpdateResult{NewCentroid: newCentroid, Drift: drift}
}

// Velocity returns the displacement magnitude between two centroids per
// second. dtSeconds below 1 is floored to 1 so a sub-second double-update
// doesn't produce an inflated spike.
func Velocity(prev, next []float32, dtSeconds float64) float64 {
	if dtSeconds < 1 {
		dtSeconds = 1
	}
	n := len(next)
	if len(prev) < n {
		n = len(prev)
	}
	disp := make([]float32, n)
	for i := 0; i < n; i++ {
		disp[i] = next[i] - prev[i]
	}
	return domain.L2Norm(disp) / dtSeconds
}

// ShouldLogDrift reports whether a DriftEvent (and its paired
// VelocityMeasurement) should be appended: the drift must clear the
// configured threshold AND at least minSignalsBetweenLogs signals must have
// elapsed since the last logged drift for this subspace.
func ShouldLogDrift(drift, threshold float64, signalsSinceLastLog, minSignalsBetweenLogs int) bool {
	return drift >= threshold && signalsSinceLastLog >= minSignalsBetweenLogs
}

// BatchCoherence is the mean cosine similarity of a batch of embeddings
// against a centroid, clipped to [0,1]. Vectors with mismatched dimension
// are skipped rather than zeroed out, so one bad embedding doesn't drag an
// otherwise coherent batch down to zero.
func BatchCoherence(batch [][]float32, centroid []float32) float64 {
	var sum float64
	var n int
	for _, v := range batch {
		if len(v) != len(centroid) || len(v) == 0 {
			continue
		}
		sum += domain.CosineSimilarity(v, centroid)
		n++
	}
	if n == 0 {
		return 0
	}
	return domain.Clip(sum/float64(n), 0, 1)
}

// ConfidenceEMA updates a subspace's confidence with a freshly computed
// batch coherence sample, clipped to [0,1].
func ConfidenceEMA(confidence, coherence, beta float64) float64 {
	return domain.Clip((1-beta)*confidence+beta*coherence, 0, 1)
}

// DecayMarkerWeight applies one round of exponential decay to a
// marker-subspace link weight, floored at minWeight so the link is never
// erased entirely.
func DecayMarkerWeight(weight, gamma, minWeight float64) float64 {
	next := weight * (1 - gamma)
	if next < minWeight {
		return minWeight
	}
	return next
}

// NextState reports the informational lifecycle transition for a subspace
// given its post-update confidence and artifact count. It never feeds back
// into the EMA math; callers persist it for dashboards only.
func NextState(hasCentroid bool, confidence float64, artifactCount int) domain.SubspaceState {
	if !hasCentroid {
		return domain.SubspaceUninitialized
	}
	if confidence >= 0.8 && artifactCount >= 20 {
		return domain.SubspaceStable
	}
	return domain.SubspaceLearning
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
