package assignment

import "misir/internal/domain"

// expectedReadingDepth implements the suspicious-reading-depth monitor's
// estimate: r_hat = clamp(time_weight * (dwell_ms/expected_ms), 0, max_ratio)
// + scroll_weight * scroll_depth. It never rejects a capture -- callers log
// a warning when the observed reading_depth diverges too far from it.
func expectedReadingDepth(wordCount int, dwellMS int64, scrollDepth, avgWPM, timeWeight, scrollWeight, maxRatio float64) float64 {
	if avgWPM <= 0 {
		avgWPM = 200
	}
	expectedMS := float64(wordCount) * 60000 / avgWPM
	var timeRatio float64
	if expectedMS > 0 {
		timeRatio = float64(dwellMS) / expectedMS
	}
	return domain.Clip(timeWeight*timeRatio, 0, maxRatio) + scrollWeight*scrollDepth
}

// suspiciousReadingDepth reports whether the observed reading_depth
// diverges from the expected estimate by more than tolerance (default
// 0.20). The caller logs a warning and proceeds regardless.
func suspiciousReadingDepth(observed, expected, tolerance float64) bool {
	diff := observed - expected
	if diff < 0 {
		diff = -diff
	}
	return diff > tolerance
}
