package assignment

import "misir/internal/config"

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock overrides the default real clock; tests use a fixed clock.
func WithClock(c Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithDispatcher overrides the default no-op event dispatcher.
func WithDispatcher(d EventDispatcher) Option { return func(p *Pipeline) { p.dispatcher = d } }

// WithEmbeddingDimension sets the configured model dimension used for the
// Matryoshka-mismatch warning and as the default embed-on-capture dimension.
func WithEmbeddingDimension(dim int) Option { return func(p *Pipeline) { p.embeddingDim = dim } }

// WithLearningRates wires the OSCL/margin tunables read from config.
func WithLearningRates(lr config.LearningRates) Option {
	return func(p *Pipeline) {
		p.marginThreshold = lr.AssignmentMarginThreshold
		p.defaultAlpha = lr.DefaultAlpha
		p.confidenceBeta = lr.ConfidenceBeta
		p.driftThreshold = lr.CentroidHistoryThreshold
		if lr.MinSignalsBetweenLogs > 0 {
			p.minSignalsBetweenLogs = lr.MinSignalsBetweenLogs
		}
	}
}

// WithMinSignalsBetweenDriftLogs overrides the drift-log spacing gate.
func WithMinSignalsBetweenDriftLogs(n int) Option {
	return func(p *Pipeline) { p.minSignalsBetweenLogs = n }
}

// WithReadingDepthConstants wires the suspicious-reading-depth monitor's
// parameters.
func WithReadingDepthConstants(c config.ReadingDepthConstants) Option {
	return func(p *Pipeline) { p.readingDepth = c }
}

// WithLegacyRepairLimit bounds how many centroid-less subspaces the legacy
// repair pass will attempt to rescue per capture (default 5).
func WithLegacyRepairLimit(n int) Option {
	return func(p *Pipeline) { p.legacyRepairLimit = n }
}
