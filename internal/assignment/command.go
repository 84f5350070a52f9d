// Package assignment implements the assignment pipeline: the single entry
// point captures flow through on their way from "freshly observed
// content" to "persisted artifact, signal, and (conditionally) an updated
// subspace centroid".
package assignment

import (
	"fmt"
	"strings"

	"misir/internal/apperrors"
	"misir/internal/domain"
)

// Command is the immutable description of one capture. Embedding is
// optional: a nil value tells the pipeline to embed Text+Title itself.
// SubspaceID is an optional explicit override; when absent the pipeline
// runs subspace resolution.
type Command struct {
	UserID          string
	URL             string
	Title           string
	Text            string
	WordCount       int
	Embedding       []float32
	EngagementLevel domain.EngagementLevel
	ContentSource   domain.ContentSource
	DwellTimeMS     int64
	ScrollDepth     float64
	ReadingDepth    float64
	SpaceID         int64
	SubspaceID      *int64
	MarkerHintIDs   []int64
}

// NewCommand enforces the hard construction-time invariants: invalid
// commands are unrepresentable rather than caught later as a runtime
// exception. Embedding-dimension mismatch is deliberately NOT checked
// here -- it is a warning the store is left to arbitrate, surfaced
// through Validate instead.
func NewCommand(c Command) (Command, *apperrors.Error) {
	if strings.TrimSpace(c.UserID) == "" {
		return Command{}, apperrors.NewValidation("user_id is required", nil)
	}
	if strings.TrimSpace(c.URL) == "" {
		return Command{}, apperrors.NewValidation("url is required", nil)
	}
	if c.ScrollDepth < 0 || c.ScrollDepth > 1 {
		return Command{}, apperrors.NewValidation("scroll_depth must be in [0,1]", map[string]any{"scroll_depth": c.ScrollDepth})
	}
	if c.ReadingDepth < 0 || c.ReadingDepth > 1.5 {
		return Command{}, apperrors.NewValidation("reading_depth must be in [0,1.5]", map[string]any{"reading_depth": c.ReadingDepth})
	}
	if c.DwellTimeMS < 0 {
		return Command{}, apperrors.NewValidation("dwell_time_ms must be >= 0", map[string]any{"dwell_time_ms": c.DwellTimeMS})
	}
	if c.WordCount < 0 {
		return Command{}, apperrors.NewValidation("word_count must be >= 0", map[string]any{"word_count": c.WordCount})
	}
	c.EngagementLevel = domain.NormalizeEngagementLevel(c.EngagementLevel)
	c.ContentSource = domain.NormalizeContentSource(c.ContentSource)
	return c, nil
}

// Validate is the non-throwing pre-flight pass: unknown enum values are
// reported as errs, an embedding-dimension mismatch as a warning only.
// Callers may surface warnings to a client without rejecting the capture.
func (c Command) Validate(expectedDim int) (warnings, errs []string) {
	if !domain.ValidEngagementLevel(c.EngagementLevel) {
		errs = append(errs, fmt.Sprintf("unknown engagement_level: %q", c.EngagementLevel))
	}
	if !domain.ValidContentSource(c.ContentSource) {
		errs = append(errs, fmt.Sprintf("unknown content_source: %q", c.ContentSource))
	}
	if c.Embedding != nil && expectedDim > 0 && len(c.Embedding) != expectedDim {
		warnings = append(warnings, fmt.Sprintf("embedding dimension %d does not match configured dimension %d", len(c.Embedding), expectedDim))
	}
	return warnings, errs
}
