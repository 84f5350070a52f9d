package analytics

import (
	"context"
	"sort"
	"time"

	"misir/internal/domain"
)

// Clock abstracts time.Now for deterministic tests, same convention as
// internal/assignment.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const velocityFallbackWindow = 30 * 24 * time.Hour

// Service computes the read-only analytics views from a Store.
type Service struct {
	store Store
	clock Clock
}

// Option configures a Service at construction.
type Option func(*Service)

// WithClock overrides the default real-time clock; used in tests to pin
// "now" for the 7-day/30-day alert windows.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// New wires an analytics Service.
func New(st Store, opts ...Option) *Service {
	s := &Service{store: st, clock: realClock{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DriftSeries returns DriftEvents for a space (optionally narrowed to one
// subspace), most recent first -- a direct passthrough, there is no
// documented fallback for drift.
func (s *Service) DriftSeries(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.DriftEvent, error) {
	return s.store.DriftEvents(ctx, userID, spaceID, subspaceID, limit)
}

// VelocityPoint is one point in a velocity series; Derived marks a point
// synthesized from the daily-signal-count fallback rather than a real
// VelocityMeasurement.
type VelocityPoint struct {
	SubspaceID int64
	Velocity   float64
	MeasuredAt time.Time
	Derived    bool
}

// VelocitySeries returns VelocityMeasurements for a space. Fallback: if the
// table has no rows for this space, derive a pseudo-velocity by bucketing
// signal creation per subspace per day over the trailing 30 days and
// reporting the daily count as velocity.
func (s *Service) VelocitySeries(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]VelocityPoint, error) {
	measurements, err := s.store.VelocityMeasurements(ctx, userID, spaceID, subspaceID, limit)
	if err != nil {
		return nil, err
	}
	if len(measurements) > 0 {
		out := make([]VelocityPoint, len(measurements))
		for i, m := range measurements {
			out[i] = VelocityPoint{SubspaceID: m.SubspaceID, Velocity: m.Velocity, MeasuredAt: m.MeasuredAt}
		}
		return out, nil
	}
	return s.velocityFallback(ctx, userID, spaceID, subspaceID, limit)
}

func (s *Service) velocityFallback(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]VelocityPoint, error) {
	subspaces, err := s.store.ListSubspaces(ctx, userID, spaceID)
	if err != nil {
		return nil, err
	}
	since := s.clock.Now().Add(-velocityFallbackWindow)
	var out []VelocityPoint
	for _, sub := range subspaces {
		if subspaceID != nil && sub.ID != *subspaceID {
			continue
		}
		counts, err := s.store.SignalCountsPerDay(ctx, userID, sub.ID, since)
		if err != nil {
			return nil, err
		}
		days := make([]string, 0, len(counts))
		for day := range counts {
			days = append(days, day)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(days)))
		for _, day := range days {
			measuredAt, perr := time.Parse("2006-01-02", day)
			if perr != nil {
				continue
			}
			out = append(out, VelocityPoint{SubspaceID: sub.ID, Velocity: float64(counts[day]), MeasuredAt: measuredAt, Derived: true})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MeasuredAt.After(out[j].MeasuredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ConfidencePoint is one point in a confidence series; Derived marks a
// synthesized single point rather than a persisted ConfidenceSample.
type ConfidencePoint struct {
	SubspaceID int64
	Confidence float64
	ComputedAt time.Time
	Derived    bool
}

// ConfidenceSeries returns ConfidenceSamples for a space. Fallback: if
// empty, emit a single point per subspace from its current confidence and
// centroid_updated_at.
func (s *Service) ConfidenceSeries(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]ConfidencePoint, error) {
	samples, err := s.store.ConfidenceSamples(ctx, userID, spaceID, subspaceID, limit)
	if err != nil {
		return nil, err
	}
	if len(samples) > 0 {
		out := make([]ConfidencePoint, len(samples))
		for i, c := range samples {
			out[i] = ConfidencePoint{SubspaceID: c.SubspaceID, Confidence: c.Confidence, ComputedAt: c.ComputedAt}
		}
		return out, nil
	}

	subspaces, err := s.store.ListSubspaces(ctx, userID, spaceID)
	if err != nil {
		return nil, err
	}
	var out []ConfidencePoint
	for _, sub := range subspaces {
		if subspaceID != nil && sub.ID != *subspaceID {
			continue
		}
		computedAt := s.clock.Now()
		if sub.CentroidUpdatedAt != nil {
			computedAt = *sub.CentroidUpdatedAt
		}
		out = append(out, ConfidencePoint{SubspaceID: sub.ID, Confidence: sub.Confidence, ComputedAt: computedAt, Derived: true})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarginDistribution buckets recent signal margins into display
// categories.
type MarginDistribution struct {
	Weak     int // ambiguous (<0.1) + low (<0.2)
	Moderate int // medium (<0.5)
	Strong   int // high (>=0.5)
	Total    int
}

func (s *Service) MarginDistribution(ctx context.Context, userID string, spaceID int64, limit int) (MarginDistribution, error) {
	margins, err := s.store.RecentSignalMargins(ctx, userID, spaceID, limit)
	if err != nil {
		return MarginDistribution{}, err
	}
	var d MarginDistribution
	for _, m := range margins {
		switch {
		case m < 0.2:
			d.Weak++
		case m < 0.5:
			d.Moderate++
		default:
			d.Strong++
		}
		d.Total++
	}
	return d, nil
}
