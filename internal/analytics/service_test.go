package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"misir/internal/analytics"
	"misir/internal/domain"
	"misir/internal/store"
	"misir/internal/testhelpers"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func ptr(v float64) *float64 { return &v }

func TestDriftSeries_PassesThroughStore(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1})
	st.SeedDriftEvent(domain.DriftEvent{ID: 1, SubspaceID: 10, DriftMagnitude: 0.42, OccurredAt: time.Now()})

	svc := analytics.New(st)
	events, err := svc.DriftSeries(context.Background(), "u1", 1, nil, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 0.42, events[0].DriftMagnitude)
}

func TestVelocitySeries_FallsBackToDailySignalCounts(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1})
	sub := int64(10)
	st.SeedSignal(domain.Signal{ID: 1, UserID: "u1", SpaceID: 1, SubspaceID: &sub, CreatedAt: now.Add(-24 * time.Hour)})
	st.SeedSignal(domain.Signal{ID: 2, UserID: "u1", SpaceID: 1, SubspaceID: &sub, CreatedAt: now.Add(-24 * time.Hour)})
	st.SeedSignal(domain.Signal{ID: 3, UserID: "u1", SpaceID: 1, SubspaceID: &sub, CreatedAt: now})

	svc := analytics.New(st, analytics.WithClock(fixedClock{now: now}))
	points, err := svc.VelocitySeries(context.Background(), "u1", 1, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	for _, p := range points {
		require.True(t, p.Derived)
	}
	var total float64
	for _, p := range points {
		total += p.Velocity
	}
	require.Equal(t, float64(3), total)
}

func TestVelocitySeries_PrefersPersistedMeasurements(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1})
	st.SeedVelocityMeasurement(domain.VelocityMeasurement{ID: 1, SubspaceID: 10, Velocity: 0.75, MeasuredAt: time.Now()})

	svc := analytics.New(st)
	points, err := svc.VelocitySeries(context.Background(), "u1", 1, nil, 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.False(t, points[0].Derived)
	require.Equal(t, 0.75, points[0].Velocity)
}

func TestConfidenceSeries_FallsBackToCurrentConfidence(t *testing.T) {
	updatedAt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1, Confidence: 0.6, CentroidUpdatedAt: &updatedAt})

	svc := analytics.New(st)
	points, err := svc.ConfidenceSeries(context.Background(), "u1", 1, nil, 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.True(t, points[0].Derived)
	require.Equal(t, 0.6, points[0].Confidence)
	require.True(t, points[0].ComputedAt.Equal(updatedAt))
}

func TestMarginDistribution_BucketsWeakModerateStrong(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSignal(domain.Signal{ID: 1, UserID: "u1", SpaceID: 1, Margin: ptr(0.05), CreatedAt: time.Now()})
	st.SeedSignal(domain.Signal{ID: 2, UserID: "u1", SpaceID: 1, Margin: ptr(0.3), CreatedAt: time.Now()})
	st.SeedSignal(domain.Signal{ID: 3, UserID: "u1", SpaceID: 1, Margin: ptr(0.8), CreatedAt: time.Now()})

	svc := analytics.New(st)
	dist, err := svc.MarginDistribution(context.Background(), "u1", 1, 0)
	require.NoError(t, err)
	require.Equal(t, 1, dist.Weak)
	require.Equal(t, 1, dist.Moderate)
	require.Equal(t, 1, dist.Strong)
	require.Equal(t, 3, dist.Total)
}

func TestAlerts_LowMarginFiresWhenMeanBelowThreshold(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	for i := 0; i < 5; i++ {
		st.SeedSignal(domain.Signal{ID: int64(i + 1), UserID: "u1", SpaceID: 1, Margin: ptr(0.05), CreatedAt: time.Now()})
	}

	svc := analytics.New(st)
	alerts, err := svc.Alerts(context.Background(), "u1", 1)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)

	var found bool
	for _, a := range alerts {
		if a.Type == analytics.AlertLowMargin {
			found = true
		}
	}
	require.True(t, found)
}

func TestAlerts_HighDriftFiresWithinWindow(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1})
	st.SeedDriftEvent(domain.DriftEvent{ID: 1, SubspaceID: 10, DriftMagnitude: 0.5, OccurredAt: now.Add(-time.Hour)})
	st.SeedDriftEvent(domain.DriftEvent{ID: 2, SubspaceID: 10, DriftMagnitude: 0.5, OccurredAt: now.Add(-30 * 24 * time.Hour)})

	svc := analytics.New(st, analytics.WithClock(fixedClock{now: now}))
	alerts, err := svc.Alerts(context.Background(), "u1", 1)
	require.NoError(t, err)

	var driftAlerts int
	for _, a := range alerts {
		if a.Type == analytics.AlertHighDrift {
			driftAlerts++
		}
	}
	require.Equal(t, 1, driftAlerts, "only the event within the 7-day window should alert")
}

func TestAlerts_VelocityDropFiresOnSustainedSlowdown(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1})
	// A busy stretch three weeks ago, then a near-stall this week: the
	// 30-day mean stays above the activity floor while the 7-day mean
	// collapses below half of it.
	for i := 0; i < 3; i++ {
		st.SeedVelocityMeasurement(domain.VelocityMeasurement{
			ID: int64(i + 1), SubspaceID: 10, Velocity: 5.0, MeasuredAt: now.Add(-20 * 24 * time.Hour),
		})
	}
	st.SeedVelocityMeasurement(domain.VelocityMeasurement{ID: 4, SubspaceID: 10, Velocity: 0.5, MeasuredAt: now.Add(-24 * time.Hour)})

	svc := analytics.New(st, analytics.WithClock(fixedClock{now: now}))
	alerts, err := svc.Alerts(context.Background(), "u1", 1)
	require.NoError(t, err)

	var found bool
	for _, a := range alerts {
		if a.Type == analytics.AlertVelocityDrop {
			found = true
		}
	}
	require.True(t, found)
}

func TestAlerts_VelocityDropStaysQuietWhenPaceHolds(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1})
	st.SeedVelocityMeasurement(domain.VelocityMeasurement{ID: 1, SubspaceID: 10, Velocity: 5.0, MeasuredAt: now.Add(-20 * 24 * time.Hour)})
	st.SeedVelocityMeasurement(domain.VelocityMeasurement{ID: 2, SubspaceID: 10, Velocity: 4.5, MeasuredAt: now.Add(-24 * time.Hour)})

	svc := analytics.New(st, analytics.WithClock(fixedClock{now: now}))
	alerts, err := svc.Alerts(context.Background(), "u1", 1)
	require.NoError(t, err)
	for _, a := range alerts {
		require.NotEqual(t, analytics.AlertVelocityDrop, a.Type)
	}
}

func TestAlerts_ConfidenceDropComparesAgainstNearestQualifyingSample(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1, Confidence: 0.5})
	// The subspace started near zero, peaked a week and a day ago, and has
	// since slipped. The baseline must be the nearest sample that is still
	// at least seven days old (0.8), not the oldest on record (0.1) --
	// measured against the oldest sample, a drop from a later peak would
	// never register.
	st.SeedConfidenceSample(domain.ConfidenceSample{ID: 1, SubspaceID: 10, Confidence: 0.1, ComputedAt: now.Add(-30 * 24 * time.Hour)})
	st.SeedConfidenceSample(domain.ConfidenceSample{ID: 2, SubspaceID: 10, Confidence: 0.8, ComputedAt: now.Add(-8 * 24 * time.Hour)})
	st.SeedConfidenceSample(domain.ConfidenceSample{ID: 3, SubspaceID: 10, Confidence: 0.55, ComputedAt: now.Add(-24 * time.Hour)})

	svc := analytics.New(st, analytics.WithClock(fixedClock{now: now}))
	alerts, err := svc.Alerts(context.Background(), "u1", 1)
	require.NoError(t, err)

	var found *analytics.Alert
	for i, a := range alerts {
		if a.Type == analytics.AlertConfidenceDrop {
			found = &alerts[i]
		}
	}
	require.NotNil(t, found, "0.8 -> 0.5 within a week must trip the 0.2 delta")
	require.NotNil(t, found.SubspaceID)
	require.Equal(t, int64(10), *found.SubspaceID)
}

func TestAlerts_ConfidenceDropNeedsAWeekOldBaseline(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1, Confidence: 0.3})
	// Only recent history: nothing is old enough to serve as a baseline,
	// so even a steep slide stays quiet.
	st.SeedConfidenceSample(domain.ConfidenceSample{ID: 1, SubspaceID: 10, Confidence: 0.9, ComputedAt: now.Add(-2 * 24 * time.Hour)})

	svc := analytics.New(st, analytics.WithClock(fixedClock{now: now}))
	alerts, err := svc.Alerts(context.Background(), "u1", 1)
	require.NoError(t, err)
	for _, a := range alerts {
		require.NotEqual(t, analytics.AlertConfidenceDrop, a.Type)
	}
}

func TestAlerts_NoFindingsIsHealthyNotError(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})

	svc := analytics.New(st)
	alerts, err := svc.Alerts(context.Background(), "u1", 1)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestGlobal_ComputesOverviewAndPerSpaceViews(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1", Name: "Learning"})

	_, err := st.IngestArtifactWithSignal(context.Background(), storeIngestParams("u1", "https://a", 1, 0.8, 400))
	require.NoError(t, err)
	_, err = st.IngestArtifactWithSignal(context.Background(), storeIngestParams("u1", "https://b", 1, 0.1, 100))
	require.NoError(t, err)

	svc := analytics.New(st, analytics.WithClock(fixedClock{now: now}))
	overview, err := svc.Global(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 2, overview.Overview.TotalArtifacts)
	require.Equal(t, 1, overview.Overview.ActiveSpaces)
	require.Len(t, overview.WeakItems, 1, "only the low-margin artifact should surface as weak")
	require.NotEmpty(t, overview.TimeAllocation)
}

func storeIngestParams(userID, url string, spaceID int64, margin float64, wordCount int) store.IngestParams {
	return store.IngestParams{
		UserID: userID, URL: url, Title: "t", Text: "body", WordCount: wordCount,
		EngagementLevel: domain.EngagementDiscovered, ContentSource: domain.SourceWeb,
		SpaceID: spaceID, Vector: domain.Normalize(make([]float32, 768)),
		EmbeddingDimension: 768, SignalType: domain.SignalSemantic, Margin: ptr(margin),
	}
}
