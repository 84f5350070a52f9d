package analytics

import (
	"context"
	"fmt"
	"time"

	"misir/internal/domain"
)

// Severity classifies an Alert's urgency.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// AlertType identifies which rule produced an Alert.
type AlertType string

const (
	AlertLowMargin     AlertType = "low_margin"
	AlertHighDrift     AlertType = "high_drift"
	AlertVelocityDrop  AlertType = "velocity_drop"
	AlertConfidenceDrop AlertType = "confidence_drop"
)

// Alert is one rule-engine finding, scoped to a space (and, where the rule
// is subspace-specific, a subspace).
type Alert struct {
	Type             AlertType
	Severity         Severity
	Title            string
	Message          string
	SubspaceID       *int64
	ArtifactIDs      []int64
	SuggestedActions []string
}

const (
	lowMarginWindow        = 5
	lowMarginThreshold     = 0.3
	highDriftWindow        = 7 * 24 * time.Hour
	highDriftThreshold     = 0.3
	velocityShortWindow    = 7 * 24 * time.Hour
	velocityLongWindow     = 30 * 24 * time.Hour
	velocityDropRatio      = 0.5
	velocityLongMinimum    = 2.0
	confidenceDropWindow   = 7 * 24 * time.Hour
	confidenceDropDelta    = 0.2
)

// Alerts runs every rule against the current state of one space and
// returns whichever findings apply; an empty result is a normal, healthy
// outcome, not an error.
func (s *Service) Alerts(ctx context.Context, userID string, spaceID int64) ([]Alert, error) {
	var alerts []Alert

	if a, ok, err := s.lowMarginAlert(ctx, userID, spaceID); err != nil {
		return nil, err
	} else if ok {
		alerts = append(alerts, a)
	}

	driftAlerts, err := s.highDriftAlerts(ctx, userID, spaceID)
	if err != nil {
		return nil, err
	}
	alerts = append(alerts, driftAlerts...)

	if a, ok, err := s.velocityDropAlert(ctx, userID, spaceID); err != nil {
		return nil, err
	} else if ok {
		alerts = append(alerts, a)
	}

	confidenceAlerts, err := s.confidenceDropAlerts(ctx, userID, spaceID)
	if err != nil {
		return nil, err
	}
	alerts = append(alerts, confidenceAlerts...)

	return alerts, nil
}

func (s *Service) lowMarginAlert(ctx context.Context, userID string, spaceID int64) (Alert, bool, error) {
	margins, err := s.store.RecentSignalMargins(ctx, userID, spaceID, lowMarginWindow)
	if err != nil {
		return Alert{}, false, err
	}
	if len(margins) == 0 {
		return Alert{}, false, nil
	}
	var sum float64
	for _, m := range margins {
		sum += m
	}
	mean := sum / float64(len(margins))
	if mean >= lowMarginThreshold {
		return Alert{}, false, nil
	}
	return Alert{
		Type: AlertLowMargin, Severity: SeverityWarning,
		Title:   "Assignment margins are thin",
		Message: fmt.Sprintf("Mean margin of the last %d signals is %.3f, below the %.2f confidence floor.", len(margins), mean, lowMarginThreshold),
		SuggestedActions: []string{
			"Review recent captures for subspaces that may need splitting or clearer markers.",
		},
	}, true, nil
}

func (s *Service) highDriftAlerts(ctx context.Context, userID string, spaceID int64) ([]Alert, error) {
	events, err := s.store.DriftEvents(ctx, userID, spaceID, nil, 0)
	if err != nil {
		return nil, err
	}
	since := s.clock.Now().Add(-highDriftWindow)
	var alerts []Alert
	for _, e := range events {
		if e.OccurredAt.Before(since) || e.DriftMagnitude <= highDriftThreshold {
			continue
		}
		subspaceID := e.SubspaceID
		alerts = append(alerts, Alert{
			Type: AlertHighDrift, Severity: SeverityDanger,
			Title:      "Subspace centroid is drifting fast",
			Message:    fmt.Sprintf("Drift magnitude %.3f exceeds %.2f within the last 7 days.", e.DriftMagnitude, highDriftThreshold),
			SubspaceID: &subspaceID,
			SuggestedActions: []string{
				"Check recent captures assigned to this subspace for an unrelated topic shift.",
			},
		})
	}
	return alerts, nil
}

func (s *Service) velocityDropAlert(ctx context.Context, userID string, spaceID int64) (Alert, bool, error) {
	all, err := s.store.VelocityMeasurements(ctx, userID, spaceID, nil, 0)
	if err != nil {
		return Alert{}, false, err
	}
	if len(all) == 0 {
		return Alert{}, false, nil
	}
	now := s.clock.Now()
	shortMean, shortOK := meanSince(all, now.Add(-velocityShortWindow))
	longMean, longOK := meanSince(all, now.Add(-velocityLongWindow))
	if !shortOK || !longOK {
		return Alert{}, false, nil
	}
	if longMean <= velocityLongMinimum || shortMean >= velocityDropRatio*longMean {
		return Alert{}, false, nil
	}
	return Alert{
		Type: AlertVelocityDrop, Severity: SeverityWarning,
		Title:   "Engagement velocity has dropped",
		Message: fmt.Sprintf("7-day mean velocity %.3f is below half of the 30-day mean %.3f.", shortMean, longMean),
		SuggestedActions: []string{
			"Resurface this space's weakest items, or check whether attention has shifted elsewhere.",
		},
	}, true, nil
}

func meanSince(measurements []domain.VelocityMeasurement, since time.Time) (float64, bool) {
	var sum float64
	var n int
	for _, m := range measurements {
		if m.MeasuredAt.Before(since) {
			continue
		}
		sum += m.Velocity
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (s *Service) confidenceDropAlerts(ctx context.Context, userID string, spaceID int64) ([]Alert, error) {
	subspaces, err := s.store.ListSubspaces(ctx, userID, spaceID)
	if err != nil {
		return nil, err
	}
	cutoff := s.clock.Now().Add(-confidenceDropWindow)
	var alerts []Alert
	for _, sub := range subspaces {
		samples, err := s.store.ConfidenceSamples(ctx, userID, spaceID, &sub.ID, 0)
		if err != nil {
			return nil, err
		}
		prior, ok := latestSampleBefore(samples, cutoff)
		if !ok {
			continue
		}
		if prior.Confidence-sub.Confidence <= confidenceDropDelta {
			continue
		}
		subspaceID := sub.ID
		alerts = append(alerts, Alert{
			Type: AlertConfidenceDrop, Severity: SeverityWarning,
			Title:      "Subspace confidence has fallen",
			Message:    fmt.Sprintf("Confidence dropped from %.3f to %.3f since %s.", prior.Confidence, sub.Confidence, prior.ComputedAt.Format("2006-01-02")),
			SubspaceID: &subspaceID,
			SuggestedActions: []string{
				"Review recently assigned captures for this subspace; the centroid may have absorbed off-topic signals.",
			},
		})
	}
	return alerts, nil
}

// latestSampleBefore returns the most recent sample that is still at or
// before cutoff -- the nearest qualifying baseline a confidence drop is
// measured against. Confidence climbs from zero while a subspace is young,
// so comparing against the oldest sample on record would make the rule
// nearly impossible to trip; the nearest week-old sample is the honest
// "where was this subspace recently" reference.
func latestSampleBefore(samples []domain.ConfidenceSample, cutoff time.Time) (domain.ConfidenceSample, bool) {
	var best domain.ConfidenceSample
	found := false
	for _, s := range samples {
		if s.ComputedAt.After(cutoff) {
			continue
		}
		if !found || s.ComputedAt.After(best.ComputedAt) {
			best = s
			found = true
		}
	}
	return best, found
}
