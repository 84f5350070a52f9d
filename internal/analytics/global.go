package analytics

import (
	"context"
	"sort"
	"time"

	"misir/internal/store"
)

const globalArtifactLimit = 2000

// Overview is the GET /analytics/global "overview" block.
type Overview struct {
	TotalArtifacts int
	ActiveSpaces   int
	OverallFocus   float64 // mean margin across all fetched artifacts
	SystemHealth   string  // "Drifting" | "Healthy" | "Optimized"
}

// TimeAllocationItem is one space's share of estimated reading time.
type TimeAllocationItem struct {
	SpaceID    int64
	SpaceName  string
	Minutes    int
	Percentage float64
}

// HeatmapDay is one day's capture count, for a 90-day activity heatmap.
type HeatmapDay struct {
	Date  string // "2006-01-02"
	Count int
}

// WeakItem is a captured artifact whose assignment margin was thin.
type WeakItem struct {
	ArtifactID int64
	Title      string
	SpaceName  string
	Margin     float64
	CreatedAt  time.Time
}

// PaceItem is one space's 7-day capture count plus a trend classification
// against the prior 7-day window.
type PaceItem struct {
	SpaceName string
	Count     int
	Trend     string // "up" | "down" | "flat"
}

// GlobalOverview is the per-user roll-up: overview, time allocation by
// space, a 90-day activity heatmap, weakest items, and 7-day pace with
// trend. One capped, most-recent-first artifact feed plus the user's
// spaces is fetched once and every view derives from that single
// in-memory pass rather than a query per view.
type GlobalOverview struct {
	Overview        Overview
	TimeAllocation  []TimeAllocationItem
	ActivityHeatmap []HeatmapDay
	WeakItems       []WeakItem
	Pace            []PaceItem
}

const (
	readingWPM          = 200
	defaultReadMinutes  = 5
	weakMarginThreshold = 0.3
	weakItemLimit       = 10
	heatmapWindowDays   = 90
	paceWindowDays      = 7
)

// Global computes the per-user roll-up, scoped to no particular space.
func (s *Service) Global(ctx context.Context, userID string) (GlobalOverview, error) {
	rows, err := s.store.ListArtifactsForAnalytics(ctx, userID, globalArtifactLimit)
	if err != nil {
		return GlobalOverview{}, err
	}
	spaces, err := s.store.ListSpaces(ctx, userID)
	if err != nil {
		return GlobalOverview{}, err
	}
	names := make(map[int64]string, len(spaces))
	for _, sp := range spaces {
		names[sp.ID] = sp.Name
	}

	now := s.clock.Now()
	return GlobalOverview{
		Overview:        computeOverview(rows),
		TimeAllocation:  computeTimeAllocation(rows, names),
		ActivityHeatmap: computeHeatmap(rows, now),
		WeakItems:       computeWeakItems(rows, names),
		Pace:            computePace(rows, names, now),
	}, nil
}

func computeOverview(rows []store.AnalyticsArtifactRow) Overview {
	active := map[int64]bool{}
	var marginSum float64
	var marginN int
	for _, r := range rows {
		if r.SpaceID != 0 {
			active[r.SpaceID] = true
		}
		if r.Margin != nil {
			marginSum += *r.Margin
			marginN++
		}
	}
	var focus float64
	if marginN > 0 {
		focus = marginSum / float64(marginN)
	}
	health := "Healthy"
	switch {
	case focus < 0.3:
		health = "Drifting"
	case focus > 0.7:
		health = "Optimized"
	}
	return Overview{TotalArtifacts: len(rows), ActiveSpaces: len(active), OverallFocus: focus, SystemHealth: health}
}

func computeTimeAllocation(rows []store.AnalyticsArtifactRow, names map[int64]string) []TimeAllocationItem {
	minutesBySpace := map[int64]int{}
	var total int
	for _, r := range rows {
		minutes := defaultReadMinutes
		if r.WordCount > 0 {
			minutes = r.WordCount / readingWPM
			if minutes < 1 {
				minutes = 1
			}
		}
		minutesBySpace[r.SpaceID] += minutes
		total += minutes
	}
	var out []TimeAllocationItem
	for id, mins := range minutesBySpace {
		name, ok := names[id]
		if !ok {
			continue
		}
		pct := 0.0
		if total > 0 {
			pct = float64(mins) / float64(total) * 100
		}
		out = append(out, TimeAllocationItem{SpaceID: id, SpaceName: name, Minutes: mins, Percentage: roundTo(pct, 1)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minutes > out[j].Minutes })
	return out
}

func computeHeatmap(rows []store.AnalyticsArtifactRow, now time.Time) []HeatmapDay {
	cutoff := now.Add(-heatmapWindowDays * 24 * time.Hour)
	counts := map[string]int{}
	for _, r := range rows {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		counts[r.CreatedAt.Format("2006-01-02")]++
	}
	out := make([]HeatmapDay, 0, len(counts))
	for d, c := range counts {
		out = append(out, HeatmapDay{Date: d, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func computeWeakItems(rows []store.AnalyticsArtifactRow, names map[int64]string) []WeakItem {
	var out []WeakItem
	for _, r := range rows {
		if r.Margin == nil || *r.Margin >= weakMarginThreshold {
			continue
		}
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, WeakItem{
			ArtifactID: r.ID, Title: title, SpaceName: names[r.SpaceID], Margin: *r.Margin, CreatedAt: r.CreatedAt,
		})
		if len(out) >= weakItemLimit {
			break
		}
	}
	return out
}

func computePace(rows []store.AnalyticsArtifactRow, names map[int64]string, now time.Time) []PaceItem {
	recentCutoff := now.Add(-paceWindowDays * 24 * time.Hour)
	priorCutoff := now.Add(-2 * paceWindowDays * 24 * time.Hour)
	recent := map[int64]int{}
	prior := map[int64]int{}
	for _, r := range rows {
		switch {
		case !r.CreatedAt.Before(recentCutoff):
			recent[r.SpaceID]++
		case !r.CreatedAt.Before(priorCutoff):
			prior[r.SpaceID]++
		}
	}
	var out []PaceItem
	for id, count := range recent {
		name, ok := names[id]
		if !ok {
			continue
		}
		trend := "flat"
		switch {
		case count > prior[id]:
			trend = "up"
		case count < prior[id]:
			trend = "down"
		}
		out = append(out, PaceItem{SpaceName: name, Count: count, Trend: trend})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func roundTo(v float64, places int) float64 {
	mul := 1.0
	for i := 0; i < places; i++ {
		mul *= 10
	}
	return float64(int(v*mul+0.5)) / mul
}
