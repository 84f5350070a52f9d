package testhelpers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"misir/internal/apperrors"
	"misir/internal/centroid"
	"misir/internal/domain"
	"misir/internal/store"
	"misir/internal/vectorindex"
)

type fakeArtifact struct {
	artifact domain.Artifact
}

type fakeSubspace struct {
	subspace domain.Subspace
}

// FakeStore is an in-memory store.Store used by assignment/search/analytics
// tests. It reuses FakeIndex for the vectorindex.Index half of the contract
// and keeps its own slices for everything ingestion touches, mirroring
// PostgresStore's shape without a database.
type FakeStore struct {
	mu sync.Mutex

	index *FakeIndex

	spaces      map[int64]domain.Space
	subspaces   map[int64]fakeSubspace
	artifacts   map[int64]fakeArtifact
	urlIndex    map[string]int64 // (userID + "\x00" + normalizedURL) -> artifactID
	signals     []domain.Signal
	markers     map[int64]domain.Marker
	markerLinks []domain.MarkerLink

	driftEvents  []domain.DriftEvent
	velocities   []domain.VelocityMeasurement
	confidences  []domain.ConfidenceSample

	nextID int64
}

// NewFakeStore returns an empty store. Use the Seed* setup helpers to seed
// spaces/subspaces/markers before exercising a test.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		index:     NewFakeIndex(),
		spaces:    map[int64]domain.Space{},
		subspaces: map[int64]fakeSubspace{},
		artifacts: map[int64]fakeArtifact{},
		urlIndex:  map[string]int64{},
		markers:   map[int64]domain.Marker{},
	}
}

func (f *FakeStore) allocID() int64 {
	f.nextID++
	return f.nextID
}

// SeedSpace inserts a space at a caller-chosen id for test setup.
func (f *FakeStore) SeedSpace(sp domain.Space) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spaces[sp.ID] = sp
}

// SeedSubspace inserts a subspace and indexes its centroid (if present) in
// the underlying FakeIndex under the centroid-scan filter.
func (f *FakeStore) SeedSubspace(sub domain.Subspace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subspaces[sub.ID] = fakeSubspace{subspace: sub}
	if sub.CentroidEmbedding != nil {
		id := sub.ID
		f.index.Put(sub.ID, sub.UserID, sub.SpaceID, &id, sub.CentroidEmbedding)
	}
}

// SeedMarker inserts a marker and its links for test setup.
func (f *FakeStore) SeedMarker(m domain.Marker, links ...domain.MarkerLink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers[m.ID] = m
	f.markerLinks = append(f.markerLinks, links...)
}

// SeedDriftEvent appends a DriftEvent for analytics tests.
func (f *FakeStore) SeedDriftEvent(e domain.DriftEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driftEvents = append(f.driftEvents, e)
}

// SeedVelocityMeasurement appends a VelocityMeasurement for analytics tests.
func (f *FakeStore) SeedVelocityMeasurement(v domain.VelocityMeasurement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.velocities = append(f.velocities, v)
}

// SeedConfidenceSample appends a ConfidenceSample for analytics tests.
func (f *FakeStore) SeedConfidenceSample(c domain.ConfidenceSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confidences = append(f.confidences, c)
}

// SeedSignal appends a raw Signal for tests exercising
// RecentSignalMargins/SignalCountsPerDay directly, without going through
// IngestArtifactWithSignal.
func (f *FakeStore) SeedSignal(s domain.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, s)
}

func urlKey(userID, normalizedURL string) string { return userID + "\x00" + normalizedURL }

// IngestArtifactWithSignal implements store.Store. The fake does no URL
// normalization: artifacts are keyed on the URL exactly as given.
func (f *FakeStore) IngestArtifactWithSignal(_ context.Context, p store.IngestParams) (store.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := urlKey(p.UserID, p.URL)
	level := domain.NormalizeEngagementLevel(p.EngagementLevel)

	var artifactID int64
	isNew := false
	if existingID, ok := f.urlIndex[key]; ok {
		artifactID = existingID
		fa := f.artifacts[artifactID]
		fa.artifact.EngagementLevel = domain.MaxEngagement(fa.artifact.EngagementLevel, level)
		fa.artifact.DwellTimeMS += p.DwellTimeMS
		if p.ScrollDepth > fa.artifact.ScrollDepth {
			fa.artifact.ScrollDepth = p.ScrollDepth
		}
		if p.ReadingDepth > fa.artifact.ReadingDepth {
			fa.artifact.ReadingDepth = p.ReadingDepth
		}
		f.artifacts[artifactID] = fa
	} else {
		isNew = true
		artifactID = f.allocID()
		f.artifacts[artifactID] = fakeArtifact{artifact: domain.Artifact{
			ID: artifactID, UserID: p.UserID, URL: p.URL, NormalizedURL: p.URL,
			Title: p.Title, Text: p.Text, WordCount: p.WordCount,
			EngagementLevel: level, ContentSource: p.ContentSource,
			DwellTimeMS: p.DwellTimeMS, ScrollDepth: p.ScrollDepth, ReadingDepth: p.ReadingDepth,
			SpaceID: p.SpaceID, SubspaceID: p.SubspaceID, MatchedMarkers: p.MatchedMarkerIDs,
			CreatedAt: time.Now(),
		}}
		f.urlIndex[key] = artifactID
	}

	signalID := 10_000_000 + f.allocID()
	f.signals = append(f.signals, domain.Signal{
		ID: signalID, ArtifactID: artifactID, UserID: p.UserID, Vector: p.Vector,
		Magnitude: p.Magnitude, SignalType: p.SignalType, EmbeddingModel: p.EmbeddingModel,
		EmbeddingDimension: p.EmbeddingDimension, Margin: p.Margin, UpdatesCentroid: p.UpdatesCentroid,
		SpaceID: p.SpaceID, SubspaceID: p.SubspaceID, CreatedAt: time.Now(),
	})
	f.index.Put(signalID, p.UserID, p.SpaceID, p.SubspaceID, p.Vector)

	result := store.IngestResult{ArtifactID: artifactID, SignalID: signalID, IsNew: isNew, ResolvedSubspaceID: p.SubspaceID}
	if !isNew {
		result.Message = "artifact already captured; signal recorded"
	}

	if p.UpdatesCentroid && p.SubspaceID != nil {
		fs, ok := f.subspaces[*p.SubspaceID]
		if ok {
			alpha := fs.subspace.LearningRate
			if alpha == 0 {
				alpha = p.DefaultAlpha
			}
			prev := fs.subspace.CentroidEmbedding
			prevUpdatedAt := fs.subspace.CentroidUpdatedAt
			upd := centroid.Update(prev, p.Vector, alpha)
			now := time.Now()
			fs.subspace.CentroidEmbedding = upd.NewCentroid
			fs.subspace.ArtifactCount++
			fs.subspace.CentroidUpdatedAt = &now
			if prev != nil {
				beta := p.ConfidenceBeta
				if beta <= 0 {
					beta = 0.05
				}
				coherence := centroid.BatchCoherence([][]float32{p.Vector}, prev)
				fs.subspace.Confidence = centroid.ConfidenceEMA(fs.subspace.Confidence, coherence, beta)
				f.confidences = append(f.confidences, domain.ConfidenceSample{
					ID: f.allocID(), SubspaceID: *p.SubspaceID, Confidence: fs.subspace.Confidence, ComputedAt: now,
				})
			}
			f.subspaces[*p.SubspaceID] = fs
			f.index.Put(*p.SubspaceID, fs.subspace.UserID, fs.subspace.SpaceID, p.SubspaceID, fs.subspace.CentroidEmbedding)
			result.CentroidUpdated = true
			result.Drift = upd.Drift
			if prev != nil && prevUpdatedAt != nil {
				dt := now.Sub(*prevUpdatedAt).Seconds()
				f.velocities = append(f.velocities, domain.VelocityMeasurement{
					ID: f.allocID(), SubspaceID: *p.SubspaceID,
					Velocity: centroid.Velocity(prev, upd.NewCentroid, dt), MeasuredAt: now,
				})
			}
			if upd.Drift >= p.DriftThreshold {
				f.driftEvents = append(f.driftEvents, domain.DriftEvent{
					ID: f.allocID(), SubspaceID: *p.SubspaceID, DriftMagnitude: upd.Drift,
					TriggerSignal: signalID, OccurredAt: now,
				})
			}
		}
	}
	return result, nil
}

// BackfillAssignment implements store.Store.
func (f *FakeStore) BackfillAssignment(_ context.Context, _ string, artifactID int64, subspaceID int64, matchedMarkerIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fa, ok := f.artifacts[artifactID]
	if !ok || fa.artifact.SubspaceID != nil {
		return nil
	}
	fa.artifact.SubspaceID = &subspaceID
	fa.artifact.MatchedMarkers = matchedMarkerIDs
	f.artifacts[artifactID] = fa
	return nil
}

func (f *FakeStore) GetArtifact(_ context.Context, userID string, artifactID int64) (domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fa, ok := f.artifacts[artifactID]
	if !ok || fa.artifact.UserID != userID {
		return domain.Artifact{}, apperrors.NewNotFound("artifact", fmt.Sprintf("%d", artifactID))
	}
	return fa.artifact, nil
}

func (f *FakeStore) UpdateArtifact(_ context.Context, userID string, artifactID int64, patch store.ArtifactPatch) (domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fa, ok := f.artifacts[artifactID]
	if !ok || fa.artifact.UserID != userID {
		return domain.Artifact{}, apperrors.NewNotFound("artifact", fmt.Sprintf("%d", artifactID))
	}
	a := fa.artifact
	if patch.Title != nil {
		a.Title = *patch.Title
	}
	if patch.Text != nil {
		a.Text = *patch.Text
	}
	if patch.SubspaceID != nil {
		a.SubspaceID = patch.SubspaceID
	}
	if patch.EngagementLevel != nil {
		a.EngagementLevel = domain.MaxEngagement(a.EngagementLevel, *patch.EngagementLevel)
	}
	f.artifacts[artifactID] = fakeArtifact{artifact: a}
	return a, nil
}

func (f *FakeStore) DeleteArtifact(_ context.Context, userID string, artifactID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fa, ok := f.artifacts[artifactID]
	if !ok || fa.artifact.UserID != userID || fa.artifact.DeletedAt != nil {
		return apperrors.NewNotFound("artifact", fmt.Sprintf("%d", artifactID))
	}
	now := time.Now()
	fa.artifact.DeletedAt = &now
	f.artifacts[artifactID] = fa
	for i, sig := range f.signals {
		if sig.ArtifactID == artifactID && sig.DeletedAt == nil {
			f.signals[i].DeletedAt = &now
		}
	}
	return nil
}

func (f *FakeStore) ListArtifactsForAnalytics(_ context.Context, userID string, limit int) ([]store.AnalyticsArtifactRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AnalyticsArtifactRow
	for _, fa := range f.artifacts {
		a := fa.artifact
		if a.UserID != userID || a.DeletedAt != nil {
			continue
		}
		var margin *float64
		for i := len(f.signals) - 1; i >= 0; i-- {
			if f.signals[i].ArtifactID == a.ID && f.signals[i].DeletedAt == nil && f.signals[i].Margin != nil {
				m := *f.signals[i].Margin
				margin = &m
				break
			}
		}
		out = append(out, store.AnalyticsArtifactRow{
			ID: a.ID, Title: a.Title, SpaceID: a.SpaceID, CreatedAt: a.CreatedAt, WordCount: a.WordCount, Margin: margin,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStore) CreateSpace(_ context.Context, userID, name, intention string, embedding []float32) (domain.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.allocID()
	sp := domain.Space{ID: id, UserID: userID, Name: name, Intention: intention, Embedding: embedding, CreatedAt: time.Now()}
	f.spaces[id] = sp
	return sp, nil
}

func (f *FakeStore) UpdateSpace(_ context.Context, userID string, spaceID int64, patch store.SpacePatch) (domain.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.spaces[spaceID]
	if !ok || sp.UserID != userID {
		return domain.Space{}, apperrors.NewNotFound("space", fmt.Sprintf("%d", spaceID))
	}
	if patch.Name != nil {
		sp.Name = *patch.Name
	}
	if patch.Intention != nil {
		sp.Intention = *patch.Intention
	}
	if patch.Embedding != nil {
		sp.Embedding = patch.Embedding
	}
	f.spaces[spaceID] = sp
	return sp, nil
}

func (f *FakeStore) DeleteSpace(_ context.Context, userID string, spaceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.spaces[spaceID]
	if !ok || sp.UserID != userID || sp.DeletedAt != nil {
		return apperrors.NewNotFound("space", fmt.Sprintf("%d", spaceID))
	}
	now := time.Now()
	sp.DeletedAt = &now
	f.spaces[spaceID] = sp
	return nil
}

func (f *FakeStore) GetSpace(_ context.Context, userID string, spaceID int64) (domain.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.spaces[spaceID]
	if !ok || sp.UserID != userID {
		return domain.Space{}, apperrors.NewNotFound("space", fmt.Sprintf("%d", spaceID))
	}
	return sp, nil
}

func (f *FakeStore) ListSpaces(_ context.Context, userID string) ([]domain.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Space
	for _, sp := range f.spaces {
		if sp.UserID == userID && sp.DeletedAt == nil {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (f *FakeStore) GetSubspace(_ context.Context, userID string, subspaceID int64) (domain.Subspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subspaces[subspaceID]
	if !ok || sub.subspace.UserID != userID {
		return domain.Subspace{}, apperrors.NewNotFound("subspace", fmt.Sprintf("%d", subspaceID))
	}
	return sub.subspace, nil
}

func (f *FakeStore) ListSubspaces(_ context.Context, userID string, spaceID int64) ([]domain.Subspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Subspace
	for _, s := range f.subspaces {
		if s.subspace.UserID == userID && s.subspace.SpaceID == spaceID && s.subspace.DeletedAt == nil {
			out = append(out, s.subspace)
		}
	}
	return out, nil
}

func (f *FakeStore) ListActiveCentroids(ctx context.Context, userID string, spaceID int64) ([]domain.Subspace, error) {
	all, err := f.ListSubspaces(ctx, userID, spaceID)
	if err != nil {
		return nil, err
	}
	var out []domain.Subspace
	for _, s := range all {
		if s.CentroidEmbedding != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *FakeStore) CreateSubspace(_ context.Context, userID string, spaceID int64, name, description string, learningRate float64) (domain.Subspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.allocID()
	sub := domain.Subspace{ID: id, UserID: userID, SpaceID: spaceID, Name: name, Description: description, LearningRate: learningRate, CreatedAt: time.Now()}
	f.subspaces[id] = fakeSubspace{subspace: sub}
	return sub, nil
}

func (f *FakeStore) UpdateSubspace(_ context.Context, userID string, subspaceID int64, patch store.SubspacePatch) (domain.Subspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.subspaces[subspaceID]
	if !ok || fs.subspace.UserID != userID {
		return domain.Subspace{}, apperrors.NewNotFound("subspace", fmt.Sprintf("%d", subspaceID))
	}
	sub := fs.subspace
	if patch.Name != nil {
		sub.Name = *patch.Name
	}
	if patch.Description != nil {
		sub.Description = *patch.Description
	}
	if patch.LearningRate != nil {
		sub.LearningRate = domain.Clip(*patch.LearningRate, 0, 1)
	}
	f.subspaces[subspaceID] = fakeSubspace{subspace: sub}
	return sub, nil
}

func (f *FakeStore) DeleteSubspace(_ context.Context, userID string, subspaceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.subspaces[subspaceID]
	if !ok || fs.subspace.UserID != userID || fs.subspace.DeletedAt != nil {
		return apperrors.NewNotFound("subspace", fmt.Sprintf("%d", subspaceID))
	}
	now := time.Now()
	fs.subspace.DeletedAt = &now
	f.subspaces[subspaceID] = fs
	n := 0
	for _, l := range f.markerLinks {
		if l.SubspaceID != subspaceID {
			f.markerLinks[n] = l
			n++
		}
	}
	f.markerLinks = f.markerLinks[:n]
	return nil
}

func (f *FakeStore) MergeSubspaces(_ context.Context, userID string, spaceID, sourceID, targetID int64) (domain.Subspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.subspaces[sourceID]
	if !ok || src.subspace.UserID != userID || src.subspace.SpaceID != spaceID {
		return domain.Subspace{}, apperrors.NewNotFound("subspace", fmt.Sprintf("%d", sourceID))
	}
	tgt, ok := f.subspaces[targetID]
	if !ok || tgt.subspace.UserID != userID || tgt.subspace.SpaceID != spaceID {
		return domain.Subspace{}, apperrors.NewNotFound("subspace", fmt.Sprintf("%d", targetID))
	}
	for id, fa := range f.artifacts {
		if fa.artifact.SubspaceID != nil && *fa.artifact.SubspaceID == sourceID {
			t := targetID
			fa.artifact.SubspaceID = &t
			f.artifacts[id] = fa
		}
	}
	for i, sig := range f.signals {
		if sig.SubspaceID != nil && *sig.SubspaceID == sourceID {
			t := targetID
			f.signals[i].SubspaceID = &t
		}
	}
	merged := mergeCentroids(src.subspace, tgt.subspace)
	if merged != nil {
		tgt.subspace.CentroidEmbedding = merged
		tgt.subspace.ArtifactCount += src.subspace.ArtifactCount
		now := time.Now()
		tgt.subspace.CentroidUpdatedAt = &now
	}
	f.subspaces[targetID] = tgt
	now := time.Now()
	src.subspace.DeletedAt = &now
	f.subspaces[sourceID] = src
	return tgt.subspace, nil
}

// mergeCentroids mirrors PostgresStore's artifact-count-weighted average;
// it is a copy of that logic, not a call into package store.
func mergeCentroids(src, tgt domain.Subspace) []float32 {
	if src.CentroidEmbedding == nil {
		return tgt.CentroidEmbedding
	}
	if tgt.CentroidEmbedding == nil {
		return src.CentroidEmbedding
	}
	wSrc, wTgt := float64(src.ArtifactCount), float64(tgt.ArtifactCount)
	if wSrc+wTgt == 0 {
		wSrc, wTgt = 1, 1
	}
	out := make([]float32, len(tgt.CentroidEmbedding))
	for i := range out {
		out[i] = float32((float64(src.CentroidEmbedding[i])*wSrc + float64(tgt.CentroidEmbedding[i])*wTgt) / (wSrc + wTgt))
	}
	return domain.Normalize(out)
}

func (f *FakeStore) CreateMarker(_ context.Context, userID string, spaceID int64, label string, embedding []float32, weight float64) (domain.Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.allocID()
	m := domain.Marker{ID: id, UserID: userID, Label: label, Embedding: embedding, CreatedAt: time.Now()}
	f.markers[id] = m
	return m, nil
}

func (f *FakeStore) ListMarkersForSpace(_ context.Context, userID string, spaceID int64) ([]domain.Marker, []domain.MarkerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subIDs := map[int64]bool{}
	for _, s := range f.subspaces {
		if s.subspace.UserID == userID && s.subspace.SpaceID == spaceID {
			subIDs[s.subspace.ID] = true
		}
	}
	var links []domain.MarkerLink
	markerIDs := map[int64]bool{}
	for _, l := range f.markerLinks {
		if subIDs[l.SubspaceID] {
			links = append(links, l)
			markerIDs[l.MarkerID] = true
		}
	}
	var markers []domain.Marker
	for id := range markerIDs {
		if m, ok := f.markers[id]; ok && m.DeletedAt == nil {
			markers = append(markers, m)
		}
	}
	return markers, links, nil
}

func (f *FakeStore) SetSubspaceCentroidFromMarkers(_ context.Context, _ string, subspaceID int64, centroidVec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.subspaces[subspaceID]
	if !ok {
		return apperrors.NewNotFound("subspace", fmt.Sprintf("%d", subspaceID))
	}
	fs.subspace.CentroidEmbedding = domain.Normalize(centroidVec)
	now := time.Now()
	fs.subspace.CentroidUpdatedAt = &now
	f.subspaces[subspaceID] = fs
	f.index.Put(subspaceID, fs.subspace.UserID, fs.subspace.SpaceID, &subspaceID, fs.subspace.CentroidEmbedding)
	return nil
}

func (f *FakeStore) RegenerateMarkerEmbedding(_ context.Context, markerID int64, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markers[markerID]
	if !ok {
		return apperrors.NewNotFound("marker", fmt.Sprintf("%d", markerID))
	}
	m.Embedding = domain.Normalize(vec)
	f.markers[markerID] = m
	return nil
}

func (f *FakeStore) DecayAllMarkerWeights(_ context.Context, userID string, gamma, minWeight float64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subIDs := map[int64]bool{}
	for _, s := range f.subspaces {
		if s.subspace.UserID == userID {
			subIDs[s.subspace.ID] = true
		}
	}
	n := 0
	for i, l := range f.markerLinks {
		if !subIDs[l.SubspaceID] {
			continue
		}
		next := l.Weight * (1 - gamma)
		if next < minWeight {
			next = minWeight
		}
		f.markerLinks[i].Weight = next
		n++
	}
	return n, nil
}

func (f *FakeStore) DriftEvents(_ context.Context, _ string, _ int64, subspaceID *int64, limit int) ([]domain.DriftEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DriftEvent
	for i := len(f.driftEvents) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := f.driftEvents[i]
		if subspaceID == nil || e.SubspaceID == *subspaceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *FakeStore) VelocityMeasurements(_ context.Context, _ string, _ int64, subspaceID *int64, limit int) ([]domain.VelocityMeasurement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.VelocityMeasurement
	for i := len(f.velocities) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		v := f.velocities[i]
		if subspaceID == nil || v.SubspaceID == *subspaceID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *FakeStore) ConfidenceSamples(_ context.Context, _ string, _ int64, subspaceID *int64, limit int) ([]domain.ConfidenceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ConfidenceSample
	for i := len(f.confidences) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		c := f.confidences[i]
		if subspaceID == nil || c.SubspaceID == *subspaceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeStore) RecentSignalMargins(_ context.Context, userID string, spaceID int64, limit int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []float64
	for i := len(f.signals) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		s := f.signals[i]
		if s.UserID == userID && s.SpaceID == spaceID && s.Margin != nil {
			out = append(out, *s.Margin)
		}
	}
	return out, nil
}

func (f *FakeStore) SignalCountsPerDay(_ context.Context, userID string, subspaceID int64, since time.Time) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, s := range f.signals {
		if s.UserID != userID || s.SubspaceID == nil || *s.SubspaceID != subspaceID {
			continue
		}
		if s.CreatedAt.Before(since) {
			continue
		}
		out[s.CreatedAt.Format("2006-01-02")]++
	}
	return out, nil
}

func (f *FakeStore) toSearchRow(s domain.Signal) (store.SearchRow, bool) {
	fa, ok := f.artifacts[s.ArtifactID]
	if !ok {
		return store.SearchRow{}, false
	}
	const maxPreview = 240
	preview := fa.artifact.Text
	if len(preview) > maxPreview {
		preview = preview[:maxPreview]
	}
	return store.SearchRow{
		SignalID: s.ID, ArtifactID: s.ArtifactID, Title: fa.artifact.Title, URL: fa.artifact.URL,
		ContentPreview: preview, SpaceID: s.SpaceID, SubspaceID: s.SubspaceID,
		EngagementLevel: fa.artifact.EngagementLevel, DwellTimeMS: fa.artifact.DwellTimeMS,
	}, true
}

// SignalsByID implements store.Store.
func (f *FakeStore) SignalsByID(_ context.Context, userID string, signalIDs []int64) ([]store.SearchRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := make(map[int64]domain.Signal, len(f.signals))
	for _, s := range f.signals {
		if s.UserID == userID {
			byID[s.ID] = s
		}
	}
	out := make([]store.SearchRow, 0, len(signalIDs))
	for _, id := range signalIDs {
		s, ok := byID[id]
		if !ok {
			continue
		}
		if row, ok := f.toSearchRow(s); ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// RecentSignals implements store.Store.
func (f *FakeStore) RecentSignals(_ context.Context, userID string, spaceID *int64, subspaceID *int64, limit int) ([]store.SearchRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.SearchRow
	for i := len(f.signals) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		s := f.signals[i]
		if s.UserID != userID {
			continue
		}
		if spaceID != nil && s.SpaceID != *spaceID {
			continue
		}
		if subspaceID != nil && (s.SubspaceID == nil || *s.SubspaceID != *subspaceID) {
			continue
		}
		if row, ok := f.toSearchRow(s); ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// KNN384 delegates to the embedded FakeIndex.
func (f *FakeStore) KNN384(ctx context.Context, filt vectorindex.Filters, q []float32, k int) ([]vectorindex.Hit, error) {
	return f.index.KNN384(ctx, filt, q, k)
}

// KNN768 delegates to the embedded FakeIndex.
func (f *FakeStore) KNN768(ctx context.Context, filt vectorindex.Filters, q []float32, k int) ([]vectorindex.Hit, error) {
	return f.index.KNN768(ctx, filt, q, k)
}

// SearchMatryoshka delegates to the embedded FakeIndex.
func (f *FakeStore) SearchMatryoshka(ctx context.Context, filt vectorindex.Filters, q384, q768 []float32, k, prefilterK int, threshold float64) ([]vectorindex.MatryoshkaHit, error) {
	return f.index.SearchMatryoshka(ctx, filt, q384, q768, k, prefilterK, threshold)
}
