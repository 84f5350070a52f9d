package assignment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"misir/internal/assignment"
	"misir/internal/domain"
	"misir/internal/margin"
	"misir/internal/testhelpers"
)

func newPipeline(st *testhelpers.FakeStore, emb *testhelpers.DeterministicEmbedder) *assignment.Pipeline {
	marginSvc := margin.New(st, st, 0.05)
	return assignment.New(emb, marginSvc, st, assignment.WithEmbeddingDimension(emb.Dim))
}

func baseCommand(userID string, spaceID int64, url string) assignment.Command {
	return assignment.Command{
		UserID:          userID,
		URL:             url,
		Title:           "Intro to Go generics",
		Text:            "generics type parameters constraints go",
		WordCount:       300,
		EngagementLevel: domain.EngagementDiscovered,
		ContentSource:   domain.SourceWeb,
		DwellTimeMS:     60000,
		ScrollDepth:     0.5,
		ReadingDepth:    0.5,
		SpaceID:         spaceID,
	}
}

func TestCapture_BootstrapInEmptySpace(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1", Name: "Learning"})
	p := newPipeline(st, emb)

	res, err := p.Capture(context.Background(), baseCommand("u1", 1, "https://example.com/a"))
	require.NoError(t, err)
	require.True(t, res.IsNew)
	require.NotZero(t, res.ArtifactID)
	require.NotZero(t, res.SignalID)

	art, err := st.GetArtifact(context.Background(), "u1", res.ArtifactID)
	require.NoError(t, err)
	require.Nil(t, art.SubspaceID)
}

func TestCapture_ExplicitSubspaceOverrideUpdatesCentroid(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	seedVec := domain.Normalize(make([]float32, 768))
	seedVec[0] = 1
	st.SeedSubspace(domain.Subspace{
		ID: 10, UserID: "u1", SpaceID: 1, Name: "Go",
		CentroidEmbedding: seedVec, LearningRate: 0.1,
	})
	p := newPipeline(st, emb)

	cmd := baseCommand("u1", 1, "https://example.com/b")
	sub := int64(10)
	cmd.SubspaceID = &sub

	res, err := p.Capture(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, res.IsNew)

	updated, err := st.GetSubspace(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.NotNil(t, updated.CentroidEmbedding)
	require.Equal(t, 1, updated.ArtifactCount)
}

func TestCapture_BootstrapNeverCreatesSubspace(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	p := newPipeline(st, emb)

	cmd := baseCommand("u1", 1, "https://example.com/first")
	first, err := p.Capture(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, first.IsNew)

	subs, err := st.ListSubspaces(context.Background(), "u1", 1)
	require.NoError(t, err)
	require.Empty(t, subs, "bootstrap never creates a subspace by itself")
}

func TestCapture_EngagementUpgradeOnlyOnURLCollision(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	p := newPipeline(st, emb)

	first := baseCommand("u1", 1, "https://example.com/dup")
	first.EngagementLevel = domain.EngagementEngaged
	r1, err := p.Capture(context.Background(), first)
	require.NoError(t, err)
	require.True(t, r1.IsNew)

	second := baseCommand("u1", 1, "https://example.com/dup")
	second.EngagementLevel = domain.EngagementLatent
	r2, err := p.Capture(context.Background(), second)
	require.NoError(t, err)
	require.False(t, r2.IsNew)
	require.Equal(t, r1.ArtifactID, r2.ArtifactID)

	art, err := st.GetArtifact(context.Background(), "u1", r1.ArtifactID)
	require.NoError(t, err)
	require.Equal(t, domain.EngagementEngaged, art.EngagementLevel, "a lower-rank signal must never downgrade engagement")
}

func TestCapture_MarkerHintingResolvesSubspaceWithoutCentroidUpdate(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 20, UserID: "u1", SpaceID: 1, Name: "Go generics", LearningRate: 0.1})
	st.SeedMarker(
		domain.Marker{ID: 200, UserID: "u1", Label: "generics constraints"},
		domain.MarkerLink{SubspaceID: 20, MarkerID: 200, Weight: 1.0, Source: domain.MarkerUserDefined},
	)
	p := newPipeline(st, emb)

	res, err := p.Capture(context.Background(), baseCommand("u1", 1, "https://example.com/markers"))
	require.NoError(t, err)
	require.True(t, res.IsNew)

	art, err := st.GetArtifact(context.Background(), "u1", res.ArtifactID)
	require.NoError(t, err)
	require.NotNil(t, art.SubspaceID)
	require.Equal(t, int64(20), *art.SubspaceID)

	sub, err := st.GetSubspace(context.Background(), "u1", 20)
	require.NoError(t, err)
	require.Nil(t, sub.CentroidEmbedding, "marker-hinted assignments must not update the centroid")
}

func TestCapture_CentroidlessSubspaceResolvesThroughMatchingMarker(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 30, UserID: "u1", SpaceID: 1, Name: "Go generics", LearningRate: 0.1})
	st.SeedMarker(
		domain.Marker{ID: 300, UserID: "u1", Label: "generics constraints"},
		domain.MarkerLink{SubspaceID: 30, MarkerID: 300, Weight: 1.0, Source: domain.MarkerUserDefined},
	)
	p := newPipeline(st, emb)

	res, err := p.Capture(context.Background(), baseCommand("u1", 1, "https://example.com/legacy"))
	require.NoError(t, err)
	require.True(t, res.IsNew)

	art, err := st.GetArtifact(context.Background(), "u1", res.ArtifactID)
	require.NoError(t, err)
	require.NotNil(t, art.SubspaceID)
}

func TestCapture_CommittingSignalUpdatesConfidence(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	seedVec := make([]float32, 768)
	seedVec[0] = 1
	st.SeedSubspace(domain.Subspace{
		ID: 40, UserID: "u1", SpaceID: 1, Name: "Go",
		CentroidEmbedding: seedVec, LearningRate: 0.1,
	})
	p := newPipeline(st, emb)

	cmd := baseCommand("u1", 1, "https://example.com/confidence")
	sub := int64(40)
	cmd.SubspaceID = &sub

	_, err := p.Capture(context.Background(), cmd)
	require.NoError(t, err)

	updated, err := st.GetSubspace(context.Background(), "u1", 40)
	require.NoError(t, err)
	require.GreaterOrEqual(t, updated.Confidence, 0.0)
	require.LessOrEqual(t, updated.Confidence, 1.0)

	samples, err := st.ConfidenceSamples(context.Background(), "u1", 1, &sub, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1, "a committing signal against an existing centroid appends one confidence sample")
	require.Equal(t, updated.Confidence, samples[0].Confidence)
}

func TestCapture_BootstrapCentroidSkipsConfidenceUpdate(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 41, UserID: "u1", SpaceID: 1, Name: "Fresh", LearningRate: 0.1})
	p := newPipeline(st, emb)

	cmd := baseCommand("u1", 1, "https://example.com/fresh")
	sub := int64(41)
	cmd.SubspaceID = &sub

	_, err := p.Capture(context.Background(), cmd)
	require.NoError(t, err)

	samples, err := st.ConfidenceSamples(context.Background(), "u1", 1, &sub, 0)
	require.NoError(t, err)
	require.Empty(t, samples, "no centroid existed before this signal, so there was nothing to cohere with")
}

func TestCapture_RejectsInvalidCommand(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	p := newPipeline(st, emb)

	cmd := baseCommand("u1", 1, "https://example.com/bad")
	cmd.UserID = ""
	_, err := p.Capture(context.Background(), cmd)
	require.Error(t, err)
}

func TestCapture_SuspiciousReadingDepthDoesNotRejectCapture(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})

	var warnings []string
	logger := &recordingLogger{}
	marginSvc := margin.New(st, st, 0.05)
	p := assignment.New(emb, marginSvc, st, assignment.WithLogger(logger), assignment.WithEmbeddingDimension(768))

	cmd := baseCommand("u1", 1, "https://example.com/suspicious")
	cmd.DwellTimeMS = 1
	cmd.ScrollDepth = 0
	cmd.ReadingDepth = 1.4

	res, err := p.Capture(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, res.IsNew)
	for _, w := range logger.warnings {
		warnings = append(warnings, w)
	}
	require.NotEmpty(t, warnings)
}

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Info(string, map[string]any) {}
func (l *recordingLogger) Warn(msg string, _ map[string]any) {
	l.warnings = append(l.warnings, msg)
}
