package assignment

import (
	"context"
	"strings"

	"misir/internal/apperrors"
	"misir/internal/config"
	"misir/internal/domain"
	"misir/internal/store"
)

// Pipeline is the composed capture flow. Construct once per process
// with New and reuse across requests; it holds no per-request state.
type Pipeline struct {
	embedder   Embedder
	margin     MarginResolver
	store      Store
	dispatcher EventDispatcher
	logger     Logger
	clock      Clock

	embeddingDim          int
	marginThreshold       float64
	defaultAlpha          float64
	confidenceBeta        float64
	driftThreshold        float64
	minSignalsBetweenLogs int
	legacyRepairLimit     int
	readingDepth          config.ReadingDepthConstants
}

// New wires a Pipeline from its three required collaborators plus options.
// Defaults: embeddingDim 768, marginThreshold 0.05, defaultAlpha 0.1,
// driftThreshold 0.05, minSignalsBetweenLogs 5, legacyRepairLimit 5.
func New(embedder Embedder, marginSvc MarginResolver, st Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		embedder:              embedder,
		margin:                marginSvc,
		store:                 st,
		dispatcher:            noopDispatcher{},
		logger:                noopLogger{},
		clock:                 realClock{},
		embeddingDim:          768,
		marginThreshold:       0.05,
		defaultAlpha:          0.1,
		confidenceBeta:        0.05,
		driftThreshold:        0.05,
		minSignalsBetweenLogs: 5,
		legacyRepairLimit:     5,
	}
	p.readingDepth.AvgWPM = 200
	p.readingDepth.TimeWeight = 0.6
	p.readingDepth.ScrollWeight = 0.4
	p.readingDepth.MaxRatio = 1.5
	p.readingDepth.Tolerance = 0.20
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is what Capture returns.
type Result struct {
	ArtifactID int64
	SignalID   int64
	IsNew      bool
	Message    string
}

// Capture runs the full assignment flow for one command: construction
// validation, embedding resolution, subspace resolution (margin service,
// then marker hinting, then legacy repair), engagement normalization,
// atomic persistence, assignment backfill, and fire-and-forget webhook
// dispatch.
func (p *Pipeline) Capture(ctx context.Context, raw Command) (Result, error) {
	cmd, verr := NewCommand(raw)
	if verr != nil {
		return Result{}, verr
	}
	if warnings, errs := cmd.Validate(p.embeddingDim); len(warnings)+len(errs) > 0 {
		// Enum typos and dimension mismatches are logged, not rejected;
		// the store is the arbiter of what it will persist.
		p.logger.Warn("capture command validation findings", map[string]any{
			"user_id": cmd.UserID, "url": cmd.URL, "warnings": warnings, "errors": errs,
		})
	}

	vec, model, dim, err := p.resolveEmbedding(ctx, cmd)
	if err != nil {
		return Result{}, err
	}

	content := strings.TrimSpace(cmd.Text + " " + cmd.Title)
	subspaceID, matchedMarkers, margin, updatesCentroid := p.resolveSubspace(ctx, cmd, content, vec)

	p.checkReadingDepth(cmd)

	ingestParams := store.IngestParams{
		UserID: cmd.UserID, URL: cmd.URL, Title: cmd.Title, Text: cmd.Text, WordCount: cmd.WordCount,
		EngagementLevel: cmd.EngagementLevel, ContentSource: cmd.ContentSource,
		DwellTimeMS: cmd.DwellTimeMS, ScrollDepth: cmd.ScrollDepth, ReadingDepth: cmd.ReadingDepth,
		SpaceID: cmd.SpaceID, SubspaceID: subspaceID, MatchedMarkerIDs: matchedMarkers,
		Vector: vec, EmbeddingModel: model, EmbeddingDimension: dim,
		SignalType: domain.SignalSemantic, Magnitude: 1.0,
		Margin: margin, UpdatesCentroid: updatesCentroid,
		DefaultAlpha: p.defaultAlpha, ConfidenceBeta: p.confidenceBeta,
		DriftThreshold:             p.driftThreshold,
		MinSignalsBetweenDriftLogs: p.minSignalsBetweenLogs,
	}

	ingestResult, err := p.store.IngestArtifactWithSignal(ctx, ingestParams)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return Result{}, err
		}
		return Result{}, apperrors.NewRepository("ingest_artifact_with_signal", err)
	}

	if !ingestResult.IsNew && subspaceID != nil {
		if err := p.store.BackfillAssignment(ctx, cmd.UserID, ingestResult.ArtifactID, *subspaceID, matchedMarkers); err != nil {
			p.logger.Warn("assignment backfill failed", map[string]any{"error": err.Error(), "artifact_id": ingestResult.ArtifactID})
		}
	}

	eventType := "artifact.updated"
	if ingestResult.IsNew {
		eventType = "artifact.created"
	}
	p.dispatch(eventType, ingestResult)

	return Result{
		ArtifactID: ingestResult.ArtifactID,
		SignalID:   ingestResult.SignalID,
		IsNew:      ingestResult.IsNew,
		Message:    ingestResult.Message,
	}, nil
}

func (p *Pipeline) resolveEmbedding(ctx context.Context, cmd Command) (vec []float32, model string, dim int, err error) {
	if cmd.Embedding != nil {
		vec = cmd.Embedding
		dim = len(vec)
		if !domain.IsUnitL2(vec, 1e-6) {
			vec = domain.Normalize(vec)
		}
		return vec, model, dim, nil
	}
	res, embedErr := p.embedder.EmbedDocument(ctx, strings.TrimSpace(cmd.Text+" "+cmd.Title), p.embeddingDim)
	if embedErr != nil {
		return nil, "", 0, apperrors.NewEmbedding("embed_document", embedErr)
	}
	return res.Vector, res.Model, res.Dim, nil
}

// resolveSubspace picks the target subspace: explicit override, else
// margin service, else marker hinting, else legacy repair, else bootstrap
// (subspace_id stays nil, margin 1.0, updates_centroid true -- a no-op
// since the store never mutates a centroid that doesn't exist).
func (p *Pipeline) resolveSubspace(ctx context.Context, cmd Command, content string, vec []float32) (subspaceID *int64, matchedMarkers []int64, marginVal *float64, updatesCentroid bool) {
	if cmd.SubspaceID != nil {
		return cmd.SubspaceID, cmd.MarkerHintIDs, nil, true
	}

	vec384 := domain.TruncateAndNormalize(vec, 384)
	res, err := p.margin.ResolveWithThreshold(ctx, cmd.UserID, cmd.SpaceID, vec384, vec, p.marginThreshold)
	if err != nil {
		p.logger.Warn("margin resolution failed", map[string]any{"error": err.Error(), "space_id": cmd.SpaceID})
	} else if res.NearestSubspaceID != nil {
		m := res.Margin
		return res.NearestSubspaceID, nil, &m, res.UpdatesCentroid
	}

	if id, markers := p.resolveByMarkers(ctx, cmd.UserID, cmd.SpaceID, content, vec); id != nil {
		return id, markers, nil, false
	}

	if id, markers := p.legacyRepair(ctx, cmd.UserID, cmd.SpaceID, content, vec); id != nil {
		return id, markers, nil, false
	}

	defaultMargin := 1.0
	return nil, nil, &defaultMargin, true
}

func (p *Pipeline) checkReadingDepth(cmd Command) {
	expected := expectedReadingDepth(cmd.WordCount, cmd.DwellTimeMS, cmd.ScrollDepth,
		p.readingDepth.AvgWPM, p.readingDepth.TimeWeight, p.readingDepth.ScrollWeight, p.readingDepth.MaxRatio)
	if suspiciousReadingDepth(cmd.ReadingDepth, expected, p.readingDepth.Tolerance) {
		p.logger.Warn("suspicious reading depth", map[string]any{
			"user_id": cmd.UserID, "url": cmd.URL, "observed": cmd.ReadingDepth, "expected": expected,
		})
	}
}

func (p *Pipeline) dispatch(eventType string, result store.IngestResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("webhook dispatch panicked", map[string]any{"recovered": r})
		}
	}()
	p.dispatcher.Dispatch(eventType, map[string]any{
		"artifact_id": result.ArtifactID,
		"signal_id":   result.SignalID,
		"is_new":      result.IsNew,
	})
}
