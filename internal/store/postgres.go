// Package store's Postgres backend: pgxpool.Pool usage, pgvector.Vector
// scan/marshal round trips, and the one atomic ingestion path the capture
// flow depends on.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"misir/internal/apperrors"
	"misir/internal/centroid"
	"misir/internal/domain"
	"misir/internal/vectorindex"
)

// PostgresStore implements the full Store contract over one pgxpool.Pool.
// It embeds vectorindex.PostgresIndex for the read-only KNN side of the
// contract and adds the write/ingestion and history-read methods.
type PostgresStore struct {
	*vectorindex.PostgresIndex
	pool *pgxpool.Pool
}

// NewPostgresStore wires a PostgresStore to an already-open, already
// migrated (EnsureSchema) pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{PostgresIndex: vectorindex.NewPostgresIndex(pool), pool: pool}
}

// IngestArtifactWithSignal is the one atomic write path for captures.
func (s *PostgresStore) IngestArtifactWithSignal(ctx context.Context, p IngestParams) (IngestResult, error) {
	normalized := normalizeURL(p.URL)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return IngestResult{}, apperrors.NewRepository("begin ingest tx", err)
	}
	defer tx.Rollback(ctx)

	var (
		artifactID        int64
		existingLevel     string
		existingDwell     int64
		existingScroll    float64
		existingReading   float64
		isNew             bool
	)
	row := tx.QueryRow(ctx, `
		SELECT id, engagement_level, dwell_time_ms, scroll_depth, reading_depth
		FROM artifacts WHERE user_id = $1 AND normalized_url = $2 FOR UPDATE
	`, p.UserID, normalized)
	switch err := row.Scan(&artifactID, &existingLevel, &existingDwell, &existingScroll, &existingReading); {
	case errors.Is(err, pgx.ErrNoRows):
		isNew = true
	case err != nil:
		return IngestResult{}, apperrors.NewRepository("lookup artifact", err)
	}

	level := domain.NormalizeEngagementLevel(p.EngagementLevel)
	if isNew {
		var subspaceID any
		if p.SubspaceID != nil {
			subspaceID = *p.SubspaceID
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO artifacts (user_id, url, normalized_url, domain, title, text, word_count,
				engagement_level, content_source, dwell_time_ms, scroll_depth, reading_depth,
				space_id, subspace_id, matched_marker_ids)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING id
		`, p.UserID, p.URL, normalized, hostOf(p.URL), p.Title, p.Text, p.WordCount,
			string(level), string(p.ContentSource), p.DwellTimeMS, p.ScrollDepth, p.ReadingDepth,
			p.SpaceID, subspaceID, p.MatchedMarkerIDs,
		).Scan(&artifactID)
		if err != nil {
			return IngestResult{}, apperrors.NewRepository("insert artifact", err)
		}
	} else {
		merged := domain.MaxEngagement(domain.NormalizeEngagementLevel(domain.EngagementLevel(existingLevel)), level)
		_, err = tx.Exec(ctx, `
			UPDATE artifacts SET engagement_level = $1, dwell_time_ms = $2, scroll_depth = $3, reading_depth = $4
			WHERE id = $5
		`, string(merged), existingDwell+p.DwellTimeMS, max64(existingScroll, p.ScrollDepth), max64(existingReading, p.ReadingDepth), artifactID)
		if err != nil {
			return IngestResult{}, apperrors.NewRepository("update artifact", err)
		}
	}

	vec384 := domain.TruncateAndNormalize(p.Vector, 384)
	var signalID int64
	var subspaceArg any
	if p.SubspaceID != nil {
		subspaceArg = *p.SubspaceID
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO signals (artifact_id, user_id, vec_384, vec_768, magnitude, signal_type,
			embedding_model, embedding_dimension, margin, updates_centroid, space_id, subspace_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, artifactID, p.UserID, pgvector.NewVector(vec384), pgvector.NewVector(p.Vector), p.Magnitude,
		string(p.SignalType), p.EmbeddingModel, p.EmbeddingDimension, p.Margin, p.UpdatesCentroid,
		p.SpaceID, subspaceArg,
	).Scan(&signalID)
	if err != nil {
		return IngestResult{}, apperrors.NewRepository("insert signal", err)
	}

	result := IngestResult{ArtifactID: artifactID, SignalID: signalID, IsNew: isNew, ResolvedSubspaceID: p.SubspaceID}
	if !isNew {
		result.Message = "artifact already captured; signal recorded"
	}

	if p.UpdatesCentroid && p.SubspaceID != nil {
		drift, err := s.applyCentroidUpdate(ctx, tx, *p.SubspaceID, p.Vector, signalID, p)
		if err != nil {
			return IngestResult{}, err
		}
		result.CentroidUpdated = true
		result.Drift = drift
	}

	if err := tx.Commit(ctx); err != nil {
		return IngestResult{}, apperrors.NewRepository("commit ingest tx", err)
	}
	return result, nil
}

func (s *PostgresStore) applyCentroidUpdate(ctx context.Context, tx pgx.Tx, subspaceID int64, signalVec []float32, triggerSignal int64, p IngestParams) (float64, error) {
	var (
		prevVec      *pgvector.Vector
		alpha        float64
		updatedAt    *time.Time
		artifactCnt  int
		confidence   float64
	)
	err := tx.QueryRow(ctx, `
		SELECT vec_768, learning_rate, centroid_updated_at, artifact_count, confidence
		FROM subspaces WHERE id = $1 FOR UPDATE
	`, subspaceID).Scan(&prevVec, &alpha, &updatedAt, &artifactCnt, &confidence)
	if err != nil {
		return 0, apperrors.NewRepository("lookup subspace for centroid update", err)
	}
	if alpha == 0 {
		alpha = p.DefaultAlpha
	}

	var prev []float32
	if prevVec != nil {
		prev = prevVec.Slice()
	}
	upd := centroid.Update(prev, signalVec, alpha)
	newVec384 := domain.TruncateAndNormalize(upd.NewCentroid, 384)

	_, err = tx.Exec(ctx, `
		UPDATE subspaces SET vec_384 = $1, vec_768 = $2, centroid_updated_at = now(),
			artifact_count = artifact_count + 1
		WHERE id = $3
	`, pgvector.NewVector(newVec384), pgvector.NewVector(upd.NewCentroid), subspaceID)
	if err != nil {
		return 0, apperrors.NewRepository("update subspace centroid", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO centroid_history (subspace_id, vec_768) VALUES ($1, $2)`,
		subspaceID, pgvector.NewVector(upd.NewCentroid)); err != nil {
		return 0, apperrors.NewRepository("insert centroid history", err)
	}

	if prev != nil && updatedAt != nil {
		dt := time.Since(*updatedAt).Seconds()
		v := centroid.Velocity(prev, upd.NewCentroid, dt)
		if _, err := tx.Exec(ctx, `INSERT INTO velocity_measurements (subspace_id, velocity) VALUES ($1, $2)`,
			subspaceID, v); err != nil {
			return 0, apperrors.NewRepository("insert velocity measurement", err)
		}
	}

	var sinceLastLog int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM signals WHERE subspace_id = $1 AND id > COALESCE(
			(SELECT trigger_signal FROM drift_events WHERE subspace_id = $1 ORDER BY id DESC LIMIT 1), 0)
	`, subspaceID).Scan(&sinceLastLog); err != nil {
		return 0, apperrors.NewRepository("count signals since last drift log", err)
	}
	if centroid.ShouldLogDrift(upd.Drift, p.DriftThreshold, sinceLastLog, p.MinSignalsBetweenDriftLogs) {
		if _, err := tx.Exec(ctx, `INSERT INTO drift_events (subspace_id, drift_magnitude, trigger_signal) VALUES ($1,$2,$3)`,
			subspaceID, upd.Drift, triggerSignal); err != nil {
			return 0, apperrors.NewRepository("insert drift event", err)
		}
	}

	// Confidence EMA runs only when the subspace already had a centroid to
	// measure coherence against; a bootstrap has nothing to cohere with.
	if prev != nil {
		beta := p.ConfidenceBeta
		if beta <= 0 {
			beta = 0.05
		}
		coherence := centroid.BatchCoherence([][]float32{signalVec}, prev)
		next := centroid.ConfidenceEMA(confidence, coherence, beta)
		if _, err := tx.Exec(ctx, `UPDATE subspaces SET confidence = $1 WHERE id = $2`, next, subspaceID); err != nil {
			return 0, apperrors.NewRepository("update subspace confidence", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO confidence_samples (subspace_id, confidence) VALUES ($1, $2)`,
			subspaceID, next); err != nil {
			return 0, apperrors.NewRepository("insert confidence sample", err)
		}
	}

	return upd.Drift, nil
}

// BackfillAssignment patches an artifact that IngestArtifactWithSignal
// returned pre-existing without subspace resolution yet recorded.
func (s *PostgresStore) BackfillAssignment(ctx context.Context, userID string, artifactID int64, subspaceID int64, matchedMarkerIDs []int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE artifacts SET subspace_id = $1, matched_marker_ids = $2
		WHERE id = $3 AND user_id = $4 AND subspace_id IS NULL
	`, subspaceID, matchedMarkerIDs, artifactID, userID)
	if err != nil {
		return apperrors.NewRepository("backfill assignment", err)
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, userID string, artifactID int64) (domain.Artifact, error) {
	var a domain.Artifact
	var subspaceID *int64
	var matched []int64
	var deletedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, url, normalized_url, domain, title, text, word_count, engagement_level,
			content_source, dwell_time_ms, scroll_depth, reading_depth, space_id, subspace_id,
			matched_marker_ids, created_at, deleted_at
		FROM artifacts WHERE user_id = $1 AND id = $2
	`, userID, artifactID).Scan(&a.ID, &a.UserID, &a.URL, &a.NormalizedURL, &a.Domain, &a.Title, &a.Text,
		&a.WordCount, &a.EngagementLevel, &a.ContentSource, &a.DwellTimeMS, &a.ScrollDepth, &a.ReadingDepth,
		&a.SpaceID, &subspaceID, &matched, &a.CreatedAt, &deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Artifact{}, apperrors.NewNotFound("artifact", fmt.Sprintf("%d", artifactID))
	}
	if err != nil {
		return domain.Artifact{}, apperrors.NewRepository("get artifact", err)
	}
	a.SubspaceID = subspaceID
	a.MatchedMarkers = matched
	a.DeletedAt = deletedAt
	return a, nil
}

func (s *PostgresStore) UpdateArtifact(ctx context.Context, userID string, artifactID int64, patch ArtifactPatch) (domain.Artifact, error) {
	current, err := s.GetArtifact(ctx, userID, artifactID)
	if err != nil {
		return domain.Artifact{}, err
	}
	title, text, subspaceID := current.Title, current.Text, current.SubspaceID
	if patch.Title != nil {
		title = *patch.Title
	}
	if patch.Text != nil {
		text = *patch.Text
	}
	if patch.SubspaceID != nil {
		subspaceID = patch.SubspaceID
	}
	level := current.EngagementLevel
	if patch.EngagementLevel != nil {
		level = domain.MaxEngagement(level, *patch.EngagementLevel)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE artifacts SET title = $1, text = $2, subspace_id = $3, engagement_level = $4
		WHERE id = $5 AND user_id = $6
	`, title, text, subspaceID, level, artifactID, userID)
	if err != nil {
		return domain.Artifact{}, apperrors.NewRepository("update artifact", err)
	}
	return s.GetArtifact(ctx, userID, artifactID)
}

func (s *PostgresStore) DeleteArtifact(ctx context.Context, userID string, artifactID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE artifacts SET deleted_at = now() WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, artifactID, userID)
	if err != nil {
		return apperrors.NewRepository("delete artifact", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("artifact", fmt.Sprintf("%d", artifactID))
	}
	_, err = s.pool.Exec(ctx, `UPDATE signals SET deleted_at = now() WHERE artifact_id = $1 AND user_id = $2 AND deleted_at IS NULL`, artifactID, userID)
	if err != nil {
		return apperrors.NewRepository("cascade delete signals", err)
	}
	return nil
}

func (s *PostgresStore) ListArtifactsForAnalytics(ctx context.Context, userID string, limit int) ([]AnalyticsArtifactRow, error) {
	if limit <= 0 || limit > 2000 {
		limit = 2000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.title, a.space_id, a.created_at, a.word_count,
			(SELECT sg.margin FROM signals sg WHERE sg.artifact_id = a.id AND sg.deleted_at IS NULL ORDER BY sg.created_at DESC LIMIT 1)
		FROM artifacts a
		WHERE a.user_id = $1 AND a.deleted_at IS NULL
		ORDER BY a.created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, apperrors.NewRepository("list artifacts for analytics", err)
	}
	defer rows.Close()
	var out []AnalyticsArtifactRow
	for rows.Next() {
		var row AnalyticsArtifactRow
		if err := rows.Scan(&row.ID, &row.Title, &row.SpaceID, &row.CreatedAt, &row.WordCount, &row.Margin); err != nil {
			return nil, apperrors.NewRepository("scan analytics artifact row", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateSpace(ctx context.Context, userID, name, intention string, embedding []float32) (domain.Space, error) {
	var id int64
	var vec *pgvector.Vector
	if embedding != nil {
		v := pgvector.NewVector(embedding)
		vec = &v
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO spaces (user_id, name, intention, embedding) VALUES ($1, $2, $3, $4) RETURNING id
	`, userID, name, intention, vec).Scan(&id)
	if err != nil {
		return domain.Space{}, apperrors.NewRepository("create space", err)
	}
	return s.GetSpace(ctx, userID, id)
}

func (s *PostgresStore) UpdateSpace(ctx context.Context, userID string, spaceID int64, patch SpacePatch) (domain.Space, error) {
	current, err := s.GetSpace(ctx, userID, spaceID)
	if err != nil {
		return domain.Space{}, err
	}
	name, intention, embedding := current.Name, current.Intention, current.Embedding
	if patch.Name != nil {
		name = *patch.Name
	}
	if patch.Intention != nil {
		intention = *patch.Intention
	}
	if patch.Embedding != nil {
		embedding = patch.Embedding
	}
	var vec *pgvector.Vector
	if embedding != nil {
		v := pgvector.NewVector(embedding)
		vec = &v
	}
	_, err = s.pool.Exec(ctx, `UPDATE spaces SET name = $1, intention = $2, embedding = $3 WHERE id = $4 AND user_id = $5`,
		name, intention, vec, spaceID, userID)
	if err != nil {
		return domain.Space{}, apperrors.NewRepository("update space", err)
	}
	return s.GetSpace(ctx, userID, spaceID)
}

func (s *PostgresStore) DeleteSpace(ctx context.Context, userID string, spaceID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE spaces SET deleted_at = now() WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, spaceID, userID)
	if err != nil {
		return apperrors.NewRepository("delete space", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("space", fmt.Sprintf("%d", spaceID))
	}
	return nil
}

func (s *PostgresStore) GetSpace(ctx context.Context, userID string, spaceID int64) (domain.Space, error) {
	var sp domain.Space
	var emb *pgvector.Vector
	var deletedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, intention, embedding, artifact_count, evidence, created_at, deleted_at
		FROM spaces WHERE user_id = $1 AND id = $2
	`, userID, spaceID).Scan(&sp.ID, &sp.UserID, &sp.Name, &sp.Intention, &emb, &sp.ArtifactCount, &sp.Evidence, &sp.CreatedAt, &deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Space{}, apperrors.NewNotFound("space", fmt.Sprintf("%d", spaceID))
	}
	if err != nil {
		return domain.Space{}, apperrors.NewRepository("get space", err)
	}
	if emb != nil {
		sp.Embedding = emb.Slice()
	}
	sp.DeletedAt = deletedAt
	return sp, nil
}

func (s *PostgresStore) ListSpaces(ctx context.Context, userID string) ([]domain.Space, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, intention, embedding, artifact_count, evidence, created_at, deleted_at
		FROM spaces WHERE user_id = $1 AND deleted_at IS NULL ORDER BY id
	`, userID)
	if err != nil {
		return nil, apperrors.NewRepository("list spaces", err)
	}
	defer rows.Close()

	var out []domain.Space
	for rows.Next() {
		var sp domain.Space
		var emb *pgvector.Vector
		var deletedAt *time.Time
		if err := rows.Scan(&sp.ID, &sp.UserID, &sp.Name, &sp.Intention, &emb, &sp.ArtifactCount, &sp.Evidence, &sp.CreatedAt, &deletedAt); err != nil {
			return nil, apperrors.NewRepository("scan space row", err)
		}
		if emb != nil {
			sp.Embedding = emb.Slice()
		}
		sp.DeletedAt = deletedAt
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanSubspaceRows(rows pgx.Rows) ([]domain.Subspace, error) {
	var out []domain.Subspace
	for rows.Next() {
		var sub domain.Subspace
		var vec *pgvector.Vector
		var updatedAt, deletedAt *time.Time
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.SpaceID, &sub.Name, &sub.Description, &vec,
			&updatedAt, &sub.LearningRate, &sub.ArtifactCount, &sub.Confidence, &sub.CreatedAt, &deletedAt); err != nil {
			return nil, apperrors.NewRepository("scan subspace row", err)
		}
		if vec != nil {
			sub.CentroidEmbedding = vec.Slice()
		}
		sub.CentroidUpdatedAt = updatedAt
		sub.DeletedAt = deletedAt
		out = append(out, sub)
	}
	return out, rows.Err()
}

const subspaceColumns = `id, user_id, space_id, name, description, vec_768, centroid_updated_at,
	learning_rate, artifact_count, confidence, created_at, deleted_at`

func (s *PostgresStore) GetSubspace(ctx context.Context, userID string, subspaceID int64) (domain.Subspace, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subspaceColumns+` FROM subspaces WHERE user_id = $1 AND id = $2`, userID, subspaceID)
	if err != nil {
		return domain.Subspace{}, apperrors.NewRepository("get subspace", err)
	}
	defer rows.Close()
	list, err := s.scanSubspaceRows(rows)
	if err != nil {
		return domain.Subspace{}, err
	}
	if len(list) == 0 {
		return domain.Subspace{}, apperrors.NewNotFound("subspace", fmt.Sprintf("%d", subspaceID))
	}
	return list[0], nil
}

func (s *PostgresStore) ListSubspaces(ctx context.Context, userID string, spaceID int64) ([]domain.Subspace, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subspaceColumns+` FROM subspaces WHERE user_id = $1 AND space_id = $2 AND deleted_at IS NULL ORDER BY id`, userID, spaceID)
	if err != nil {
		return nil, apperrors.NewRepository("list subspaces", err)
	}
	defer rows.Close()
	return s.scanSubspaceRows(rows)
}

func (s *PostgresStore) ListActiveCentroids(ctx context.Context, userID string, spaceID int64) ([]domain.Subspace, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subspaceColumns+` FROM subspaces WHERE user_id = $1 AND space_id = $2 AND deleted_at IS NULL AND vec_768 IS NOT NULL ORDER BY id`, userID, spaceID)
	if err != nil {
		return nil, apperrors.NewRepository("list active centroids", err)
	}
	defer rows.Close()
	return s.scanSubspaceRows(rows)
}

func (s *PostgresStore) CreateSubspace(ctx context.Context, userID string, spaceID int64, name, description string, learningRate float64) (domain.Subspace, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subspaces (user_id, space_id, name, description, learning_rate, confidence)
		VALUES ($1, $2, $3, $4, $5, 0) RETURNING id
	`, userID, spaceID, name, description, learningRate).Scan(&id)
	if err != nil {
		return domain.Subspace{}, apperrors.NewRepository("create subspace", err)
	}
	return s.GetSubspace(ctx, userID, id)
}

func (s *PostgresStore) UpdateSubspace(ctx context.Context, userID string, subspaceID int64, patch SubspacePatch) (domain.Subspace, error) {
	current, err := s.GetSubspace(ctx, userID, subspaceID)
	if err != nil {
		return domain.Subspace{}, err
	}
	name, description, rate := current.Name, current.Description, current.LearningRate
	if patch.Name != nil {
		name = *patch.Name
	}
	if patch.Description != nil {
		description = *patch.Description
	}
	if patch.LearningRate != nil {
		rate = domain.Clip(*patch.LearningRate, 0, 1)
	}
	_, err = s.pool.Exec(ctx, `UPDATE subspaces SET name = $1, description = $2, learning_rate = $3 WHERE id = $4 AND user_id = $5`,
		name, description, rate, subspaceID, userID)
	if err != nil {
		return domain.Subspace{}, apperrors.NewRepository("update subspace", err)
	}
	return s.GetSubspace(ctx, userID, subspaceID)
}

func (s *PostgresStore) DeleteSubspace(ctx context.Context, userID string, subspaceID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE subspaces SET deleted_at = now() WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, subspaceID, userID)
	if err != nil {
		return apperrors.NewRepository("delete subspace", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("subspace", fmt.Sprintf("%d", subspaceID))
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM marker_links WHERE subspace_id = $1`, subspaceID)
	if err != nil {
		return apperrors.NewRepository("unlink markers on subspace delete", err)
	}
	return nil
}

// MergeSubspaces folds source into target: every artifact/signal pointing
// at source is repointed to target, the centroid becomes the
// artifact-count-weighted mean of both (renormalized back to unit L2),
// and source is soft-deleted.
func (s *PostgresStore) MergeSubspaces(ctx context.Context, userID string, spaceID, sourceID, targetID int64) (domain.Subspace, error) {
	src, err := s.GetSubspace(ctx, userID, sourceID)
	if err != nil {
		return domain.Subspace{}, err
	}
	tgt, err := s.GetSubspace(ctx, userID, targetID)
	if err != nil {
		return domain.Subspace{}, err
	}
	if src.SpaceID != spaceID || tgt.SpaceID != spaceID {
		return domain.Subspace{}, apperrors.NewValidation("both subspaces must belong to the space being merged", nil)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Subspace{}, apperrors.NewRepository("begin merge tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE artifacts SET subspace_id = $1 WHERE subspace_id = $2 AND user_id = $3`, targetID, sourceID, userID); err != nil {
		return domain.Subspace{}, apperrors.NewRepository("repoint artifacts on merge", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE signals SET subspace_id = $1 WHERE subspace_id = $2 AND user_id = $3`, targetID, sourceID, userID); err != nil {
		return domain.Subspace{}, apperrors.NewRepository("repoint signals on merge", err)
	}

	merged := mergeCentroids(src, tgt)
	if merged != nil {
		vec384 := domain.TruncateAndNormalize(merged, 384)
		if _, err := tx.Exec(ctx, `
			UPDATE subspaces SET vec_384 = $1, vec_768 = $2, centroid_updated_at = now(),
				artifact_count = artifact_count + $3
			WHERE id = $4 AND user_id = $5
		`, pgvector.NewVector(vec384), pgvector.NewVector(merged), src.ArtifactCount, targetID, userID); err != nil {
			return domain.Subspace{}, apperrors.NewRepository("update target centroid on merge", err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE subspaces SET deleted_at = now() WHERE id = $1 AND user_id = $2`, sourceID, userID); err != nil {
		return domain.Subspace{}, apperrors.NewRepository("soft-delete source on merge", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Subspace{}, apperrors.NewRepository("commit merge tx", err)
	}
	return s.GetSubspace(ctx, userID, targetID)
}

// mergeCentroids weight-averages two subspace centroids by artifact count;
// either side may be nil (uninitialized), in which case the other wins.
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

func (s *PostgresStore) CreateMarker(ctx context.Context, userID string, spaceID int64, label string, embedding []float32, weight float64) (domain.Marker, error) {
	var vec *pgvector.Vector
	if embedding != nil {
		v := pgvector.NewVector(embedding)
		vec = &v
	}
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO markers (user_id, label, vec_768) VALUES ($1, $2, $3) RETURNING id`, userID, label, vec).Scan(&id)
	if err != nil {
		return domain.Marker{}, apperrors.NewRepository("create marker", err)
	}
	var m domain.Marker
	var v *pgvector.Vector
	var deletedAt *time.Time
	err = s.pool.QueryRow(ctx, `SELECT id, user_id, label, vec_768, created_at, deleted_at FROM markers WHERE id = $1`, id).
		Scan(&m.ID, &m.UserID, &m.Label, &v, &m.CreatedAt, &deletedAt)
	if err != nil {
		return domain.Marker{}, apperrors.NewRepository("get created marker", err)
	}
	if v != nil {
		m.Embedding = v.Slice()
	}
	m.DeletedAt = deletedAt
	return m, nil
}

func (s *PostgresStore) ListMarkersForSpace(ctx context.Context, userID string, spaceID int64) ([]domain.Marker, []domain.MarkerLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.user_id, m.label, m.vec_768, m.created_at, m.deleted_at,
			ml.subspace_id, ml.weight, ml.source
		FROM marker_links ml
		JOIN markers m ON m.id = ml.marker_id
		JOIN subspaces s ON s.id = ml.subspace_id
		WHERE s.user_id = $1 AND s.space_id = $2 AND m.deleted_at IS NULL
		ORDER BY m.id
	`, userID, spaceID)
	if err != nil {
		return nil, nil, apperrors.NewRepository("list markers for space", err)
	}
	defer rows.Close()

	seen := map[int64]bool{}
	var markers []domain.Marker
	var links []domain.MarkerLink
	for rows.Next() {
		var m domain.Marker
		var vec *pgvector.Vector
		var deletedAt *time.Time
		var link domain.MarkerLink
		if err := rows.Scan(&m.ID, &m.UserID, &m.Label, &vec, &m.CreatedAt, &deletedAt,
			&link.SubspaceID, &link.Weight, &link.Source); err != nil {
			return nil, nil, apperrors.NewRepository("scan marker row", err)
		}
		if vec != nil {
			m.Embedding = vec.Slice()
		}
		m.DeletedAt = deletedAt
		if !seen[m.ID] {
			seen[m.ID] = true
			markers = append(markers, m)
		}
		link.MarkerID = m.ID
		links = append(links, link)
	}
	return markers, links, rows.Err()
}

func (s *PostgresStore) SetSubspaceCentroidFromMarkers(ctx context.Context, userID string, subspaceID int64, centroidVec []float32) error {
	vec384 := domain.TruncateAndNormalize(centroidVec, 384)
	_, err := s.pool.Exec(ctx, `
		UPDATE subspaces SET vec_384 = $1, vec_768 = $2, centroid_updated_at = now()
		WHERE id = $3 AND user_id = $4
	`, pgvector.NewVector(vec384), pgvector.NewVector(centroidVec), subspaceID, userID)
	if err != nil {
		return apperrors.NewRepository("set subspace centroid from markers", err)
	}
	return nil
}

func (s *PostgresStore) RegenerateMarkerEmbedding(ctx context.Context, markerID int64, vec []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE markers SET vec_768 = $1 WHERE id = $2`, pgvector.NewVector(vec), markerID)
	if err != nil {
		return apperrors.NewRepository("regenerate marker embedding", err)
	}
	return nil
}

func (s *PostgresStore) DecayAllMarkerWeights(ctx context.Context, userID string, gamma, minWeight float64) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE marker_links ml SET weight = GREATEST($1, ml.weight * (1 - $2))
		FROM subspaces s WHERE s.id = ml.subspace_id AND s.user_id = $3
	`, minWeight, gamma, userID)
	if err != nil {
		return 0, apperrors.NewRepository("decay marker weights", err)
	}
	return int(tag.RowsAffected()), nil
}

// historyLimit normalizes the "0 means everything" convention the
// analytics reads use onto a concrete SQL LIMIT; Postgres treats LIMIT 0
// as "no rows", the opposite of what callers mean.
func historyLimit(limit int) int {
	if limit <= 0 {
		return 10000
	}
	return limit
}

func (s *PostgresStore) DriftEvents(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.DriftEvent, error) {
	limit = historyLimit(limit)
	rows, err := s.pool.Query(ctx, `
		SELECT de.id, de.subspace_id, de.drift_magnitude, de.trigger_signal, de.occurred_at
		FROM drift_events de JOIN subspaces s ON s.id = de.subspace_id
		WHERE s.user_id = $1 AND s.space_id = $2 AND ($3::bigint IS NULL OR de.subspace_id = $3)
		ORDER BY de.occurred_at DESC LIMIT $4
	`, userID, spaceID, subspaceID, limit)
	if err != nil {
		return nil, apperrors.NewRepository("list drift events", err)
	}
	defer rows.Close()
	var out []domain.DriftEvent
	for rows.Next() {
		var e domain.DriftEvent
		if err := rows.Scan(&e.ID, &e.SubspaceID, &e.DriftMagnitude, &e.TriggerSignal, &e.OccurredAt); err != nil {
			return nil, apperrors.NewRepository("scan drift event", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) VelocityMeasurements(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.VelocityMeasurement, error) {
	limit = historyLimit(limit)
	rows, err := s.pool.Query(ctx, `
		SELECT vm.id, vm.subspace_id, vm.velocity, vm.measured_at
		FROM velocity_measurements vm JOIN subspaces s ON s.id = vm.subspace_id
		WHERE s.user_id = $1 AND s.space_id = $2 AND ($3::bigint IS NULL OR vm.subspace_id = $3)
		ORDER BY vm.measured_at DESC LIMIT $4
	`, userID, spaceID, subspaceID, limit)
	if err != nil {
		return nil, apperrors.NewRepository("list velocity measurements", err)
	}
	defer rows.Close()
	var out []domain.VelocityMeasurement
	for rows.Next() {
		var v domain.VelocityMeasurement
		if err := rows.Scan(&v.ID, &v.SubspaceID, &v.Velocity, &v.MeasuredAt); err != nil {
			return nil, apperrors.NewRepository("scan velocity measurement", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ConfidenceSamples(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.ConfidenceSample, error) {
	limit = historyLimit(limit)
	rows, err := s.pool.Query(ctx, `
		SELECT cs.id, cs.subspace_id, cs.confidence, cs.computed_at
		FROM confidence_samples cs JOIN subspaces s ON s.id = cs.subspace_id
		WHERE s.user_id = $1 AND s.space_id = $2 AND ($3::bigint IS NULL OR cs.subspace_id = $3)
		ORDER BY cs.computed_at DESC LIMIT $4
	`, userID, spaceID, subspaceID, limit)
	if err != nil {
		return nil, apperrors.NewRepository("list confidence samples", err)
	}
	defer rows.Close()
	var out []domain.ConfidenceSample
	for rows.Next() {
		var c domain.ConfidenceSample
		if err := rows.Scan(&c.ID, &c.SubspaceID, &c.Confidence, &c.ComputedAt); err != nil {
			return nil, apperrors.NewRepository("scan confidence sample", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecentSignalMargins(ctx context.Context, userID string, spaceID int64, limit int) ([]float64, error) {
	limit = historyLimit(limit)
	rows, err := s.pool.Query(ctx, `
		SELECT margin FROM signals
		WHERE user_id = $1 AND space_id = $2 AND margin IS NOT NULL AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $3
	`, userID, spaceID, limit)
	if err != nil {
		return nil, apperrors.NewRepository("list recent signal margins", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var m float64
		if err := rows.Scan(&m); err != nil {
			return nil, apperrors.NewRepository("scan signal margin", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SignalCountsPerDay(ctx context.Context, userID string, subspaceID int64, since time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(created_at, 'YYYY-MM-DD') AS day, count(*)
		FROM signals WHERE user_id = $1 AND subspace_id = $2 AND created_at >= $3 AND deleted_at IS NULL
		GROUP BY day
	`, userID, subspaceID, since)
	if err != nil {
		return nil, apperrors.NewRepository("signal counts per day", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, apperrors.NewRepository("scan signal count row", err)
		}
		out[day] = n
	}
	return out, rows.Err()
}

const searchRowColumns = `sig.id, sig.artifact_id, a.title, a.url, a.text, sig.space_id, sig.subspace_id,
	a.engagement_level, a.dwell_time_ms`

func (s *PostgresStore) scanSearchRows(rows pgx.Rows) ([]SearchRow, error) {
	defer rows.Close()
	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		var engagement string
		var preview string
		if err := rows.Scan(&r.SignalID, &r.ArtifactID, &r.Title, &r.URL, &preview, &r.SpaceID, &r.SubspaceID,
			&engagement, &r.DwellTimeMS); err != nil {
			return nil, apperrors.NewRepository("scan search row", err)
		}
		r.ContentPreview = previewOf(preview)
		r.EngagementLevel = domain.EngagementLevel(engagement)
		out = append(out, r)
	}
	return out, rows.Err()
}

func previewOf(text string) string {
	const maxPreview = 240
	if len(text) <= maxPreview {
		return text
	}
	return text[:maxPreview]
}

// SignalsByID hydrates display fields for a caller-chosen set of signal
// ids, preserving the caller's ordering (the vector index, not SQL,
// determines relevance order).
func (s *PostgresStore) SignalsByID(ctx context.Context, userID string, signalIDs []int64) ([]SearchRow, error) {
	if len(signalIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+searchRowColumns+`
		FROM signals sig JOIN artifacts a ON a.id = sig.artifact_id
		WHERE sig.user_id = $1 AND sig.id = ANY($2) AND sig.deleted_at IS NULL AND a.deleted_at IS NULL
	`, userID, signalIDs)
	if err != nil {
		return nil, apperrors.NewRepository("signals by id", err)
	}
	byID, err := s.scanSearchRows(rows)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]SearchRow, len(byID))
	for _, r := range byID {
		index[r.SignalID] = r
	}
	out := make([]SearchRow, 0, len(signalIDs))
	for _, id := range signalIDs {
		if r, ok := index[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// RecentSignals is the degraded-mode fallback: most recent signals first,
// scoped by space and optionally subspace.
func (s *PostgresStore) RecentSignals(ctx context.Context, userID string, spaceID *int64, subspaceID *int64, limit int) ([]SearchRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+searchRowColumns+`
		FROM signals sig JOIN artifacts a ON a.id = sig.artifact_id
		WHERE sig.user_id = $1
			AND ($2::bigint IS NULL OR sig.space_id = $2)
			AND ($3::bigint IS NULL OR sig.subspace_id = $3)
			AND sig.deleted_at IS NULL AND a.deleted_at IS NULL
		ORDER BY sig.created_at DESC LIMIT $4
	`, userID, spaceID, subspaceID, limit)
	if err != nil {
		return nil, apperrors.NewRepository("recent signals", err)
	}
	return s.scanSearchRows(rows)
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
