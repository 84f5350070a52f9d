package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements creates every table the Postgres backend needs. Run once
// at process start; every statement is idempotent so repeated calls (e.g.
// across replica restarts) are harmless.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS spaces (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		intention TEXT NOT NULL DEFAULT '',
		embedding vector(768),
		artifact_count INT NOT NULL DEFAULT 0,
		evidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS subspaces (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		space_id BIGINT NOT NULL REFERENCES spaces(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		vec_384 vector(384),
		vec_768 vector(768),
		centroid_updated_at TIMESTAMPTZ,
		learning_rate DOUBLE PRECISION NOT NULL,
		artifact_count INT NOT NULL DEFAULT 0,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS subspaces_vec768_idx ON subspaces USING ivfflat (vec_768 vector_cosine_ops)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		url TEXT NOT NULL,
		normalized_url TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		word_count INT NOT NULL DEFAULT 0,
		engagement_level TEXT NOT NULL DEFAULT 'latent',
		content_source TEXT NOT NULL DEFAULT 'other',
		dwell_time_ms BIGINT NOT NULL DEFAULT 0,
		scroll_depth DOUBLE PRECISION NOT NULL DEFAULT 0,
		reading_depth DOUBLE PRECISION NOT NULL DEFAULT 0,
		space_id BIGINT NOT NULL REFERENCES spaces(id),
		subspace_id BIGINT REFERENCES subspaces(id),
		matched_marker_ids BIGINT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ,
		UNIQUE (user_id, normalized_url)
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		artifact_id BIGINT NOT NULL REFERENCES artifacts(id),
		user_id TEXT NOT NULL,
		vec_384 vector(384),
		vec_768 vector(768),
		magnitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		signal_type TEXT NOT NULL,
		embedding_model TEXT NOT NULL DEFAULT '',
		embedding_dimension INT NOT NULL DEFAULT 0,
		margin DOUBLE PRECISION,
		updates_centroid BOOLEAN NOT NULL DEFAULT false,
		space_id BIGINT NOT NULL,
		subspace_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS signals_vec768_idx ON signals USING ivfflat (vec_768 vector_cosine_ops)`,
	`CREATE TABLE IF NOT EXISTS markers (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		label TEXT NOT NULL,
		vec_768 vector(768),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS marker_links (
		subspace_id BIGINT NOT NULL REFERENCES subspaces(id),
		marker_id BIGINT NOT NULL REFERENCES markers(id),
		weight DOUBLE PRECISION NOT NULL DEFAULT 1,
		source TEXT NOT NULL,
		PRIMARY KEY (subspace_id, marker_id)
	)`,
	`CREATE TABLE IF NOT EXISTS centroid_history (
		id BIGSERIAL PRIMARY KEY,
		subspace_id BIGINT NOT NULL REFERENCES subspaces(id),
		vec_768 vector(768) NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS drift_events (
		id BIGSERIAL PRIMARY KEY,
		subspace_id BIGINT NOT NULL REFERENCES subspaces(id),
		drift_magnitude DOUBLE PRECISION NOT NULL,
		trigger_signal BIGINT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS velocity_measurements (
		id BIGSERIAL PRIMARY KEY,
		subspace_id BIGINT NOT NULL REFERENCES subspaces(id),
		velocity DOUBLE PRECISION NOT NULL,
		measured_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS confidence_samples (
		id BIGSERIAL PRIMARY KEY,
		subspace_id BIGINT NOT NULL REFERENCES subspaces(id),
		confidence DOUBLE PRECISION NOT NULL,
		computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS dynamic_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema runs every CREATE statement in order. Called once from the
// composition root before the store accepts traffic.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema migration failed: %w", err)
		}
	}
	return nil
}
