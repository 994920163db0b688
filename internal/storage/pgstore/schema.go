package pgstore

import (
	"context"

	apperrors "conhub-graph/pkg/errors"
)

// schema is idempotent and applied on startup. Candidate lookups and
// source upserts must hit indexes; the candidate pool query is never
// allowed to become a sequential scan.
const schema = `
CREATE TABLE IF NOT EXISTS entities (
    id            UUID PRIMARY KEY,
    entity_type   TEXT NOT NULL,
    source        TEXT NOT NULL,
    source_id     TEXT NOT NULL,
    name          TEXT NOT NULL,
    content       TEXT NOT NULL DEFAULT '',
    canonical_id  UUID,
    properties    JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    UNIQUE (source, source_id)
);

CREATE INDEX IF NOT EXISTS idx_entities_type        ON entities (entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_source_id   ON entities (source_id);
CREATE INDEX IF NOT EXISTS idx_entities_canonical   ON entities (canonical_id);
CREATE INDEX IF NOT EXISTS idx_entities_name        ON entities (lower(name));
CREATE INDEX IF NOT EXISTS idx_entities_email       ON entities (lower(properties->>'email'));
CREATE INDEX IF NOT EXISTS idx_entities_username    ON entities ((properties->>'username'));
CREATE INDEX IF NOT EXISTS idx_entities_props       ON entities USING GIN (properties);

CREATE TABLE IF NOT EXISTS relationships (
    id                UUID PRIMARY KEY,
    from_entity       UUID NOT NULL REFERENCES entities (id),
    to_entity         UUID NOT NULL REFERENCES entities (id),
    relationship_type TEXT NOT NULL,
    source            TEXT NOT NULL,
    confidence_score  DOUBLE PRECISION NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    UNIQUE (relationship_type, from_entity, to_entity, source)
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships (from_entity, to_entity);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships (relationship_type);

CREATE TABLE IF NOT EXISTS canonical_entities (
    id               UUID PRIMARY KEY,
    entity_type      TEXT NOT NULL,
    canonical_name   TEXT NOT NULL,
    source_entities  UUID[] NOT NULL,
    merged_properties JSONB NOT NULL DEFAULT '{}',
    confidence_score DOUBLE PRECISION NOT NULL,
    stale            BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_canonical_type ON canonical_entities (entity_type);
`

// EnsureSchema creates the tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return apperrors.NewDatabase("ensure schema", err)
	}
	return nil
}
