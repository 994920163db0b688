// Package storage abstracts graph persistence. Exactly one concrete
// implementation is active at a time: the relational store (pgstore) or the
// native graph store (neo4jstore). The in-memory store backs unit tests.
package storage

import (
	"context"

	"github.com/google/uuid"

	"conhub-graph/internal/model"
)

// Store is the persistence boundary for the resolution and fusion engines.
// Implementations must make UpsertEntity idempotent on (source, source_id)
// and UpsertRelationship idempotent on (type, endpoints, source).
type Store interface {
	// UpsertEntity inserts the entity or, when (source, source_id) already
	// exists, updates name/content/properties in place. Returns the
	// persistent entity id and whether a new row was created.
	UpsertEntity(ctx context.Context, e *model.Entity) (uuid.UUID, bool, error)

	// UpdateEntity overwrites a stored entity by id.
	UpdateEntity(ctx context.Context, e *model.Entity) error

	// FindEntity returns the entity or ErrEntityNotFound.
	FindEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)

	// FindEntityBySource looks an entity up by its unique source key.
	FindEntityBySource(ctx context.Context, source model.DataSource, sourceID string) (*model.Entity, error)

	// SearchEntities returns entities whose name contains nameLike
	// (case-insensitive), optionally filtered by source and type.
	SearchEntities(ctx context.Context, nameLike string, sources []model.DataSource, types []model.EntityType, limit int) ([]*model.Entity, error)

	// UpsertRelationship persists the edge. A duplicate (same type,
	// endpoints and source) is merged by keeping the maximum confidence.
	// Returns whether a new edge was created.
	UpsertRelationship(ctx context.Context, r *model.Relationship) (bool, error)

	// BatchUpsertRelationships persists edges, returning how many were
	// newly created.
	BatchUpsertRelationships(ctx context.Context, rels []*model.Relationship) (int, error)

	// Neighbors returns the outgoing edges of an entity, optionally
	// restricted to a relationship-type allow-list. Results are ordered
	// by target entity id so traversal is deterministic.
	Neighbors(ctx context.Context, id uuid.UUID, relTypes []string) ([]*model.Relationship, error)

	// InsertCanonicalEntity persists a new canonical identity.
	InsertCanonicalEntity(ctx context.Context, c *model.CanonicalEntity) error

	// UpdateCanonicalEntity overwrites a canonical identity by id. The
	// constituent set is stored as a set: re-appending an existing
	// constituent must not duplicate it.
	UpdateCanonicalEntity(ctx context.Context, c *model.CanonicalEntity) error

	// FindCanonicalEntity returns the canonical entity or ErrEntityNotFound.
	FindCanonicalEntity(ctx context.Context, id uuid.UUID) (*model.CanonicalEntity, error)

	// CanonicalForEntity returns the canonical entity an entity belongs
	// to, or nil when the entity is unassigned or unknown.
	CanonicalForEntity(ctx context.Context, entityID uuid.UUID) (*model.CanonicalEntity, error)

	// SetEntityCanonical records the cluster assignment on the entity.
	SetEntityCanonical(ctx context.Context, entityID, canonicalID uuid.UUID) error

	// ListCanonicalEntities returns canonical entities, optionally
	// filtered by type.
	ListCanonicalEntities(ctx context.Context, types []model.EntityType) ([]*model.CanonicalEntity, error)

	// FindCandidates fetches the resolution candidate pool for an entity:
	// stored entities of the same type sharing at least one weak identity
	// signal (source id, email, username, or an overlapping
	// repository/channel). An indexed lookup, never a full scan on real
	// backends.
	FindCandidates(ctx context.Context, e *model.Entity, f *model.EntityFeatures, limit int) ([]model.ResolutionCandidate, error)

	// GetStatistics recomputes the aggregate counts over the graph.
	GetStatistics(ctx context.Context) (*model.GraphStatistics, error)

	// Close releases the underlying connections.
	Close(ctx context.Context) error
}
