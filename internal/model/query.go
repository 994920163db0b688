package model

import (
	"time"

	"github.com/google/uuid"
)

// GraphStatistics is a read-only aggregate view over the persisted graph,
// recomputed on demand.
type GraphStatistics struct {
	TotalEntities          int64            `json:"total_entities"`
	TotalRelationships     int64            `json:"total_relationships"`
	TotalCanonicalEntities int64            `json:"total_canonical_entities"`
	EntitiesByType         map[string]int64 `json:"entities_by_type"`
	EntitiesBySource       map[string]int64 `json:"entities_by_source"`
	RelationshipsByType    map[string]int64 `json:"relationships_by_type"`
}

// ChunkRef references a chunk to ingest. Text may be inline or fetched
// lazily from the content store when empty.
type ChunkRef struct {
	ChunkID   uuid.UUID `json:"chunk_id"`
	Text      string    `json:"text,omitempty"`
	BlockType string    `json:"block_type,omitempty"`
	Language  string    `json:"language,omitempty"`
}

// ChunkBatch is one ingestion request from the upstream chunking pipeline.
type ChunkBatch struct {
	SourceID   string     `json:"source_id"`
	SourceKind string     `json:"source_kind"`
	Chunks     []ChunkRef `json:"chunks"`
}

// IngestionStats summarizes one processed batch.
type IngestionStats struct {
	TotalChunks          int `json:"total_chunks"`
	ChunksProcessed      int `json:"chunks_processed"`
	ChunksFailed         int `json:"chunks_failed"`
	EntitiesCreated      int `json:"entities_created"`
	RelationshipsCreated int `json:"relationships_created"`
}

// TraverseGraphRequest asks for paths between two entities.
type TraverseGraphRequest struct {
	FromID  uuid.UUID `json:"from_id" binding:"required"`
	ToID    uuid.UUID `json:"to_id" binding:"required"`
	MaxHops int       `json:"max_hops"`
}

// TraverseGraphResponse carries the discovered paths and how many nodes
// the search visited.
type TraverseGraphResponse struct {
	Paths        [][]uuid.UUID `json:"paths"`
	VisitedNodes int           `json:"visited_nodes"`
}

// FindRelatedRequest asks for entities reachable within MaxHops, optionally
// restricted to a relationship-type allow-list.
type FindRelatedRequest struct {
	EntityID          uuid.UUID `json:"entity_id" binding:"required"`
	RelationshipTypes []string  `json:"relationship_types,omitempty"`
	MaxHops           int       `json:"max_hops"`
}

// FindRelatedResponse lists the de-duplicated reachable entities.
type FindRelatedResponse struct {
	RelatedEntities []*Entity `json:"related_entities"`
}

// CrossSourceQuery asks "who/what touched this topic" across sources.
type CrossSourceQuery struct {
	Topic       string   `json:"topic" binding:"required"`
	Sources     []string `json:"sources,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
}

// CanonicalEntityResult groups a canonical identity with its per-source
// activity.
type CanonicalEntityResult struct {
	CanonicalID   uuid.UUID        `json:"canonical_id"`
	CanonicalName string           `json:"canonical_name"`
	EntityType    EntityType       `json:"entity_type"`
	Activities    []ActivityResult `json:"activities"`
}

// ActivityResult is one source-level appearance of a canonical entity.
type ActivityResult struct {
	Source      DataSource `json:"source"`
	EntityType  EntityType `json:"entity_type"`
	Description string     `json:"description"`
	Timestamp   time.Time  `json:"timestamp"`
	EntityID    uuid.UUID  `json:"entity_id"`
}

// TimelineEvent is one entry in the merged cross-source timeline.
type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EntityID    uuid.UUID `json:"entity_id"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
}

// CrossSourceResponse is the grouped cross-source answer.
type CrossSourceResponse struct {
	CanonicalEntities []CanonicalEntityResult `json:"canonical_entities"`
	Timeline          []TimelineEvent         `json:"timeline"`
}
