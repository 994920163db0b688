package model

import (
	"time"

	"github.com/google/uuid"
)

// Common relationship types connecting entities across sources. The
// relationship type on the wire is a free-form string; these constants
// cover the vocabulary the extractors emit.
const (
	RelAuthoredBy      = "AUTHORED_BY"
	RelDiscussedIn     = "DISCUSSED_IN"
	RelDocumentedIn    = "DOCUMENTED_IN"
	RelReferences      = "REFERENCES"
	RelBelongsTo       = "BELONGS_TO"
	RelDependsOn       = "DEPENDS_ON"
	RelRelatedTo       = "RELATED_TO"
	RelMentionedIn     = "MENTIONED_IN"
	RelContains        = "CONTAINS"
	RelImports         = "IMPORTS"
	RelCalls           = "CALLS"
	RelModifies        = "MODIFIES"
	RelContributedTo   = "CONTRIBUTED_TO"
	RelRepliedTo       = "REPLIED_TO"
	RelMentions        = "MENTIONS"
	RelParticipatedIn  = "PARTICIPATED_IN"
	RelLinksTo         = "LINKS_TO"
	RelChildOf         = "CHILD_OF"
)

// Relationship is a directed edge between two entities. Both endpoints must
// reference existing entities or be created in the same batch.
type Relationship struct {
	ID               uuid.UUID  `json:"id"`
	FromEntity       uuid.UUID  `json:"from_entity"`
	ToEntity         uuid.UUID  `json:"to_entity"`
	RelationshipType string     `json:"relationship_type"`
	Source           DataSource `json:"source"`
	ConfidenceScore  float64    `json:"confidence_score"`
	CreatedAt        time.Time  `json:"created_at"`
}

// NewRelationship creates a relationship edge with a fresh id.
func NewRelationship(from, to uuid.UUID, relType string, source DataSource, confidence float64) *Relationship {
	return &Relationship{
		ID:               uuid.New(),
		FromEntity:       from,
		ToEntity:         to,
		RelationshipType: relType,
		Source:           source,
		ConfidenceScore:  confidence,
		CreatedAt:        time.Now().UTC(),
	}
}

// Key identifies a relationship for deduplication: two edges with the same
// type, endpoints and source are the same edge (merged by max confidence).
func (r *Relationship) Key() string {
	return r.RelationshipType + "|" + r.FromEntity.String() + "|" + r.ToEntity.String() + "|" + string(r.Source)
}

// CreateRelationshipRequest is the transport shape for edge creation.
type CreateRelationshipRequest struct {
	FromEntity       uuid.UUID `json:"from_entity" binding:"required"`
	ToEntity         uuid.UUID `json:"to_entity" binding:"required"`
	RelationshipType string    `json:"relationship_type" binding:"required"`
	Source           string    `json:"source" binding:"required"`
	ConfidenceScore  float64   `json:"confidence_score"`
}

// CreateRelationshipResponse reports the edge id and whether it was new.
type CreateRelationshipResponse struct {
	RelationshipID uuid.UUID `json:"relationship_id"`
	Created        bool      `json:"created"`
}
