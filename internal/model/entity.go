package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityType classifies an entity across all data sources.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeCodeEntity   EntityType = "code_entity"
	EntityTypeDocument     EntityType = "document"
	EntityTypeConversation EntityType = "conversation"
	EntityTypeProject      EntityType = "project"
	EntityTypeConcept      EntityType = "concept"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeRepository   EntityType = "repository"
	EntityTypeFile         EntityType = "file"
	EntityTypeFunction     EntityType = "function"
	EntityTypeClass        EntityType = "class"
	EntityTypeModule       EntityType = "module"
	EntityTypeCommit       EntityType = "commit"
	EntityTypePullRequest  EntityType = "pull_request"
	EntityTypeIssue        EntityType = "issue"
	EntityTypeMessage      EntityType = "message"
	EntityTypeThread       EntityType = "thread"
	EntityTypeChannel      EntityType = "channel"
)

var validEntityTypes = map[EntityType]struct{}{
	EntityTypePerson:       {},
	EntityTypeCodeEntity:   {},
	EntityTypeDocument:     {},
	EntityTypeConversation: {},
	EntityTypeProject:      {},
	EntityTypeConcept:      {},
	EntityTypeOrganization: {},
	EntityTypeRepository:   {},
	EntityTypeFile:         {},
	EntityTypeFunction:     {},
	EntityTypeClass:        {},
	EntityTypeModule:       {},
	EntityTypeCommit:       {},
	EntityTypePullRequest:  {},
	EntityTypeIssue:        {},
	EntityTypeMessage:      {},
	EntityTypeThread:       {},
	EntityTypeChannel:      {},
}

// IsValid reports whether the entity type is recognized.
func (t EntityType) IsValid() bool {
	_, ok := validEntityTypes[t]
	return ok
}

func (t EntityType) String() string { return string(t) }

// DataSource identifies the origin system of an entity.
type DataSource string

const (
	SourceGitHub      DataSource = "github"
	SourceSlack       DataSource = "slack"
	SourceNotion      DataSource = "notion"
	SourceGoogleDrive DataSource = "google_drive"
	SourceDropbox     DataSource = "dropbox"
	SourceLocalFile   DataSource = "local_file"
	SourceBitbucket   DataSource = "bitbucket"
	SourceURLCrawler  DataSource = "url_crawler"
	SourceEmail       DataSource = "email"
	SourceJira        DataSource = "jira"
	SourceConfluence  DataSource = "confluence"
)

func (s DataSource) String() string { return string(s) }

// Entity is a single source-system's view of a thing. The pair
// (Source, SourceID) is unique: re-extraction of the same raw record
// updates the entity rather than duplicating it.
type Entity struct {
	ID          uuid.UUID              `json:"id"`
	EntityType  EntityType             `json:"entity_type"`
	Source      DataSource             `json:"source"`
	SourceID    string                 `json:"source_id"`
	Name        string                 `json:"name"`
	Content     string                 `json:"content,omitempty"`
	CanonicalID *uuid.UUID             `json:"canonical_id,omitempty"`
	Properties  map[string]interface{} `json:"properties"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// NewEntity creates an entity with a fresh id and timestamps.
func NewEntity(entityType EntityType, source DataSource, sourceID, name string, properties map[string]interface{}) *Entity {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	now := time.Now().UTC()
	return &Entity{
		ID:         uuid.New(),
		EntityType: entityType,
		Source:     source,
		SourceID:   sourceID,
		Name:       name,
		Properties: properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanonicalEntity is the resolved, deduplicated identity formed by merging
// matching entities across sources. It always has at least one constituent
// and an entity belongs to at most one canonical entity at a time.
// MergedProperties is the union of every constituent's properties.
type CanonicalEntity struct {
	ID               uuid.UUID              `json:"id"`
	EntityType       EntityType             `json:"entity_type"`
	CanonicalName    string                 `json:"canonical_name"`
	SourceEntities   []uuid.UUID            `json:"source_entities"`
	MergedProperties map[string]interface{} `json:"merged_properties"`
	ConfidenceScore  float64                `json:"confidence_score"`
	Stale            bool                   `json:"stale,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// NewCanonicalEntity creates a canonical entity over the given constituents.
func NewCanonicalEntity(entityType EntityType, canonicalName string, sourceEntities []uuid.UUID) *CanonicalEntity {
	now := time.Now().UTC()
	return &CanonicalEntity{
		ID:               uuid.New(),
		EntityType:       entityType,
		CanonicalName:    canonicalName,
		SourceEntities:   sourceEntities,
		MergedProperties: map[string]interface{}{},
		ConfidenceScore:  1.0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// HasConstituent reports whether entityID is already a constituent.
func (c *CanonicalEntity) HasConstituent(entityID uuid.UUID) bool {
	for _, id := range c.SourceEntities {
		if id == entityID {
			return true
		}
	}
	return false
}

// CreateEntityRequest is the transport shape for entity creation.
type CreateEntityRequest struct {
	EntityType string                 `json:"entity_type" binding:"required"`
	Source     string                 `json:"source" binding:"required"`
	SourceID   string                 `json:"source_id" binding:"required"`
	Name       string                 `json:"name" binding:"required"`
	Properties map[string]interface{} `json:"properties"`
}

// CreateEntityResponse reports the entity id and its canonical assignment.
type CreateEntityResponse struct {
	EntityID    uuid.UUID  `json:"entity_id"`
	CanonicalID *uuid.UUID `json:"canonical_id,omitempty"`
	Resolved    bool       `json:"resolved"`
}
