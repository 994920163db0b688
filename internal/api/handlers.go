// Package api exposes the graph over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"conhub-graph/internal/fusion"
	"conhub-graph/internal/graphops"
	"conhub-graph/internal/model"
	"conhub-graph/internal/processor"
	"conhub-graph/internal/storage"
	apperrors "conhub-graph/pkg/errors"
	"conhub-graph/pkg/logger"
)

// Handler holds the wired application services behind the HTTP surface.
type Handler struct {
	store     storage.Store
	engine    *fusion.Engine
	processor *processor.ChunkProcessor
	ops       *graphops.Operations
	logger    *zap.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(store storage.Store, engine *fusion.Engine, proc *processor.ChunkProcessor, ops *graphops.Operations) *Handler {
	return &Handler{
		store:     store,
		engine:    engine,
		processor: proc,
		ops:       ops,
		logger:    logger.Component("api"),
	}
}

// CreateEntity ingests a single entity and resolves it immediately.
func (h *Handler) CreateEntity(c *gin.Context) {
	var req model.CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperrors.ErrorTypeSerialization})
		return
	}

	entityType := model.EntityType(req.EntityType)
	if !entityType.IsValid() {
		h.renderError(c, apperrors.NewInvalidEntityType(req.EntityType))
		return
	}

	entity := model.NewEntity(entityType, model.DataSource(req.Source), req.SourceID, req.Name, req.Properties)
	canonicalIDs, err := h.engine.FuseEntities(c.Request.Context(), []*model.Entity{entity})
	if err != nil {
		h.renderError(c, err)
		return
	}

	resp := model.CreateEntityResponse{EntityID: entity.ID, Resolved: true}
	if len(canonicalIDs) == 1 && canonicalIDs[0] != uuid.Nil {
		resp.CanonicalID = &canonicalIDs[0]
	}
	c.JSON(http.StatusOK, resp)
}

// CreateRelationship persists a single edge between two existing entities.
func (h *Handler) CreateRelationship(c *gin.Context) {
	var req model.CreateRelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperrors.ErrorTypeSerialization})
		return
	}
	confidence := req.ConfidenceScore
	if confidence == 0 {
		confidence = 1.0
	}

	rel := model.NewRelationship(req.FromEntity, req.ToEntity, req.RelationshipType, model.DataSource(req.Source), confidence)
	created, err := h.engine.FuseRelationships(c.Request.Context(), []*model.Relationship{rel})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.CreateRelationshipResponse{RelationshipID: rel.ID, Created: created == 1})
}

// GetEntity returns a stored entity by id.
func (h *Handler) GetEntity(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id", "kind": apperrors.ErrorTypeSerialization})
		return
	}
	entity, err := h.store.FindEntity(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// IngestChunks processes one chunk batch through extraction and fusion.
func (h *Handler) IngestChunks(c *gin.Context) {
	var batch model.ChunkBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperrors.ErrorTypeSerialization})
		return
	}
	stats, err := h.processor.ProcessChunks(c.Request.Context(), &batch)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TraverseGraph finds the shortest path between two entities.
func (h *Handler) TraverseGraph(c *gin.Context) {
	var req model.TraverseGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperrors.ErrorTypeSerialization})
		return
	}
	resp, err := h.ops.Traverse(c.Request.Context(), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// FindRelated lists entities reachable within a bounded number of hops.
func (h *Handler) FindRelated(c *gin.Context) {
	var req model.FindRelatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperrors.ErrorTypeSerialization})
		return
	}
	related, err := h.ops.FindRelatedEntities(c.Request.Context(), req.EntityID, req.RelationshipTypes, req.MaxHops)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.FindRelatedResponse{RelatedEntities: related})
}

// CrossSourceQuery answers a topic query grouped by canonical identity.
func (h *Handler) CrossSourceQuery(c *gin.Context) {
	var q model.CrossSourceQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperrors.ErrorTypeSerialization})
		return
	}
	resp, err := h.ops.CrossSource(c.Request.Context(), q)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Statistics returns the aggregate graph counts.
func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.ops.Statistics(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListCanonicalEntities returns resolved identities, optionally filtered by
// entity type via ?type=person,repository.
func (h *Handler) ListCanonicalEntities(c *gin.Context) {
	var types []model.EntityType
	for _, t := range c.QueryArray("type") {
		entityType := model.EntityType(t)
		if !entityType.IsValid() {
			h.renderError(c, apperrors.NewInvalidEntityType(t))
			return
		}
		types = append(types, entityType)
	}
	canonicals, err := h.store.ListCanonicalEntities(c.Request.Context(), types)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canonical_entities": canonicals})
}

// renderError maps the error taxonomy onto HTTP statuses: unknown ids are
// 404, malformed input is 400, everything else is a 500.
func (h *Handler) renderError(c *gin.Context, err error) {
	kind := apperrors.TypeOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperrors.ErrorTypeEntityNotFound:
		status = http.StatusNotFound
	case apperrors.ErrorTypeInvalidEntityType, apperrors.ErrorTypeSerialization:
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
