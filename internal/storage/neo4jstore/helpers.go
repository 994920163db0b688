package neo4jstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"conhub-graph/internal/model"
	apperrors "conhub-graph/pkg/errors"
)

func getString(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getFloat64(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0.0
	}
	if f, ok := val.(float64); ok {
		return f
	}
	if i, ok := val.(int64); ok {
		return float64(i)
	}
	return 0.0
}

func getBool(record *neo4j.Record, key string) bool {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return false
	}
	b, _ := val.(bool)
	return b
}

func getTime(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v
	case dbtype.Time:
		return v.Time()
	case dbtype.LocalDateTime:
		return v.Time()
	}
	return time.Time{}
}

func getStringSlice(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return []string{}
	}
	if slice, ok := val.([]interface{}); ok {
		result := make([]string, 0, len(slice))
		for _, v := range slice {
			if str, ok := v.(string); ok {
				result = append(result, str)
			}
		}
		return result
	}
	return []string{}
}

func recordToEntity(record *neo4j.Record) (*model.Entity, error) {
	id, err := uuid.Parse(getString(record, "id"))
	if err != nil {
		return nil, apperrors.NewSerialization("id", err)
	}

	e := &model.Entity{
		ID:         id,
		EntityType: model.EntityType(getString(record, "entity_type")),
		Source:     model.DataSource(getString(record, "source")),
		SourceID:   getString(record, "source_id"),
		Name:       getString(record, "name"),
		Content:    getString(record, "content"),
		Properties: map[string]interface{}{},
		CreatedAt:  getTime(record, "created_at"),
		UpdatedAt:  getTime(record, "updated_at"),
	}

	if canonical := getString(record, "canonical_id"); canonical != "" {
		cid, err := uuid.Parse(canonical)
		if err != nil {
			return nil, apperrors.NewSerialization("canonical_id", err)
		}
		e.CanonicalID = &cid
	}
	if props := getString(record, "props"); props != "" {
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return nil, apperrors.NewSerialization("properties", err)
		}
	}
	return e, nil
}

func recordToRelationship(record *neo4j.Record) (*model.Relationship, error) {
	id, err := uuid.Parse(getString(record, "id"))
	if err != nil {
		return nil, apperrors.NewSerialization("id", err)
	}
	from, err := uuid.Parse(getString(record, "from_id"))
	if err != nil {
		return nil, apperrors.NewSerialization("from_id", err)
	}
	to, err := uuid.Parse(getString(record, "to_id"))
	if err != nil {
		return nil, apperrors.NewSerialization("to_id", err)
	}
	return &model.Relationship{
		ID:               id,
		FromEntity:       from,
		ToEntity:         to,
		RelationshipType: getString(record, "rel_type"),
		Source:           model.DataSource(getString(record, "source")),
		ConfidenceScore:  getFloat64(record, "confidence"),
		CreatedAt:        getTime(record, "created_at"),
	}, nil
}

func recordToCanonical(record *neo4j.Record) (*model.CanonicalEntity, error) {
	id, err := uuid.Parse(getString(record, "id"))
	if err != nil {
		return nil, apperrors.NewSerialization("id", err)
	}
	constituents := getStringSlice(record, "source_entities")
	sourceEntities := make([]uuid.UUID, 0, len(constituents))
	for _, c := range constituents {
		cid, err := uuid.Parse(c)
		if err != nil {
			return nil, apperrors.NewSerialization("source_entities", err)
		}
		sourceEntities = append(sourceEntities, cid)
	}
	c := &model.CanonicalEntity{
		ID:               id,
		EntityType:       model.EntityType(getString(record, "entity_type")),
		CanonicalName:    getString(record, "canonical_name"),
		SourceEntities:   sourceEntities,
		MergedProperties: map[string]interface{}{},
		ConfidenceScore:  getFloat64(record, "confidence"),
		Stale:            getBool(record, "stale"),
		CreatedAt:        getTime(record, "created_at"),
		UpdatedAt:        getTime(record, "updated_at"),
	}
	if merged := getString(record, "merged_props"); merged != "" {
		if err := json.Unmarshal([]byte(merged), &c.MergedProperties); err != nil {
			return nil, apperrors.NewSerialization("merged properties", err)
		}
	}
	return c, nil
}

func collectEntities(ctx context.Context, result neo4j.ResultWithContext) ([]*model.Entity, error) {
	var out []*model.Entity
	for result.Next(ctx) {
		e, err := recordToEntity(result.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphBackend("collect entities", err)
	}
	return out, nil
}
