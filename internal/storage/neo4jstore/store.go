// Package neo4jstore is the native graph storage backend. Entities and
// canonical identities are nodes; relationships are typed edges carried on a
// generic RELATES edge so the type vocabulary stays open.
package neo4jstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"conhub-graph/internal/model"
	apperrors "conhub-graph/pkg/errors"
	"conhub-graph/pkg/logger"
)

// Store implements storage.Store on Neo4j.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, uri, user, password string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewGraphBackend("connect", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, apperrors.NewGraphBackend("verify connectivity", err)
	}
	s := &Store{driver: driver, logger: logger.Component("neo4jstore")}
	if err := s.ensureConstraints(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) ensureConstraints(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
		"CREATE CONSTRAINT entity_source IF NOT EXISTS FOR (e:Entity) REQUIRE (e.source, e.source_id) IS UNIQUE",
		"CREATE CONSTRAINT canonical_id IF NOT EXISTS FOR (c:CanonicalEntity) REQUIRE c.id IS UNIQUE",
		"CREATE INDEX entity_email IF NOT EXISTS FOR (e:Entity) ON (e.email)",
		"CREATE INDEX entity_username IF NOT EXISTS FOR (e:Entity) ON (e.username)",
		"CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.entity_type)",
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return apperrors.NewGraphBackend(stmt, err)
		}
	}
	return nil
}

// entityParams flattens an entity for MERGE. Nested properties travel as a
// JSON string since Neo4j properties cannot hold maps; the weak-signal
// fields the candidate query filters on are lifted to node properties.
func entityParams(e *model.Entity) (map[string]interface{}, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return nil, apperrors.NewSerialization("properties", err)
	}
	f := model.ExtractFeatures(e)
	return map[string]interface{}{
		"id":          e.ID.String(),
		"entity_type": string(e.EntityType),
		"source":      string(e.Source),
		"source_id":   e.SourceID,
		"name":        e.Name,
		"content":     e.Content,
		"props":       string(props),
		"email":       strings.ToLower(f.Email),
		"username":    f.Username,
		"user_id":     f.UserID,
		"created_at":  e.CreatedAt,
		"updated_at":  e.UpdatedAt,
	}, nil
}

func (s *Store) UpsertEntity(ctx context.Context, e *model.Entity) (uuid.UUID, bool, error) {
	params, err := entityParams(e)
	if err != nil {
		return uuid.Nil, false, err
	}
	// Per-call nonce: replaying the same struct must not look like a fresh
	// insert, so created detection cannot compare any field the caller sends.
	params["nonce"] = uuid.NewString()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (e:Entity {source: $source, source_id: $source_id})
		ON CREATE SET e.id = $id, e.created_at = $created_at, e.txn = $nonce
		SET e.entity_type = $entity_type,
		    e.name = $name,
		    e.content = $content,
		    e.props = $props,
		    e.email = $email,
		    e.username = $username,
		    e.user_id = $user_id,
		    e.updated_at = $updated_at
		RETURN e.id as id, e.txn = $nonce as created
	`
	result, err := session.Run(ctx, query, params)
	if err != nil {
		return uuid.Nil, false, apperrors.NewGraphBackend("upsert entity", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return uuid.Nil, false, apperrors.NewGraphBackend("upsert entity", err)
	}

	id, err := uuid.Parse(getString(record, "id"))
	if err != nil {
		return uuid.Nil, false, apperrors.NewSerialization("id", err)
	}
	created, _ := record.Get("created")
	createdBool, _ := created.(bool)
	return id, createdBool, nil
}

func (s *Store) UpdateEntity(ctx context.Context, e *model.Entity) error {
	params, err := entityParams(e)
	if err != nil {
		return err
	}
	if e.CanonicalID != nil {
		params["canonical_id"] = e.CanonicalID.String()
	} else {
		params["canonical_id"] = nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (e:Entity {id: $id})
		SET e.entity_type = $entity_type,
		    e.source = $source,
		    e.source_id = $source_id,
		    e.name = $name,
		    e.content = $content,
		    e.props = $props,
		    e.email = $email,
		    e.username = $username,
		    e.user_id = $user_id,
		    e.canonical_id = $canonical_id,
		    e.updated_at = $updated_at
		RETURN e.id as id
	`
	result, err := session.Run(ctx, query, params)
	if err != nil {
		return apperrors.NewGraphBackend("update entity", err)
	}
	if _, err := result.Single(ctx); err != nil {
		return apperrors.NewEntityNotFound(e.ID.String())
	}
	return nil
}

const entityReturn = `
	e.id as id, e.entity_type as entity_type, e.source as source,
	e.source_id as source_id, e.name as name, e.content as content,
	e.canonical_id as canonical_id, e.props as props,
	e.created_at as created_at, e.updated_at as updated_at
`

func (s *Store) FindEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (e:Entity {id: $id}) RETURN "+entityReturn,
		map[string]interface{}{"id": id.String()})
	if err != nil {
		return nil, apperrors.NewGraphBackend("find entity", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewGraphBackend("find entity", err)
		}
		return nil, apperrors.NewEntityNotFound(id.String())
	}
	return recordToEntity(result.Record())
}

func (s *Store) FindEntityBySource(ctx context.Context, source model.DataSource, sourceID string) (*model.Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (e:Entity {source: $source, source_id: $source_id}) RETURN "+entityReturn,
		map[string]interface{}{"source": string(source), "source_id": sourceID})
	if err != nil {
		return nil, apperrors.NewGraphBackend("find entity by source", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewGraphBackend("find entity by source", err)
		}
		return nil, apperrors.NewEntityNotFound(string(source) + "/" + sourceID)
	}
	return recordToEntity(result.Record())
}

func (s *Store) SearchEntities(ctx context.Context, nameLike string, sources []model.DataSource, types []model.EntityType, limit int) ([]*model.Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	params := map[string]interface{}{
		"name":  strings.ToLower(nameLike),
		"limit": limit,
	}
	query := "MATCH (e:Entity) WHERE toLower(e.name) CONTAINS $name"
	if len(sources) > 0 {
		strs := make([]string, len(sources))
		for i, src := range sources {
			strs[i] = string(src)
		}
		params["sources"] = strs
		query += " AND e.source IN $sources"
	}
	if len(types) > 0 {
		strs := make([]string, len(types))
		for i, t := range types {
			strs[i] = string(t)
		}
		params["types"] = strs
		query += " AND e.entity_type IN $types"
	}
	query += " RETURN " + entityReturn + " ORDER BY e.updated_at DESC, e.id LIMIT $limit"

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewGraphBackend("search entities", err)
	}
	return collectEntities(ctx, result)
}

// relationshipParams mints a fresh nonce per call so the created flag stays
// correct when the same struct is replayed after a transient failure.
func relationshipParams(r *model.Relationship) map[string]interface{} {
	return map[string]interface{}{
		"id":         r.ID.String(),
		"from":       r.FromEntity.String(),
		"to":         r.ToEntity.String(),
		"rel_type":   r.RelationshipType,
		"source":     string(r.Source),
		"confidence": r.ConfidenceScore,
		"created_at": r.CreatedAt,
		"nonce":      uuid.NewString(),
	}
}

const upsertRelationshipQuery = `
	MATCH (from:Entity {id: $from}), (to:Entity {id: $to})
	MERGE (from)-[r:RELATES {rel_type: $rel_type, source: $source}]->(to)
	ON CREATE SET r.id = $id, r.confidence = $confidence, r.created_at = $created_at, r.txn = $nonce
	ON MATCH SET r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END
	RETURN r.txn = $nonce as created
`

func (s *Store) UpsertRelationship(ctx context.Context, r *model.Relationship) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, upsertRelationshipQuery, relationshipParams(r))
	if err != nil {
		return false, apperrors.NewGraphBackend("upsert relationship", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return false, apperrors.NewGraphBackend("upsert relationship", err)
	}
	created, _ := record.Get("created")
	createdBool, _ := created.(bool)
	return createdBool, nil
}

func (s *Store) BatchUpsertRelationships(ctx context.Context, rels []*model.Relationship) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	created, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (int, error) {
		count := 0
		for _, r := range rels {
			result, err := tx.Run(ctx, upsertRelationshipQuery, relationshipParams(r))
			if err != nil {
				return 0, err
			}
			record, err := result.Single(ctx)
			if err != nil {
				return 0, err
			}
			wasCreated, _ := record.Get("created")
			if b, _ := wasCreated.(bool); b {
				count++
			}
		}
		return count, nil
	})
	if err != nil {
		return 0, apperrors.NewGraphBackend("batch upsert relationships", err)
	}
	return created, nil
}

func (s *Store) Neighbors(ctx context.Context, id uuid.UUID, relTypes []string) ([]*model.Relationship, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	params := map[string]interface{}{"id": id.String()}
	query := "MATCH (from:Entity {id: $id})-[r:RELATES]->(to:Entity)"
	if len(relTypes) > 0 {
		params["rel_types"] = relTypes
		query += " WHERE r.rel_type IN $rel_types"
	}
	query += `
		RETURN r.id as id, from.id as from_id, to.id as to_id,
		       r.rel_type as rel_type, r.source as source,
		       r.confidence as confidence, r.created_at as created_at
		ORDER BY to.id
	`

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewGraphBackend("neighbors", err)
	}

	var rels []*model.Relationship
	for result.Next(ctx) {
		r, err := recordToRelationship(result.Record())
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphBackend("neighbors", err)
	}
	return rels, nil
}

// canonicalParams flattens a canonical entity for Cypher. Merged properties
// travel as a JSON string like entity props do.
func canonicalParams(c *model.CanonicalEntity) (map[string]interface{}, error) {
	merged, err := json.Marshal(c.MergedProperties)
	if err != nil {
		return nil, apperrors.NewSerialization("merged properties", err)
	}
	constituents := make([]string, len(c.SourceEntities))
	for i, id := range c.SourceEntities {
		constituents[i] = id.String()
	}
	return map[string]interface{}{
		"id":           c.ID.String(),
		"entity_type":  string(c.EntityType),
		"name":         c.CanonicalName,
		"constituents": constituents,
		"merged_props": string(merged),
		"confidence":   c.ConfidenceScore,
		"stale":        c.Stale,
		"created_at":   c.CreatedAt,
		"updated_at":   c.UpdatedAt,
	}, nil
}

func (s *Store) InsertCanonicalEntity(ctx context.Context, c *model.CanonicalEntity) error {
	params, err := canonicalParams(c)
	if err != nil {
		return err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		CREATE (c:CanonicalEntity {
			id: $id, entity_type: $entity_type, canonical_name: $name,
			source_entities: $constituents, merged_props: $merged_props,
			confidence: $confidence, stale: $stale,
			created_at: $created_at, updated_at: $updated_at
		})
	`
	if _, err := session.Run(ctx, query, params); err != nil {
		return apperrors.NewGraphBackend("insert canonical entity", err)
	}
	return nil
}

func (s *Store) UpdateCanonicalEntity(ctx context.Context, c *model.CanonicalEntity) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	// apoc is not assumed; the constituent set is deduped client-side.
	seen := make(map[uuid.UUID]struct{}, len(c.SourceEntities))
	deduped := c.SourceEntities[:0:0]
	for _, id := range c.SourceEntities {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	c.SourceEntities = deduped

	params, err := canonicalParams(c)
	if err != nil {
		return err
	}

	query := `
		MATCH (c:CanonicalEntity {id: $id})
		SET c.entity_type = $entity_type,
		    c.canonical_name = $name,
		    c.source_entities = $constituents,
		    c.merged_props = $merged_props,
		    c.confidence = $confidence,
		    c.stale = $stale,
		    c.updated_at = datetime()
		RETURN c.id as id
	`
	result, err := session.Run(ctx, query, params)
	if err != nil {
		return apperrors.NewGraphBackend("update canonical entity", err)
	}
	if _, err := result.Single(ctx); err != nil {
		return apperrors.NewEntityNotFound(c.ID.String())
	}
	return nil
}

const canonicalReturn = `
	c.id as id, c.entity_type as entity_type, c.canonical_name as canonical_name,
	c.source_entities as source_entities, c.merged_props as merged_props,
	c.confidence as confidence, c.stale as stale,
	c.created_at as created_at, c.updated_at as updated_at
`

func (s *Store) FindCanonicalEntity(ctx context.Context, id uuid.UUID) (*model.CanonicalEntity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (c:CanonicalEntity {id: $id}) RETURN "+canonicalReturn,
		map[string]interface{}{"id": id.String()})
	if err != nil {
		return nil, apperrors.NewGraphBackend("find canonical entity", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewGraphBackend("find canonical entity", err)
		}
		return nil, apperrors.NewEntityNotFound(id.String())
	}
	return recordToCanonical(result.Record())
}

func (s *Store) CanonicalForEntity(ctx context.Context, entityID uuid.UUID) (*model.CanonicalEntity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (e:Entity {id: $id})
		MATCH (c:CanonicalEntity {id: e.canonical_id})
		RETURN ` + canonicalReturn
	result, err := session.Run(ctx, query, map[string]interface{}{"id": entityID.String()})
	if err != nil {
		return nil, apperrors.NewGraphBackend("canonical for entity", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewGraphBackend("canonical for entity", err)
		}
		return nil, nil
	}
	return recordToCanonical(result.Record())
}

func (s *Store) SetEntityCanonical(ctx context.Context, entityID, canonicalID uuid.UUID) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (e:Entity {id: $id})
		SET e.canonical_id = $canonical_id, e.updated_at = datetime()
		WITH e
		MATCH (c:CanonicalEntity {id: $canonical_id})
		MERGE (e)-[:RESOLVED_TO]->(c)
		RETURN e.id as id
	`
	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":           entityID.String(),
		"canonical_id": canonicalID.String(),
	})
	if err != nil {
		return apperrors.NewGraphBackend("set entity canonical", err)
	}
	if _, err := result.Single(ctx); err != nil {
		return apperrors.NewEntityNotFound(entityID.String())
	}
	return nil
}

func (s *Store) ListCanonicalEntities(ctx context.Context, types []model.EntityType) ([]*model.CanonicalEntity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	params := map[string]interface{}{}
	query := "MATCH (c:CanonicalEntity)"
	if len(types) > 0 {
		strs := make([]string, len(types))
		for i, t := range types {
			strs[i] = string(t)
		}
		params["types"] = strs
		query += " WHERE c.entity_type IN $types"
	}
	query += " RETURN " + canonicalReturn + " ORDER BY c.id"

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewGraphBackend("list canonical entities", err)
	}

	var out []*model.CanonicalEntity
	for result.Next(ctx) {
		c, err := recordToCanonical(result.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphBackend("list canonical entities", err)
	}
	return out, nil
}

// FindCandidates matches on the lifted weak-signal properties, all indexed.
// Repository/channel overlap is approximated with a props substring check
// since nested properties live in a JSON string.
func (s *Store) FindCandidates(ctx context.Context, e *model.Entity, f *model.EntityFeatures, limit int) ([]model.ResolutionCandidate, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	params := map[string]interface{}{
		"id":          e.ID.String(),
		"entity_type": string(e.EntityType),
		"source_id":   e.SourceID,
		"limit":       limit,
	}
	conditions := []string{"e.source_id = $source_id"}
	if f.Email != "" {
		params["email"] = strings.ToLower(f.Email)
		conditions = append(conditions, "e.email = $email")
	}
	if f.Username != "" {
		params["username"] = f.Username
		conditions = append(conditions, "e.username = $username")
	}
	if f.UserID != "" {
		params["user_id"] = f.UserID
		conditions = append(conditions, "e.user_id = $user_id")
	}
	overlapTerms := append(append([]string{}, f.AssociatedRepositories...), f.AssociatedChannels...)
	if len(overlapTerms) > 0 {
		params["overlap"] = overlapTerms
		conditions = append(conditions, "any(term IN $overlap WHERE e.props CONTAINS term)")
	}
	if name := f.BestName(); name != "" {
		if fields := strings.Fields(strings.ToLower(name)); len(fields) > 0 {
			params["name_token"] = fields[0]
			conditions = append(conditions, "toLower(e.name) CONTAINS $name_token")
		}
	}

	query := `
		MATCH (e:Entity {entity_type: $entity_type})
		WHERE e.id <> $id AND (` + strings.Join(conditions, " OR ") + `)
		RETURN ` + entityReturn + ` ORDER BY e.id LIMIT $limit`

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, apperrors.NewGraphBackend("find candidates", err)
	}
	entities, err := collectEntities(ctx, result)
	if err != nil {
		return nil, err
	}
	candidates := make([]model.ResolutionCandidate, 0, len(entities))
	for _, candidate := range entities {
		candidates = append(candidates, model.ResolutionCandidate{Entity: candidate})
	}
	return candidates, nil
}

func (s *Store) GetStatistics(ctx context.Context) (*model.GraphStatistics, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	stats := &model.GraphStatistics{
		EntitiesByType:      map[string]int64{},
		EntitiesBySource:    map[string]int64{},
		RelationshipsByType: map[string]int64{},
	}

	result, err := session.Run(ctx, "MATCH (e:Entity) RETURN count(e) as total", nil)
	if err != nil {
		return nil, apperrors.NewGraphBackend("statistics totals", err)
	}
	if record, err := result.Single(ctx); err == nil {
		stats.TotalEntities = getInt64(record, "total")
	}

	result, err = session.Run(ctx, "MATCH (c:CanonicalEntity) RETURN count(c) as total", nil)
	if err != nil {
		return nil, apperrors.NewGraphBackend("statistics canonicals", err)
	}
	if record, err := result.Single(ctx); err == nil {
		stats.TotalCanonicalEntities = getInt64(record, "total")
	}

	result, err = session.Run(ctx, "MATCH (:Entity)-[r:RELATES]->(:Entity) RETURN count(r) as total", nil)
	if err != nil {
		return nil, apperrors.NewGraphBackend("statistics relationships", err)
	}
	if record, err := result.Single(ctx); err == nil {
		stats.TotalRelationships = getInt64(record, "total")
	}

	if err := s.countInto(ctx, session, "MATCH (e:Entity) RETURN e.entity_type as key, count(e) as n", stats.EntitiesByType); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, session, "MATCH (e:Entity) RETURN e.source as key, count(e) as n", stats.EntitiesBySource); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, session, "MATCH (:Entity)-[r:RELATES]->(:Entity) RETURN r.rel_type as key, count(r) as n", stats.RelationshipsByType); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) countInto(ctx context.Context, session neo4j.SessionWithContext, query string, dest map[string]int64) error {
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return apperrors.NewGraphBackend("statistics group", err)
	}
	for result.Next(ctx) {
		record := result.Record()
		dest[getString(record, "key")] = getInt64(record, "n")
	}
	if err := result.Err(); err != nil {
		return apperrors.NewGraphBackend("statistics group", err)
	}
	return nil
}
