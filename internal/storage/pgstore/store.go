// Package pgstore is the relational storage backend. All graph state lives
// in three tables; traversal primitives stay index-backed so the client-side
// BFS in graphops never forces a sequential scan.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"conhub-graph/internal/model"
	apperrors "conhub-graph/pkg/errors"
)

const entityColumns = "id, entity_type, source, source_id, name, content, canonical_id, properties, created_at, updated_at"

// Store implements storage.Store on PostgreSQL via pgx.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperrors.NewDatabase("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewDatabase("ping", err)
	}
	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) UpsertEntity(ctx context.Context, e *model.Entity) (uuid.UUID, bool, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return uuid.Nil, false, apperrors.NewSerialization("properties", err)
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO entities (id, entity_type, source, source_id, name, content, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source, source_id) DO UPDATE
		SET name = EXCLUDED.name,
		    content = EXCLUDED.content,
		    properties = EXCLUDED.properties,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0)`,
		e.ID, e.EntityType, e.Source, e.SourceID, e.Name, e.Content, props, e.CreatedAt, e.UpdatedAt,
	)

	var id uuid.UUID
	var created bool
	if err := row.Scan(&id, &created); err != nil {
		return uuid.Nil, false, apperrors.NewDatabase("upsert entity", err)
	}
	return id, created, nil
}

func (s *Store) UpdateEntity(ctx context.Context, e *model.Entity) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return apperrors.NewSerialization("properties", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE entities
		SET entity_type = $2, source = $3, source_id = $4, name = $5, content = $6,
		    canonical_id = $7, properties = $8, updated_at = $9
		WHERE id = $1`,
		e.ID, e.EntityType, e.Source, e.SourceID, e.Name, e.Content, e.CanonicalID, props, e.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabase("update entity", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewEntityNotFound(e.ID.String())
	}
	return nil
}

func (s *Store) FindEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM entities WHERE id = $1", entityColumns), id)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewEntityNotFound(id.String())
	}
	if err != nil {
		return nil, apperrors.NewDatabase("find entity", err)
	}
	return e, nil
}

func (s *Store) FindEntityBySource(ctx context.Context, source model.DataSource, sourceID string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM entities WHERE source = $1 AND source_id = $2", entityColumns),
		source, sourceID)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewEntityNotFound(string(source) + "/" + sourceID)
	}
	if err != nil {
		return nil, apperrors.NewDatabase("find entity by source", err)
	}
	return e, nil
}

func (s *Store) SearchEntities(ctx context.Context, nameLike string, sources []model.DataSource, types []model.EntityType, limit int) ([]*model.Entity, error) {
	query := fmt.Sprintf("SELECT %s FROM entities WHERE lower(name) LIKE '%%' || lower($1) || '%%'", entityColumns)
	args := []interface{}{nameLike}

	if len(sources) > 0 {
		args = append(args, sources)
		query += fmt.Sprintf(" AND source = ANY($%d)", len(args))
	}
	if len(types) > 0 {
		args = append(args, types)
		query += fmt.Sprintf(" AND entity_type = ANY($%d)", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabase("search entities", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) UpsertRelationship(ctx context.Context, r *model.Relationship) (bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO relationships (id, from_entity, to_entity, relationship_type, source, confidence_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (relationship_type, from_entity, to_entity, source) DO UPDATE
		SET confidence_score = GREATEST(relationships.confidence_score, EXCLUDED.confidence_score)
		RETURNING (xmax = 0)`,
		r.ID, r.FromEntity, r.ToEntity, r.RelationshipType, r.Source, r.ConfidenceScore, r.CreatedAt,
	)
	var created bool
	if err := row.Scan(&created); err != nil {
		return false, apperrors.NewDatabase("upsert relationship", err)
	}
	return created, nil
}

func (s *Store) BatchUpsertRelationships(ctx context.Context, rels []*model.Relationship) (int, error) {
	created := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, r := range rels {
			row := tx.QueryRow(ctx, `
				INSERT INTO relationships (id, from_entity, to_entity, relationship_type, source, confidence_score, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (relationship_type, from_entity, to_entity, source) DO UPDATE
				SET confidence_score = GREATEST(relationships.confidence_score, EXCLUDED.confidence_score)
				RETURNING (xmax = 0)`,
				r.ID, r.FromEntity, r.ToEntity, r.RelationshipType, r.Source, r.ConfidenceScore, r.CreatedAt,
			)
			var wasInsert bool
			if err := row.Scan(&wasInsert); err != nil {
				return err
			}
			if wasInsert {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.NewDatabase("batch upsert relationships", err)
	}
	return created, nil
}

func (s *Store) Neighbors(ctx context.Context, id uuid.UUID, relTypes []string) ([]*model.Relationship, error) {
	query := `
		SELECT id, from_entity, to_entity, relationship_type, source, confidence_score, created_at
		FROM relationships WHERE from_entity = $1`
	args := []interface{}{id}
	if len(relTypes) > 0 {
		args = append(args, relTypes)
		query += fmt.Sprintf(" AND relationship_type = ANY($%d)", len(args))
	}
	query += " ORDER BY to_entity"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabase("neighbors", err)
	}
	defer rows.Close()

	var rels []*model.Relationship
	for rows.Next() {
		r := &model.Relationship{}
		if err := rows.Scan(&r.ID, &r.FromEntity, &r.ToEntity, &r.RelationshipType, &r.Source, &r.ConfidenceScore, &r.CreatedAt); err != nil {
			return nil, apperrors.NewDatabase("neighbors scan", err)
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabase("neighbors", err)
	}
	return rels, nil
}

func (s *Store) InsertCanonicalEntity(ctx context.Context, c *model.CanonicalEntity) error {
	merged, err := json.Marshal(c.MergedProperties)
	if err != nil {
		return apperrors.NewSerialization("merged properties", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO canonical_entities (id, entity_type, canonical_name, source_entities, merged_properties, confidence_score, stale, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.EntityType, c.CanonicalName, c.SourceEntities, merged, c.ConfidenceScore, c.Stale, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabase("insert canonical entity", err)
	}
	return nil
}

func (s *Store) UpdateCanonicalEntity(ctx context.Context, c *model.CanonicalEntity) error {
	// Dedup the constituents before they hit the array column.
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

	merged, err := json.Marshal(c.MergedProperties)
	if err != nil {
		return apperrors.NewSerialization("merged properties", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE canonical_entities
		SET entity_type = $2, canonical_name = $3, source_entities = $4,
		    merged_properties = $5, confidence_score = $6, stale = $7, updated_at = now()
		WHERE id = $1`,
		c.ID, c.EntityType, c.CanonicalName, c.SourceEntities, merged, c.ConfidenceScore, c.Stale,
	)
	if err != nil {
		return apperrors.NewDatabase("update canonical entity", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewEntityNotFound(c.ID.String())
	}
	return nil
}

func (s *Store) FindCanonicalEntity(ctx context.Context, id uuid.UUID) (*model.CanonicalEntity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, entity_type, canonical_name, source_entities, merged_properties, confidence_score, stale, created_at, updated_at
		FROM canonical_entities WHERE id = $1`, id)
	c, err := scanCanonical(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewEntityNotFound(id.String())
	}
	if err != nil {
		return nil, apperrors.NewDatabase("find canonical entity", err)
	}
	return c, nil
}

func (s *Store) CanonicalForEntity(ctx context.Context, entityID uuid.UUID) (*model.CanonicalEntity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT c.id, c.entity_type, c.canonical_name, c.source_entities, c.merged_properties, c.confidence_score, c.stale, c.created_at, c.updated_at
		FROM canonical_entities c
		JOIN entities e ON e.canonical_id = c.id
		WHERE e.id = $1`, entityID)
	c, err := scanCanonical(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabase("canonical for entity", err)
	}
	return c, nil
}

func (s *Store) SetEntityCanonical(ctx context.Context, entityID, canonicalID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE entities SET canonical_id = $2, updated_at = now() WHERE id = $1",
		entityID, canonicalID)
	if err != nil {
		return apperrors.NewDatabase("set entity canonical", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewEntityNotFound(entityID.String())
	}
	return nil
}

func (s *Store) ListCanonicalEntities(ctx context.Context, types []model.EntityType) ([]*model.CanonicalEntity, error) {
	query := `
		SELECT id, entity_type, canonical_name, source_entities, merged_properties, confidence_score, stale, created_at, updated_at
		FROM canonical_entities`
	args := []interface{}{}
	if len(types) > 0 {
		args = append(args, types)
		query += " WHERE entity_type = ANY($1)"
	}
	query += " ORDER BY id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabase("list canonical entities", err)
	}
	defer rows.Close()

	var out []*model.CanonicalEntity
	for rows.Next() {
		c, err := scanCanonical(rows)
		if err != nil {
			return nil, apperrors.NewDatabase("list canonical entities scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabase("list canonical entities", err)
	}
	return out, nil
}

// FindCandidates gathers stored entities of the same type sharing at least
// one weak identity signal with e. Every branch of the OR is index-backed.
func (s *Store) FindCandidates(ctx context.Context, e *model.Entity, f *model.EntityFeatures, limit int) ([]model.ResolutionCandidate, error) {
	conditions := []string{"source_id = $3"}
	args := []interface{}{e.ID, e.EntityType, e.SourceID}

	if f.Email != "" {
		args = append(args, strings.ToLower(f.Email))
		conditions = append(conditions, fmt.Sprintf("lower(properties->>'email') = $%d", len(args)))
	}
	if f.Username != "" {
		args = append(args, f.Username)
		conditions = append(conditions, fmt.Sprintf("(properties->>'username' = $%d OR properties->>'login' = $%d)", len(args), len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		conditions = append(conditions, fmt.Sprintf("properties->>'user_id' = $%d", len(args)))
	}
	if len(f.AssociatedRepositories) > 0 {
		args = append(args, f.AssociatedRepositories)
		conditions = append(conditions, fmt.Sprintf("properties->'repositories' ?| $%d", len(args)))
	}
	if len(f.AssociatedChannels) > 0 {
		args = append(args, f.AssociatedChannels)
		conditions = append(conditions, fmt.Sprintf("properties->'channels' ?| $%d", len(args)))
	}
	if name := f.BestName(); name != "" {
		if first := strings.Fields(strings.ToLower(name)); len(first) > 0 {
			args = append(args, "%"+first[0]+"%")
			conditions = append(conditions, fmt.Sprintf("lower(name) LIKE $%d", len(args)))
		}
	}

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s FROM entities
		WHERE id <> $1 AND entity_type = $2 AND (%s)
		ORDER BY id LIMIT $%d`,
		entityColumns, strings.Join(conditions, " OR "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabase("find candidates", err)
	}
	defer rows.Close()

	entities, err := scanEntities(rows)
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
	stats := &model.GraphStatistics{
		EntitiesByType:      map[string]int64{},
		EntitiesBySource:    map[string]int64{},
		RelationshipsByType: map[string]int64{},
	}

	row := s.pool.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM entities),
		       (SELECT count(*) FROM relationships),
		       (SELECT count(*) FROM canonical_entities)`)
	if err := row.Scan(&stats.TotalEntities, &stats.TotalRelationships, &stats.TotalCanonicalEntities); err != nil {
		return nil, apperrors.NewDatabase("statistics totals", err)
	}

	if err := s.countInto(ctx, "SELECT entity_type, count(*) FROM entities GROUP BY entity_type", stats.EntitiesByType); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, "SELECT source, count(*) FROM entities GROUP BY source", stats.EntitiesBySource); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, "SELECT relationship_type, count(*) FROM relationships GROUP BY relationship_type", stats.RelationshipsByType); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) countInto(ctx context.Context, query string, dest map[string]int64) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return apperrors.NewDatabase("statistics group", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return apperrors.NewDatabase("statistics scan", err)
		}
		dest[key] = count
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*model.Entity, error) {
	e := &model.Entity{}
	var props []byte
	if err := row.Scan(&e.ID, &e.EntityType, &e.Source, &e.SourceID, &e.Name, &e.Content,
		&e.CanonicalID, &props, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return nil, apperrors.NewSerialization("properties", err)
		}
	}
	if e.Properties == nil {
		e.Properties = map[string]interface{}{}
	}
	return e, nil
}

func scanEntities(rows pgx.Rows) ([]*model.Entity, error) {
	var out []*model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, apperrors.NewDatabase("entity scan", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabase("entity rows", err)
	}
	return out, nil
}

func scanCanonical(row rowScanner) (*model.CanonicalEntity, error) {
	c := &model.CanonicalEntity{}
	var merged []byte
	if err := row.Scan(&c.ID, &c.EntityType, &c.CanonicalName, &c.SourceEntities,
		&merged, &c.ConfidenceScore, &c.Stale, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(merged) > 0 {
		if err := json.Unmarshal(merged, &c.MergedProperties); err != nil {
			return nil, apperrors.NewSerialization("merged properties", err)
		}
	}
	if c.MergedProperties == nil {
		c.MergedProperties = map[string]interface{}{}
	}
	return c, nil
}
