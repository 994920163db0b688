package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"conhub-graph/internal/model"
	apperrors "conhub-graph/pkg/errors"
)

// MemoryStore is a map-backed Store used by unit tests and local
// development. All access goes through a single RWMutex; values are copied
// on the way in and out so callers never share memory with the store.
type MemoryStore struct {
	mu sync.RWMutex

	entities  map[uuid.UUID]*model.Entity
	bySource  map[string]uuid.UUID // source|source_id -> entity id
	rels      map[string]*model.Relationship
	canonical map[uuid.UUID]*model.CanonicalEntity
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:  make(map[uuid.UUID]*model.Entity),
		bySource:  make(map[string]uuid.UUID),
		rels:      make(map[string]*model.Relationship),
		canonical: make(map[uuid.UUID]*model.CanonicalEntity),
	}
}

func sourceKey(source model.DataSource, sourceID string) string {
	return string(source) + "|" + sourceID
}

func copyEntity(e *model.Entity) *model.Entity {
	cp := *e
	cp.Properties = make(map[string]interface{}, len(e.Properties))
	for k, v := range e.Properties {
		cp.Properties[k] = v
	}
	if e.CanonicalID != nil {
		id := *e.CanonicalID
		cp.CanonicalID = &id
	}
	return &cp
}

func copyCanonical(c *model.CanonicalEntity) *model.CanonicalEntity {
	cp := *c
	cp.SourceEntities = append([]uuid.UUID(nil), c.SourceEntities...)
	cp.MergedProperties = make(map[string]interface{}, len(c.MergedProperties))
	for k, v := range c.MergedProperties {
		cp.MergedProperties[k] = v
	}
	return &cp
}

func (s *MemoryStore) UpsertEntity(ctx context.Context, e *model.Entity) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey(e.Source, e.SourceID)
	if existingID, ok := s.bySource[key]; ok {
		existing := s.entities[existingID]
		existing.Name = e.Name
		existing.Content = e.Content
		existing.Properties = copyEntity(e).Properties
		existing.UpdatedAt = e.UpdatedAt
		return existingID, false, nil
	}

	cp := copyEntity(e)
	s.entities[cp.ID] = cp
	s.bySource[key] = cp.ID
	return cp.ID, true, nil
}

func (s *MemoryStore) UpdateEntity(ctx context.Context, e *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.ID]; !ok {
		return apperrors.NewEntityNotFound(e.ID.String())
	}
	s.entities[e.ID] = copyEntity(e)
	return nil
}

func (s *MemoryStore) FindEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, apperrors.NewEntityNotFound(id.String())
	}
	return copyEntity(e), nil
}

func (s *MemoryStore) FindEntityBySource(ctx context.Context, source model.DataSource, sourceID string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySource[sourceKey(source, sourceID)]
	if !ok {
		return nil, apperrors.NewEntityNotFound(sourceKey(source, sourceID))
	}
	return copyEntity(s.entities[id]), nil
}

func (s *MemoryStore) SearchEntities(ctx context.Context, nameLike string, sources []model.DataSource, types []model.EntityType, limit int) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(nameLike)
	sourceSet := make(map[model.DataSource]struct{}, len(sources))
	for _, src := range sources {
		sourceSet[src] = struct{}{}
	}
	typeSet := make(map[model.EntityType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	var out []*model.Entity
	for _, e := range s.entities {
		if needle != "" && !strings.Contains(strings.ToLower(e.Name), needle) {
			continue
		}
		if len(sourceSet) > 0 {
			if _, ok := sourceSet[e.Source]; !ok {
				continue
			}
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[e.EntityType]; !ok {
				continue
			}
		}
		out = append(out, copyEntity(e))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertRelationship(ctx context.Context, r *model.Relationship) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertRelLocked(r)
}

func (s *MemoryStore) upsertRelLocked(r *model.Relationship) (bool, error) {
	key := r.Key()
	if existing, ok := s.rels[key]; ok {
		if r.ConfidenceScore > existing.ConfidenceScore {
			existing.ConfidenceScore = r.ConfidenceScore
		}
		return false, nil
	}
	cp := *r
	s.rels[key] = &cp
	return true, nil
}

func (s *MemoryStore) BatchUpsertRelationships(ctx context.Context, rels []*model.Relationship) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for _, r := range rels {
		wasNew, err := s.upsertRelLocked(r)
		if err != nil {
			return created, err
		}
		if wasNew {
			created++
		}
	}
	return created, nil
}

func (s *MemoryStore) Neighbors(ctx context.Context, id uuid.UUID, relTypes []string) ([]*model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[string]struct{}, len(relTypes))
	for _, t := range relTypes {
		allowed[t] = struct{}{}
	}

	var out []*model.Relationship
	for _, r := range s.rels {
		if r.FromEntity != id {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[r.RelationshipType]; !ok {
				continue
			}
		}
		cp := *r
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ToEntity != out[j].ToEntity {
			return out[i].ToEntity.String() < out[j].ToEntity.String()
		}
		return out[i].RelationshipType < out[j].RelationshipType
	})
	return out, nil
}

func (s *MemoryStore) InsertCanonicalEntity(ctx context.Context, c *model.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.canonical[c.ID] = copyCanonical(c)
	return nil
}

func (s *MemoryStore) UpdateCanonicalEntity(ctx context.Context, c *model.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.canonical[c.ID]; !ok {
		return apperrors.NewEntityNotFound(c.ID.String())
	}
	// Constituents are a set: drop duplicates while preserving order.
	seen := make(map[uuid.UUID]struct{}, len(c.SourceEntities))
	deduped := make([]uuid.UUID, 0, len(c.SourceEntities))
	for _, id := range c.SourceEntities {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	cp := copyCanonical(c)
	cp.SourceEntities = deduped
	s.canonical[c.ID] = cp
	return nil
}

func (s *MemoryStore) FindCanonicalEntity(ctx context.Context, id uuid.UUID) (*model.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.canonical[id]
	if !ok {
		return nil, apperrors.NewEntityNotFound(id.String())
	}
	return copyCanonical(c), nil
}

func (s *MemoryStore) CanonicalForEntity(ctx context.Context, entityID uuid.UUID) (*model.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[entityID]
	if !ok {
		return nil, nil
	}
	if e.CanonicalID == nil {
		return nil, nil
	}
	c, ok := s.canonical[*e.CanonicalID]
	if !ok {
		return nil, nil
	}
	return copyCanonical(c), nil
}

func (s *MemoryStore) SetEntityCanonical(ctx context.Context, entityID, canonicalID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return apperrors.NewEntityNotFound(entityID.String())
	}
	id := canonicalID
	e.CanonicalID = &id
	return nil
}

func (s *MemoryStore) ListCanonicalEntities(ctx context.Context, types []model.EntityType) ([]*model.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeSet := make(map[model.EntityType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	var out []*model.CanonicalEntity
	for _, c := range s.canonical {
		if len(typeSet) > 0 {
			if _, ok := typeSet[c.EntityType]; !ok {
				continue
			}
		}
		out = append(out, copyCanonical(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *MemoryStore) FindCandidates(ctx context.Context, e *model.Entity, f *model.EntityFeatures, limit int) ([]model.ResolutionCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ResolutionCandidate
	for _, other := range s.entities {
		if other.ID == e.ID || other.EntityType != e.EntityType {
			continue
		}
		of := model.ExtractFeatures(other)
		score, shares := weakSignal(e, f, other, of)
		if !shares {
			continue
		}
		out = append(out, model.ResolutionCandidate{
			Entity:          copyEntity(other),
			Features:        of,
			ConfidenceScore: score,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].Entity.ID.String() < out[j].Entity.ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// weakSignal reports whether two entities share at least one pre-filter
// signal, with a provisional confidence mirroring the candidate lookup
// priorities (email strongest, then username/user id, then name, then
// repository/channel overlap).
func weakSignal(e *model.Entity, f *model.EntityFeatures, other *model.Entity, of *model.EntityFeatures) (float64, bool) {
	if e.SourceID != "" && e.SourceID == other.SourceID {
		return 0.9, true
	}
	if f.Email != "" && strings.EqualFold(f.Email, of.Email) {
		return 0.9, true
	}
	if f.Username != "" && f.Username == of.Username {
		return 0.7, true
	}
	if f.UserID != "" && f.UserID == of.UserID {
		return 0.7, true
	}
	if overlaps(f.AssociatedRepositories, of.AssociatedRepositories) ||
		overlaps(f.AssociatedChannels, of.AssociatedChannels) {
		return 0.6, true
	}
	if name := f.BestName(); name != "" {
		otherName := of.BestName()
		if otherName != "" && strings.Contains(strings.ToLower(otherName), strings.ToLower(firstToken(name))) {
			return 0.5, true
		}
	}
	return 0, false
}

func overlaps(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

func (s *MemoryStore) GetStatistics(ctx context.Context) (*model.GraphStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.GraphStatistics{
		TotalEntities:          int64(len(s.entities)),
		TotalRelationships:     int64(len(s.rels)),
		TotalCanonicalEntities: int64(len(s.canonical)),
		EntitiesByType:         make(map[string]int64),
		EntitiesBySource:       make(map[string]int64),
		RelationshipsByType:    make(map[string]int64),
	}
	for _, e := range s.entities {
		stats.EntitiesByType[string(e.EntityType)]++
		stats.EntitiesBySource[string(e.Source)]++
	}
	for _, r := range s.rels {
		stats.RelationshipsByType[r.RelationshipType]++
	}
	return stats, nil
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }
