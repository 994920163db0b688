package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"conhub-graph/internal/model"
)

func TestUpsertEntityBySourceKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "jsmith", nil)
	id1, created, err := store.UpsertEntity(ctx, first)
	assert.NoError(t, err)
	assert.True(t, created)

	// Same source key, fresh uuid: must update in place.
	second := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane Smith",
		map[string]interface{}{"email": "jane@corp.com"})
	id2, created, err := store.UpsertEntity(ctx, second)
	assert.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	stored, err := store.FindEntity(ctx, id1)
	assert.NoError(t, err)
	assert.Equal(t, "Jane Smith", stored.Name)
	assert.Equal(t, "jane@corp.com", stored.Properties["email"])
}

func TestFindEntityCopiesOut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane",
		map[string]interface{}{"email": "jane@corp.com"})
	id, _, err := store.UpsertEntity(ctx, e)
	assert.NoError(t, err)

	got, err := store.FindEntity(ctx, id)
	assert.NoError(t, err)
	got.Properties["email"] = "mutated@corp.com"

	again, err := store.FindEntity(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, "jane@corp.com", again.Properties["email"],
		"callers never share memory with the store")
}

func TestSearchEntitiesFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entities := []*model.Entity{
		model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane Smith", nil),
		model.NewEntity(model.EntityTypePerson, model.SourceSlack, "U1", "Jane Smith", nil),
		model.NewEntity(model.EntityTypeRepository, model.SourceGitHub, "repo-1", "jane-tools", nil),
	}
	for _, e := range entities {
		_, _, err := store.UpsertEntity(ctx, e)
		assert.NoError(t, err)
	}

	all, err := store.SearchEntities(ctx, "jane", nil, nil, 0)
	assert.NoError(t, err)
	assert.Len(t, all, 3)

	githubOnly, err := store.SearchEntities(ctx, "jane", []model.DataSource{model.SourceGitHub}, nil, 0)
	assert.NoError(t, err)
	assert.Len(t, githubOnly, 2)

	people, err := store.SearchEntities(ctx, "jane", nil, []model.EntityType{model.EntityTypePerson}, 0)
	assert.NoError(t, err)
	assert.Len(t, people, 2)

	limited, err := store.SearchEntities(ctx, "jane", nil, nil, 1)
	assert.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNeighborsOrderedByTarget(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	from := model.NewEntity(model.EntityTypeFunction, model.SourceLocalFile, "f-0", "main", nil)
	fromID, _, err := store.UpsertEntity(ctx, from)
	assert.NoError(t, err)

	for _, src := range []string{"f-1", "f-2", "f-3"} {
		e := model.NewEntity(model.EntityTypeFunction, model.SourceLocalFile, src, src, nil)
		id, _, err := store.UpsertEntity(ctx, e)
		assert.NoError(t, err)
		_, err = store.UpsertRelationship(ctx, model.NewRelationship(fromID, id, model.RelCalls, model.SourceLocalFile, 1.0))
		assert.NoError(t, err)
	}

	edges, err := store.Neighbors(ctx, fromID, nil)
	assert.NoError(t, err)
	assert.Len(t, edges, 3)
	for i := 1; i < len(edges); i++ {
		assert.Less(t, edges[i-1].ToEntity.String(), edges[i].ToEntity.String())
	}
}

func TestUpdateCanonicalEntityDeduplicatesConstituents(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	c := model.NewCanonicalEntity(model.EntityTypePerson, "Jane", []uuid.UUID{a})
	assert.NoError(t, store.InsertCanonicalEntity(ctx, c))

	c.SourceEntities = []uuid.UUID{a, b, a, b}
	assert.NoError(t, store.UpdateCanonicalEntity(ctx, c))

	stored, err := store.FindCanonicalEntity(ctx, c.ID)
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, stored.SourceEntities)
}

func TestCanonicalForEntityUnassigned(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane", nil)
	id, _, err := store.UpsertEntity(ctx, e)
	assert.NoError(t, err)

	canonical, err := store.CanonicalForEntity(ctx, id)
	assert.NoError(t, err)
	assert.Nil(t, canonical, "unassigned entities resolve to nil, not an error")

	canonical, err = store.CanonicalForEntity(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, canonical, "unknown entities resolve to nil as well")
}

func TestFindCandidatesWeakSignals(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sameEmail := model.NewEntity(model.EntityTypePerson, model.SourceSlack, "U1", "jane",
		map[string]interface{}{"email": "jane@corp.com"})
	sameUsername := model.NewEntity(model.EntityTypePerson, model.SourceJira, "j-1", "jsmith",
		map[string]interface{}{"username": "jsmith"})
	unrelated := model.NewEntity(model.EntityTypePerson, model.SourceNotion, "n-1", "Bob Jones",
		map[string]interface{}{"email": "bob@corp.com"})
	differentType := model.NewEntity(model.EntityTypeRepository, model.SourceGitHub, "r-1", "jane-tools",
		map[string]interface{}{"email": "jane@corp.com"})
	for _, e := range []*model.Entity{sameEmail, sameUsername, unrelated, differentType} {
		_, _, err := store.UpsertEntity(ctx, e)
		assert.NoError(t, err)
	}

	subject := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "jsmith",
		map[string]interface{}{"email": "JANE@corp.com", "login": "jsmith"})
	candidates, err := store.FindCandidates(ctx, subject, model.ExtractFeatures(subject), 10)
	assert.NoError(t, err)

	found := map[string]bool{}
	for _, c := range candidates {
		found[c.Entity.SourceID] = true
	}
	assert.True(t, found["U1"], "shared email is a weak signal")
	assert.True(t, found["j-1"], "shared username is a weak signal")
	assert.False(t, found["n-1"], "no shared signal, no candidate")
	assert.False(t, found["r-1"], "candidates never cross entity types")
}

func TestGetStatisticsCounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	person := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane", nil)
	repo := model.NewEntity(model.EntityTypeRepository, model.SourceGitHub, "r-1", "core", nil)
	pID, _, _ := store.UpsertEntity(ctx, person)
	rID, _, _ := store.UpsertEntity(ctx, repo)
	_, err := store.UpsertRelationship(ctx, model.NewRelationship(pID, rID, model.RelContributedTo, model.SourceGitHub, 1.0))
	assert.NoError(t, err)

	stats, err := store.GetStatistics(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEntities)
	assert.Equal(t, int64(1), stats.TotalRelationships)
	assert.Equal(t, int64(1), stats.EntitiesByType["person"])
	assert.Equal(t, int64(2), stats.EntitiesBySource["github"])
	assert.Equal(t, int64(1), stats.RelationshipsByType[model.RelContributedTo])
}
