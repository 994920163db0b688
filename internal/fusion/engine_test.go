package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"conhub-graph/internal/model"
	"conhub-graph/internal/resolver"
	"conhub-graph/internal/storage"
	apperrors "conhub-graph/pkg/errors"
)

func newTestEngine() (*Engine, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	res := resolver.New(model.DefaultResolutionConfig())
	return NewEngine(store, res), store
}

func TestFuseCreatesCanonicalForNewEntity(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	e := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane Smith",
		map[string]interface{}{"email": "jane@corp.com"})

	ids, err := engine.FuseEntities(ctx, []*model.Entity{e})
	assert.NoError(t, err)
	assert.Len(t, ids, 1)

	canonical, err := store.FindCanonicalEntity(ctx, ids[0])
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{e.ID}, canonical.SourceEntities)
	assert.Equal(t, "Jane Smith", canonical.CanonicalName)
	assert.Equal(t, 1.0, canonical.ConfidenceScore)
}

func TestFuseJoinsOnExactEmail(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	github := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "jsmith",
		map[string]interface{}{"email": "jane@corp.com", "login": "jsmith"})
	slack := model.NewEntity(model.EntityTypePerson, model.SourceSlack, "U123", "Jane Smith",
		map[string]interface{}{"email": "JANE@corp.com", "real_name": "Jane Smith", "user_id": "U123", "full_name": "Jane Smith"})

	ids, err := engine.FuseEntities(ctx, []*model.Entity{github, slack})
	assert.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1], "exact email matches land in the same cluster")

	canonical, err := store.FindCanonicalEntity(ctx, ids[0])
	assert.NoError(t, err)
	assert.Len(t, canonical.SourceEntities, 2)
	assert.Equal(t, "Jane Smith", canonical.CanonicalName,
		"canonical name comes from the most feature-complete constituent")
	assert.GreaterOrEqual(t, canonical.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, canonical.ConfidenceScore, 1.0)
}

func TestFuseMergesConstituentProperties(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	github := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "jsmith",
		map[string]interface{}{"email": "jane@corp.com", "login": "jsmith"})
	slack := model.NewEntity(model.EntityTypePerson, model.SourceSlack, "U123", "Jane Smith",
		map[string]interface{}{"email": "jane@corp.com", "user_id": "U123", "login": "jane.smith"})

	ids, err := engine.FuseEntities(ctx, []*model.Entity{github, slack})
	assert.NoError(t, err)
	assert.Equal(t, ids[0], ids[1])

	canonical, err := store.FindCanonicalEntity(ctx, ids[0])
	assert.NoError(t, err)
	assert.Equal(t, "jane@corp.com", canonical.MergedProperties["email"])
	assert.Equal(t, "U123", canonical.MergedProperties["user_id"],
		"keys unique to one constituent survive the merge")
	assert.Equal(t, "jane.smith", canonical.MergedProperties["login"],
		"later constituents win key collisions")
}

func TestFuseSeedsMergedPropertiesOnCreate(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	e := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane Smith",
		map[string]interface{}{"email": "jane@corp.com", "login": "jsmith"})

	ids, err := engine.FuseEntities(ctx, []*model.Entity{e})
	assert.NoError(t, err)

	canonical, err := store.FindCanonicalEntity(ctx, ids[0])
	assert.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"email": "jane@corp.com", "login": "jsmith"},
		canonical.MergedProperties)
}

func TestFuseKeepsDistinctPeopleApart(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	jane := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane Smith",
		map[string]interface{}{"email": "jane@corp.com", "full_name": "Jane Smith"})
	bob := model.NewEntity(model.EntityTypePerson, model.SourceSlack, "U999", "Robert Jones",
		map[string]interface{}{"email": "bob@corp.com", "full_name": "Robert Jones"})

	ids, err := engine.FuseEntities(ctx, []*model.Entity{jane, bob})
	assert.NoError(t, err)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestFuseIdempotent(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	batch := func() []*model.Entity {
		return []*model.Entity{
			model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane Smith",
				map[string]interface{}{"email": "jane@corp.com"}),
			model.NewEntity(model.EntityTypePerson, model.SourceSlack, "U123", "Jane Smith",
				map[string]interface{}{"email": "jane@corp.com"}),
		}
	}

	first, err := engine.FuseEntities(ctx, batch())
	assert.NoError(t, err)
	second, err := engine.FuseEntities(ctx, batch())
	assert.NoError(t, err)
	assert.Equal(t, first, second, "re-running the same batch keeps cluster assignments")

	canonical, err := store.FindCanonicalEntity(ctx, first[0])
	assert.NoError(t, err)
	assert.Len(t, canonical.SourceEntities, 2, "constituents are a set, not a list with duplicates")

	stats, err := store.GetStatistics(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEntities)
	assert.Equal(t, int64(1), stats.TotalCanonicalEntities)
}

func TestFuseRelationshipsValidatesEndpoints(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	e := model.NewEntity(model.EntityTypeFunction, model.SourceLocalFile, "f-1", "parse", nil)
	_, err := engine.FuseEntities(ctx, []*model.Entity{e})
	assert.NoError(t, err)

	rel := model.NewRelationship(e.ID, uuid.New(), model.RelCalls, model.SourceLocalFile, 0.9)
	created, err := engine.FuseRelationships(ctx, []*model.Relationship{rel})
	assert.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeEntityNotFound),
		"an unknown endpoint is a caller error, not a silently created node")
	assert.Zero(t, created)
}

func TestFuseRelationshipsDeduplicates(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	a := model.NewEntity(model.EntityTypeFunction, model.SourceLocalFile, "f-1", "parse", nil)
	b := model.NewEntity(model.EntityTypeFunction, model.SourceLocalFile, "f-2", "lex", nil)
	_, err := engine.FuseEntities(ctx, []*model.Entity{a, b})
	assert.NoError(t, err)

	first := model.NewRelationship(a.ID, b.ID, model.RelCalls, model.SourceLocalFile, 0.6)
	created, err := engine.FuseRelationships(ctx, []*model.Relationship{first})
	assert.NoError(t, err)
	assert.Equal(t, 1, created)

	duplicate := model.NewRelationship(a.ID, b.ID, model.RelCalls, model.SourceLocalFile, 0.9)
	created, err = engine.FuseRelationships(ctx, []*model.Relationship{duplicate})
	assert.NoError(t, err)
	assert.Zero(t, created, "same type, endpoints and source is the same edge")

	edges, err := store.Neighbors(ctx, a.ID, nil)
	assert.NoError(t, err)
	assert.Len(t, edges, 1)
	assert.Equal(t, 0.9, edges[0].ConfidenceScore, "duplicates merge by max confidence")
}

// failAfterStore fails every upsert after the first, exercising whole-batch
// abort semantics.
type failAfterStore struct {
	*storage.MemoryStore
	upserts int
}

func (f *failAfterStore) UpsertEntity(ctx context.Context, e *model.Entity) (uuid.UUID, bool, error) {
	f.upserts++
	if f.upserts > 1 {
		return uuid.Nil, false, apperrors.NewDatabase("upsert entity", errors.New("connection reset"))
	}
	return f.MemoryStore.UpsertEntity(ctx, e)
}

func TestFuseAbortsBatchOnStorageError(t *testing.T) {
	store := &failAfterStore{MemoryStore: storage.NewMemoryStore()}
	engine := NewEngine(store, resolver.New(model.DefaultResolutionConfig()))
	ctx := context.Background()

	batch := []*model.Entity{
		model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane", nil),
		model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-2", "Bob", nil),
	}
	ids, err := engine.FuseEntities(ctx, batch)
	assert.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Nil(t, ids)
}

func TestClusterKeyNormalizesEmail(t *testing.T) {
	e := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane", nil)
	f := &model.EntityFeatures{Email: "  Jane@Corp.COM "}
	assert.Equal(t, "email:jane@corp.com", clusterKey(e, f))

	assert.Equal(t, "src:github:gh-1", clusterKey(e, &model.EntityFeatures{}),
		"entities without an email key on their source identity")
}

func TestPoolLocksStableAndBounded(t *testing.T) {
	engine, _ := newTestEngine()

	first := engine.lockPool("email:jane@corp.com")
	first.Unlock()
	second := engine.lockPool("email:jane@corp.com")
	second.Unlock()
	assert.Same(t, first, second, "the same pool key always maps to the same lock")

	locks := map[*sync.Mutex]struct{}{}
	for i := 0; i < poolLockBuckets*4; i++ {
		lock := engine.lockPool(fmt.Sprintf("src:github:gh-%d", i))
		lock.Unlock()
		locks[lock] = struct{}{}
	}
	assert.LessOrEqual(t, len(locks), poolLockBuckets,
		"distinct pool keys share a fixed set of locks")
}

func TestFuseCanceledContext(t *testing.T) {
	engine, _ := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "gh-1", "Jane", nil)
	_, err := engine.FuseEntities(ctx, []*model.Entity{e})
	assert.Error(t, err)
}
