// Package fusion clusters resolved entities into canonical identities and
// persists the merged graph. The engine is the sole writer of canonical
// entities and relationships.
package fusion

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"conhub-graph/internal/model"
	"conhub-graph/internal/resolver"
	"conhub-graph/internal/storage"
	apperrors "conhub-graph/pkg/errors"
	"conhub-graph/pkg/logger"
)

// poolLockBuckets is the pool-lock fan-out: coarse enough to stay a fixed
// allocation for the process lifetime, fine enough that unrelated pools
// rarely contend.
const poolLockBuckets = 64

const candidatePoolLimit = 50

// Engine fuses entities and relationships into the persisted graph.
type Engine struct {
	store    storage.Store
	resolver *resolver.Resolver
	logger   *zap.Logger

	poolLocks [poolLockBuckets]sync.Mutex
}

// NewEngine creates a fusion engine over the given store and resolver.
func NewEngine(store storage.Store, res *resolver.Resolver) *Engine {
	return &Engine{
		store:    store,
		resolver: res,
		logger:   logger.Component("fusion"),
	}
}

// clusterKey derives the advisory-lock key for an entity's resolution pool:
// the normalized email when one exists, else the source key. Two concurrent
// fusions of "the same person" share a key and serialize.
func clusterKey(e *model.Entity, f *model.EntityFeatures) string {
	if f.Email != "" {
		return "email:" + strings.ToLower(strings.TrimSpace(f.Email))
	}
	return fmt.Sprintf("src:%s:%s", e.Source, e.SourceID)
}

// lockPool hashes the cluster key onto a fixed mutex array, so the lock set
// never grows with the number of distinct pools seen.
func (en *Engine) lockPool(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	lock := &en.poolLocks[h.Sum32()%poolLockBuckets]
	lock.Lock()
	return lock
}

// FuseEntities resolves and persists a batch of entities, returning the
// canonical entity id each input landed in, in input order. Entities are
// processed strictly in input order so cluster assignment is deterministic.
// Any storage error aborts the whole batch; re-running with the same input
// is safe because entities upsert on (source, source_id) and constituent
// membership is a set union.
func (en *Engine) FuseEntities(ctx context.Context, entities []*model.Entity) ([]uuid.UUID, error) {
	canonicalIDs := make([]uuid.UUID, 0, len(entities))

	for _, e := range entities {
		canonicalID, err := en.fuseOne(ctx, e)
		if err != nil {
			return nil, err
		}
		canonicalIDs = append(canonicalIDs, canonicalID)
	}
	return canonicalIDs, nil
}

func (en *Engine) fuseOne(ctx context.Context, e *model.Entity) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, apperrors.NewDatabase("fuse aborted", err)
	}

	features := en.resolver.FeaturesFor(e)

	lock := en.lockPool(clusterKey(e, features))
	defer lock.Unlock()

	entityID, created, err := en.store.UpsertEntity(ctx, e)
	if err != nil {
		return uuid.Nil, err
	}
	e.ID = entityID

	// Re-ingest of a known record keeps its cluster assignment stable.
	if !created {
		if canonical, err := en.store.CanonicalForEntity(ctx, entityID); err != nil {
			return uuid.Nil, err
		} else if canonical != nil {
			return canonical.ID, nil
		}
	}

	pool, err := en.store.FindCandidates(ctx, e, features, candidatePoolLimit)
	if err != nil {
		return uuid.Nil, err
	}

	matches := en.resolver.Resolve(e, features, pool)
	if len(matches) == 0 {
		return en.createCanonical(ctx, e)
	}
	return en.joinCanonical(ctx, e, matches[0])
}

// createCanonical starts a new cluster whose sole constituent is e.
func (en *Engine) createCanonical(ctx context.Context, e *model.Entity) (uuid.UUID, error) {
	canonical := model.NewCanonicalEntity(e.EntityType, e.Name, []uuid.UUID{e.ID})
	for k, v := range e.Properties {
		canonical.MergedProperties[k] = v
	}
	if err := en.store.InsertCanonicalEntity(ctx, canonical); err != nil {
		return uuid.Nil, err
	}
	if err := en.store.SetEntityCanonical(ctx, e.ID, canonical.ID); err != nil {
		return uuid.Nil, err
	}

	en.logger.Info("Created canonical entity",
		zap.String("canonical_id", canonical.ID.String()),
		zap.String("entity_id", e.ID.String()),
		zap.String("name", canonical.CanonicalName),
	)
	return canonical.ID, nil
}

// joinCanonical adds e to the cluster of its best match, creating the
// cluster first when the matched entity has none yet (concurrent insert
// ordering can leave a freshly upserted entity momentarily unassigned).
func (en *Engine) joinCanonical(ctx context.Context, e *model.Entity, best model.ResolutionMatch) (uuid.UUID, error) {
	canonical, err := en.store.CanonicalForEntity(ctx, best.Entity2ID)
	if err != nil {
		return uuid.Nil, err
	}

	if canonical == nil {
		canonical = model.NewCanonicalEntity(e.EntityType, e.Name, []uuid.UUID{best.Entity2ID, e.ID})
		canonical.ConfidenceScore = clamp01(best.ConfidenceScore)
		if err := en.store.InsertCanonicalEntity(ctx, canonical); err != nil {
			return uuid.Nil, err
		}
		if err := en.store.SetEntityCanonical(ctx, best.Entity2ID, canonical.ID); err != nil {
			return uuid.Nil, err
		}
	} else if !canonical.HasConstituent(e.ID) {
		// Weighted average of per-constituent match confidences: the
		// existing score stands in for the prior constituents.
		n := float64(len(canonical.SourceEntities))
		canonical.ConfidenceScore = clamp01((canonical.ConfidenceScore*n + best.ConfidenceScore) / (n + 1))
		canonical.SourceEntities = append(canonical.SourceEntities, e.ID)
	}

	if err := en.recomputeCanonical(ctx, canonical); err != nil {
		return uuid.Nil, err
	}
	if err := en.store.UpdateCanonicalEntity(ctx, canonical); err != nil {
		return uuid.Nil, err
	}
	if err := en.store.SetEntityCanonical(ctx, e.ID, canonical.ID); err != nil {
		return uuid.Nil, err
	}

	en.logger.Info("Fused entity into canonical",
		zap.String("canonical_id", canonical.ID.String()),
		zap.String("entity_id", e.ID.String()),
		zap.Float64("confidence", best.ConfidenceScore),
		zap.String("strategy", string(best.Strategy)),
	)
	return canonical.ID, nil
}

// recomputeCanonical rebuilds the derived fields from the constituents: the
// name comes from the most feature-complete constituent (ties broken by
// lowest entity id) and the merged properties are the union of every
// constituent's properties, later constituents winning key collisions.
func (en *Engine) recomputeCanonical(ctx context.Context, canonical *model.CanonicalEntity) error {
	bestScore := -1
	bestID := ""
	merged := map[string]interface{}{}
	for _, id := range canonical.SourceEntities {
		constituent, err := en.store.FindEntity(ctx, id)
		if err != nil {
			if apperrors.IsErrorType(err, apperrors.ErrorTypeEntityNotFound) {
				continue
			}
			return err
		}
		for k, v := range constituent.Properties {
			merged[k] = v
		}
		score := model.ExtractFeatures(constituent).Completeness()
		if score > bestScore || (score == bestScore && constituent.ID.String() < bestID) {
			bestScore = score
			bestID = constituent.ID.String()
			canonical.CanonicalName = constituent.Name
		}
	}
	canonical.MergedProperties = merged
	return nil
}

// FuseRelationships validates endpoints and persists a relationship batch,
// returning how many edges were newly created. An unknown endpoint is a
// caller error, never a silently created placeholder. Duplicate edges
// (same type, endpoints, source) merge by keeping the maximum confidence.
func (en *Engine) FuseRelationships(ctx context.Context, rels []*model.Relationship) (int, error) {
	for _, r := range rels {
		if _, err := en.store.FindEntity(ctx, r.FromEntity); err != nil {
			return 0, err
		}
		if _, err := en.store.FindEntity(ctx, r.ToEntity); err != nil {
			return 0, err
		}
	}

	created, err := en.store.BatchUpsertRelationships(ctx, rels)
	if err != nil {
		return 0, err
	}

	en.logger.Info("Fused relationships",
		zap.Int("submitted", len(rels)),
		zap.Int("created", created),
	)
	return created, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
