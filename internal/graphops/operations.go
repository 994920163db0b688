// Package graphops implements bounded-depth traversal and aggregate queries
// over the persisted graph. Traversal runs client-side over the store's
// neighbor primitive with an explicit work queue and visited set, so the
// behavior is identical on every backend and safe on cyclic graphs.
package graphops

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"conhub-graph/internal/model"
	"conhub-graph/internal/storage"
	apperrors "conhub-graph/pkg/errors"
	"conhub-graph/pkg/logger"
)

const crossSourceSearchLimit = 200

// Operations answers traversal and statistics queries.
type Operations struct {
	store  storage.Store
	logger *zap.Logger
}

// New creates graph operations over the given store.
func New(store storage.Store) *Operations {
	return &Operations{store: store, logger: logger.Component("graphops")}
}

// FindShortestPath returns the minimum-hop path from from to to, including
// both endpoints, or an empty slice when to is unreachable within maxDepth
// hops. Neighbors are expanded in ascending entity-id order, so among
// equal-length paths the lexicographically smallest id sequence wins.
func (o *Operations) FindShortestPath(ctx context.Context, from, to uuid.UUID, maxDepth int) ([]uuid.UUID, error) {
	path, _, err := o.shortestPath(ctx, from, to, maxDepth)
	return path, err
}

func (o *Operations) shortestPath(ctx context.Context, from, to uuid.UUID, maxDepth int) ([]uuid.UUID, int, error) {
	if _, err := o.store.FindEntity(ctx, from); err != nil {
		return nil, 0, err
	}
	if from == to {
		return []uuid.UUID{from}, 1, nil
	}
	if maxDepth <= 0 {
		return nil, 1, nil
	}

	type queued struct {
		id    uuid.UUID
		depth int
	}
	parent := map[uuid.UUID]uuid.UUID{from: from}
	queue := []queued{{from, 0}}
	visited := 1

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		edges, err := o.store.Neighbors(ctx, cur.id, nil)
		if err != nil {
			return nil, visited, err
		}
		for _, edge := range edges {
			next := edge.ToEntity
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur.id
			visited++
			if next == to {
				return rebuildPath(parent, from, to), visited, nil
			}
			queue = append(queue, queued{next, cur.depth + 1})
		}
	}
	return nil, visited, nil
}

func rebuildPath(parent map[uuid.UUID]uuid.UUID, from, to uuid.UUID) []uuid.UUID {
	var reversed []uuid.UUID
	for cur := to; ; cur = parent[cur] {
		reversed = append(reversed, cur)
		if cur == from {
			break
		}
	}
	path := make([]uuid.UUID, len(reversed))
	for i, id := range reversed {
		path[len(reversed)-1-i] = id
	}
	return path
}

// Traverse answers the TraverseGraph endpoint: the shortest path (when one
// exists) plus how many nodes the search visited.
func (o *Operations) Traverse(ctx context.Context, req model.TraverseGraphRequest) (*model.TraverseGraphResponse, error) {
	path, visited, err := o.shortestPath(ctx, req.FromID, req.ToID, req.MaxHops)
	if err != nil {
		return nil, err
	}
	resp := &model.TraverseGraphResponse{Paths: [][]uuid.UUID{}, VisitedNodes: visited}
	if len(path) > 0 {
		resp.Paths = append(resp.Paths, path)
	}
	return resp, nil
}

// FindRelatedEntities returns the de-duplicated union of all entities
// reachable within maxDepth hops of entityID, excluding the start entity,
// optionally restricted to a relationship-type allow-list. maxDepth 0
// returns an empty result. The visited set guarantees termination on
// cyclic graphs.
func (o *Operations) FindRelatedEntities(ctx context.Context, entityID uuid.UUID, relationshipTypes []string, maxDepth int) ([]*model.Entity, error) {
	if _, err := o.store.FindEntity(ctx, entityID); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		return []*model.Entity{}, nil
	}

	type queued struct {
		id    uuid.UUID
		depth int
	}
	visited := map[uuid.UUID]struct{}{entityID: {}}
	queue := []queued{{entityID, 0}}
	related := []*model.Entity{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		edges, err := o.store.Neighbors(ctx, cur.id, relationshipTypes)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			next := edge.ToEntity
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}

			entity, err := o.store.FindEntity(ctx, next)
			if err != nil {
				if apperrors.IsErrorType(err, apperrors.ErrorTypeEntityNotFound) {
					continue
				}
				return nil, err
			}
			related = append(related, entity)
			queue = append(queue, queued{next, cur.depth + 1})
		}
	}
	return related, nil
}

// Statistics recomputes the aggregate view over the graph.
func (o *Operations) Statistics(ctx context.Context) (*model.GraphStatistics, error) {
	return o.store.GetStatistics(ctx)
}

// CrossSource answers "who/what touched this topic across sources":
// matching entities grouped by canonical identity, each with its
// per-source activities, plus a merged timeline ordered by timestamp.
func (o *Operations) CrossSource(ctx context.Context, q model.CrossSourceQuery) (*model.CrossSourceResponse, error) {
	sources := make([]model.DataSource, 0, len(q.Sources))
	for _, s := range q.Sources {
		sources = append(sources, model.DataSource(s))
	}
	types := make([]model.EntityType, 0, len(q.EntityTypes))
	for _, t := range q.EntityTypes {
		et := model.EntityType(t)
		if !et.IsValid() {
			return nil, apperrors.NewInvalidEntityType(t)
		}
		types = append(types, et)
	}

	entities, err := o.store.SearchEntities(ctx, q.Topic, sources, types, crossSourceSearchLimit)
	if err != nil {
		return nil, err
	}

	resp := &model.CrossSourceResponse{
		CanonicalEntities: []model.CanonicalEntityResult{},
		Timeline:          []model.TimelineEvent{},
	}
	groups := map[uuid.UUID]int{}

	for _, e := range entities {
		resp.Timeline = append(resp.Timeline, model.TimelineEvent{
			Timestamp:   e.UpdatedAt,
			EntityID:    e.ID,
			EventType:   string(e.EntityType),
			Description: e.Name,
		})

		canonical, err := o.store.CanonicalForEntity(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if canonical == nil {
			continue
		}
		idx, ok := groups[canonical.ID]
		if !ok {
			idx = len(resp.CanonicalEntities)
			groups[canonical.ID] = idx
			resp.CanonicalEntities = append(resp.CanonicalEntities, model.CanonicalEntityResult{
				CanonicalID:   canonical.ID,
				CanonicalName: canonical.CanonicalName,
				EntityType:    canonical.EntityType,
			})
		}
		resp.CanonicalEntities[idx].Activities = append(resp.CanonicalEntities[idx].Activities, model.ActivityResult{
			Source:      e.Source,
			EntityType:  e.EntityType,
			Description: e.Name,
			Timestamp:   e.UpdatedAt,
			EntityID:    e.ID,
		})
	}

	sort.Slice(resp.Timeline, func(i, j int) bool {
		if !resp.Timeline[i].Timestamp.Equal(resp.Timeline[j].Timestamp) {
			return resp.Timeline[i].Timestamp.Before(resp.Timeline[j].Timestamp)
		}
		return resp.Timeline[i].EntityID.String() < resp.Timeline[j].EntityID.String()
	})
	return resp, nil
}
