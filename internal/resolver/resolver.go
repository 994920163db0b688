package resolver

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"conhub-graph/internal/model"
	"conhub-graph/pkg/logger"
)

// featureCacheSize bounds the derived-feature cache. Eviction is plain LRU;
// entries are immutable snapshots so concurrent readers are safe.
const featureCacheSize = 4096

// dominanceRatio labels a match with a single signal's strategy when that
// signal contributes at least this share of the normalized score.
const dominanceRatio = 0.95

// Resolver computes ranked resolution matches for a candidate entity
// against a pre-filtered pool. It only reads and scores; it never mutates
// the graph.
type Resolver struct {
	config   model.ResolutionConfig
	features *lru.Cache[string, *model.EntityFeatures]
	logger   *zap.Logger
}

// New creates a resolver with the given weights.
func New(config model.ResolutionConfig) *Resolver {
	cache, _ := lru.New[string, *model.EntityFeatures](featureCacheSize)
	return &Resolver{
		config:   config,
		features: cache,
		logger:   logger.Component("resolver"),
	}
}

// Config returns the active weights.
func (r *Resolver) Config() model.ResolutionConfig {
	return r.config
}

// FeaturesFor derives the matching features of an entity, serving repeat
// lookups from the LRU cache. The cache key includes the update timestamp
// so a re-extracted entity is re-derived rather than served stale.
func (r *Resolver) FeaturesFor(e *model.Entity) *model.EntityFeatures {
	key := e.ID.String() + "@" + e.UpdatedAt.UTC().Format("20060102150405.000000")
	if f, ok := r.features.Get(key); ok {
		return f
	}
	f := model.ExtractFeatures(e)
	r.features.Add(key, f)
	return f
}

// Resolve compares candidate against every entity in pool and returns all
// matches at or above the configured confidence threshold, sorted by
// confidence descending (ties broken by entity id for determinism).
func (r *Resolver) Resolve(candidate *model.Entity, features *model.EntityFeatures, pool []model.ResolutionCandidate) []model.ResolutionMatch {
	var matches []model.ResolutionMatch

	for i := range pool {
		other := &pool[i]
		if other.Entity == nil || other.Entity.ID == candidate.ID {
			continue
		}
		otherFeatures := other.Features
		if otherFeatures == nil {
			otherFeatures = r.FeaturesFor(other.Entity)
		}

		match := r.score(candidate, features, other.Entity, otherFeatures)
		if match.ConfidenceScore >= r.config.MinConfidenceThreshold {
			matches = append(matches, match)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].ConfidenceScore != matches[j].ConfidenceScore {
			return matches[i].ConfidenceScore > matches[j].ConfidenceScore
		}
		return matches[i].Entity2ID.String() < matches[j].Entity2ID.String()
	})

	if len(matches) > 0 {
		r.logger.Debug("Resolved candidate",
			zap.String("entity_id", candidate.ID.String()),
			zap.Int("matches", len(matches)),
			zap.Float64("best", matches[0].ConfidenceScore),
		)
	}
	return matches
}

type signalResult struct {
	name     string
	score    float64
	weight   float64
	strategy model.MatchingStrategy
}

// score computes a single pairwise match. An exact email match is
// authoritative and short-circuits the composite calculation; otherwise the
// confidence is the weighted sum of computable signals normalized by the
// sum of their weights.
func (r *Resolver) score(e1 *model.Entity, f1 *model.EntityFeatures, e2 *model.Entity, f2 *model.EntityFeatures) model.ResolutionMatch {
	match := model.ResolutionMatch{
		Entity1ID: e1.ID,
		Entity2ID: e2.ID,
	}

	if score, evidence := EmailMatch(f1, f2); evidence && score == 1.0 {
		match.ConfidenceScore = 1.0
		match.MatchingFeatures = []string{signalEmail}
		match.Strategy = model.StrategyExactEmailMatch
		return match
	}

	signals := make([]signalResult, 0, 4)
	if score, evidence := EmailMatch(f1, f2); evidence {
		signals = append(signals, signalResult{signalEmail, score, r.config.EmailMatchWeight, model.StrategyExactEmailMatch})
	}
	if score, evidence := NameSimilarity(f1, f2); evidence {
		signals = append(signals, signalResult{signalName, score, r.config.NameSimilarityWeight, model.StrategyFuzzyNameMatch})
	}
	if score, evidence := AttributeOverlap(f1, f2); evidence {
		signals = append(signals, signalResult{signalAttributes, score, r.config.AttributeOverlapWeight, model.StrategyAttributeOverlap})
	}
	if score, evidence := GraphSimilarity(f1, f2); evidence {
		signals = append(signals, signalResult{signalGraph, score, r.config.GraphSimilarityWeight, model.StrategyGraphBased})
	}

	var totalScore, totalWeight float64
	for _, sig := range signals {
		totalScore += sig.score * sig.weight
		totalWeight += sig.weight
	}
	if totalWeight == 0 {
		return match
	}
	match.ConfidenceScore = totalScore / totalWeight

	match.Strategy = model.StrategyComposite
	for _, sig := range signals {
		if sig.score > 0 {
			match.MatchingFeatures = append(match.MatchingFeatures, sig.name)
		}
		if totalScore > 0 && sig.score*sig.weight >= dominanceRatio*totalScore {
			match.Strategy = sig.strategy
		}
	}
	return match
}
