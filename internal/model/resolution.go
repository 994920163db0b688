package model

import (
	"strings"

	"github.com/google/uuid"
)

// EntityFeatures is the identity-relevant projection of an entity used for
// matching. Derived from the entity's properties, never persisted on its own.
type EntityFeatures struct {
	Email                  string            `json:"email,omitempty"`
	FullName               string            `json:"full_name,omitempty"`
	Username               string            `json:"username,omitempty"`
	UserID                 string            `json:"user_id,omitempty"`
	DisplayName            string            `json:"display_name,omitempty"`
	ProfileURL             string            `json:"profile_url,omitempty"`
	AssociatedRepositories []string          `json:"associated_repositories,omitempty"`
	AssociatedChannels     []string          `json:"associated_channels,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

// BestName returns the preferred display name for fuzzy matching:
// full name when present, else display name.
func (f *EntityFeatures) BestName() string {
	if f.FullName != "" {
		return f.FullName
	}
	return f.DisplayName
}

// Completeness counts how many identity features are populated. Used when
// picking the canonical name among constituents.
func (f *EntityFeatures) Completeness() int {
	n := 0
	for _, v := range []string{f.Email, f.FullName, f.Username, f.UserID, f.DisplayName, f.ProfileURL} {
		if v != "" {
			n++
		}
	}
	n += len(f.AssociatedRepositories) + len(f.AssociatedChannels)
	return n
}

// ExtractFeatures derives EntityFeatures from an entity's properties,
// accepting the per-source aliases the extractors emit (login for GitHub
// usernames, real_name for Slack display names).
func ExtractFeatures(e *Entity) *EntityFeatures {
	f := &EntityFeatures{Metadata: map[string]string{}}

	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := e.Properties[k]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
		return ""
	}
	list := func(key string) []string {
		v, ok := e.Properties[key]
		if !ok {
			return nil
		}
		switch vals := v.(type) {
		case []string:
			out := make([]string, len(vals))
			copy(out, vals)
			return out
		case []interface{}:
			out := make([]string, 0, len(vals))
			for _, item := range vals {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
		return nil
	}

	f.Email = strings.TrimSpace(str("email"))
	f.FullName = str("full_name", "name")
	f.Username = str("username", "login")
	f.UserID = str("user_id")
	f.DisplayName = str("display_name", "real_name")
	f.ProfileURL = str("profile_url", "html_url")
	f.AssociatedRepositories = list("repositories")
	f.AssociatedChannels = list("channels")

	for k, v := range e.Properties {
		if s, ok := v.(string); ok {
			f.Metadata[k] = s
		}
	}
	return f
}

// MatchingStrategy labels which signal produced a resolution match.
type MatchingStrategy string

const (
	StrategyExactEmailMatch  MatchingStrategy = "exact_email_match"
	StrategyFuzzyNameMatch   MatchingStrategy = "fuzzy_name_match"
	StrategyAttributeOverlap MatchingStrategy = "attribute_overlap"
	StrategyGraphBased       MatchingStrategy = "graph_based"
	StrategyComposite        MatchingStrategy = "composite"
)

// ResolutionCandidate pairs an entity with its derived features and a
// provisional confidence, as resolver input.
type ResolutionCandidate struct {
	Entity          *Entity         `json:"entity"`
	Features        *EntityFeatures `json:"features"`
	ConfidenceScore float64         `json:"confidence_score"`
}

// ResolutionMatch is the result of comparing two entities.
type ResolutionMatch struct {
	Entity1ID        uuid.UUID        `json:"entity1_id"`
	Entity2ID        uuid.UUID        `json:"entity2_id"`
	ConfidenceScore  float64          `json:"confidence_score"`
	MatchingFeatures []string         `json:"matching_features"`
	Strategy         MatchingStrategy `json:"strategy"`
}

// ResolutionConfig holds the tunable matching weights. Loaded once at
// startup and treated as immutable afterwards.
type ResolutionConfig struct {
	MinConfidenceThreshold float64 `json:"min_confidence_threshold"`
	EmailMatchWeight       float64 `json:"email_match_weight"`
	NameSimilarityWeight   float64 `json:"name_similarity_weight"`
	AttributeOverlapWeight float64 `json:"attribute_overlap_weight"`
	GraphSimilarityWeight  float64 `json:"graph_similarity_weight"`
	FuzzyMatchThreshold    float64 `json:"fuzzy_match_threshold"`
}

// DefaultResolutionConfig returns the stock weights.
func DefaultResolutionConfig() ResolutionConfig {
	return ResolutionConfig{
		MinConfidenceThreshold: 0.7,
		EmailMatchWeight:       0.9,
		NameSimilarityWeight:   0.5,
		AttributeOverlapWeight: 0.3,
		GraphSimilarityWeight:  0.3,
		FuzzyMatchThreshold:    0.85,
	}
}
