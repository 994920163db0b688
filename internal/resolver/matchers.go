// Package resolver scores pairs of entity records for identity resolution.
// All matchers are pure, symmetric functions of two feature projections;
// each returns its score plus whether either side carried any evidence for
// the signal. Signals without evidence are excluded from the composite
// weighting entirely so sparse sources are not penalized.
package resolver

import (
	"strings"

	"github.com/xrash/smetrics"

	"conhub-graph/internal/model"
)

// Signal names reported in ResolutionMatch.MatchingFeatures.
const (
	signalEmail      = "email"
	signalName       = "name_similarity"
	signalAttributes = "attribute_overlap"
	signalGraph      = "graph_similarity"
)

// EmailMatch compares emails case-insensitively. An exact match is
// authoritative: the caller short-circuits to confidence 1.0.
func EmailMatch(f1, f2 *model.EntityFeatures) (score float64, evidence bool) {
	if f1.Email == "" || f2.Email == "" {
		return 0, false
	}
	if strings.EqualFold(f1.Email, f2.Email) {
		return 1.0, true
	}
	return 0, true
}

// NameSimilarity computes Jaro-Winkler similarity between the best
// available display names, case-insensitive. No evidence when either side
// has no name at all.
func NameSimilarity(f1, f2 *model.EntityFeatures) (score float64, evidence bool) {
	n1, n2 := f1.BestName(), f2.BestName()
	if n1 == "" || n2 == "" {
		return 0, false
	}
	return smetrics.JaroWinkler(strings.ToLower(n1), strings.ToLower(n2), 0.7, 4), true
}

// AttributeOverlap is the fraction of discrete identity attributes
// (username, user id) that match exactly, among those present on at least
// one side.
func AttributeOverlap(f1, f2 *model.EntityFeatures) (score float64, evidence bool) {
	compared, matched := 0, 0

	pairs := [][2]string{
		{f1.Username, f2.Username},
		{f1.UserID, f2.UserID},
	}
	for _, p := range pairs {
		if p[0] == "" && p[1] == "" {
			continue
		}
		compared++
		if p[0] != "" && p[0] == p[1] {
			matched++
		}
	}

	if compared == 0 {
		return 0, false
	}
	return float64(matched) / float64(compared), true
}

// GraphSimilarity is the Jaccard similarity of the two entities'
// associated repository sets, averaged with the channel sets when both
// dimensions carry members. No evidence when both unions are empty.
func GraphSimilarity(f1, f2 *model.EntityFeatures) (score float64, evidence bool) {
	repoScore, repoOK := jaccard(f1.AssociatedRepositories, f2.AssociatedRepositories)
	chanScore, chanOK := jaccard(f1.AssociatedChannels, f2.AssociatedChannels)

	switch {
	case repoOK && chanOK:
		return (repoScore + chanScore) / 2, true
	case repoOK:
		return repoScore, true
	case chanOK:
		return chanScore, true
	default:
		return 0, false
	}
}

// jaccard is |A∩B| / |A∪B|; not computable when the union is empty.
func jaccard(a, b []string) (float64, bool) {
	if len(a) == 0 && len(b) == 0 {
		return 0, false
	}
	union := make(map[string]struct{}, len(a)+len(b))
	inA := make(map[string]struct{}, len(a))
	for _, v := range a {
		union[v] = struct{}{}
		inA[v] = struct{}{}
	}
	intersection := 0
	for _, v := range b {
		if _, ok := inA[v]; ok {
			intersection++
		}
		union[v] = struct{}{}
	}
	if len(union) == 0 {
		return 0, false
	}
	return float64(intersection) / float64(len(union)), true
}
