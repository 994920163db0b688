package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"conhub-graph/internal/model"
)

func features(props map[string]interface{}) *model.EntityFeatures {
	e := model.NewEntity(model.EntityTypePerson, model.SourceGitHub, "x", "x", props)
	return model.ExtractFeatures(e)
}

func TestEmailMatch(t *testing.T) {
	a := features(map[string]interface{}{"email": "Ada@Example.com"})
	b := features(map[string]interface{}{"email": "ada@example.com"})
	c := features(map[string]interface{}{"email": "other@example.com"})
	empty := features(nil)

	score, evidence := EmailMatch(a, b)
	assert.True(t, evidence)
	assert.Equal(t, 1.0, score, "emails compare case-insensitively")

	score, evidence = EmailMatch(a, c)
	assert.True(t, evidence, "differing emails are still evidence")
	assert.Equal(t, 0.0, score)

	_, evidence = EmailMatch(a, empty)
	assert.False(t, evidence, "missing email on either side means no evidence")
}

func TestNameSimilarity(t *testing.T) {
	a := features(map[string]interface{}{"full_name": "Jane Smith"})
	b := features(map[string]interface{}{"full_name": "jane smith"})
	c := features(map[string]interface{}{"full_name": "Completely Different"})
	empty := features(nil)

	score, evidence := NameSimilarity(a, b)
	assert.True(t, evidence)
	assert.Equal(t, 1.0, score, "identical names modulo case score 1.0")

	score, _ = NameSimilarity(a, c)
	assert.Less(t, score, 0.7)

	_, evidence = NameSimilarity(a, empty)
	assert.False(t, evidence)
}

func TestNameSimilaritySymmetric(t *testing.T) {
	a := features(map[string]interface{}{"full_name": "Jon Smyth"})
	b := features(map[string]interface{}{"full_name": "John Smith"})

	ab, _ := NameSimilarity(a, b)
	ba, _ := NameSimilarity(b, a)
	assert.InDelta(t, ab, ba, 1e-12)
}

func TestAttributeOverlap(t *testing.T) {
	a := features(map[string]interface{}{"username": "jsmith", "user_id": "U123"})
	b := features(map[string]interface{}{"username": "jsmith", "user_id": "U999"})
	c := features(map[string]interface{}{"username": "jsmith"})
	empty := features(nil)

	score, evidence := AttributeOverlap(a, b)
	assert.True(t, evidence)
	assert.Equal(t, 0.5, score, "one of two compared attributes matches")

	score, evidence = AttributeOverlap(a, c)
	assert.True(t, evidence)
	assert.Equal(t, 0.5, score, "an attribute present on only one side counts as compared, not matched")

	_, evidence = AttributeOverlap(empty, empty)
	assert.False(t, evidence)
}

func TestGraphSimilarity(t *testing.T) {
	a := features(map[string]interface{}{"repositories": []interface{}{"core", "api"}})
	b := features(map[string]interface{}{"repositories": []interface{}{"core", "web"}})
	empty := features(nil)

	score, evidence := GraphSimilarity(a, b)
	assert.True(t, evidence)
	assert.InDelta(t, 1.0/3.0, score, 1e-12, "intersection {core} over union {core,api,web}")

	_, evidence = GraphSimilarity(empty, empty)
	assert.False(t, evidence, "empty unions carry no evidence")

	score, evidence = GraphSimilarity(a, empty)
	assert.True(t, evidence)
	assert.Equal(t, 0.0, score, "one-sided membership is evidence of non-overlap")
}

func TestGraphSimilarityAveragesDimensions(t *testing.T) {
	a := features(map[string]interface{}{
		"repositories": []interface{}{"core"},
		"channels":     []interface{}{"eng"},
	})
	b := features(map[string]interface{}{
		"repositories": []interface{}{"core"},
		"channels":     []interface{}{"random"},
	})

	score, evidence := GraphSimilarity(a, b)
	assert.True(t, evidence)
	assert.InDelta(t, 0.5, score, 1e-12, "repos fully overlap, channels not at all")
}

func TestJaccard(t *testing.T) {
	score, ok := jaccard([]string{"a", "b"}, []string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, 1.0, score)

	score, ok = jaccard([]string{"a"}, []string{"b"})
	assert.True(t, ok)
	assert.Equal(t, 0.0, score)

	_, ok = jaccard(nil, nil)
	assert.False(t, ok)
}
