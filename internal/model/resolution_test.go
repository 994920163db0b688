package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestExtractFeaturesAliases(t *testing.T) {
	github := NewEntity(EntityTypePerson, SourceGitHub, "gh-1", "jsmith", map[string]interface{}{
		"email":        "jane@corp.com",
		"login":        "jsmith",
		"html_url":     "https://github.com/jsmith",
		"repositories": []interface{}{"core", "api"},
	})
	f := ExtractFeatures(github)
	assert.Equal(t, "jane@corp.com", f.Email)
	assert.Equal(t, "jsmith", f.Username, "login is the GitHub alias for username")
	assert.Equal(t, "https://github.com/jsmith", f.ProfileURL)
	assert.Equal(t, []string{"core", "api"}, f.AssociatedRepositories)

	slack := NewEntity(EntityTypePerson, SourceSlack, "U1", "jane", map[string]interface{}{
		"real_name": "Jane Smith",
		"user_id":   "U1",
		"channels":  []interface{}{"eng"},
	})
	f = ExtractFeatures(slack)
	assert.Equal(t, "Jane Smith", f.DisplayName, "real_name is the Slack alias for display_name")
	assert.Equal(t, "U1", f.UserID)
	assert.Equal(t, []string{"eng"}, f.AssociatedChannels)
}

func TestBestNamePrefersFullName(t *testing.T) {
	f := &EntityFeatures{FullName: "Jane Smith", DisplayName: "jane"}
	assert.Equal(t, "Jane Smith", f.BestName())

	f = &EntityFeatures{DisplayName: "jane"}
	assert.Equal(t, "jane", f.BestName())

	f = &EntityFeatures{}
	assert.Equal(t, "", f.BestName())
}

func TestCompleteness(t *testing.T) {
	sparse := &EntityFeatures{Username: "jsmith"}
	rich := &EntityFeatures{
		Email:                  "jane@corp.com",
		FullName:               "Jane Smith",
		Username:               "jsmith",
		AssociatedRepositories: []string{"core"},
	}
	assert.Greater(t, rich.Completeness(), sparse.Completeness())
}

func TestEntityTypeValidity(t *testing.T) {
	assert.True(t, EntityTypePerson.IsValid())
	assert.True(t, EntityTypePullRequest.IsValid())
	assert.False(t, EntityType("spaceship").IsValid())
	assert.False(t, EntityType("").IsValid())
}

func TestCanonicalEntityHasConstituent(t *testing.T) {
	a := NewEntity(EntityTypePerson, SourceGitHub, "gh-1", "a", nil)
	c := NewCanonicalEntity(EntityTypePerson, "a", []uuid.UUID{a.ID})
	assert.True(t, c.HasConstituent(a.ID))
	assert.False(t, c.HasConstituent(uuid.New()))
}

func TestRelationshipKey(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	r1 := NewRelationship(a, b, RelCalls, SourceGitHub, 0.5)
	r2 := NewRelationship(a, b, RelCalls, SourceGitHub, 0.9)
	r3 := NewRelationship(b, a, RelCalls, SourceGitHub, 0.5)

	assert.Equal(t, r1.Key(), r2.Key(), "confidence does not identify an edge")
	assert.NotEqual(t, r1.Key(), r3.Key(), "direction does")
}
