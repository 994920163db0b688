package extractor

import (
	"fmt"
	"regexp"

	"conhub-graph/internal/model"
)

// Patterns cover the language surface the chunking pipeline emits most:
// Rust, Go, Python, JavaScript/TypeScript and Java. Capture group 1 is the
// identifier in every pattern.
var (
	functionPattern = regexp.MustCompile(`(?:fn|func|function|def)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	classPattern    = regexp.MustCompile(`(?:class|struct|enum|trait|interface)\s+([A-Z][a-zA-Z0-9_]*)`)
	endpointPattern = regexp.MustCompile(`(?:GET|POST|PUT|DELETE|PATCH)\s+(/[a-zA-Z0-9_/{}:.\-]*)`)
	ticketPattern   = regexp.MustCompile(`\b([A-Z]{2,10}-[0-9]+)\b`)
	prRefPattern    = regexp.MustCompile(`(?:PR|MR|#)([0-9]+)`)
)

// codeExtractor mines code chunks for declarations and cross-references.
type codeExtractor struct{}

func newCodeExtractor() *codeExtractor { return &codeExtractor{} }

func (c *codeExtractor) Kind() string { return KindCode }

// ExtractEntities returns one entity per distinct declaration or reference
// found in the chunk text. Source ids embed the owning chunk's source id so
// the same declaration re-extracted from the same file upserts in place,
// while ticket and PR references are global to the source system and
// converge across files.
func (c *codeExtractor) ExtractEntities(chunk model.ChunkRef, source model.DataSource, sourceID string) []*model.Entity {
	var entities []*model.Entity
	seen := map[string]struct{}{}

	add := func(entityType model.EntityType, entitySourceID, name string, props map[string]interface{}) {
		if _, dup := seen[entitySourceID]; dup {
			return
		}
		seen[entitySourceID] = struct{}{}
		if props == nil {
			props = map[string]interface{}{}
		}
		if chunk.Language != "" {
			props["language"] = chunk.Language
		}
		entities = append(entities, model.NewEntity(entityType, source, entitySourceID, name, props))
	}

	for _, m := range functionPattern.FindAllStringSubmatch(chunk.Text, -1) {
		add(model.EntityTypeFunction, fmt.Sprintf("%s:fn:%s", sourceID, m[1]), m[1], nil)
	}
	for _, m := range classPattern.FindAllStringSubmatch(chunk.Text, -1) {
		add(model.EntityTypeClass, fmt.Sprintf("%s:type:%s", sourceID, m[1]), m[1], nil)
	}
	for _, m := range endpointPattern.FindAllStringSubmatch(chunk.Text, -1) {
		add(model.EntityTypeCodeEntity, fmt.Sprintf("%s:endpoint:%s", sourceID, m[1]), m[1],
			map[string]interface{}{"kind": "api_endpoint"})
	}
	for _, m := range ticketPattern.FindAllStringSubmatch(chunk.Text, -1) {
		add(model.EntityTypeIssue, "ticket:"+m[1], m[1], nil)
	}
	for _, m := range prRefPattern.FindAllStringSubmatch(chunk.Text, -1) {
		add(model.EntityTypePullRequest, "pr:"+m[1], "#"+m[1], nil)
	}
	return entities
}

// ExtractRelationships links the chunk's container to what it declares and
// what it mentions. Declarations get CONTAINS edges; tickets and PRs get
// REFERENCES edges at lower confidence since a textual mention is weaker
// evidence than a parsed declaration.
func (c *codeExtractor) ExtractRelationships(container *model.Entity, extracted []*model.Entity, source model.DataSource) []*model.Relationship {
	if container == nil {
		return nil
	}
	var rels []*model.Relationship
	for _, e := range extracted {
		switch e.EntityType {
		case model.EntityTypeFunction, model.EntityTypeClass, model.EntityTypeCodeEntity:
			rels = append(rels, model.NewRelationship(container.ID, e.ID, model.RelContains, source, 0.9))
		case model.EntityTypeIssue, model.EntityTypePullRequest:
			rels = append(rels, model.NewRelationship(container.ID, e.ID, model.RelReferences, source, 0.7))
		}
	}
	return rels
}
