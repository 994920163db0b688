// Package extractor derives graph entities and relationships from raw chunk
// text. Extractors are selected by source kind through a closed registry;
// adding a kind means adding an extractor here.
package extractor

import (
	"fmt"

	"conhub-graph/internal/model"
	apperrors "conhub-graph/pkg/errors"
)

// Source kinds the registry recognizes.
const (
	KindCode = "code"
	KindText = "text"
	KindChat = "chat"
)

// FeatureExtractor derives entities and relationships from one chunk.
// ExtractRelationships receives the chunk's container entity plus the
// entities ExtractEntities produced for the same chunk.
type FeatureExtractor interface {
	Kind() string
	ExtractEntities(chunk model.ChunkRef, source model.DataSource, sourceID string) []*model.Entity
	ExtractRelationships(container *model.Entity, extracted []*model.Entity, source model.DataSource) []*model.Relationship
}

var registry = map[string]FeatureExtractor{
	KindCode: newCodeExtractor(),
	KindText: noopExtractor{kind: KindText},
	KindChat: noopExtractor{kind: KindChat},
}

// ForKind returns the extractor registered for the given source kind.
func ForKind(kind string) (FeatureExtractor, error) {
	ex, ok := registry[kind]
	if !ok {
		return nil, apperrors.NewSerialization("source_kind", fmt.Errorf("unknown source kind %q", kind))
	}
	return ex, nil
}

// noopExtractor participates in the registry for kinds whose entity
// extraction happens upstream of ingestion.
type noopExtractor struct {
	kind string
}

func (n noopExtractor) Kind() string { return n.kind }

func (n noopExtractor) ExtractEntities(model.ChunkRef, model.DataSource, string) []*model.Entity {
	return nil
}

func (n noopExtractor) ExtractRelationships(*model.Entity, []*model.Entity, model.DataSource) []*model.Relationship {
	return nil
}
