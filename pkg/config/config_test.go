package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.GraphBackend)
	assert.Equal(t, 0.7, cfg.MinConfidenceThreshold)
	assert.Equal(t, 4, cfg.MaxInflightBatches)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "neo4j")
	t.Setenv("NEO4J_URI", "bolt://db:7687")
	t.Setenv("MIN_CONFIDENCE_THRESHOLD", "0.85")
	t.Setenv("MAX_INFLIGHT_BATCHES", "8")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, BackendNeo4j, cfg.GraphBackend)
	assert.Equal(t, "bolt://db:7687", cfg.Neo4jURI)
	assert.Equal(t, 0.85, cfg.MinConfidenceThreshold)
	assert.Equal(t, 8, cfg.MaxInflightBatches)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "dynamo")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	t.Setenv("MIN_CONFIDENCE_THRESHOLD", "1.5")
	_, err := Load()
	assert.Error(t, err)
}
