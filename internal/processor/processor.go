// Package processor orchestrates chunk ingestion: extract per chunk, fuse
// once per batch, report stats. Extraction failures are isolated per chunk;
// fusion failures abort the batch.
package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"conhub-graph/internal/extractor"
	"conhub-graph/internal/fusion"
	"conhub-graph/internal/model"
	"conhub-graph/pkg/config"
	apperrors "conhub-graph/pkg/errors"
	"conhub-graph/pkg/logger"
)

// ContentStore fetches chunk text when a batch carries id-only references.
type ContentStore interface {
	FetchChunkText(ctx context.Context, chunkID string) (string, error)
}

// ChunkProcessor ingests chunk batches. Concurrency is bounded by a
// weighted semaphore, fused writes are rate limited, and a circuit breaker
// sheds load while the storage layer is failing.
type ChunkProcessor struct {
	engine   *fusion.Engine
	content  ContentStore
	logger   *zap.Logger
	inflight *semaphore.Weighted
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
}

// New creates a chunk processor. content may be nil when every batch
// carries inline text.
func New(engine *fusion.Engine, content ContentStore, cfg *config.Config) *ChunkProcessor {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.StorageWriteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.StorageWriteRate), int(cfg.StorageWriteRate)+1)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "fusion",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Only retryable storage failures count toward tripping.
			return err == nil || !apperrors.IsRetryable(err)
		},
	})

	return &ChunkProcessor{
		engine:   engine,
		content:  content,
		logger:   logger.Component("processor"),
		inflight: semaphore.NewWeighted(int64(cfg.MaxInflightBatches)),
		limiter:  limiter,
		breaker:  breaker,
		timeout:  time.Duration(cfg.BatchTimeoutSecs) * time.Second,
	}
}

// ProcessChunks ingests one batch. Chunks that fail extraction or text
// fetch are counted and skipped; the survivors are fused in a single pass
// so resolution sees the whole batch at once. A storage failure during
// fusion fails the entire batch.
func (p *ChunkProcessor) ProcessChunks(ctx context.Context, batch *model.ChunkBatch) (*model.IngestionStats, error) {
	if err := p.inflight.Acquire(ctx, 1); err != nil {
		return nil, apperrors.NewInternal("ingestion canceled while queued", err)
	}
	defer p.inflight.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ex, err := extractor.ForKind(batch.SourceKind)
	if err != nil {
		return nil, err
	}
	source := sourceOf(batch)

	stats := &model.IngestionStats{TotalChunks: len(batch.Chunks)}
	var entities []*model.Entity
	var rels []*model.Relationship

	for _, chunk := range batch.Chunks {
		chunkEntities, chunkRels, err := p.processChunk(ctx, ex, batch, chunk, source)
		if err != nil {
			stats.ChunksFailed++
			p.logger.Warn("Chunk processing failed",
				zap.String("chunk_id", chunk.ChunkID.String()),
				zap.Error(err),
			)
			continue
		}
		stats.ChunksProcessed++
		entities = append(entities, chunkEntities...)
		rels = append(rels, chunkRels...)
	}

	if len(entities) > 0 {
		if err := p.fuse(ctx, entities, rels, stats); err != nil {
			return nil, err
		}
	}

	p.logger.Info("Processed chunk batch",
		zap.String("source_id", batch.SourceID),
		zap.String("source_kind", batch.SourceKind),
		zap.Int("total", stats.TotalChunks),
		zap.Int("processed", stats.ChunksProcessed),
		zap.Int("failed", stats.ChunksFailed),
		zap.Int("entities", stats.EntitiesCreated),
		zap.Int("relationships", stats.RelationshipsCreated),
	)
	return stats, nil
}

// processChunk extracts one chunk's entities plus the container document
// that anchors them.
func (p *ChunkProcessor) processChunk(ctx context.Context, ex extractor.FeatureExtractor, batch *model.ChunkBatch, chunk model.ChunkRef, source model.DataSource) ([]*model.Entity, []*model.Relationship, error) {
	if chunk.Text == "" {
		if p.content == nil {
			return nil, nil, apperrors.NewSerialization("text", errors.New("chunk has no inline text and no content store is configured"))
		}
		text, err := p.content.FetchChunkText(ctx, chunk.ChunkID.String())
		if err != nil {
			return nil, nil, err
		}
		chunk.Text = text
	}

	container := model.NewEntity(
		model.EntityTypeDocument,
		source,
		batch.SourceID+":"+chunk.ChunkID.String(),
		chunk.ChunkID.String(),
		map[string]interface{}{"block_type": chunk.BlockType},
	)

	extracted := ex.ExtractEntities(chunk, source, batch.SourceID)
	rels := ex.ExtractRelationships(container, extracted, source)

	return append([]*model.Entity{container}, extracted...), rels, nil
}

// fuse writes the batch through the rate limiter and circuit breaker.
// Relationship endpoints reference the in-memory entity ids; fusion rewrites
// them to the persisted ids before the edges land.
func (p *ChunkProcessor) fuse(ctx context.Context, entities []*model.Entity, rels []*model.Relationship, stats *model.IngestionStats) error {
	// Pace per entity so a batch larger than the burst still goes through.
	if p.limiter.Limit() != rate.Inf {
		for range entities {
			if err := p.limiter.Wait(ctx); err != nil {
				return apperrors.NewInternal("rate limit wait canceled", err)
			}
		}
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		// Remember the provisional ids the extractor handed out; fusion
		// rewrites e.ID in place for records that already existed.
		provisional := make(map[uuid.UUID]*model.Entity, len(entities))
		for _, e := range entities {
			provisional[e.ID] = e
		}

		if _, err := p.engine.FuseEntities(ctx, entities); err != nil {
			return nil, err
		}

		for _, r := range rels {
			if e, ok := provisional[r.FromEntity]; ok {
				r.FromEntity = e.ID
			}
			if e, ok := provisional[r.ToEntity]; ok {
				r.ToEntity = e.ID
			}
		}

		relsCreated := 0
		if len(rels) > 0 {
			var err error
			relsCreated, err = p.engine.FuseRelationships(ctx, rels)
			if err != nil {
				return nil, err
			}
		}

		stats.EntitiesCreated += len(entities)
		stats.RelationshipsCreated += relsCreated
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewDatabase("fusion circuit open", err)
	}
	return err
}

// sourceOf maps a batch's source kind to the data-source vocabulary when
// the batch does not name a known source system itself.
func sourceOf(batch *model.ChunkBatch) model.DataSource {
	switch model.DataSource(batch.SourceID) {
	case model.SourceGitHub, model.SourceSlack, model.SourceNotion, model.SourceGoogleDrive,
		model.SourceDropbox, model.SourceLocalFile, model.SourceBitbucket, model.SourceURLCrawler,
		model.SourceEmail, model.SourceJira, model.SourceConfluence:
		return model.DataSource(batch.SourceID)
	}
	switch batch.SourceKind {
	case extractor.KindCode:
		return model.SourceLocalFile
	case extractor.KindChat:
		return model.SourceSlack
	default:
		return model.SourceLocalFile
	}
}
