package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"conhub-graph/internal/api"
	"conhub-graph/internal/fusion"
	"conhub-graph/internal/graphops"
	"conhub-graph/internal/model"
	"conhub-graph/internal/processor"
	"conhub-graph/internal/resolver"
	"conhub-graph/internal/storage"
	"conhub-graph/internal/storage/neo4jstore"
	"conhub-graph/internal/storage/pgstore"
	"conhub-graph/pkg/config"
	"conhub-graph/pkg/logger"
)

func main() {
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting graph server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open storage backend",
			zap.String("backend", cfg.GraphBackend),
			zap.Error(err),
		)
	}
	defer store.Close(context.Background())
	log.Info("Storage backend ready", zap.String("backend", cfg.GraphBackend))

	res := resolver.New(model.ResolutionConfig{
		MinConfidenceThreshold: cfg.MinConfidenceThreshold,
		EmailMatchWeight:       cfg.EmailMatchWeight,
		NameSimilarityWeight:   cfg.NameSimilarityWeight,
		AttributeOverlapWeight: cfg.AttributeOverlapWeight,
		GraphSimilarityWeight:  cfg.GraphSimilarityWeight,
		FuzzyMatchThreshold:    cfg.FuzzyMatchThreshold,
	})
	engine := fusion.NewEngine(store, res)
	proc := processor.New(engine, nil, cfg)
	ops := graphops.New(store)

	handler := api.NewHandler(store, engine, proc, ops)
	router := api.NewRouter(handler, log, cfg.IsProduction())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.GraphBackend {
	case config.BackendNeo4j:
		return neo4jstore.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	default:
		return pgstore.New(ctx, cfg.PostgresDSN)
	}
}
