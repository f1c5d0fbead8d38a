package main

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/timmy/tunematch/internal/config"
	"github.com/timmy/tunematch/internal/logger"
	"github.com/timmy/tunematch/internal/metrics"
	"github.com/timmy/tunematch/internal/repository"
	"github.com/timmy/tunematch/internal/service"
	"github.com/timmy/tunematch/internal/storage"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Recorder
	db      *gorm.DB

	embeddings *repository.TrackEmbeddingRepository
	profiles   *repository.PlaylistProfileRepository
	results    service.MatchResultStore
	index      service.VectorIndex
	storage    storage.ObjectStorage // nil when no bucket is configured

	orchestrator *service.EmbeddingOrchestrator
	matches      *service.MatchService
	warmup       *service.WarmupService

	closers []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	// Logs go to stderr locally so match reports on stdout stay parseable.
	envCfg := logger.LoadFromEnv()
	if envCfg.Environment == "local" {
		envCfg.Output = os.Stderr
	}
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     appLogger,
		metrics: metrics.New(),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	a.embeddings = repository.NewTrackEmbeddingRepository(db)
	a.profiles = repository.NewPlaylistProfileRepository(db)

	if err := a.wireResultStore(ctx); err != nil {
		return err
	}

	registry, err := service.NewEmbeddingRegistry(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding registry: %w", err)
	}
	a.log.Infof("Embedding providers: count=%d, names=%v, default=%s",
		registry.Count(), registry.Names(), registry.DefaultName())
	provider := registry.Default()
	bundle, err := registry.ModelBundle("", cfg.ModelBundle)
	if err != nil {
		return err
	}

	if cfg.Qdrant.Enabled {
		qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: provider.Dimensions(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		a.closers = append(a.closers, qdrantRepo.Close)
		if err := qdrantRepo.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("failed to ensure qdrant collection: %w", err)
		}
		a.index = qdrantRepo
	}

	if cfg.Storage.Enabled() {
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize object storage: %w", err)
		}
		a.storage = store
	}

	vec := cfg.Vectorization
	throttle := service.NewThrottle(service.ThrottleConfig{
		Name:            registry.DefaultName(),
		MaxConcurrent:   vec.MaxConcurrent,
		MinInterval:     vec.MinInterval,
		Timeout:         vec.Timeout,
		RetryCount:      vec.RetryCount,
		RetryBackoff:    vec.RetryBackoff,
		BreakerFailures: vec.BreakerFailures,
		BreakerTimeout:  vec.BreakerTimeout,
	}, a.metrics)

	a.orchestrator = service.NewEmbeddingOrchestrator(provider, throttle, a.embeddings, a.index, a.metrics,
		service.EmbeddingOrchestratorConfig{
			Bundle: bundle,
			Weights: service.BucketWeights{
				Metadata: vec.MetadataWeight,
				Analysis: vec.AnalysisWeight,
				Context:  vec.ContextWeight,
			},
			BatchSize:     vec.BatchSize,
			L1Size:        vec.L1Size,
			L1TTL:         vec.L1TTL,
			MirrorToIndex: vec.MirrorToIndex,
		})

	matcher := service.NewSemanticMatcher(a.orchestrator, service.SemanticMatcherConfig{
		TTL:        cfg.Semantic.TTL,
		MaxEntries: cfg.Semantic.MaxEntries,
	}, a.metrics)
	scorer := service.NewHybridScorer(matcher, &cfg.Matching, a.metrics)
	profiler := service.NewPlaylistProfiler(a.orchestrator, a.profiles, &cfg.Matching, a.metrics)

	a.matches = service.NewMatchService(service.MatchServiceDeps{
		Profiler: profiler,
		Embedder: a.orchestrator,
		Scorer:   scorer,
		Results:  a.results,
		Profiles: a.profiles,
		Index:    a.index,
		Metrics:  a.metrics,
	}, &cfg.Matching)

	a.warmup = service.NewWarmupService(a.orchestrator, repository.NewWarmupRunRepository(db), &service.WarmupConfig{
		Workers:   cfg.Warmup.Workers,
		BatchSize: cfg.Warmup.BatchSize,
	})

	logger.Info("Components ready: bundle=%s, embedding=%s, results=%s, qdrant=%v, storage=%v",
		a.orchestrator.BundleHash(), registry.DefaultName(), cfg.Cache.MatchResults, a.index != nil, a.storage != nil)
	return nil
}

func (a *app) wireResultStore(ctx context.Context) error {
	switch a.cfg.Cache.MatchResults {
	case "redis":
		if !a.cfg.Redis.Enabled {
			return fmt.Errorf("cache.match_results is redis but redis.enabled is false")
		}
		client, err := repository.NewRedisClient(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.results = repository.NewRedisMatchResultRepository(client, a.cfg.Redis.TTL)
	case "memory":
		a.results = repository.NewMemoryMatchResultStore()
	default:
		a.results = repository.NewMatchResultRepository(a.db)
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
