package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/config"
	"github.com/kailas-cloud/postmap/internal/database"
	dbRedis "github.com/kailas-cloud/postmap/internal/db/redis"
	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/search/mode"
	"github.com/kailas-cloud/postmap/internal/domain/search/request"
	logpkg "github.com/kailas-cloud/postmap/internal/logger"
	"github.com/kailas-cloud/postmap/internal/metrics"
	budgetrepo "github.com/kailas-cloud/postmap/internal/repository/budget"
	"github.com/kailas-cloud/postmap/internal/repository/embcache"
	postrepo "github.com/kailas-cloud/postmap/internal/repository/post"
	userrepo "github.com/kailas-cloud/postmap/internal/repository/user"
	"github.com/kailas-cloud/postmap/internal/repository/vectorindex"
	hugotEmb "github.com/kailas-cloud/postmap/internal/transport/hugot"
	openaiEmb "github.com/kailas-cloud/postmap/internal/transport/openai"
	batchuc "github.com/kailas-cloud/postmap/internal/usecase/batch"
	embeddinguc "github.com/kailas-cloud/postmap/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/postmap/internal/usecase/health"
	mapuc "github.com/kailas-cloud/postmap/internal/usecase/mapview"
	"github.com/kailas-cloud/postmap/internal/usecase/mirror"
	postuc "github.com/kailas-cloud/postmap/internal/usecase/post"
	"github.com/kailas-cloud/postmap/internal/usecase/reduce"
	searchuc "github.com/kailas-cloud/postmap/internal/usecase/search"
	usageuc "github.com/kailas-cloud/postmap/internal/usecase/usage"
	useruc "github.com/kailas-cloud/postmap/internal/usecase/user"
)

// app is the composition root shared by every subcommand.
type app struct {
	cfg    config.Config
	env    string
	logger *zap.Logger

	db    database.Database
	store *dbRedis.Store
	index *vectorindex.Repo

	budget *embeddinguc.BudgetTracker
	limits request.Limits

	users    *useruc.Service
	posts    *postuc.Service
	search   *searchuc.Service
	maps     *mapuc.Service
	backfill *batchuc.Service
	usage    *usageuc.Service
	health   *healthuc.Service

	closers []func()
}

func newApp(ctx context.Context, env string) (*app, error) {
	if env == "" {
		env = config.GetEnv()
	}
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logpkg.New(env, logpkg.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, env: env, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	db, err := database.NewDatabase(ctx, cfg.Database.URL, a.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	if cfg.Database.MaxOpenConns > 0 {
		if err := db.ConfigurePool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns,
			time.Duration(cfg.Database.ConnMaxLifetime)*time.Second); err != nil {
			return fmt.Errorf("configure pool: %w", err)
		}
	}

	if cfg.Index.Enabled() {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Index.Addrs,
			Username: cfg.Index.Username,
			Password: cfg.Index.Password,
			DB:       cfg.Index.DB,

			WriteTimeout: time.Duration(cfg.Index.WriteTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return fmt.Errorf("create index store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)

		if err := store.WaitForReady(ctx, time.Duration(cfg.Index.ReadinessTimeout)*time.Second); err != nil {
			return fmt.Errorf("index store not ready: %w", err)
		}
		a.index = vectorindex.New(store, cfg.Embedding.Dimensions,
			vectorindex.WithHNSW(cfg.Index.HNSWM, cfg.Index.HNSWEFConstruct),
			vectorindex.WithEFRuntime(cfg.Index.HNSWEFRuntime))
	}

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	base, err := a.buildEmbedder(ctx)
	if err != nil {
		return err
	}
	vecCfg := domain.DefaultVectorConfig()
	vecCfg.Model = cfg.Embedding.Model
	vecCfg.Dimensions = cfg.Embedding.Dimensions
	postEmbedder := embeddinguc.NewPostEmbedder(base, vecCfg)
	dim := vecCfg.Dimensions

	// Pass nil interfaces, not typed nil pointers, when the index is off.
	var mirrorIndex mirror.Index
	if a.index != nil {
		mirrorIndex = a.index
	}
	mir := mirror.New(mirrorIndex, time.Duration(cfg.Mirror.TimeoutMs)*time.Millisecond, a.logger)

	posts := postrepo.New(db)
	users := userrepo.New(db)

	a.limits = request.Limits{
		DefaultTopK:   cfg.Search.DefaultTopK,
		MaxTopK:       cfg.Search.MaxTopK,
		MinSimilarity: cfg.Search.MinSimilarity,
	}

	a.users = useruc.New(users, mir)
	a.posts = postuc.New(posts, postEmbedder, mir, dim).
		WithPagination(cfg.HTTP.DefaultPageSize, cfg.HTTP.MaxPageSize)

	searchOpts := []searchuc.Option{searchuc.WithDefaultBackend(mode.Backend(cfg.Search.DefaultBackend))}
	if a.index != nil {
		searchOpts = append(searchOpts, searchuc.WithIndex(a.index))
	}
	a.search = searchuc.New(posts, postEmbedder, dim, a.logger, searchOpts...)

	strategy, err := reduce.NewStrategy(reduce.Config{
		Strategy: cfg.Reduce.Strategy,
		UMAP: reduce.UMAPConfig{
			Neighbors: cfg.Reduce.Neighbors,
			MinDist:   cfg.Reduce.MinDist,
			Spread:    cfg.Reduce.Spread,
			Epochs:    cfg.Reduce.Epochs,
			Seed:      cfg.Reduce.Seed,
		},
		MDS: reduce.MDSConfig{
			MaxIter:   cfg.Reduce.MDSMaxIter,
			Tolerance: reduce.DefaultTolerance,
			Seed:      cfg.Reduce.Seed,
		},
	})
	if err != nil {
		return fmt.Errorf("build reducer: %w", err)
	}
	reducer := reduce.New(strategy, a.logger, reduce.WithMaxConcurrent(cfg.Reduce.MaxConcurrent))
	a.maps = mapuc.New(posts, reducer, a.search, dim, a.logger)

	a.backfill = batchuc.New(posts, postEmbedder, mir, dim, a.logger).
		WithMaxPosts(cfg.Backfill.MaxPosts)
	if cfg.Backfill.RatePerSec > 0 {
		a.backfill.WithRateLimit(cfg.Backfill.RatePerSec, cfg.Backfill.Burst)
	}

	var budgetReader usageuc.BudgetReader
	if a.budget != nil {
		budgetReader = a.budget
	}
	a.usage = usageuc.New(budgetReader, cfg.Embedding.Provider)

	var indexPinger healthuc.Pinger
	if a.store != nil {
		indexPinger = a.store
	}
	a.health = healthuc.New(db, indexPinger, postEmbedder, a.logger)

	a.logger.Info("Services wired",
		zap.String("env", a.env),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", dim),
		zap.String("reduce_strategy", reducer.StrategyName()),
		zap.Bool("index", a.index != nil),
	)
	return nil
}

// buildEmbedder assembles the decorator chain: provider -> cache -> instrumented.
func (a *app) buildEmbedder(ctx context.Context) (domain.Embedder, error) {
	cfg := a.cfg.Embedding

	var base domain.Embedder
	switch cfg.Provider {
	case "openai":
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Provider:   cfg.Provider,
			Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
			Logger:     a.logger,
		})
	case "hugot":
		emb, err := hugotEmb.NewEmbedder(hugotEmb.Config{
			ModelDir:  cfg.ModelDir,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Logger:    a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create local embedder: %w", err)
		}
		a.closers = append(a.closers, func() { _ = emb.Close() })
		base = emb
	case "hashing":
		emb, err := embeddinguc.NewHashingEmbedder(cfg.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("create hashing embedder: %w", err)
		}
		base = emb
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	embedder := base
	if a.store != nil && cfg.CacheTTLSec > 0 && cfg.Provider != "hashing" {
		embedder = embcache.New(base, a.store, cfg.Model, cfg.Dimensions, a.logger,
			embcache.WithTTL(time.Duration(cfg.CacheTTLSec)*time.Second),
			embcache.WithCounter(metrics.EmbeddingCacheTotal))
	}

	if cfg.Budget.DailyTokenLimit > 0 || cfg.Budget.MonthlyTokenLimit > 0 {
		action, err := embeddinguc.ParseBudgetAction(cfg.Budget.Action)
		if err != nil {
			return nil, fmt.Errorf("budget action: %w", err)
		}
		var opts []embeddinguc.BudgetOption
		if a.store != nil {
			opts = append(opts, embeddinguc.WithBudgetStore(budgetrepo.New(a.store, 48*time.Hour, 62*24*time.Hour)))
		}
		a.budget = embeddinguc.NewBudgetTracker(cfg.Provider,
			cfg.Budget.DailyTokenLimit, cfg.Budget.MonthlyTokenLimit, action, a.logger, opts...)
		a.budget.Load(ctx)
	}

	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budgetChecker embeddinguc.BudgetChecker
	if a.budget != nil {
		budgetChecker = a.budget
	}

	return embeddinguc.NewInstrumentedEmbedder(embedder, embeddinguc.InstrumentedConfig{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
	}, budgetChecker, a.logger), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
