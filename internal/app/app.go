// Package app wires configuration into the running components.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/david/bid-intel/internal/ai"
	"github.com/david/bid-intel/internal/cache"
	"github.com/david/bid-intel/internal/config"
	"github.com/david/bid-intel/internal/db"
	"github.com/david/bid-intel/internal/decision"
	"github.com/david/bid-intel/internal/ingest"
	"github.com/david/bid-intel/internal/keypool"
	"github.com/david/bid-intel/internal/market"
	"github.com/david/bid-intel/internal/pipeline"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App holds every long-lived component. DB and Store are nil when no
// database is configured.
type App struct {
	Config    *config.Config
	Keys      *keypool.Pool
	Feed      *ingest.SAMClient
	Market    *market.Client
	AI        *ai.Providers
	Profiles  *decision.ProfileStore
	Engine    *decision.Engine
	Pipeline  *pipeline.Service
	DB        *pgxpool.Pool
	Store     *db.Store
	Documents *ingest.FSDocumentStore

	log *zap.Logger
}

// Build connects everything cfg enables. A missing database or document
// directory degrades the app; missing SAM.gov keys are fatal.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	keys, err := keypool.New(cfg.SAM.APIKeys, cfg.DailyQuota(),
		keypool.WithDisabledTTL(cfg.SAM.KeyDisabledTTL),
		keypool.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("key pool: %w", err)
	}
	a.Keys = keys

	c := cache.New(ctx, cfg.Redis, log)

	fetcher := ingest.NewResilientFetcher(ingest.FetchConfig{
		Timeout:       cfg.SAM.Timeout,
		MaxRetries:    cfg.SAM.MaxRetries,
		BackoffBase:   cfg.SAM.BackoffBase,
		BackoffFactor: cfg.SAM.BackoffFactor,
	}, log)
	// Description and attachment links come from feed content.
	content := ingest.NewResilientFetcher(ingest.FetchConfig{
		Timeout:      cfg.Description.FetchTimeout,
		MaxRetries:   1,
		BlockPrivate: true,
	}, log)

	a.Feed = ingest.NewSAMClient(fetcher, keys, c, ingest.SAMClientConfig{
		BaseURL:              cfg.SAM.BaseURL,
		SearchTTL:            cfg.Cache.SearchTTL,
		DetailTTL:            cfg.Cache.DetailTTL,
		DescriptionTTL:       cfg.Cache.DescriptionTTL,
		DescriptionTimeout:   cfg.Description.FetchTimeout,
		MaxDescriptionLength: cfg.Description.MaxLength,
		MinEnhancementLength: cfg.Description.MinEnhancementLength,
	}, log, ingest.WithContentFetcher(content))

	a.Market = market.New(fetcher, c, cfg.Market.BaseURL, cfg.Market.Limit, cfg.Cache.MarketTTL, log)

	a.AI = ai.NewFromConfig(cfg.AI, nil, log)
	if len(a.AI.Orchestrator.Providers()) == 0 {
		log.Warn("no AI providers configured, decisions will use fallback rationales")
	}

	profile := decision.DefaultProfile()
	if cfg.Profile.Path != "" {
		if profile, err = decision.LoadProfile(cfg.Profile.Path); err != nil {
			return nil, err
		}
	}
	a.Profiles = decision.NewProfileStore(profile)
	a.Engine = decision.NewEngine(a.AI.Orchestrator, a.AI.Options, log, decision.WithProfiles(a.Profiles))

	if cfg.Documents.Dir != "" {
		docs, err := ingest.NewFSDocumentStore(cfg.Documents.Dir)
		if err != nil {
			log.Warn("document storage disabled", zap.Error(err))
		} else {
			a.Documents = docs
		}
	}

	if err := a.connectDB(ctx); err != nil {
		if !errors.Is(err, db.ErrNoDatabaseURL) {
			return nil, err
		}
		log.Warn("no database configured, decisions are not persisted")
	}

	opts := []pipeline.Option{
		pipeline.WithMarket(a.Market),
		pipeline.WithClassifier(a.AI.Orchestrator, a.AI.Options, func() []string {
			return a.Profiles.Get().Capabilities
		}),
	}
	if a.Store != nil {
		opts = append(opts, pipeline.WithStore(a.Store))
	}
	if a.AI.Embedder != nil {
		opts = append(opts, pipeline.WithEmbedder(a.AI.Embedder))
	}
	analyzer := ai.NewAnalysisService(a.AI.Orchestrator, a.AI.Options, log)
	a.Pipeline = pipeline.NewService(a.Feed, analyzer, a.Engine, pipeline.Config{
		Workers:         cfg.Pipeline.Workers,
		NotifyThreshold: cfg.Pipeline.NotifyThreshold,
	}, log, opts...)

	return a, nil
}

func (a *App) connectDB(ctx context.Context) error {
	pool, err := db.Connect(ctx, a.Config.Database.URL)
	if err != nil {
		return err
	}
	if err := db.ApplyMigrations(ctx, pool, a.log); err != nil {
		pool.Close()
		return fmt.Errorf("migrations: %w", err)
	}
	a.DB = pool
	a.Store = db.NewStore(pool)
	return nil
}

// WatchProfile reloads the scoring profile on change until ctx ends. It is a
// no-op unless a profile path is configured with watching enabled.
func (a *App) WatchProfile(ctx context.Context) {
	if a.Config.Profile.Path == "" || !a.Config.Profile.Watch {
		return
	}
	go func() {
		if err := decision.Watch(ctx, a.Config.Profile.Path, a.Profiles, a.log); err != nil {
			a.log.Error("profile watcher stopped", zap.Error(err))
		}
	}()
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
