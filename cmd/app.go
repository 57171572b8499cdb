package main

import (
	"context"
	"fmt"

	"github.com/asaskevich/EventBus"
	"github.com/dealmoa/deal-crawler/internal/clients/community"
	"github.com/dealmoa/deal-crawler/internal/config"
	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/repositories"
	"github.com/dealmoa/deal-crawler/internal/services"
	log "github.com/sirupsen/logrus"
)

// app holds the wired engine shared by every command.
type app struct {
	cfg       *config.Config
	state     *repositories.DbContext
	deals     *repositories.CachedDeals
	progress  *services.ProgressBus
	scheduler *services.Scheduler
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	state, err := repositories.NewDbContext(cfg.DB.StatePath)
	if err != nil {
		return nil, fmt.Errorf("can't open state db: %w", err)
	}
	a.state = state
	a.closers = append(a.closers, func() { _ = state.Close() })

	if err := state.Migrate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("can't migrate state db: %w", err)
	}

	deals, closeDeals, err := openDealStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.deals = deals
	a.closers = append(a.closers, closeDeals)

	fetcher, err := community.NewFetcher(cfg.Sources)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("can't configure sources: %w", err)
	}

	bus := EventBus.New()
	if err := bus.Subscribe(events.DealReconciledTopic, logNewDeal); err != nil {
		a.Close()
		return nil, err
	}

	a.progress = services.NewProgressBus(0)
	a.closers = append(a.closers, a.progress.Close)

	runner := services.NewCrawlRunner(fetcher, services.NewReconciler(deals, bus), a.progress)
	a.scheduler = services.NewScheduler(runner, a.progress, repositories.NewJobsRepository(state.DB), fetcher.Sources(), cfg.Crawler)

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// restoreJobs loads persisted jobs and seeds the configured ones into an empty store.
func (a *app) restoreJobs(ctx context.Context) error {
	if err := a.scheduler.Restore(ctx); err != nil {
		return err
	}
	if len(a.scheduler.GetAllJobs()) > 0 {
		return nil
	}

	for _, seed := range a.cfg.Jobs {
		maxPages := seed.MaxPages
		if maxPages == 0 {
			maxPages = a.cfg.Crawler.DefaultMaxPages
		}
		job := models.NewCrawlJob(models.Source(seed.Source), seed.Schedule, maxPages, seed.TimeWindowHours, seed.Enabled)
		job.Name = seed.Name
		if _, err := a.scheduler.AddJob(ctx, *job); err != nil {
			return fmt.Errorf("seed job %q: %w", seed.Name, err)
		}
	}
	log.Infof("seeded %d crawl jobs from config", len(a.cfg.Jobs))
	return nil
}

// startCleaner runs the retention cleaner when deal_retention_days is set.
func (a *app) startCleaner() error {
	if a.cfg.Crawler.DealRetentionDays == 0 {
		return nil
	}
	cleaner, err := services.NewDealsCleaner(a.deals, a.cfg.Crawler.DealRetentionDays, a.cfg.Crawler.CleanupSchedule)
	if err != nil {
		return err
	}
	cleaner.Start()
	a.closers = append(a.closers, cleaner.Stop)
	return nil
}

func openDealStore(ctx context.Context, cfg *config.Config) (*repositories.CachedDeals, func(), error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		store, err := repositories.NewPostgresDeals(ctx, cfg.DB.ConnectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("can't connect to postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return repositories.NewCachedDeals(store, cfg.Crawler.LookupCacheTTL), store.Close, nil
	default:
		dbCtx, err := repositories.NewDbContext(cfg.DB.ConnectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("can't open deals db: %w", err)
		}
		if err := dbCtx.Migrate(); err != nil {
			_ = dbCtx.Close()
			return nil, nil, fmt.Errorf("can't migrate deals db: %w", err)
		}
		store := repositories.NewDealsRepository(dbCtx.DB)
		return repositories.NewCachedDeals(store, cfg.Crawler.LookupCacheTTL), func() { _ = dbCtx.Close() }, nil
	}
}

func logNewDeal(event events.DealReconciled) {
	if event.Outcome != models.OutcomeNew {
		return
	}
	log.WithFields(log.Fields{"source": event.Deal.Source, "external_post_id": event.Deal.ExternalPostID}).
		Debugf("new deal: %s %s", event.Deal.Title, event.Deal.Price)
}
