package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/dealmoa/deal-crawler/internal/config"
	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/repositories"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type crawlFixture struct {
	deals     *repositories.Deals
	bus       *ProgressBus
	scheduler *Scheduler
}

func newCrawlFixture(t *testing.T, fetcher SourceFetcher) *crawlFixture {
	t.Helper()

	dbCtx, err := repositories.NewDbContext(filepath.Join(t.TempDir(), "deals.db"))
	require.NoError(t, err)
	require.NoError(t, dbCtx.Migrate())
	t.Cleanup(func() { _ = dbCtx.Close() })

	deals := repositories.NewDealsRepository(dbCtx.DB)
	bus := NewProgressBus(256)
	t.Cleanup(bus.Close)

	runner := NewCrawlRunner(fetcher, NewReconciler(deals, EventBus.New()), bus)
	scheduler := NewScheduler(runner, bus, repositories.NewJobsRepository(dbCtx.DB), testSources,
		config.CrawlerConfig{MaxConcurrentRuns: 1, PerPageTimeout: 5 * time.Second})

	return &crawlFixture{deals: deals, bus: bus, scheduler: scheduler}
}

// ppomppuBoard has 20 posts over two pages; posts 15..20 are two days old.
func ppomppuBoard(now time.Time) *boardFetcher {
	items := make([]models.DealItem, 0, 20)
	for n := 1; n <= 20; n++ {
		postedAt := now.Add(-time.Duration(n) * time.Minute)
		if n >= 15 {
			postedAt = now.Add(-48 * time.Hour)
		}
		items = append(items, models.DealItem{
			Source:         models.Ppomppu,
			ExternalPostID: fmt.Sprint(600000 - n),
			Title:          fmt.Sprintf("[쿠팡] 특가 상품 %d (%d,900원/무료)", n, n),
			Price:          fmt.Sprintf("%d,900원", n),
			URL:            fmt.Sprintf("https://www.ppomppu.co.kr/zboard/view.php?id=ppomppu&no=%d", 600000-n),
			Category:       "디지털",
			PostedAt:       postedAt,
			FetchedAt:      now,
		})
	}

	return &boardFetcher{pages: map[int]models.FetchedPage{
		1: {Items: items[:10], HasMore: true},
		2: {Items: items[10:], HasMore: true},
	}}
}

func Test_Crawl_Ppomppu_ShouldInsertThenUpdateFreshPosts(t *testing.T) {
	ctx := context.Background()
	fixture := newCrawlFixture(t, ppomppuBoard(time.Now()))

	collector := &eventCollector{}
	fixture.bus.Subscribe(collector.handle)

	opts := models.ManualRunOptions{MaxPages: 2, TimeWindowHours: 24}

	first, err := fixture.scheduler.RunCrawlManually(ctx, models.Ppomppu, opts)
	require.NoError(t, err)
	assert.Equal(t, 14, first.Statistics.TotalCrawled)
	assert.Equal(t, 14, first.Statistics.NewDeals)
	assert.Equal(t, 0, first.Statistics.UpdatedDeals)
	assert.Equal(t, models.StopTimeWindow, first.StopReason)

	second, err := fixture.scheduler.RunCrawlManually(ctx, models.Ppomppu, opts)
	require.NoError(t, err)
	assert.Equal(t, 14, second.Statistics.TotalCrawled)
	assert.Equal(t, 0, second.Statistics.NewDeals)
	assert.Equal(t, 14, second.Statistics.UpdatedDeals)

	count, err := fixture.deals.Count(ctx, models.Ppomppu)
	require.NoError(t, err)
	assert.Equal(t, int64(14), count)

	assert.Eventually(t, func() bool { return collector.len() == 8 }, time.Second, 5*time.Millisecond)
	collector.mu.Lock()
	kinds := make([]events.Kind, 0, len(collector.events))
	for _, event := range collector.events {
		kinds = append(kinds, event.Kind)
	}
	collector.mu.Unlock()
	assert.Equal(t, []events.Kind{
		events.KindStart, events.KindProgress, events.KindProgress, events.KindComplete,
		events.KindStart, events.KindProgress, events.KindProgress, events.KindComplete,
	}, kinds)

	snapshot, ok := fixture.bus.Snapshot("manual:ppomppu")
	require.True(t, ok)
	assert.Equal(t, "completed", snapshot.CurrentStep)
	assert.Equal(t, 14, snapshot.UpdatedDeals)
}

func Test_Crawl_ShouldKeepDealsOfPagesBeforeFetchFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	board := ppomppuBoard(now)
	board.failures = map[int]error{2: errors.New("unexpected status code: 502")}
	fixture := newCrawlFixture(t, board)

	result, err := fixture.scheduler.RunCrawlManually(ctx, models.Ppomppu, models.ManualRunOptions{MaxPages: 3, TimeWindowHours: 24})

	var failure *models.FetchFailure
	require.True(t, errors.As(err, &failure), "got %v", err)
	assert.Equal(t, 2, failure.Page)
	assert.Equal(t, models.StopFetchFailed, result.StopReason)
	assert.Equal(t, 10, result.Statistics.NewDeals)

	count, err := fixture.deals.Count(ctx, models.Ppomppu)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
	assert.Equal(t, []int{1, 2}, board.fetched)
}

func Test_Reconciler_ShouldPreserveFieldsMissingFromRefetch(t *testing.T) {
	ctx := context.Background()
	fixture := newCrawlFixture(t, &boardFetcher{})
	reconciler := NewReconciler(fixture.deals, EventBus.New())

	full := models.DealItem{
		Source:         models.Quasarzone,
		ExternalPostID: "1234567",
		Title:          "[11번가] WD SN850X 2TB",
		Price:          "189,000원",
		URL:            "https://quasarzone.com/bbs/qb_saleinfo/views/1234567",
		ThumbnailURL:   "https://img2.quasarzone.com/thumb/1234567.jpg",
		Category:       "PC/하드웨어",
		PostedAt:       time.Now().Add(-time.Hour).UTC().Truncate(time.Second),
		FetchedAt:      time.Now().UTC(),
	}
	_, err := reconciler.Reconcile(ctx, full)
	require.NoError(t, err)

	partial := models.DealItem{
		Source:         models.Quasarzone,
		ExternalPostID: "1234567",
		Title:          "[11번가] WD SN850X 2TB (품절)",
		FetchedAt:      time.Now().UTC(),
	}
	outcome, err := reconciler.Reconcile(ctx, partial)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUpdated, outcome)

	stored, err := fixture.deals.FindBySourceAndExternalID(ctx, models.Quasarzone, "1234567")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, partial.Title, stored.Title)
	assert.Equal(t, full.Price, stored.Price)
	assert.Equal(t, full.ThumbnailURL, stored.ThumbnailURL)
	assert.Equal(t, full.Category, stored.Category)
	assert.Equal(t, full.URL, stored.URL)
	assert.True(t, stored.PostedAt.Equal(full.PostedAt))
}

func Test_Reconciler_ShouldBeIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := newCrawlFixture(t, &boardFetcher{})
	reconciler := NewReconciler(fixture.deals, EventBus.New())

	items := dealsPostedAt(models.Ruliweb, 1, 5, time.Now().UTC().Truncate(time.Second))

	first := reconciler.ReconcilePage(ctx, items)
	second := reconciler.ReconcilePage(ctx, items)
	third := reconciler.ReconcilePage(ctx, items)

	assert.Equal(t, models.ReconcileStats{New: 5}, first)
	assert.Equal(t, models.ReconcileStats{Updated: 5}, second)
	assert.Equal(t, second, third)

	count, err := fixture.deals.Count(ctx, models.Ruliweb)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}
