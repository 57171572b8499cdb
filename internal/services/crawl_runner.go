package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/logger"
	"github.com/dealmoa/deal-crawler/internal/metrics"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// SourceFetcher returns one listing page of a community board, newest first.
type SourceFetcher interface {
	FetchPage(ctx context.Context, source models.Source, page int, floor time.Time) (models.FetchedPage, error)
}

type pageReconciler interface {
	ReconcilePage(ctx context.Context, items []models.DealItem) models.ReconcileStats
}

type progressPublisher interface {
	Publish(event events.ProgressEvent)
}

// CrawlRunner executes one bounded crawl of a single source.
type CrawlRunner struct {
	fetcher    SourceFetcher
	reconciler pageReconciler
	progress   progressPublisher
}

func NewCrawlRunner(fetcher SourceFetcher, reconciler pageReconciler, progress progressPublisher) *CrawlRunner {
	return &CrawlRunner{fetcher: fetcher, reconciler: reconciler, progress: progress}
}

// Run fetches pages 1..MaxPages and reconciles them. On error the returned result still
// holds every page reconciled before the failure.
func (r *CrawlRunner) Run(ctx context.Context, req models.RunRequest) (models.RunResult, error) {
	result := models.RunResult{
		JobID:     req.JobID,
		Source:    req.Source,
		StartedAt: time.Now(),
	}
	entry := log.WithFields(log.Fields{"job_id": req.JobID, "source": req.Source})
	entry.Infof("crawl started, max pages: %d", req.MaxPages)

	r.progress.Publish(events.Started(req))

	err := r.crawl(ctx, req, &result)

	duration := time.Since(result.StartedAt)
	result.Statistics.DurationMs = duration.Milliseconds()
	metrics.RunDuration.WithLabelValues(string(req.Source)).Observe(duration.Seconds())

	if err != nil {
		metrics.RunsCounter.WithLabelValues(string(req.Source), "failed").Inc()
		entry.WithField(logger.ErrorTypeField, logger.ErrorTypeFetch).
			Errorf("crawl failed after %d pages: %v", len(result.Pages), err)
		r.progress.Publish(events.Failed(req, result, err))
		return result, err
	}

	metrics.RunsCounter.WithLabelValues(string(req.Source), "success").Inc()
	entry.Infof("crawl finished (%s): %d crawled, %d new, %d updated, %d failed in %v",
		result.StopReason, result.Statistics.TotalCrawled, result.Statistics.NewDeals,
		result.Statistics.UpdatedDeals, result.Failed, duration)
	r.progress.Publish(events.Completed(req, result))
	return result, nil
}

func (r *CrawlRunner) crawl(ctx context.Context, req models.RunRequest, result *models.RunResult) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("crawl panicked: %v", rec)
		}
	}()

	for page := 1; page <= req.MaxPages; page++ {
		if page > 1 {
			if err := sleepContext(ctx, req.DelayBetweenPages); err != nil {
				result.StopReason = models.StopCanceled
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			result.StopReason = models.StopCanceled
			return err
		}

		fetched, err := r.fetchPage(ctx, req, page)
		if err != nil {
			if ctx.Err() != nil {
				result.StopReason = models.StopCanceled
				return ctx.Err()
			}
			result.StopReason = models.StopFetchFailed
			return &models.FetchFailure{Source: req.Source, Page: page, Err: err}
		}

		fresh := lo.Filter(fetched.Items, func(item models.DealItem, _ int) bool {
			return isWithinWindow(item, req.TimeWindowFloor)
		})
		reachedFloor := len(fresh) < len(fetched.Items)

		stats := r.reconciler.ReconcilePage(ctx, fresh)
		result.AddPage(models.PageResult{Page: page, Items: fresh, Statistics: stats})
		r.progress.Publish(events.PageProcessed(req, page, len(fresh), *result))

		if reachedFloor {
			result.StopReason = models.StopTimeWindow
			return nil
		}
		if !fetched.HasMore {
			result.StopReason = models.StopNoMorePages
			return nil
		}
	}

	result.StopReason = models.StopMaxPages
	return nil
}

type fetchResult struct {
	page models.FetchedPage
	err  error
}

// fetchPage bounds a single fetch by PerPageTimeout even when the fetcher ignores its context.
func (r *CrawlRunner) fetchPage(ctx context.Context, req models.RunRequest, page int) (models.FetchedPage, error) {
	pageCtx, cancel := ctx, context.CancelFunc(func() {})
	if req.PerPageTimeout > 0 {
		pageCtx, cancel = context.WithTimeout(ctx, req.PerPageTimeout)
	}
	defer cancel()

	start := time.Now()
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fetchResult{err: fmt.Errorf("fetcher panicked: %v", rec)}
			}
		}()
		fetched, err := r.fetcher.FetchPage(pageCtx, req.Source, page, req.TimeWindowFloor)
		done <- fetchResult{page: fetched, err: err}
	}()

	select {
	case res := <-done:
		metrics.PageFetchDuration.WithLabelValues(string(req.Source)).Observe(time.Since(start).Seconds())
		return res.page, res.err
	case <-pageCtx.Done():
		return models.FetchedPage{}, errors.Wrapf(pageCtx.Err(), "page %d not fetched within %v", page, req.PerPageTimeout)
	}
}

// isWithinWindow keeps items without a timestamp.
func isWithinWindow(item models.DealItem, floor time.Time) bool {
	if floor.IsZero() || item.PostedAt.IsZero() {
		return true
	}
	return !item.PostedAt.Before(floor)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
