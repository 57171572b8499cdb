package services

import (
	"context"
	"time"

	"github.com/dealmoa/deal-crawler/internal/logger"
	"github.com/dealmoa/deal-crawler/internal/metrics"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const DefaultCleanupSchedule = "0 0 * * *"

type DealPurger interface {
	RemoveOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// DealsCleaner removes deals that have not been fetched for longer than the retention period.
type DealsCleaner struct {
	deals     DealPurger
	cron      *cron.Cron
	retention time.Duration
	now       func() time.Time
}

func NewDealsCleaner(deals DealPurger, retentionDays int, schedule string) (*DealsCleaner, error) {

	if retentionDays <= 0 {
		return nil, errors.New("retention in days must be greater than zero")
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	dc := &DealsCleaner{
		deals:     deals,
		cron:      cron.New(cron.WithParser(cronParser)),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}

	if _, err := dc.cron.AddFunc(schedule, dc.cleanOldDeals); err != nil {
		return nil, errors.Wrapf(err, "invalid cleanup schedule %q", schedule)
	}

	return dc, nil
}

func (dc *DealsCleaner) Start() {
	dc.cron.Start()
	log.Infof("deals cleaner started, retention: %v", dc.retention)
}

func (dc *DealsCleaner) Stop() {
	dc.cron.Stop()
}

// Clean removes every deal last fetched before now minus the retention period.
func (dc *DealsCleaner) Clean(ctx context.Context) (int64, error) {
	removed, err := dc.deals.RemoveOlderThan(ctx, dc.now().Add(-dc.retention))
	if err != nil {
		return 0, err
	}
	metrics.DealsPurged.Add(float64(removed))
	return removed, nil
}

func (dc *DealsCleaner) cleanOldDeals() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := dc.Clean(ctx)
	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).Errorf("failed to clean old deals: %v", err)
		return
	}
	log.Infof("old deals cleaned, affected rows: %v", removed)
}
