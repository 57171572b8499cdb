package services

import (
	"context"

	"github.com/asaskevich/EventBus"
	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/logger"
	"github.com/dealmoa/deal-crawler/internal/metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DealStore persists deals keyed by (source, external post id).
type DealStore interface {
	FindBySourceAndExternalID(ctx context.Context, source models.Source, externalID string) (*models.DealRecord, error)
	Create(ctx context.Context, item models.DealItem) (*models.DealRecord, error)
	Update(ctx context.Context, id string, item models.DealItem) (*models.DealRecord, error)
}

// Reconciler decides per fetched item whether it is a new deal or a refresh of a stored one.
type Reconciler struct {
	store DealStore
	bus   EventBus.Bus
}

func NewReconciler(store DealStore, bus EventBus.Bus) *Reconciler {
	return &Reconciler{store: store, bus: bus}
}

func (r *Reconciler) Reconcile(ctx context.Context, item models.DealItem) (models.Outcome, error) {
	if !item.Deduplicable() {
		return r.create(ctx, item)
	}

	existing, err := r.store.FindBySourceAndExternalID(ctx, item.Source, item.ExternalPostID)
	if err != nil {
		return "", errors.Wrap(err, "lookup")
	}

	if existing == nil {
		outcome, err := r.create(ctx, item)
		if !errors.Is(err, models.ErrDuplicateDeal) {
			return outcome, err
		}

		// another run inserted the same post between lookup and insert
		existing, err = r.store.FindBySourceAndExternalID(ctx, item.Source, item.ExternalPostID)
		if err != nil {
			return "", errors.Wrap(err, "lookup after duplicate insert")
		}
		if existing == nil {
			return "", errors.Wrapf(models.ErrDealNotFound, "%s/%s after duplicate insert", item.Source, item.ExternalPostID)
		}
	}

	record, err := r.store.Update(ctx, existing.ID, existing.MergedWith(item))
	if err != nil {
		return "", errors.Wrap(err, "update")
	}
	r.publish(*record, models.OutcomeUpdated)
	return models.OutcomeUpdated, nil
}

// ReconcilePage reconciles every item of a page. A failing item is logged, counted and skipped.
func (r *Reconciler) ReconcilePage(ctx context.Context, items []models.DealItem) models.ReconcileStats {
	var stats models.ReconcileStats

	for _, item := range items {
		outcome, err := r.Reconcile(ctx, item)
		if err != nil {
			stats.Failed++
			metrics.DealsReconciled.WithLabelValues(string(item.Source), "failed").Inc()
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
				WithFields(log.Fields{"source": item.Source, "external_post_id": item.ExternalPostID}).
				Errorf("failed to reconcile deal: %v", err)
			continue
		}

		switch outcome {
		case models.OutcomeNew:
			stats.New++
		case models.OutcomeUpdated:
			stats.Updated++
		}
	}

	return stats
}

func (r *Reconciler) create(ctx context.Context, item models.DealItem) (models.Outcome, error) {
	record, err := r.store.Create(ctx, item)
	if err != nil {
		return "", err
	}
	r.publish(*record, models.OutcomeNew)
	return models.OutcomeNew, nil
}

func (r *Reconciler) publish(record models.DealRecord, outcome models.Outcome) {
	metrics.DealsReconciled.WithLabelValues(string(record.Source), string(outcome)).Inc()
	r.bus.Publish(events.DealReconciledTopic, events.DealReconciled{Deal: record, Outcome: outcome})
}
