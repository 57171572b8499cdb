package services

import (
	"context"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func subscribeReconciled(t *testing.T, bus EventBus.Bus) *[]events.DealReconciled {
	var received []events.DealReconciled
	require.NoError(t, bus.Subscribe(events.DealReconciledTopic, func(event events.DealReconciled) {
		received = append(received, event)
	}))
	return &received
}

func Test_Reconciler_Reconcile_ShouldCreateUnknownDeal(t *testing.T) {
	ctx := context.Background()
	item := models.DealItem{Source: models.Ppomppu, ExternalPostID: "100", Title: "에어팟 프로", Price: "199,000원"}

	store := &mockDealStore{}
	store.On("FindBySourceAndExternalID", ctx, models.Ppomppu, "100").Return(nil, nil)
	store.On("Create", ctx, item).Return(&models.DealRecord{ID: "d1", Source: models.Ppomppu, ExternalPostID: "100"}, nil)

	bus := EventBus.New()
	received := subscribeReconciled(t, bus)

	outcome, err := NewReconciler(store, bus).Reconcile(ctx, item)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeNew, outcome)
	require.Len(t, *received, 1)
	assert.Equal(t, models.OutcomeNew, (*received)[0].Outcome)
	assert.Equal(t, "d1", (*received)[0].Deal.ID)
	store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func Test_Reconciler_Reconcile_ShouldMergeIntoExistingDeal(t *testing.T) {
	ctx := context.Background()
	postedAt := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	existing := &models.DealRecord{
		ID:             "d1",
		Source:         models.Ppomppu,
		ExternalPostID: "100",
		Title:          "에어팟 프로",
		Price:          "199,000원",
		ThumbnailURL:   "https://cdn.example/100.jpg",
		Category:       "디지털",
		PostedAt:       postedAt,
	}
	item := models.DealItem{Source: models.Ppomppu, ExternalPostID: "100", Title: "에어팟 프로 (가격인하)", Price: "179,000원"}

	store := &mockDealStore{}
	store.On("FindBySourceAndExternalID", ctx, models.Ppomppu, "100").Return(existing, nil)
	store.On("Update", ctx, "d1", mock.MatchedBy(func(merged models.DealItem) bool {
		return merged.Title == item.Title &&
			merged.Price == "179,000원" &&
			merged.ThumbnailURL == existing.ThumbnailURL &&
			merged.Category == "디지털" &&
			merged.PostedAt.Equal(postedAt)
	})).Return(existing, nil)

	outcome, err := NewReconciler(store, EventBus.New()).Reconcile(ctx, item)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeUpdated, outcome)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func Test_Reconciler_Reconcile_ShouldAlwaysCreateItemsWithoutExternalID(t *testing.T) {
	ctx := context.Background()
	item := models.DealItem{Source: models.Ruliweb, Title: "공지 없는 글"}

	store := &mockDealStore{}
	store.On("Create", ctx, item).Return(&models.DealRecord{ID: "d2", Source: models.Ruliweb}, nil).Twice()

	reconciler := NewReconciler(store, EventBus.New())
	for i := 0; i < 2; i++ {
		outcome, err := reconciler.Reconcile(ctx, item)
		assert.NoError(t, err)
		assert.Equal(t, models.OutcomeNew, outcome)
	}
	store.AssertNotCalled(t, "FindBySourceAndExternalID", mock.Anything, mock.Anything, mock.Anything)
}

func Test_Reconciler_Reconcile_ShouldUpdateWhenInsertLosesRace(t *testing.T) {
	ctx := context.Background()
	item := models.DealItem{Source: models.Clien, ExternalPostID: "55", Price: "10,000원"}
	winner := &models.DealRecord{ID: "d55", Source: models.Clien, ExternalPostID: "55", Title: "먼저 저장된 글"}

	store := &mockDealStore{}
	store.On("FindBySourceAndExternalID", ctx, models.Clien, "55").Return(nil, nil).Once()
	store.On("Create", ctx, item).Return(nil, errors.Wrap(models.ErrDuplicateDeal, "clien/55")).Once()
	store.On("FindBySourceAndExternalID", ctx, models.Clien, "55").Return(winner, nil).Once()
	store.On("Update", ctx, "d55", winner.MergedWith(item)).Return(winner, nil).Once()

	outcome, err := NewReconciler(store, EventBus.New()).Reconcile(ctx, item)

	assert.NoError(t, err)
	assert.Equal(t, models.OutcomeUpdated, outcome)
	store.AssertExpectations(t)
}

func Test_Reconciler_ReconcilePage_ShouldCountFailuresAndContinue(t *testing.T) {
	ctx := context.Background()
	items := []models.DealItem{
		{Source: models.Quasarzone, ExternalPostID: "1"},
		{Source: models.Quasarzone, ExternalPostID: "2"},
		{Source: models.Quasarzone, ExternalPostID: "3"},
	}

	store := &mockDealStore{}
	store.On("FindBySourceAndExternalID", ctx, models.Quasarzone, "1").Return(nil, nil)
	store.On("Create", ctx, items[0]).Return(&models.DealRecord{ID: "a", Source: models.Quasarzone}, nil)
	store.On("FindBySourceAndExternalID", ctx, models.Quasarzone, "2").Return(nil, errors.New("database is locked"))
	store.On("FindBySourceAndExternalID", ctx, models.Quasarzone, "3").
		Return(&models.DealRecord{ID: "c", Source: models.Quasarzone, ExternalPostID: "3"}, nil)
	store.On("Update", ctx, "c", mock.Anything).Return(&models.DealRecord{ID: "c", Source: models.Quasarzone}, nil)

	stats := NewReconciler(store, EventBus.New()).ReconcilePage(ctx, items)

	assert.Equal(t, models.ReconcileStats{New: 1, Updated: 1, Failed: 1}, stats)
}
