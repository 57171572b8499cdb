package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDealStore struct {
	mock.Mock
}

func (m *mockDealStore) FindBySourceAndExternalID(ctx context.Context, source models.Source, externalID string) (*models.DealRecord, error) {
	args := m.Called(ctx, source, externalID)
	record, _ := args.Get(0).(*models.DealRecord)
	return record, args.Error(1)
}

func (m *mockDealStore) Create(ctx context.Context, item models.DealItem) (*models.DealRecord, error) {
	args := m.Called(ctx, item)
	record, _ := args.Get(0).(*models.DealRecord)
	return record, args.Error(1)
}

func (m *mockDealStore) Update(ctx context.Context, id string, item models.DealItem) (*models.DealRecord, error) {
	args := m.Called(ctx, id, item)
	record, _ := args.Get(0).(*models.DealRecord)
	return record, args.Error(1)
}

func (m *mockDealStore) RemoveOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func Test_CachedDeals_Find_ShouldHitStoreOnce(t *testing.T) {
	ctx := context.Background()
	record := &models.DealRecord{ID: "d1", Source: models.Ruliweb, ExternalPostID: "42", Title: "모니터"}

	store := &mockDealStore{}
	store.On("FindBySourceAndExternalID", ctx, models.Ruliweb, "42").Return(record, nil).Once()

	cached := NewCachedDeals(store, time.Minute)

	first, err := cached.FindBySourceAndExternalID(ctx, models.Ruliweb, "42")
	require.NoError(t, err)
	second, err := cached.FindBySourceAndExternalID(ctx, models.Ruliweb, "42")
	require.NoError(t, err)

	assert.Equal(t, "d1", first.ID)
	assert.Equal(t, "d1", second.ID)
	store.AssertNumberOfCalls(t, "FindBySourceAndExternalID", 1)
}

func Test_CachedDeals_Find_ShouldNotCacheMisses(t *testing.T) {
	ctx := context.Background()

	store := &mockDealStore{}
	store.On("FindBySourceAndExternalID", ctx, models.Ruliweb, "42").Return(nil, nil).Twice()

	cached := NewCachedDeals(store, time.Minute)

	for i := 0; i < 2; i++ {
		found, err := cached.FindBySourceAndExternalID(ctx, models.Ruliweb, "42")
		assert.NoError(t, err)
		assert.Nil(t, found)
	}
	store.AssertExpectations(t)
}

func Test_CachedDeals_Create_ShouldServeLaterLookupsFromCache(t *testing.T) {
	ctx := context.Background()
	item := models.DealItem{Source: models.Clien, ExternalPostID: "7", Title: "SSD"}
	record := &models.DealRecord{ID: "d7", Source: models.Clien, ExternalPostID: "7", Title: "SSD"}

	store := &mockDealStore{}
	store.On("Create", ctx, item).Return(record, nil).Once()

	cached := NewCachedDeals(store, time.Minute)

	_, err := cached.Create(ctx, item)
	require.NoError(t, err)

	found, err := cached.FindBySourceAndExternalID(ctx, models.Clien, "7")
	require.NoError(t, err)
	assert.Equal(t, "d7", found.ID)
	store.AssertNotCalled(t, "FindBySourceAndExternalID", mock.Anything, mock.Anything, mock.Anything)
}

func Test_CachedDeals_Update_ShouldEvictOnFailure(t *testing.T) {
	ctx := context.Background()
	record := &models.DealRecord{ID: "d9", Source: models.Clien, ExternalPostID: "9"}
	item := models.DealItem{Source: models.Clien, ExternalPostID: "9", Price: "1원"}

	store := &mockDealStore{}
	store.On("FindBySourceAndExternalID", ctx, models.Clien, "9").Return(record, nil).Twice()
	store.On("Update", ctx, "d9", item).Return(nil, models.ErrDealNotFound).Once()

	cached := NewCachedDeals(store, time.Minute)

	_, err := cached.FindBySourceAndExternalID(ctx, models.Clien, "9")
	require.NoError(t, err)

	_, err = cached.Update(ctx, "d9", item)
	assert.ErrorIs(t, err, models.ErrDealNotFound)

	_, err = cached.FindBySourceAndExternalID(ctx, models.Clien, "9")
	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "FindBySourceAndExternalID", 2)
}

func Test_CachedDeals_RemoveOlderThan_ShouldFlushCache(t *testing.T) {
	ctx := context.Background()
	before := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	record := &models.DealRecord{ID: "d3", Source: models.Ppomppu, ExternalPostID: "3"}

	store := &mockDealStore{}
	store.On("FindBySourceAndExternalID", ctx, models.Ppomppu, "3").Return(record, nil).Once()
	store.On("FindBySourceAndExternalID", ctx, models.Ppomppu, "3").Return(nil, nil).Once()
	store.On("RemoveOlderThan", ctx, before).Return(int64(1), nil).Once()

	cached := NewCachedDeals(store, time.Minute)

	_, err := cached.FindBySourceAndExternalID(ctx, models.Ppomppu, "3")
	require.NoError(t, err)

	removed, err := cached.RemoveOlderThan(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	found, err := cached.FindBySourceAndExternalID(ctx, models.Ppomppu, "3")
	require.NoError(t, err)
	assert.Nil(t, found)
	store.AssertExpectations(t)
}
