package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/entities"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Deals is the embedded-store backend of the deal store.
type Deals struct {
	db *gorm.DB
}

func NewDealsRepository(db *gorm.DB) *Deals {
	return &Deals{db: db}
}

func (repo *Deals) FindBySourceAndExternalID(ctx context.Context, source models.Source, externalID string) (*models.DealRecord, error) {
	if externalID == "" {
		return nil, nil
	}

	var deal entities.Deal
	err := repo.db.WithContext(ctx).
		First(&deal, "source = ? AND external_post_id = ?", string(source), externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	record := deal.ToModel()
	return &record, nil
}

func (repo *Deals) Create(ctx context.Context, item models.DealItem) (*models.DealRecord, error) {
	deal := entities.NewDeal(uuid.NewString(), item)
	if err := repo.db.WithContext(ctx).Create(&deal).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Wrapf(models.ErrDuplicateDeal, "%s/%s", item.Source, item.ExternalPostID)
		}
		return nil, err
	}

	record := deal.ToModel()
	return &record, nil
}

// Update writes the fields present on item; empty fields keep their stored value.
func (repo *Deals) Update(ctx context.Context, id string, item models.DealItem) (*models.DealRecord, error) {
	var updated entities.Deal

	err := repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deal entities.Deal
		if err := tx.First(&deal, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrap(models.ErrDealNotFound, id)
			}
			return err
		}

		deal.Apply(deal.ToModel().MergedWith(item))
		if err := tx.Save(&deal).Error; err != nil {
			return err
		}
		updated = deal
		return nil
	})
	if err != nil {
		return nil, err
	}

	record := updated.ToModel()
	return &record, nil
}

func (repo *Deals) Count(ctx context.Context, source models.Source) (int64, error) {
	var count int64
	if err := repo.db.WithContext(ctx).Model(&entities.Deal{}).
		Where("source = ?", string(source)).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// RemoveOlderThan deletes deals last fetched before the given time.
func (repo *Deals) RemoveOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := repo.db.WithContext(ctx).Where("fetched_at < ?", before).Delete(&entities.Deal{})
	return result.RowsAffected, result.Error
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
