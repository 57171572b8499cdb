package repositories

import (
	"context"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/entities"
	"gorm.io/gorm"
)

type Jobs struct {
	db *gorm.DB
}

func NewJobsRepository(db *gorm.DB) *Jobs {
	return &Jobs{db: db}
}

// Save inserts the job or overwrites the stored row with the same id.
func (repo *Jobs) Save(ctx context.Context, job models.CrawlJob) error {
	entity := entities.NewCrawlJob(job)
	return repo.db.WithContext(ctx).Save(&entity).Error
}

func (repo *Jobs) Delete(ctx context.Context, id string) error {
	return repo.db.WithContext(ctx).Delete(&entities.CrawlJob{}, "id = ?", id).Error
}

func (repo *Jobs) List(ctx context.Context) ([]models.CrawlJob, error) {
	var rows []entities.CrawlJob
	if err := repo.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}

	jobs := make([]models.CrawlJob, 0, len(rows))
	for _, row := range rows {
		job, err := row.ToModel()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
