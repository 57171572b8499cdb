package entities

import (
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
)

type CrawlJob struct {
	ID              string `gorm:"primaryKey"`
	Name            string
	Source          string `gorm:"not null"`
	Schedule        string `gorm:"not null"`
	Enabled         bool
	Status          string
	MaxPages        int
	TimeWindowHours int
	LastRun         *time.Time
	NextRun         *time.Time
	Statistics      *models.RunStatistics `gorm:"serializer:json"`
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewCrawlJob(job models.CrawlJob) CrawlJob {
	return CrawlJob{
		ID:              job.ID,
		Name:            job.Name,
		Source:          string(job.Source),
		Schedule:        job.Schedule,
		Enabled:         job.Enabled,
		Status:          string(job.Status),
		MaxPages:        job.MaxPages,
		TimeWindowHours: job.TimeWindowHours,
		LastRun:         job.LastRun,
		NextRun:         job.NextRun,
		Statistics:      job.Statistics,
		LastError:       job.LastError,
		CreatedAt:       job.CreatedAt,
	}
}

func (j CrawlJob) ToModel() (models.CrawlJob, error) {
	status, err := models.ToJobStatus(j.Status)
	if err != nil {
		return models.CrawlJob{}, err
	}
	return models.CrawlJob{
		ID:              j.ID,
		Name:            j.Name,
		Source:          models.Source(j.Source),
		Schedule:        j.Schedule,
		Enabled:         j.Enabled,
		Status:          status,
		MaxPages:        j.MaxPages,
		TimeWindowHours: j.TimeWindowHours,
		LastRun:         j.LastRun,
		NextRun:         j.NextRun,
		Statistics:      j.Statistics,
		LastError:       j.LastError,
		CreatedAt:       j.CreatedAt,
	}, nil
}
