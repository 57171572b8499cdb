package entities

import (
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
)

// Deal is the gorm row of a persisted deal. ExternalPostID is NULL for items
// without a post id, so they never collide on the identity index.
type Deal struct {
	ID             string  `gorm:"primaryKey"`
	Source         string  `gorm:"not null;uniqueIndex:idx_deals_identity"`
	ExternalPostID *string `gorm:"uniqueIndex:idx_deals_identity"`
	Title          string
	Price          string
	URL            string
	ThumbnailURL   string
	Category       string
	PostedAt       *time.Time
	FetchedAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewDeal(id string, item models.DealItem) Deal {
	deal := Deal{ID: id}
	deal.Apply(item)
	return deal
}

// Apply overwrites every content column with the item's values.
func (d *Deal) Apply(item models.DealItem) {
	d.Source = string(item.Source)
	d.ExternalPostID = nil
	if item.ExternalPostID != "" {
		externalID := item.ExternalPostID
		d.ExternalPostID = &externalID
	}
	d.Title = item.Title
	d.Price = item.Price
	d.URL = item.URL
	d.ThumbnailURL = item.ThumbnailURL
	d.Category = item.Category
	d.PostedAt = nil
	if !item.PostedAt.IsZero() {
		postedAt := item.PostedAt.UTC()
		d.PostedAt = &postedAt
	}
	d.FetchedAt = item.FetchedAt.UTC()
}

func (d Deal) ToModel() models.DealRecord {
	record := models.DealRecord{
		ID:           d.ID,
		Source:       models.Source(d.Source),
		Title:        d.Title,
		Price:        d.Price,
		URL:          d.URL,
		ThumbnailURL: d.ThumbnailURL,
		Category:     d.Category,
		FetchedAt:    d.FetchedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.ExternalPostID != nil {
		record.ExternalPostID = *d.ExternalPostID
	}
	if d.PostedAt != nil {
		record.PostedAt = *d.PostedAt
	}
	return record
}
