package models

import "time"

// DealItem is a single listing as returned by a SourceFetcher.
// Empty fields mean "not present on this fetch", never "cleared".
type DealItem struct {
	Source         Source
	ExternalPostID string
	Title          string
	Price          string
	URL            string
	ThumbnailURL   string
	Category       string
	PostedAt       time.Time
	FetchedAt      time.Time
}

// Deduplicable reports whether the item carries the identity key.
// Items without an external post id are always inserted as new.
func (i DealItem) Deduplicable() bool {
	return i.ExternalPostID != ""
}

// DealRecord is a persisted deal.
type DealRecord struct {
	ID             string
	Source         Source
	ExternalPostID string
	Title          string
	Price          string
	URL            string
	ThumbnailURL   string
	Category       string
	PostedAt       time.Time
	FetchedAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MergedWith returns the item to write over r: fields present on the fresh item
// win, fields it omits keep the stored value.
func (r DealRecord) MergedWith(item DealItem) DealItem {
	merged := DealItem{
		Source:         r.Source,
		ExternalPostID: r.ExternalPostID,
		Title:          firstNonEmpty(item.Title, r.Title),
		Price:          firstNonEmpty(item.Price, r.Price),
		URL:            firstNonEmpty(item.URL, r.URL),
		ThumbnailURL:   firstNonEmpty(item.ThumbnailURL, r.ThumbnailURL),
		Category:       firstNonEmpty(item.Category, r.Category),
		PostedAt:       r.PostedAt,
		FetchedAt:      r.FetchedAt,
	}
	if !item.PostedAt.IsZero() {
		merged.PostedAt = item.PostedAt
	}
	if !item.FetchedAt.IsZero() {
		merged.FetchedAt = item.FetchedAt
	}
	return merged
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// FetchedPage is one page of raw items from a community board, newest first.
type FetchedPage struct {
	Items   []DealItem
	HasMore bool
}

type Outcome string

const (
	OutcomeNew     Outcome = "new"
	OutcomeUpdated Outcome = "updated"
)

// ReconcileStats counts per-item outcomes for one page or one run.
type ReconcileStats struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

func (s ReconcileStats) Add(other ReconcileStats) ReconcileStats {
	return ReconcileStats{
		New:     s.New + other.New,
		Updated: s.Updated + other.Updated,
		Failed:  s.Failed + other.Failed,
	}
}
