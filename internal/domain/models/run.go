package models

import "time"

// RunStatistics is the aggregate of one crawl run.
type RunStatistics struct {
	TotalCrawled int   `json:"total_crawled"`
	NewDeals     int   `json:"new_deals"`
	UpdatedDeals int   `json:"updated_deals"`
	DurationMs   int64 `json:"duration_ms"`
}

// RunRequest describes one bounded crawl of a single source. JobID is empty for manual runs.
type RunRequest struct {
	JobID             string
	Source            Source
	MaxPages          int
	TimeWindowFloor   time.Time
	DelayBetweenPages time.Duration
	PerPageTimeout    time.Duration
}

// ManualRunOptions are the operator inputs of a "run now" crawl.
type ManualRunOptions struct {
	MaxPages        int `json:"max_pages" validate:"gte=1"`
	TimeWindowHours int `json:"time_window_hours" validate:"gte=0"`
}

type StopReason string

const (
	StopMaxPages    StopReason = "max_pages"
	StopTimeWindow  StopReason = "time_window"
	StopNoMorePages StopReason = "no_more_pages"
	StopFetchFailed StopReason = "fetch_failed"
	StopCanceled    StopReason = "canceled"
)

type PageResult struct {
	Page       int            `json:"page"`
	Items      []DealItem     `json:"-"`
	Statistics ReconcileStats `json:"statistics"`
}

type RunResult struct {
	JobID      string        `json:"job_id,omitempty"`
	Source     Source        `json:"source"`
	StartedAt  time.Time     `json:"started_at"`
	Pages      []PageResult  `json:"pages"`
	Failed     int           `json:"failed_items"`
	StopReason StopReason    `json:"stop_reason"`
	Statistics RunStatistics `json:"statistics"`
}

// AddPage folds a reconciled page into the aggregate.
func (r *RunResult) AddPage(page PageResult) {
	r.Pages = append(r.Pages, page)
	r.Statistics.TotalCrawled += len(page.Items)
	r.Statistics.NewDeals += page.Statistics.New
	r.Statistics.UpdatedDeals += page.Statistics.Updated
	r.Failed += page.Statistics.Failed
}
