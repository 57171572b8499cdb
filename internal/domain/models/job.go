package models

import (
	"errors"
	"time"
)

type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusFailed  JobStatus = "failed"
)

func ToJobStatus(s string) (JobStatus, error) {
	switch s {
	case string(StatusIdle):
		return StatusIdle, nil
	case string(StatusRunning):
		return StatusRunning, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return "", errors.New("invalid job status")
	}
}

// CrawlJob is a recurring "crawl source S on schedule C" definition.
type CrawlJob struct {
	ID              string         `json:"id"`
	Name            string         `json:"name,omitempty"`
	Source          Source         `json:"source" validate:"required,source"`
	Schedule        string         `json:"schedule" validate:"required,cron"`
	Enabled         bool           `json:"enabled"`
	Status          JobStatus      `json:"status"`
	MaxPages        int            `json:"max_pages" validate:"gte=1"`
	TimeWindowHours int            `json:"time_window_hours" validate:"gte=0"`
	LastRun         *time.Time     `json:"last_run,omitempty"`
	NextRun         *time.Time     `json:"next_run,omitempty"`
	Statistics      *RunStatistics `json:"statistics,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func NewCrawlJob(source Source, schedule string, maxPages, timeWindowHours int, enabled bool) *CrawlJob {
	return &CrawlJob{
		Source:          source,
		Schedule:        schedule,
		Enabled:         enabled,
		Status:          StatusIdle,
		MaxPages:        maxPages,
		TimeWindowHours: timeWindowHours,
	}
}

// Clone returns a copy that shares no pointers with j.
func (j CrawlJob) Clone() CrawlJob {
	c := j
	if j.LastRun != nil {
		t := *j.LastRun
		c.LastRun = &t
	}
	if j.NextRun != nil {
		t := *j.NextRun
		c.NextRun = &t
	}
	if j.Statistics != nil {
		s := *j.Statistics
		c.Statistics = &s
	}
	return c
}

// TimeWindowFloor returns the cutoff for items considered fresh, zero when unbounded.
func TimeWindowFloor(now time.Time, hours int) time.Time {
	if hours <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Duration(hours) * time.Hour)
}
