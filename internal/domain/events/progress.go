package events

import (
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
)

type Kind int

const (
	KindStart Kind = iota
	KindProgress
	KindComplete
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindProgress:
		return "progress"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ProgressEvent is a point-in-time notification about one crawl run. It is never persisted.
type ProgressEvent struct {
	Kind    Kind
	JobID   string
	Source  models.Source
	At      time.Time
	Payload Payload
}

// Payload is implemented only by the payload types of this package.
type Payload interface {
	kind() Kind
}

type StartPayload struct {
	MaxPages        int
	TimeWindowFloor time.Time
}

type ProgressPayload struct {
	Page         int
	MaxPages     int
	PageItems    int
	ItemsCrawled int
	Totals       models.ReconcileStats
}

type CompletePayload struct {
	Result models.RunResult
}

type ErrorPayload struct {
	Err    error
	Result models.RunResult
}

func (StartPayload) kind() Kind    { return KindStart }
func (ProgressPayload) kind() Kind { return KindProgress }
func (CompletePayload) kind() Kind { return KindComplete }
func (ErrorPayload) kind() Kind    { return KindError }

func newEvent(jobID string, source models.Source, payload Payload) ProgressEvent {
	return ProgressEvent{
		Kind:    payload.kind(),
		JobID:   jobID,
		Source:  source,
		At:      time.Now(),
		Payload: payload,
	}
}

func Started(req models.RunRequest) ProgressEvent {
	return newEvent(req.JobID, req.Source, StartPayload{MaxPages: req.MaxPages, TimeWindowFloor: req.TimeWindowFloor})
}

func PageProcessed(req models.RunRequest, page, pageItems int, result models.RunResult) ProgressEvent {
	return newEvent(req.JobID, req.Source, ProgressPayload{
		Page:         page,
		MaxPages:     req.MaxPages,
		PageItems:    pageItems,
		ItemsCrawled: result.Statistics.TotalCrawled,
		Totals: models.ReconcileStats{
			New:     result.Statistics.NewDeals,
			Updated: result.Statistics.UpdatedDeals,
			Failed:  result.Failed,
		},
	})
}

func Completed(req models.RunRequest, result models.RunResult) ProgressEvent {
	return newEvent(req.JobID, req.Source, CompletePayload{Result: result})
}

func Failed(req models.RunRequest, result models.RunResult, err error) ProgressEvent {
	return newEvent(req.JobID, req.Source, ErrorPayload{Err: err, Result: result})
}
