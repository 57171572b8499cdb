package api

import (
	"net/http"
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	streamBuffer      = 32
	heartbeatInterval = 15 * time.Second
)

type progressHandler struct {
	progress progressFeed
}

// progressMessage is the wire form of a progress event.
type progressMessage struct {
	Kind         string            `json:"kind"`
	JobID        string            `json:"job_id,omitempty"`
	Source       models.Source     `json:"source"`
	At           time.Time         `json:"at"`
	Page         int               `json:"page,omitempty"`
	MaxPages     int               `json:"max_pages,omitempty"`
	ItemsCrawled int               `json:"items_crawled"`
	NewDeals     int               `json:"new_deals"`
	UpdatedDeals int               `json:"updated_deals"`
	Failed       int               `json:"failed"`
	StopReason   models.StopReason `json:"stop_reason,omitempty"`
	Error        string            `json:"error,omitempty"`
}

func newProgressMessage(event events.ProgressEvent) progressMessage {
	msg := progressMessage{
		Kind:   event.Kind.String(),
		JobID:  event.JobID,
		Source: event.Source,
		At:     event.At,
	}

	switch payload := event.Payload.(type) {
	case events.StartPayload:
		msg.MaxPages = payload.MaxPages
	case events.ProgressPayload:
		msg.Page = payload.Page
		msg.MaxPages = payload.MaxPages
		msg.ItemsCrawled = payload.ItemsCrawled
		msg.NewDeals = payload.Totals.New
		msg.UpdatedDeals = payload.Totals.Updated
		msg.Failed = payload.Totals.Failed
	case events.CompletePayload:
		msg.withResult(payload.Result)
	case events.ErrorPayload:
		msg.withResult(payload.Result)
		if payload.Err != nil {
			msg.Error = payload.Err.Error()
		}
	}
	return msg
}

func (m *progressMessage) withResult(result models.RunResult) {
	m.Page = len(result.Pages)
	m.ItemsCrawled = result.Statistics.TotalCrawled
	m.NewDeals = result.Statistics.NewDeals
	m.UpdatedDeals = result.Statistics.UpdatedDeals
	m.Failed = result.Failed
	m.StopReason = result.StopReason
}

func (h *progressHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.progress.Snapshots()})
}

func (h *progressHandler) get(c *gin.Context) {
	snapshot, ok := h.progress.Snapshot(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no progress recorded for " + c.Param("key")})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// latest returns the snapshot of the most recently updated run.
func (h *progressHandler) latest(c *gin.Context) {
	snapshot, ok := h.progress.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no progress recorded yet"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// stream pushes every progress event to the client as server-sent events.
// Events are dropped for a client that cannot keep up.
func (h *progressHandler) stream(c *gin.Context) {
	feed := make(chan events.ProgressEvent, streamBuffer)
	unsubscribe := h.progress.Subscribe(func(event events.ProgressEvent) {
		select {
		case feed <- event:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case event := <-feed:
			c.SSEvent(event.Kind.String(), newProgressMessage(event))
		case at := <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": at.UTC()})
		case <-ctx.Done():
			log.Debug("progress stream client disconnected")
			return
		}
		c.Writer.Flush()
	}
}
