package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/metrics"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSubscriberBuffer = 64
	snapshotTTL             = 24 * time.Hour
)

type ProgressHandler func(events.ProgressEvent)

// ProgressSnapshot is the last known state of one run, kept for polling consumers.
type ProgressSnapshot struct {
	Key           string        `json:"key"`
	JobID         string        `json:"job_id,omitempty"`
	Source        models.Source `json:"source"`
	CurrentStep   string        `json:"current_step"`
	CurrentPage   int           `json:"current_page"`
	TotalExpected int           `json:"total_expected"`
	ItemsCrawled  int           `json:"items_crawled"`
	NewDeals      int           `json:"new_deals"`
	UpdatedDeals  int           `json:"updated_deals"`
	Error         string        `json:"error,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ProgressKey is the job id for scheduled runs and "manual:<source>" for manual ones.
func ProgressKey(jobID string, source models.Source) string {
	if jobID != "" {
		return jobID
	}
	return "manual:" + string(source)
}

type subscriber struct {
	events  chan events.ProgressEvent
	handler ProgressHandler
}

// ProgressBus fans progress events out to subscribers without blocking the publisher.
// Each subscriber is drained by its own goroutine, so it sees events in publish order.
type ProgressBus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int

	snapshotMu sync.Mutex
	snapshots  *gocache.Cache
	latestKey  string
}

func NewProgressBus(bufferSize int) *ProgressBus {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &ProgressBus{
		subscribers: make(map[int]*subscriber),
		bufferSize:  bufferSize,
		snapshots:   gocache.New(snapshotTTL, time.Hour),
	}
}

// Subscribe registers handler and returns a function that removes it.
func (b *ProgressBus) Subscribe(handler ProgressHandler) func() {
	sub := &subscriber{
		events:  make(chan events.ProgressEvent, b.bufferSize),
		handler: handler,
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	go sub.drain()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub.events)
		}
	}
}

func (b *ProgressBus) Publish(event events.ProgressEvent) {
	b.record(event)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.events <- event:
		default:
			metrics.ProgressEventsDropped.Inc()
			log.WithFields(log.Fields{"job_id": event.JobID, "source": event.Source}).
				Debugf("progress subscriber is full, %s event dropped", event.Kind)
		}
	}
}

// Close removes every subscriber.
func (b *ProgressBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.events)
	}
}

func (s *subscriber) drain() {
	for event := range s.events {
		s.handle(event)
	}
}

func (s *subscriber) handle(event events.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("progress handler panicked on %s event: %v", event.Kind, r)
		}
	}()
	s.handler(event)
}

func (b *ProgressBus) Snapshot(key string) (ProgressSnapshot, bool) {
	value, found := b.snapshots.Get(key)
	if !found {
		return ProgressSnapshot{}, false
	}
	return value.(ProgressSnapshot), true
}

// Snapshots returns every live snapshot, most recently updated first.
func (b *ProgressBus) Snapshots() []ProgressSnapshot {
	items := b.snapshots.Items()
	snapshots := make([]ProgressSnapshot, 0, len(items))
	for _, item := range items {
		snapshots = append(snapshots, item.Object.(ProgressSnapshot))
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].UpdatedAt.After(snapshots[j].UpdatedAt)
	})
	return snapshots
}

func (b *ProgressBus) Latest() (ProgressSnapshot, bool) {
	b.snapshotMu.Lock()
	key := b.latestKey
	b.snapshotMu.Unlock()

	if key == "" {
		return ProgressSnapshot{}, false
	}
	return b.Snapshot(key)
}

func (b *ProgressBus) record(event events.ProgressEvent) {
	key := ProgressKey(event.JobID, event.Source)

	b.snapshotMu.Lock()
	defer b.snapshotMu.Unlock()

	snapshot, _ := b.Snapshot(key)
	snapshot.Key = key
	snapshot.JobID = event.JobID
	snapshot.Source = event.Source
	snapshot.UpdatedAt = event.At

	switch payload := event.Payload.(type) {
	case events.StartPayload:
		snapshot = ProgressSnapshot{
			Key:           key,
			JobID:         event.JobID,
			Source:        event.Source,
			CurrentStep:   "started",
			TotalExpected: payload.MaxPages,
			UpdatedAt:     event.At,
		}
	case events.ProgressPayload:
		snapshot.CurrentStep = fmt.Sprintf("page %d/%d", payload.Page, payload.MaxPages)
		snapshot.CurrentPage = payload.Page
		snapshot.TotalExpected = payload.MaxPages
		snapshot.ItemsCrawled = payload.ItemsCrawled
		snapshot.NewDeals = payload.Totals.New
		snapshot.UpdatedDeals = payload.Totals.Updated
	case events.CompletePayload:
		snapshot.CurrentStep = "completed"
		applyResult(&snapshot, payload.Result)
	case events.ErrorPayload:
		snapshot.CurrentStep = "failed"
		applyResult(&snapshot, payload.Result)
		if payload.Err != nil {
			snapshot.Error = payload.Err.Error()
		}
	}

	b.snapshots.Set(key, snapshot, gocache.DefaultExpiration)
	b.latestKey = key
}

func applyResult(snapshot *ProgressSnapshot, result models.RunResult) {
	snapshot.CurrentPage = len(result.Pages)
	snapshot.ItemsCrawled = result.Statistics.TotalCrawled
	snapshot.NewDeals = result.Statistics.NewDeals
	snapshot.UpdatedDeals = result.Statistics.UpdatedDeals
}
