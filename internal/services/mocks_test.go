package services

import (
	"context"
	"sync"
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/stretchr/testify/mock"
)

type mockDealStore struct {
	mock.Mock
}

func (m *mockDealStore) FindBySourceAndExternalID(ctx context.Context, source models.Source, externalID string) (*models.DealRecord, error) {
	args := m.Called(ctx, source, externalID)
	record, _ := args.Get(0).(*models.DealRecord)
	return record, args.Error(1)
}

func (m *mockDealStore) Create(ctx context.Context, item models.DealItem) (*models.DealRecord, error) {
	args := m.Called(ctx, item)
	record, _ := args.Get(0).(*models.DealRecord)
	return record, args.Error(1)
}

func (m *mockDealStore) Update(ctx context.Context, id string, item models.DealItem) (*models.DealRecord, error) {
	args := m.Called(ctx, id, item)
	record, _ := args.Get(0).(*models.DealRecord)
	return record, args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchPage(ctx context.Context, source models.Source, page int, floor time.Time) (models.FetchedPage, error) {
	args := m.Called(ctx, source, page, floor)
	return args.Get(0).(models.FetchedPage), args.Error(1)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, req models.RunRequest) (models.RunResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.RunResult), args.Error(1)
}

func forJob(id string) interface{} {
	return mock.MatchedBy(func(req models.RunRequest) bool { return req.JobID == id })
}

type reconcilerFunc func(ctx context.Context, items []models.DealItem) models.ReconcileStats

func (f reconcilerFunc) ReconcilePage(ctx context.Context, items []models.DealItem) models.ReconcileStats {
	return f(ctx, items)
}

func allNew(_ context.Context, items []models.DealItem) models.ReconcileStats {
	return models.ReconcileStats{New: len(items)}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ProgressEvent
}

func (p *recordingPublisher) Publish(event events.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()

	kinds := make([]events.Kind, 0, len(p.events))
	for _, event := range p.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func (p *recordingPublisher) last() events.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type memoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]models.CrawlJob
}

func newMemoryJobStore(jobs ...models.CrawlJob) *memoryJobStore {
	store := &memoryJobStore{jobs: make(map[string]models.CrawlJob)}
	for _, job := range jobs {
		store.jobs[job.ID] = job
	}
	return store
}

func (s *memoryJobStore) Save(_ context.Context, job models.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memoryJobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memoryJobStore) List(_ context.Context) ([]models.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]models.CrawlJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	return jobs, nil
}

func (s *memoryJobStore) get(id string) (models.CrawlJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// gatedJobStore holds saves of one job until gate is closed.
type gatedJobStore struct {
	*memoryJobStore
	gate  chan struct{}
	gated string
}

func (s *gatedJobStore) Save(ctx context.Context, job models.CrawlJob) error {
	if job.ID == s.gated {
		<-s.gate
	}
	return s.memoryJobStore.Save(ctx, job)
}

// boardFetcher serves fixed pages and records which pages were requested.
type boardFetcher struct {
	mu       sync.Mutex
	pages    map[int]models.FetchedPage
	failures map[int]error
	fetched  []int
}

func (f *boardFetcher) FetchPage(_ context.Context, _ models.Source, page int, _ time.Time) (models.FetchedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, page)
	if err, failed := f.failures[page]; failed {
		return models.FetchedPage{}, err
	}
	result, ok := f.pages[page]
	if !ok {
		return models.FetchedPage{}, nil
	}
	items := make([]models.DealItem, len(result.Items))
	copy(items, result.Items)
	return models.FetchedPage{Items: items, HasMore: result.HasMore}, nil
}
