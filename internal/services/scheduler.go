package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dealmoa/deal-crawler/internal/config"
	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/logger"
	"github.com/dealmoa/deal-crawler/internal/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const interruptedRunError = "interrupted"

var errJobDisabled = errors.New("job is disabled")

type crawlRunner interface {
	Run(ctx context.Context, req models.RunRequest) (models.RunResult, error)
}

type jobStore interface {
	Save(ctx context.Context, job models.CrawlJob) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.CrawlJob, error)
}

type scheduledJob struct {
	job      models.CrawlJob
	schedule cron.Schedule
	entryID  cron.EntryID
	armed    bool
}

// writeSlot orders store writes of one job. seq is the newest mutation written.
type writeSlot struct {
	mu  sync.Mutex
	seq uint64
}

// Scheduler owns the crawl job definitions, arms a cron entry for each enabled job
// and writes run outcomes back to the job. A job never runs twice at the same time.
type Scheduler struct {
	cron      *cron.Cron
	runner    crawlRunner
	progress  progressPublisher
	store     jobStore
	validator *jobValidator
	sem       *semaphore.Weighted
	cfg       config.CrawlerConfig

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	running map[string]bool
	stopped bool

	seq     atomic.Uint64
	slots   sync.Map
	dropped atomic.Int64
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

func NewScheduler(runner crawlRunner, progress progressPublisher, store jobStore, sources []models.Source, cfg config.CrawlerConfig) *Scheduler {
	maxRuns := cfg.MaxConcurrentRuns
	if maxRuns < 1 {
		maxRuns = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log.StandardLogger()))),
		),
		runner:    runner,
		progress:  progress,
		store:     store,
		validator: newJobValidator(sources),
		sem:       semaphore.NewWeighted(int64(maxRuns)),
		cfg:       cfg,
		jobs:      make(map[string]*scheduledJob),
		running:   make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Infof("scheduler started with %d jobs", len(s.GetAllJobs()))
}

// Stop disarms every timer and waits for in-flight runs. When ctx expires first the
// runs are canceled and Stop still waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("scheduler stop deadline reached, canceling in-flight runs")
		s.cancel()
		<-done
	}
	s.cancel()
	log.Info("scheduler stopped")
}

// Restore loads persisted jobs. A job persisted as running was interrupted by a restart
// and comes back as failed. A job that no longer passes validation, for example because
// its source was removed from the configuration, comes back disabled with the reason in
// LastError.
func (s *Scheduler) Restore(ctx context.Context) error {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list persisted jobs")
	}

	type pendingWrite struct {
		job models.CrawlJob
		seq uint64
	}
	var writes []pendingWrite

	s.mu.Lock()
	for _, job := range jobs {
		schedule, err := ParseSchedule(job.Schedule)
		if err != nil {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeScheduler).
				Errorf("skipping persisted job %s with invalid schedule %q: %v", job.ID, job.Schedule, err)
			continue
		}

		if job.Status == models.StatusRunning {
			job.Status = models.StatusFailed
			job.LastError = interruptedRunError
		}

		if err := s.validator.Struct(job); err != nil {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeScheduler).
				WithField("job_id", job.ID).
				Errorf("persisted job is invalid, restoring it disabled: %v", err)
			job.Enabled = false
			job.LastError = err.Error()
		}

		if existing, ok := s.jobs[job.ID]; ok {
			s.disarm(existing)
		}
		s.register(job, schedule)
		writes = append(writes, pendingWrite{job: s.jobs[job.ID].job.Clone(), seq: s.seq.Add(1)})
	}
	restored := len(s.jobs)
	s.mu.Unlock()

	for _, w := range writes {
		s.persist(w.job, w.seq)
	}

	log.Infof("restored %d crawl jobs", restored)
	return nil
}

// AddJob validates job, assigns an id when it has none and arms it when enabled.
// A job with an existing id replaces the previous definition.
func (s *Scheduler) AddJob(ctx context.Context, job models.CrawlJob) (models.CrawlJob, error) {
	if err := s.validator.Struct(job); err != nil {
		return models.CrawlJob{}, err
	}
	schedule, err := ParseSchedule(job.Schedule)
	if err != nil {
		return models.CrawlJob{}, models.NewConfigurationError("schedule", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	switch {
	case s.running[job.ID]:
		job.Status = models.StatusRunning
	case job.Status == "" || job.Status == models.StatusRunning:
		job.Status = models.StatusIdle
	}

	job.NextRun = nil
	if job.Enabled {
		next := schedule.Next(s.now())
		job.NextRun = &next
	}

	if err := s.write(job.ID, s.seq.Add(1), func() error { return s.store.Save(ctx, job) }); err != nil {
		return models.CrawlJob{}, errors.Wrapf(err, "persist job %s", job.ID)
	}

	if existing, ok := s.jobs[job.ID]; ok {
		s.disarm(existing)
		delete(s.jobs, job.ID)
	}
	s.register(job, schedule)

	log.WithFields(log.Fields{"job_id": job.ID, "source": job.Source}).
		Infof("crawl job added, schedule: %q, enabled: %v", job.Schedule, job.Enabled)
	return s.jobs[job.ID].job.Clone(), nil
}

// RemoveJob disarms and forgets the job. Removing an unknown id is a no-op.
// A run already in progress finishes but its outcome is discarded.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.jobs[id]; ok {
		s.disarm(entry)
		delete(s.jobs, id)
		log.WithField("job_id", id).Info("crawl job removed")
	}

	return s.write(id, s.seq.Add(1), func() error { return s.store.Delete(ctx, id) })
}

// ToggleJob arms or disarms the job. Status, statistics and last run are kept.
func (s *Scheduler) ToggleJob(ctx context.Context, id string, enabled bool) (models.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return models.CrawlJob{}, errors.Wrap(models.ErrJobNotFound, id)
	}

	entry.job.Enabled = enabled
	if enabled {
		s.arm(entry)
	} else {
		s.disarm(entry)
		entry.job.NextRun = nil
	}

	job := entry.job.Clone()
	if err := s.write(id, s.seq.Add(1), func() error { return s.store.Save(ctx, job) }); err != nil {
		return models.CrawlJob{}, errors.Wrapf(err, "persist job %s", id)
	}
	return job, nil
}

// TriggerJob starts a run of a defined job right away without waiting for it.
func (s *Scheduler) TriggerJob(id string) error {
	job, seq, err := s.begin(id, false)
	if err != nil {
		return err
	}
	go s.execute(job, seq)
	return nil
}

// RunCrawlManually runs one crawl of source outside of any job and waits for it.
// It shares the concurrency limit with scheduled runs but never blocks their timers.
func (s *Scheduler) RunCrawlManually(ctx context.Context, source models.Source, opts models.ManualRunOptions) (models.RunResult, error) {
	if err := s.validator.Source(source); err != nil {
		return models.RunResult{}, err
	}
	if err := s.validator.Struct(opts); err != nil {
		return models.RunResult{}, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return models.RunResult{}, err
	}
	defer s.sem.Release(1)

	return s.runner.Run(ctx, models.RunRequest{
		Source:            source,
		MaxPages:          opts.MaxPages,
		TimeWindowFloor:   models.TimeWindowFloor(s.now(), opts.TimeWindowHours),
		DelayBetweenPages: s.cfg.DelayBetweenPages,
		PerPageTimeout:    s.cfg.PerPageTimeout,
	})
}

func (s *Scheduler) GetAllJobs() []models.CrawlJob {
	s.mu.Lock()
	jobs := make([]models.CrawlJob, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, entry.job.Clone())
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

func (s *Scheduler) GetJob(id string) (models.CrawlJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return models.CrawlJob{}, false
	}
	return entry.job.Clone(), true
}

// DroppedTriggers counts timer ticks skipped because the job was still running.
func (s *Scheduler) DroppedTriggers() int64 {
	return s.dropped.Load()
}

// Sources lists the sources jobs and manual runs may target.
func (s *Scheduler) Sources() []models.Source {
	sources := make([]models.Source, 0, len(s.validator.sources))
	for source := range s.validator.sources {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources
}

// fire is the timer callback of a job.
func (s *Scheduler) fire(id string) {
	job, seq, err := s.begin(id, true)
	switch {
	case err == nil:
		s.execute(job, seq)
	case errors.Is(err, models.ErrJobRunning):
		s.dropped.Add(1)
		metrics.TriggersDropped.WithLabelValues(id).Inc()
		log.WithField("job_id", id).Warn("previous run is still in progress, trigger dropped")
	default:
		log.WithField("job_id", id).Debugf("trigger ignored: %v", err)
	}
}

// begin marks the job running and returns the definition to run together with the
// write sequence of the running status.
func (s *Scheduler) begin(id string, scheduled bool) (models.CrawlJob, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return models.CrawlJob{}, 0, models.ErrSchedulerStopped
	}
	entry, ok := s.jobs[id]
	if !ok {
		return models.CrawlJob{}, 0, errors.Wrap(models.ErrJobNotFound, id)
	}
	if scheduled && !entry.job.Enabled {
		return models.CrawlJob{}, 0, errJobDisabled
	}
	if s.running[id] {
		return models.CrawlJob{}, 0, errors.Wrap(models.ErrJobRunning, id)
	}

	s.running[id] = true
	s.wg.Add(1)
	entry.job.Status = models.StatusRunning

	return entry.job.Clone(), s.seq.Add(1), nil
}

func (s *Scheduler) execute(job models.CrawlJob, seq uint64) {
	defer s.wg.Done()

	s.persist(job, seq)

	start := s.now()
	result, err := s.run(job, start)
	s.finish(job.ID, start, result, err)
}

// run executes one scheduled crawl. Failures that happen before the runner reports an
// outcome, such as a canceled wait for a run slot or a panic, are published as error
// events here so every run ends with one on the progress bus.
func (s *Scheduler) run(job models.CrawlJob, start time.Time) (result models.RunResult, err error) {
	req := models.RunRequest{
		JobID:             job.ID,
		Source:            job.Source,
		MaxPages:          job.MaxPages,
		TimeWindowFloor:   models.TimeWindowFloor(start, job.TimeWindowHours),
		DelayBetweenPages: s.cfg.DelayBetweenPages,
		PerPageTimeout:    s.cfg.PerPageTimeout,
	}

	reported := false
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("crawl run panicked: %v", rec)
		}
		if err != nil && !reported {
			result.JobID, result.Source = job.ID, job.Source
			if result.StartedAt.IsZero() {
				result.StartedAt = start
			}
			s.progress.Publish(events.Failed(req, result, err))
		}
	}()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return models.RunResult{}, errors.Wrap(err, "waiting for a run slot")
	}
	defer s.sem.Release(1)

	result, err = s.runner.Run(s.ctx, req)
	reported = true
	return result, err
}

// finish writes the run outcome back to the current definition of the job.
func (s *Scheduler) finish(id string, start time.Time, result models.RunResult, runErr error) {
	s.mu.Lock()

	delete(s.running, id)

	entry, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	lastRun := start
	entry.job.LastRun = &lastRun
	if runErr != nil {
		entry.job.Status = models.StatusFailed
		entry.job.LastError = runErr.Error()
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeScheduler).
			WithField("job_id", id).
			Errorf("crawl job failed: %v", runErr)
	} else {
		stats := result.Statistics
		entry.job.Status = models.StatusIdle
		entry.job.Statistics = &stats
		entry.job.LastError = ""
	}

	entry.job.NextRun = nil
	if entry.job.Enabled {
		next := entry.schedule.Next(s.now())
		entry.job.NextRun = &next
	}

	job, seq := entry.job.Clone(), s.seq.Add(1)
	s.mu.Unlock()

	s.persist(job, seq)
}

// register stores job and arms it when enabled. Caller holds mu.
func (s *Scheduler) register(job models.CrawlJob, schedule cron.Schedule) {
	entry := &scheduledJob{job: job, schedule: schedule}
	entry.job.NextRun = nil
	s.jobs[job.ID] = entry
	if job.Enabled {
		s.arm(entry)
	}
}

func (s *Scheduler) arm(entry *scheduledJob) {
	if entry.armed {
		return
	}
	id := entry.job.ID
	entry.entryID = s.cron.Schedule(entry.schedule, cron.FuncJob(func() { s.fire(id) }))
	entry.armed = true

	next := entry.schedule.Next(s.now())
	entry.job.NextRun = &next
}

func (s *Scheduler) disarm(entry *scheduledJob) {
	if !entry.armed {
		return
	}
	s.cron.Remove(entry.entryID)
	entry.armed = false
}

// write runs a store operation for job id unless a newer mutation of that job has
// already been written. seq must be taken under mu together with the mutation.
func (s *Scheduler) write(id string, seq uint64, op func() error) error {
	value, _ := s.slots.LoadOrStore(id, &writeSlot{})
	slot := value.(*writeSlot)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if seq < slot.seq {
		return nil
	}
	if err := op(); err != nil {
		return err
	}
	slot.seq = seq
	return nil
}

// persist saves a job snapshot taken under mu. It is called without holding mu.
func (s *Scheduler) persist(job models.CrawlJob, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	save := func() error { return s.store.Save(ctx, job) }
	if err := s.write(job.ID, seq, save); err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
			WithField("job_id", job.ID).
			Errorf("failed to persist crawl job: %v", err)
	}
}
