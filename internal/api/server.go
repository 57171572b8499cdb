package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dealmoa/deal-crawler/internal/config"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

type jobScheduler interface {
	AddJob(ctx context.Context, job models.CrawlJob) (models.CrawlJob, error)
	RemoveJob(ctx context.Context, id string) error
	ToggleJob(ctx context.Context, id string, enabled bool) (models.CrawlJob, error)
	TriggerJob(id string) error
	RunCrawlManually(ctx context.Context, source models.Source, opts models.ManualRunOptions) (models.RunResult, error)
	GetAllJobs() []models.CrawlJob
	GetJob(id string) (models.CrawlJob, bool)
	DroppedTriggers() int64
	Sources() []models.Source
}

type progressFeed interface {
	Subscribe(handler services.ProgressHandler) func()
	Snapshot(key string) (services.ProgressSnapshot, bool)
	Snapshots() []services.ProgressSnapshot
	Latest() (services.ProgressSnapshot, bool)
}

// Server is the operator HTTP surface of the crawler.
type Server struct {
	router *gin.Engine
	server *http.Server
}

func NewServer(cfg config.APIConfig, defaults config.CrawlerConfig, scheduler jobScheduler, progress progressFeed) *Server {
	router := gin.New()
	router.Use(recoveryMiddleware(), loggerMiddleware())

	jobs := &jobHandler{scheduler: scheduler, defaults: defaults}
	feed := &progressHandler{progress: progress}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"jobs":             len(scheduler.GetAllJobs()),
			"dropped_triggers": scheduler.DroppedTriggers(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/sources", jobs.listSources)
	api.GET("/jobs", jobs.list)
	api.POST("/jobs", jobs.create)
	api.GET("/jobs/:id", jobs.get)
	api.DELETE("/jobs/:id", jobs.remove)
	api.PUT("/jobs/:id/enabled", jobs.toggle)
	api.POST("/jobs/:id/run", jobs.trigger)
	api.POST("/crawl", jobs.crawl)
	api.GET("/progress", feed.list)
	api.GET("/progress/stream", feed.stream)
	api.GET("/progress/latest", feed.latest)
	api.GET("/progress/:key", feed.get)

	return &Server{
		router: router,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       time.Minute,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("api listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
