package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dealmoa/deal-crawler/internal/api"
	"github.com/dealmoa/deal-crawler/internal/domain/events"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/dealmoa/deal-crawler/internal/logger"
	"github.com/dealmoa/deal-crawler/internal/metrics"
	"github.com/dealmoa/deal-crawler/internal/repositories"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const stopTimeout = 30 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the operator API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := loadConfig()

			logger.Setup(ctx, cfg.Logger)
			defer logger.Cleanup()
			metrics.Register()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.restoreJobs(ctx); err != nil {
				return err
			}
			a.scheduler.Start()
			if err := a.startCleaner(); err != nil {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			server := api.NewServer(cfg.API, cfg.Crawler, a.scheduler, a.progress)
			serveErr := server.Run(ctx)

			log.Info("shutting down scheduler...")
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			a.scheduler.Stop(stopCtx)

			return serveErr
		},
	}
}

func crawlCommand() *cobra.Command {
	var (
		source string
		pages  int
		hours  int
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one manual crawl of a source and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := loadConfig()

			logger.Setup(ctx, cfg.Logger)
			defer logger.Cleanup()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			unsubscribe := a.progress.Subscribe(func(event events.ProgressEvent) {
				if payload, ok := event.Payload.(events.ProgressPayload); ok {
					log.Infof("page %d/%d: %d items, %d crawled so far",
						payload.Page, payload.MaxPages, payload.PageItems, payload.ItemsCrawled)
				}
			})
			defer unsubscribe()

			if !cmd.Flags().Changed("pages") {
				pages = cfg.Crawler.DefaultMaxPages
			}
			if !cmd.Flags().Changed("hours") {
				hours = cfg.Crawler.DefaultTimeWindowHours
			}

			result, runErr := a.scheduler.RunCrawlManually(ctx, models.Source(source),
				models.ManualRunOptions{MaxPages: pages, TimeWindowHours: hours})

			if runErr != nil && len(result.Pages) == 0 {
				return runErr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source:        %s\n", source)
			fmt.Fprintf(out, "pages:         %d (%s)\n", len(result.Pages), result.StopReason)
			fmt.Fprintf(out, "total crawled: %d\n", result.Statistics.TotalCrawled)
			fmt.Fprintf(out, "new deals:     %d\n", result.Statistics.NewDeals)
			fmt.Fprintf(out, "updated deals: %d\n", result.Statistics.UpdatedDeals)
			fmt.Fprintf(out, "failed items:  %d\n", result.Failed)
			fmt.Fprintf(out, "duration:      %v\n", time.Duration(result.Statistics.DurationMs)*time.Millisecond)

			return runErr
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source to crawl, e.g. ppomppu")
	cmd.Flags().IntVar(&pages, "pages", 0, "maximum number of pages")
	cmd.Flags().IntVar(&hours, "hours", 0, "only keep posts from the last N hours, 0 for no limit")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func jobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List persisted crawl jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()

			state, err := repositories.NewDbContext(cfg.DB.StatePath)
			if err != nil {
				return err
			}
			defer state.Close()
			if err := state.Migrate(); err != nil {
				return err
			}

			jobs, err := repositories.NewJobsRepository(state.DB).List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSOURCE\tSCHEDULE\tENABLED\tSTATUS\tLAST RUN\tNEXT RUN")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%s\t%s\n",
					job.ID, job.Name, job.Source, job.Schedule, job.Enabled, job.Status,
					formatTime(job.LastRun), formatTime(job.NextRun))
			}
			return w.Flush()
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
