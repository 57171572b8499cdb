package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type CrawlerConfig struct {
	MaxConcurrentRuns      int           `mapstructure:"max_concurrent_runs"`
	DefaultMaxPages        int           `mapstructure:"default_max_pages"`
	DefaultTimeWindowHours int           `mapstructure:"default_time_window_hours"`
	DelayBetweenPages      time.Duration `mapstructure:"delay_between_pages"`
	PerPageTimeout         time.Duration `mapstructure:"per_page_timeout"`
	LookupCacheTTL         time.Duration `mapstructure:"lookup_cache_ttl"`
	DealRetentionDays      int           `mapstructure:"deal_retention_days"`
	CleanupSchedule        string        `mapstructure:"cleanup_schedule"`
}

func (config CrawlerConfig) validate() error {
	var errs []error

	if config.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("max_concurrent_runs must be at least 1"))
	}
	if config.DefaultMaxPages < 1 {
		errs = append(errs, errors.New("default_max_pages must be at least 1"))
	}
	if config.DefaultTimeWindowHours < 0 {
		errs = append(errs, errors.New("default_time_window_hours must be non-negative"))
	}
	if config.DelayBetweenPages < 0 {
		errs = append(errs, errors.New("delay_between_pages must be non-negative"))
	}
	if config.PerPageTimeout <= 0 {
		errs = append(errs, errors.New("per_page_timeout must be positive"))
	}
	if config.DealRetentionDays < 0 {
		errs = append(errs, errors.New("deal_retention_days must be non-negative"))
	}

	return createMultiError(errs)
}

func (config CrawlerConfig) bindEnvironmentVariables(v *viper.Viper) error {
	var errs []error
	if err := v.BindEnv("crawler.max_concurrent_runs", "CRAWLER_MAX_CONCURRENT_RUNS"); err != nil {
		errs = append(errs, err)
	}
	if err := v.BindEnv("crawler.delay_between_pages", "CRAWLER_DELAY_BETWEEN_PAGES"); err != nil {
		errs = append(errs, err)
	}
	if err := v.BindEnv("crawler.per_page_timeout", "CRAWLER_PER_PAGE_TIMEOUT"); err != nil {
		errs = append(errs, err)
	}
	if err := v.BindEnv("crawler.deal_retention_days", "CRAWLER_DEAL_RETENTION_DAYS"); err != nil {
		errs = append(errs, err)
	}
	return createMultiError(errs)
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

func (config APIConfig) bindEnvironmentVariables(v *viper.Viper) error {
	return v.BindEnv("api.addr", "API_ADDR")
}

// JobConfig seeds the job store on first start.
type JobConfig struct {
	Name            string `mapstructure:"name"`
	Source          string `mapstructure:"source"`
	Schedule        string `mapstructure:"schedule"`
	Enabled         bool   `mapstructure:"enabled"`
	MaxPages        int    `mapstructure:"max_pages"`
	TimeWindowHours int    `mapstructure:"time_window_hours"`
}
