package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Logger  LoggerConfig            `mapstructure:"logger"`
	DB      DBConfig                `mapstructure:"db"`
	Crawler CrawlerConfig           `mapstructure:"crawler"`
	API     APIConfig               `mapstructure:"api"`
	Sources map[string]SourceConfig `mapstructure:"sources"`
	Jobs    []JobConfig             `mapstructure:"jobs"`
}

var configFile = "./configs/config.yaml"

func Get() *Config {

	if path, ok := os.LookupEnv("CONFIG_PATH"); ok && path != "" {
		configFile = path
	}

	config, err := loadConfig(configFile)
	if err != nil {
		log.Fatal(err)
	}

	return config
}

func loadConfig(file string) (*Config, error) {

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("can't load .env file: %v", err)
	}

	v := viper.New()
	v.SetConfigFile(file)
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindEnvironmentVariables(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", file, err)
	}

	config := Config{}
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.log_level", LevelInfo)
	v.SetDefault("logger.app_name", "deal-crawler")
	v.SetDefault("logger.output_file", "./logs/crawler.log")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.state_path", "./data/state.db")
	v.SetDefault("crawler.max_concurrent_runs", 4)
	v.SetDefault("crawler.default_max_pages", 3)
	v.SetDefault("crawler.default_time_window_hours", 24)
	v.SetDefault("crawler.delay_between_pages", "2s")
	v.SetDefault("crawler.per_page_timeout", "30s")
	v.SetDefault("crawler.lookup_cache_ttl", "10m")
	v.SetDefault("crawler.cleanup_schedule", "0 0 * * *")
	v.SetDefault("api.addr", ":8080")
}

func bindEnvironmentVariables(v *viper.Viper) error {
	var errs []error

	db, logger, crawler, api := DBConfig{}, LoggerConfig{}, CrawlerConfig{}, APIConfig{}

	if err := db.bindEnvironmentVariables(v); err != nil {
		errs = append(errs, fmt.Errorf("DBConfig: %w", err))
	}

	if err := logger.bindEnvironmentVariables(v); err != nil {
		errs = append(errs, fmt.Errorf("LoggerConfig: %w", err))
	}

	if err := crawler.bindEnvironmentVariables(v); err != nil {
		errs = append(errs, fmt.Errorf("CrawlerConfig: %w", err))
	}

	if err := api.bindEnvironmentVariables(v); err != nil {
		errs = append(errs, fmt.Errorf("APIConfig: %w", err))
	}

	return createMultiError(errs)
}

func (config Config) validate() error {
	var errs []error

	if err := config.DB.validate(); err != nil {
		errs = append(errs, fmt.Errorf("DBConfig: %w", err))
	}

	if err := config.Logger.validate(); err != nil {
		errs = append(errs, fmt.Errorf("LoggerConfig: %w", err))
	}

	if err := config.Crawler.validate(); err != nil {
		errs = append(errs, fmt.Errorf("CrawlerConfig: %w", err))
	}

	if len(config.Sources) == 0 {
		errs = append(errs, errors.New("no sources configured"))
	}

	for name, source := range config.Sources {
		if err := source.validate(name); err != nil {
			errs = append(errs, fmt.Errorf("SourceConfig %s: %w", name, err))
		}
	}

	for i, job := range config.Jobs {
		if _, ok := config.Sources[job.Source]; !ok {
			errs = append(errs, fmt.Errorf("JobConfig #%d: source %q is not configured", i, job.Source))
		}
	}

	return createMultiError(errs)
}

func createMultiError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("multiple errors occurred: %w", errors.Join(errs...))
}
