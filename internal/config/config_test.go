package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
logger:
  log_level: DEBUG
  output_file: ./logs/test.log
db:
  driver: sqlite
  connection_string: deals.db
  state_path: state.db
crawler:
  max_concurrent_runs: 2
  default_max_pages: 5
  delay_between_pages: 1s
  per_page_timeout: 10s
sources:
  ppomppu:
    base_url: https://www.ppomppu.co.kr
    list_path: /zboard/zboard.php?id=ppomppu&page={page}
    encoding: euc-kr
    selectors:
      item: tr.baseList
      title: a.baseList-title
      link: a.baseList-title
    id_pattern: 'no=(\d+)'
jobs:
  - source: ppomppu
    schedule: "*/10 * * * *"
    enabled: true
    max_pages: 2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func Test_Config_LoadsFileAndDefaults(t *testing.T) {

	cfg, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, LevelDebug, cfg.Logger.LogLevel)
	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, 2, cfg.Crawler.MaxConcurrentRuns)
	assert.Equal(t, 5, cfg.Crawler.DefaultMaxPages)
	assert.Equal(t, time.Second, cfg.Crawler.DelayBetweenPages)
	assert.Equal(t, 10*time.Second, cfg.Crawler.PerPageTimeout)
	assert.Equal(t, 24, cfg.Crawler.DefaultTimeWindowHours)
	assert.Equal(t, 10*time.Minute, cfg.Crawler.LookupCacheTTL)
	assert.Equal(t, 0, cfg.Crawler.DealRetentionDays)
	assert.Equal(t, "0 0 * * *", cfg.Crawler.CleanupSchedule)
	assert.Equal(t, ":8080", cfg.API.Addr)

	require.Contains(t, cfg.Sources, "ppomppu")
	assert.Equal(t, "euc-kr", cfg.Sources["ppomppu"].Encoding)
	assert.Equal(t, "tr.baseList", cfg.Sources["ppomppu"].Selectors.Item)

	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "ppomppu", cfg.Jobs[0].Source)
	assert.Equal(t, 2, cfg.Jobs[0].MaxPages)
}

func Test_Config_EnvironmentOverrideWorksCorrect(t *testing.T) {

	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_CONNECTION_STRING", "postgres://crawler@localhost/deals")
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("CRAWLER_MAX_CONCURRENT_RUNS", "8")
	t.Setenv("CRAWLER_PER_PAGE_TIMEOUT", "45s")
	t.Setenv("API_ADDR", ":9090")

	cfg, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, "postgres://crawler@localhost/deals", cfg.DB.ConnectionString)
	assert.Equal(t, LevelError, cfg.Logger.LogLevel)
	assert.Equal(t, 8, cfg.Crawler.MaxConcurrentRuns)
	assert.Equal(t, 45*time.Second, cfg.Crawler.PerPageTimeout)
	assert.Equal(t, ":9090", cfg.API.Addr)
}

func Test_Config_InvalidSectionsAreReported(t *testing.T) {

	content := `
logger:
  log_level: LOUD
db:
  driver: mongo
  connection_string: x
crawler:
  max_concurrent_runs: 0
  per_page_timeout: 10s
sources:
  nosuchsite:
    base_url: https://example.com
    list_path: /list
    selectors:
      item: tr
jobs:
  - source: clien
    schedule: "* * * * *"
`
	_, err := loadConfig(writeConfig(t, content))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "unknown log_level")
	assert.Contains(t, msg, "unsupported driver")
	assert.Contains(t, msg, "max_concurrent_runs")
	assert.Contains(t, msg, "unknown source")
	assert.Contains(t, msg, "{page}")
	assert.Contains(t, msg, `source "clien" is not configured`)
}

func Test_Config_ShippedConfigIsValid(t *testing.T) {

	cfg, err := loadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 3)
	assert.NotEmpty(t, cfg.Jobs)
	assert.Equal(t, 30, cfg.Crawler.DealRetentionDays)
}
