package logger

import (
	"fmt"

	"github.com/dealmoa/deal-crawler/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// errorCounterHook counts error entries by error_type and, for crawl code, by source.
type errorCounterHook struct{}

func (h *errorCounterHook) Fire(entry *log.Entry) error {
	errorType, ok := entry.Data[ErrorTypeField].(string)
	if !ok {
		errorType = "unknown"
	}
	metrics.ErrorsCounter.WithLabelValues(errorType).Inc()

	if source, ok := entry.Data["source"]; ok {
		metrics.SourceErrors.WithLabelValues(fmt.Sprint(source)).Inc()
	}
	return nil
}

func (h *errorCounterHook) Levels() []log.Level {
	return []log.Level{
		log.ErrorLevel,
		log.FatalLevel,
		log.PanicLevel,
	}
}

func addPrometheusHook() {
	log.AddHook(&errorCounterHook{})
}
