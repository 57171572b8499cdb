package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrJobNotFound          = errors.New("job not found")
	ErrJobRunning           = errors.New("job is already running")
	ErrDuplicateDeal        = errors.New("deal with the same source and external id already exists")
	ErrDealNotFound         = errors.New("deal not found")
	ErrSchedulerStopped     = errors.New("scheduler is stopped")
)

// ConfigurationError is returned synchronously by mutating scheduler operations
// before any timer is armed or any page is fetched.
type ConfigurationError struct {
	Field  string
	Reason string
}

func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// FetchFailure aborts the remaining pages of a run. Pages reconciled before it stay persisted.
type FetchFailure struct {
	Source Source
	Page   int
	Err    error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("fetch %s page %d: %v", e.Source, e.Page, e.Err)
}

func (e *FetchFailure) Unwrap() error {
	return e.Err
}
