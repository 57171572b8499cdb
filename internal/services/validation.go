package services

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule accepts standard five-field expressions, an optional leading seconds
// field and descriptors such as "@hourly" or "@every 30m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

type jobValidator struct {
	validate *validator.Validate
	sources  map[models.Source]bool
}

func newJobValidator(sources []models.Source) *jobValidator {
	v := &jobValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		sources:  make(map[models.Source]bool, len(sources)),
	}
	for _, source := range sources {
		v.sources[source] = true
	}

	v.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// overrides the built-in cron tag, which does not know descriptors
	_ = v.validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cronParser.Parse(fl.Field().String())
		return err == nil
	})
	_ = v.validate.RegisterValidation("source", func(fl validator.FieldLevel) bool {
		return v.sources[models.Source(fl.Field().String())]
	})

	return v
}

func (v *jobValidator) isRegistered(source models.Source) bool {
	return v.sources[source]
}

func (v *jobValidator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return err
	}
	first := fieldErrors[0]
	return models.NewConfigurationError(first.Field(), describe(first))
}

func (v *jobValidator) Source(source models.Source) error {
	if source == "" {
		return models.NewConfigurationError("source", "is required")
	}
	if !v.isRegistered(source) {
		return models.NewConfigurationError("source", fmt.Sprintf("%q is not registered", source))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "cron":
		return fmt.Sprintf("%q is not a valid cron expression", fe.Value())
	case "source":
		return fmt.Sprintf("%q is not registered", fe.Value())
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "failed on " + fe.Tag()
	}
}
