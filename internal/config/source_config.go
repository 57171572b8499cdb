package config

import (
	"errors"
	"regexp"
	"strings"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
)

// SourceConfig describes how to read one community board listing.
type SourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// ListPath must contain a {page} placeholder.
	ListPath          string    `mapstructure:"list_path"`
	Encoding          string    `mapstructure:"encoding"`
	RequestsPerSecond float32   `mapstructure:"requests_per_second"`
	UserAgent         string    `mapstructure:"user_agent"`
	Selectors         Selectors `mapstructure:"selectors"`
	// IDPattern is matched against the item link; the first group is the external post id.
	IDPattern    string   `mapstructure:"id_pattern"`
	PricePattern string   `mapstructure:"price_pattern"`
	DateLayouts  []string `mapstructure:"date_layouts"`
	Timezone     string   `mapstructure:"timezone"`
}

type Selectors struct {
	Item      string `mapstructure:"item"`
	Title     string `mapstructure:"title"`
	Link      string `mapstructure:"link"`
	Price     string `mapstructure:"price"`
	Thumbnail string `mapstructure:"thumbnail"`
	Category  string `mapstructure:"category"`
	PostedAt  string `mapstructure:"posted_at"`
	// Skip drops rows matching this selector (notices, ads).
	Skip string `mapstructure:"skip"`
	// Next marks a link to the following page. Without it a page with rows has more.
	Next string `mapstructure:"next"`
}

func (config SourceConfig) validate(name string) error {
	var errs []error

	if _, err := models.ToSource(name); err != nil {
		errs = append(errs, err)
	}
	if config.BaseURL == "" {
		errs = append(errs, errors.New("missing variable: base_url"))
	}
	if !strings.Contains(config.ListPath, "{page}") {
		errs = append(errs, errors.New("list_path must contain {page}"))
	}
	if config.Selectors.Item == "" || config.Selectors.Title == "" || config.Selectors.Link == "" {
		errs = append(errs, errors.New("selectors item, title and link are required"))
	}
	if config.IDPattern != "" {
		if _, err := regexp.Compile(config.IDPattern); err != nil {
			errs = append(errs, err)
		}
	}
	if config.PricePattern != "" {
		if _, err := regexp.Compile(config.PricePattern); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.ToLower(config.Encoding) {
	case "", "utf-8", "euc-kr":
	default:
		errs = append(errs, errors.New("encoding must be utf-8 or euc-kr"))
	}

	return createMultiError(errs)
}
