package community

import (
	"bytes"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/PuerkitoBio/goquery"
	"github.com/dealmoa/deal-crawler/internal/config"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"
)

var dateTokens = []string{"2006", "06", "01", "02", "_2", "Jan"}

type board struct {
	source       models.Source
	cfg          config.SourceConfig
	idPattern    *regexp.Regexp
	pricePattern *regexp.Regexp
	location     *time.Location
	limiter      *rate.Limiter
}

func newBoard(name string, cfg config.SourceConfig) (*board, error) {
	source, err := models.ToSource(name)
	if err != nil {
		return nil, err
	}

	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "base_url")
	}

	b := &board{source: source, cfg: cfg, location: time.UTC}

	if cfg.IDPattern != "" {
		if b.idPattern, err = regexp.Compile(cfg.IDPattern); err != nil {
			return nil, errors.Wrap(err, "id_pattern")
		}
	}
	if cfg.PricePattern != "" {
		if b.pricePattern, err = regexp.Compile(cfg.PricePattern); err != nil {
			return nil, errors.Wrap(err, "price_pattern")
		}
	}
	if cfg.Timezone != "" {
		if b.location, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, errors.Wrap(err, "timezone")
		}
	}
	if cfg.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return b, nil
}

// parse extracts the listing rows of one page. Relative links resolve against pageURL.
func (b *board) parse(body []byte, pageURL string, now time.Time) (models.FetchedPage, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return models.FetchedPage{}, errors.Wrap(err, "page url")
	}

	var reader io.Reader = bytes.NewReader(body)
	if strings.EqualFold(b.cfg.Encoding, "euc-kr") {
		reader = transform.NewReader(reader, korean.EUCKR.NewDecoder())
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return models.FetchedPage{}, errors.Wrap(err, "parse listing")
	}

	sel := b.cfg.Selectors
	rows := doc.Find(sel.Item)

	var items []models.DealItem
	rows.Each(func(_ int, row *goquery.Selection) {
		if sel.Skip != "" && row.Is(sel.Skip) {
			return
		}
		if item, ok := b.parseRow(row, base, now); ok {
			items = append(items, item)
		}
	})

	hasMore := rows.Length() > 0
	if sel.Next != "" {
		hasMore = doc.Find(sel.Next).Length() > 0
	}

	return models.FetchedPage{Items: items, HasMore: hasMore}, nil
}

func (b *board) parseRow(row *goquery.Selection, base *url.URL, now time.Time) (models.DealItem, bool) {
	sel := b.cfg.Selectors

	title := text(row, sel.Title)
	if title == "" {
		return models.DealItem{}, false
	}

	href, _ := row.Find(sel.Link).First().Attr("href")
	link := resolve(base, href)

	item := models.DealItem{
		Source:         b.source,
		ExternalPostID: b.externalID(link),
		Title:          title,
		Price:          text(row, sel.Price),
		URL:            link,
		Category:       strings.Trim(text(row, sel.Category), "[] "),
		FetchedAt:      now,
	}

	if item.Price == "" && b.pricePattern != nil {
		if match := b.pricePattern.FindStringSubmatch(title); match != nil {
			item.Price = match[len(match)-1]
		}
	}

	if sel.Thumbnail != "" {
		img := row.Find(sel.Thumbnail).First()
		src := img.AttrOr("data-src", img.AttrOr("src", ""))
		item.ThumbnailURL = resolve(base, src)
	}

	if sel.PostedAt != "" {
		node := row.Find(sel.PostedAt).First()
		raw := node.AttrOr("datetime", node.AttrOr("title", ""))
		if raw == "" {
			raw = strings.TrimSpace(node.Text())
		}
		item.PostedAt = b.parsePostedAt(raw, now)
	}

	return item, true
}

func (b *board) externalID(link string) string {
	if b.idPattern == nil || link == "" {
		return ""
	}
	match := b.idPattern.FindStringSubmatch(link)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

// parsePostedAt tries every configured layout. Layouts without a date are taken as
// today (or yesterday when that would be in the future), layouts without a year as
// the most recent such day.
func (b *board) parsePostedAt(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	local := now.In(b.location)

	for _, layout := range b.cfg.DateLayouts {
		parsed, err := time.ParseInLocation(layout, raw, b.location)
		if err != nil {
			continue
		}

		hasDate := lo.ContainsBy(dateTokens, func(token string) bool { return strings.Contains(layout, token) })
		switch {
		case !hasDate:
			parsed = time.Date(local.Year(), local.Month(), local.Day(),
				parsed.Hour(), parsed.Minute(), parsed.Second(), 0, b.location)
			if parsed.After(local) {
				parsed = parsed.AddDate(0, 0, -1)
			}
		case parsed.Year() == 0:
			parsed = time.Date(local.Year(), parsed.Month(), parsed.Day(),
				parsed.Hour(), parsed.Minute(), parsed.Second(), 0, b.location)
			if parsed.After(local) {
				parsed = parsed.AddDate(-1, 0, 0)
			}
		}
		return parsed
	}

	return time.Time{}
}

func text(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(row.Find(selector).First().Text()), " ")
}
