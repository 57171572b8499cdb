package community

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dealmoa/deal-crawler/internal/config"
	"github.com/dealmoa/deal-crawler/internal/domain/models"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

var ErrSourceNotConfigured = errors.New("source is not configured")

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for any non-200 board response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

// Fetcher reads listing pages of community boards described by configuration.
type Fetcher struct {
	httpClient HTTPClient
	boards     map[models.Source]*board
	attempts   int
	retryDelay time.Duration
	now        func() time.Time
}

func NewFetcher(sources map[string]config.SourceConfig) (*Fetcher, error) {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: time.Minute},
		boards:     make(map[models.Source]*board, len(sources)),
		attempts:   3,
		retryDelay: 2 * time.Second,
		now:        time.Now,
	}

	for name, cfg := range sources {
		b, err := newBoard(name, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "source %s", name)
		}
		f.boards[b.source] = b
	}
	return f, nil
}

func (f *Fetcher) SetHTTPClient(client HTTPClient) {
	f.httpClient = client
}

// SetRetryPolicy sets how many times a page is requested when the board answers 5xx or 429.
func (f *Fetcher) SetRetryPolicy(attempts int, delay time.Duration) {
	f.attempts = max(attempts, 1)
	f.retryDelay = delay
}

// Sources lists the configured boards.
func (f *Fetcher) Sources() []models.Source {
	sources := lo.Keys(f.boards)
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources
}

func (f *Fetcher) FetchPage(ctx context.Context, source models.Source, page int, _ time.Time) (models.FetchedPage, error) {
	b, ok := f.boards[source]
	if !ok {
		return models.FetchedPage{}, errors.Wrap(ErrSourceNotConfigured, string(source))
	}

	pageURL := b.cfg.BaseURL + strings.ReplaceAll(b.cfg.ListPath, "{page}", strconv.Itoa(page))

	body, err := f.download(ctx, b, pageURL)
	if err != nil {
		return models.FetchedPage{}, err
	}

	return b.parse(body, pageURL, f.now())
}

func (f *Fetcher) download(ctx context.Context, b *board, pageURL string) ([]byte, error) {
	var body []byte
	var err error

	_, _ = lo.AttemptWhile(f.attempts, func(i int) (error, bool) {
		if i > 0 {
			log.WithField("source", b.source).Warnf("retrying %s after: %v", pageURL, err)
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return err, false
			case <-time.After(f.retryDelay):
			}
		}
		body, err = f.sendRequest(ctx, b, pageURL)
		return err, isRetryable(err) && ctx.Err() == nil
	})

	return body, err
}

func (f *Fetcher) sendRequest(ctx context.Context, b *board, pageURL string) ([]byte, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", lo.Ternary(b.cfg.UserAgent != "", b.cfg.UserAgent, defaultUserAgent))
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp, pageURL)
}

func handleResponse(resp *http.Response, pageURL string) ([]byte, error) {
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: pageURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode >= http.StatusInternalServerError || statusErr.StatusCode == http.StatusTooManyRequests
}
