package adapters

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/claim-comb/app/evidence"
	"github.com/lysyi3m/claim-comb/app/source"
)

const (
	defaultUserAgent      = "Claim Comb/1.0"
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
	maxResponseBytes      = 4 << 20
)

var ErrSourceUnavailable = errors.New("source unavailable")

// Adapter is a single news source. Implementations normalize their native
// response shape into evidence items tagged with the source id and tier.
type Adapter interface {
	ID() string
	Search(ctx context.Context, query string, limit int) ([]evidence.Item, error)
}

var (
	_ Adapter = (*RSSAdapter)(nil)
	_ Adapter = (*NewsAPIAdapter)(nil)
	_ Adapter = (*GDELTAdapter)(nil)
)

var strictPolicy = bluemonday.StrictPolicy()

type options struct {
	httpClient     *http.Client
	userAgent      string
	retryAttempts  int
	retryBaseDelay time.Duration
	now            func() time.Time
}

type Option func(*options)

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func WithUserAgent(userAgent string) Option {
	return func(o *options) {
		if userAgent != "" {
			o.userAgent = userAgent
		}
	}
}

// WithRetry sets the total number of attempts per request and the base
// delay of the exponential backoff between them.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(o *options) {
		o.retryAttempts = attempts
		o.retryBaseDelay = baseDelay
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient:     &http.Client{},
		userAgent:      defaultUserAgent,
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retryAttempts < 1 {
		o.retryAttempts = 1
	}
	return o
}

// New builds the adapter variant named by the source's type.
func New(config *source.Config, opts ...Option) (Adapter, error) {
	if config == nil {
		return nil, fmt.Errorf("source config is nil")
	}

	base := newHTTPSource(config, buildOptions(opts))

	switch config.Type {
	case source.TypeRSS:
		return &RSSAdapter{httpSource: base}, nil
	case source.TypeNewsAPI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: newsapi source '%s' has no API key", ErrSourceUnavailable, config.Name)
		}
		return &NewsAPIAdapter{httpSource: base}, nil
	case source.TypeGDELT:
		return &GDELTAdapter{httpSource: base}, nil
	default:
		return nil, fmt.Errorf("unsupported source type '%s'", config.Type)
	}
}

type httpSource struct {
	config  *source.Config
	opts    options
	limiter *rate.Limiter
}

func newHTTPSource(config *source.Config, opts options) httpSource {
	limit := rate.Inf
	if config.Settings.RateLimit > 0 {
		limit = rate.Limit(config.Settings.RateLimit)
	}

	return httpSource{
		config:  config,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (s *httpSource) ID() string {
	return s.config.Name
}

func (s *httpSource) backoff() retry.Backoff {
	b := retry.NewExponential(s.opts.retryBaseDelay)
	b = retry.WithCappedDuration(defaultRetryMaxDelay, b)
	return retry.WithMaxRetries(uint64(s.opts.retryAttempts-1), b)
}

// get fetches endpoint, retrying network failures and 5xx responses.
// Other non-200 responses fail immediately.
func (s *httpSource) get(ctx context.Context, endpoint string) ([]byte, error) {
	var body []byte

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		data, err := s.fetchOnce(ctx, endpoint)
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, s.config.Name, err)
	}

	return body, nil
}

func (s *httpSource) fetchOnce(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", s.opts.userAgent)

	resp, err := s.opts.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.RetryableError(fmt.Errorf("failed to fetch URL: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout {
			return nil, retry.RetryableError(statusErr)
		}
		return nil, statusErr
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && ctx.Err() == nil {
			return nil, retry.RetryableError(fmt.Errorf("failed to read response body: %w", err))
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func (s *httpSource) newItem(title, snippet, link, publisher string, publishedAt *time.Time) evidence.Item {
	return evidence.Item{
		SourceID:    s.config.Name,
		Publisher:   publisher,
		Title:       cleanText(title),
		Snippet:     cleanText(snippet),
		URL:         strings.TrimSpace(link),
		PublishedAt: publishedAt,
		TrustTier:   s.config.TierFor(evidence.Host(link), publisher),
	}
}

func (s *httpSource) effectiveLimit(limit int) int {
	if limit > 0 {
		return limit
	}
	if s.config.Settings.MaxItems > 0 {
		return s.config.Settings.MaxItems
	}
	return source.DefaultMaxItems
}

func (s *httpSource) queryWithSuffix(query string) string {
	if s.config.QuerySuffix == "" {
		return query
	}
	return query + " " + s.config.QuerySuffix
}

// cleanText strips markup from feed-provided text and collapses whitespace.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	sanitized := html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(sanitized), " ")
}
