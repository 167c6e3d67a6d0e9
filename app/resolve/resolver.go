package resolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

const (
	DefaultTimeout  = 8 * time.Second
	DefaultMaxChars = 2000
	maxBodySize     = 5 << 20
	minArticleChars = 200
)

var ErrResolutionFailed = errors.New("url resolution failed")

// Page is the readable text of a fetched article.
type Page struct {
	URL   string
	Title string
	Text  string
}

type Resolver struct {
	httpClient *http.Client
	userAgent  string
	maxChars   int
}

func NewResolver(httpClient *http.Client, userAgent string) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Resolver{
		httpClient: httpClient,
		userAgent:  userAgent,
		maxChars:   DefaultMaxChars,
	}
}

func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Page, error) {
	pageURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Page{}, fmt.Errorf("%w: invalid url: %w", ErrResolutionFailed, err)
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return Page{}, fmt.Errorf("%w: unsupported scheme %q", ErrResolutionFailed, pageURL.Scheme)
	}
	if pageURL.Host == "" {
		return Page{}, fmt.Errorf("%w: url has no host", ErrResolutionFailed)
	}

	body, err := r.fetch(ctx, pageURL.String())
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}

	title, text := extract(body, pageURL)
	if text == "" {
		return Page{}, fmt.Errorf("%w: no readable text at %s", ErrResolutionFailed, pageURL)
	}

	page := Page{
		URL:   pageURL.String(),
		Title: title,
		Text:  truncate(text, r.maxChars),
	}

	slog.Debug("URL resolved", "url", page.URL, "title", page.Title, "text_length", utf8.RuneCountInString(page.Text))

	return page, nil
}

func (r *Resolver) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if contentType := resp.Header.Get("Content-Type"); !strings.Contains(contentType, "text/html") {
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

// extract prefers the readability article text and falls back to page
// paragraphs, then to the meta description, when the article is too short.
func extract(body []byte, pageURL *url.URL) (string, string) {
	var title, text string

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		slog.Debug("Readability extraction failed", "url", pageURL.String(), "error", err)
	} else {
		title = collapse(article.Title)
		text = collapse(article.TextContent)
	}

	if utf8.RuneCountInString(text) >= minArticleChars {
		return title, text
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return title, text
	}
	doc.Find("script, style, noscript").Remove()

	if title == "" {
		title = collapse(doc.Find("title").First().Text())
	}

	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if p := collapse(s.Text()); p != "" {
			paragraphs = append(paragraphs, p)
		}
	})

	fallback := strings.Join(paragraphs, " ")
	if fallback == "" {
		fallback = collapse(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	}
	if fallback == "" {
		fallback = collapse(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}

	if utf8.RuneCountInString(fallback) > utf8.RuneCountInString(text) {
		text = fallback
	}

	return title, text
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:maxRunes]))
}
