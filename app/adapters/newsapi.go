package adapters

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/claim-comb/app/evidence"
)

const (
	newsAPIEndpoint = "https://newsapi.org/v2/everything"
	newsAPIWindow   = 30 * 24 * time.Hour
)

// NewsAPIAdapter queries the NewsAPI keyword search endpoint.
type NewsAPIAdapter struct {
	httpSource
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

func (a *NewsAPIAdapter) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []evidence.Item{}, nil
	}
	limit = a.effectiveLimit(limit)

	params := url.Values{}
	params.Set("q", a.queryWithSuffix(query))
	params.Set("language", "en")
	params.Set("sortBy", "relevancy")
	params.Set("pageSize", strconv.Itoa(limit))
	params.Set("from", a.opts.now().Add(-newsAPIWindow).Format("2006-01-02"))
	params.Set("apiKey", a.config.APIKey)

	endpoint := cmp.Or(a.config.URL, newsAPIEndpoint) + "?" + params.Encode()

	data, err := a.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var response newsAPIResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("%w: %s: failed to decode response: %w", ErrSourceUnavailable, a.config.Name, err)
	}
	if response.Status != "" && response.Status != "ok" {
		return nil, fmt.Errorf("%w: %s: %s: %s", ErrSourceUnavailable, a.config.Name, response.Code, response.Message)
	}

	items := make([]evidence.Item, 0, min(limit, len(response.Articles)))
	for _, article := range response.Articles {
		if len(items) == limit {
			break
		}
		// NewsAPI reports deleted articles with this placeholder title.
		if article.Title == "" || article.URL == "" || article.Title == "[Removed]" {
			continue
		}

		var publishedAt *time.Time
		if parsed, err := time.Parse(time.RFC3339, article.PublishedAt); err == nil {
			utc := parsed.UTC()
			publishedAt = &utc
		}

		items = append(items, a.newItem(article.Title, article.Description, article.URL, article.Source.Name, publishedAt))
	}

	return items, nil
}
