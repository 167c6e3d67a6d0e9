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
	gdeltEndpoint   = "https://api.gdeltproject.org/api/v2/doc/doc"
	gdeltDateLayout = "20060102T150405Z"
)

// GDELTAdapter queries the GDELT DOC 2.0 article list.
type GDELTAdapter struct {
	httpSource
}

type gdeltResponse struct {
	Articles []struct {
		URL           string `json:"url"`
		Title         string `json:"title"`
		SeenDate      string `json:"seendate"`
		Domain        string `json:"domain"`
		SourceCountry string `json:"sourcecountry"`
	} `json:"articles"`
}

func (a *GDELTAdapter) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []evidence.Item{}, nil
	}
	limit = a.effectiveLimit(limit)

	params := url.Values{}
	params.Set("query", a.queryWithSuffix(query))
	params.Set("mode", "artlist")
	params.Set("format", "json")
	params.Set("maxrecords", strconv.Itoa(limit))

	endpoint := cmp.Or(a.config.URL, gdeltEndpoint) + "?" + params.Encode()

	data, err := a.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	// GDELT answers an empty result with an empty body and rejects bad
	// queries with a plain-text message.
	if len(strings.TrimSpace(string(data))) == 0 {
		return []evidence.Item{}, nil
	}

	var response gdeltResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("%w: %s: failed to decode response: %w", ErrSourceUnavailable, a.config.Name, err)
	}

	items := make([]evidence.Item, 0, min(limit, len(response.Articles)))
	for _, article := range response.Articles {
		if len(items) == limit {
			break
		}
		if article.Title == "" || article.URL == "" {
			continue
		}

		var publishedAt *time.Time
		if parsed, err := time.Parse(gdeltDateLayout, article.SeenDate); err == nil {
			publishedAt = &parsed
		}

		item := a.newItem(article.Title, "", article.URL, article.Domain, publishedAt)
		items = append(items, item)
	}

	return items, nil
}
