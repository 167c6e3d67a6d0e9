package adapters

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/claim-comb/app/evidence"
)

// RSSAdapter searches a feed endpoint whose URL template carries a {query}
// placeholder, such as Google News RSS search.
type RSSAdapter struct {
	httpSource
}

func (a *RSSAdapter) Search(ctx context.Context, query string, limit int) ([]evidence.Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []evidence.Item{}, nil
	}

	limit = a.effectiveLimit(limit)
	endpoint := strings.ReplaceAll(a.config.URL, "{query}", url.QueryEscape(a.queryWithSuffix(query)))

	data, err := a.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to parse feed: %w", ErrSourceUnavailable, a.config.Name, err)
	}

	items := make([]evidence.Item, 0, min(limit, len(feed.Items)))
	for _, feedItem := range feed.Items {
		if len(items) == limit {
			break
		}
		if item, ok := a.normalizeItem(feedItem); ok {
			items = append(items, item)
		}
	}

	return items, nil
}

func (a *RSSAdapter) normalizeItem(feedItem *gofeed.Item) (evidence.Item, bool) {
	if feedItem == nil {
		return evidence.Item{}, false
	}

	title, publisher := splitPublisher(feedItem.Title)
	if publisher == "" && feedItem.Author != nil {
		publisher = strings.TrimSpace(feedItem.Author.Name)
	}

	if strings.TrimSpace(title) == "" || strings.TrimSpace(feedItem.Link) == "" {
		return evidence.Item{}, false
	}

	publishedAt := feedItem.PublishedParsed
	if publishedAt == nil {
		publishedAt = feedItem.UpdatedParsed
	}
	if publishedAt != nil {
		utc := publishedAt.UTC()
		publishedAt = &utc
	}

	return a.newItem(title, feedItem.Description, feedItem.Link, publisher, publishedAt), true
}

// splitPublisher separates the "Headline - Publisher" suffix that news
// aggregators append to item titles.
func splitPublisher(title string) (string, string) {
	title = strings.TrimSpace(title)
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 {
		return title, ""
	}

	publisher := strings.TrimSpace(title[idx+3:])
	if publisher == "" || len(strings.Fields(publisher)) > 5 {
		return title, ""
	}
	return strings.TrimSpace(title[:idx]), publisher
}
