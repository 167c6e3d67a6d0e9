package adapters

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lysyi3m/claim-comb/app/evidence"
	"github.com/lysyi3m/claim-comb/app/source"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run returns the items that pass every filter, in their original order.
func (f *Filterer) Run(items []evidence.Item, filters []source.Filter) []evidence.Item {
	if len(filters) == 0 {
		return items
	}

	kept := make([]evidence.Item, 0, len(items))
	for _, item := range items {
		if excluded, reason := f.applyFilters(item, filters); excluded {
			slog.Debug("Evidence item filtered", "source", item.SourceID, "url", item.URL, "reason", reason)
			continue
		}
		kept = append(kept, item)
	}

	return kept
}

func (f *Filterer) applyFilters(item evidence.Item, filters []source.Filter) (bool, string) {
	for _, filter := range filters {
		value := f.getFieldValue(item, filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func (f *Filterer) getFieldValue(item evidence.Item, field string) string {
	switch field {
	case "title":
		return item.Title
	case "snippet":
		return item.Snippet
	case "url":
		return item.URL
	case "publisher":
		return item.Publisher
	default:
		return ""
	}
}
