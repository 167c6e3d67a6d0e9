package source

import "errors"

type Type string

const (
	TypeRSS     Type = "rss"
	TypeNewsAPI Type = "newsapi"
	TypeGDELT   Type = "gdelt"
)

var ErrConfigurationInvalid = errors.New("invalid source configuration")

type Config struct {
	Name        string            // Derived from filename (without .yml extension)
	Type        Type              `yaml:"type"`
	URL         string            `yaml:"url"`
	APIKey      string            `yaml:"api_key"`      // ${VAR} references are expanded from the environment
	QuerySuffix string            `yaml:"query_suffix"` // appended to every search query
	Tier        string            `yaml:"tier"`
	DomainTiers map[string]string `yaml:"domain_tiers"` // host or publisher name -> tier
	Settings    Settings          `yaml:"settings"`
	Filters     []Filter          `yaml:"filters"`
}

type Settings struct {
	Enabled   bool    `yaml:"enabled"`
	Priority  int     `yaml:"priority"`
	MaxItems  int     `yaml:"max_items"`
	Timeout   int     `yaml:"timeout"`    // seconds
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 disables limiting
}

// Filter drops items whose field contains any exclude pattern, or none of
// the include patterns when includes are given. Matching is case-insensitive.
type Filter struct {
	Field    string   `yaml:"field"` // title, snippet, url or publisher
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}
