package source

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/claim-comb/app/evidence"
)

const (
	DefaultMaxItems = 8
	DefaultTimeout  = 10
)

var filterFields = []string{"title", "snippet", "url", "publisher"}

type ConfigCache struct {
	sourcesDir     string
	defaultTimeout int
	cache          map[string]*Config
	mu             sync.RWMutex
}

func NewConfigCache(sourcesDir string, defaultTimeout int) *ConfigCache {
	return &ConfigCache{
		sourcesDir:     sourcesDir,
		defaultTimeout: cmp.Or(defaultTimeout, DefaultTimeout),
		cache:          make(map[string]*Config),
	}
}

// Run loads every *.yml file in the sources directory and replaces the
// cached set, so removed files disappear on the next call.
func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.sourcesDir); os.IsNotExist(err) {
		slog.Warn("Sources directory not found", "dir", cc.sourcesDir)
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.sourcesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	loaded := make(map[string]*Config, len(files))
	for _, file := range files {
		sourceName := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.parseConfig(file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
		config.Name = sourceName

		if err := validateConfig(config); err != nil {
			return fmt.Errorf("invalid config %s: %w", file, err)
		}

		loaded[sourceName] = config
		slog.Debug("Source configuration loaded", "source", sourceName, "type", config.Type, "enabled", config.Settings.Enabled)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache = loaded

	return nil
}

func (cc *ConfigCache) GetConfig(sourceName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	config, ok := cc.cache[sourceName]
	if !ok {
		return nil, fmt.Errorf("source config with name '%s' not found", sourceName)
	}
	return config, nil
}

// GetEnabledConfigs returns enabled sources in adapter order: ascending
// priority, then name.
func (cc *ConfigCache) GetEnabledConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make([]*Config, 0, len(cc.cache))
	for _, config := range cc.cache {
		if config.Settings.Enabled {
			enabled = append(enabled, config)
		}
	}

	sortConfigs(enabled)
	return enabled
}

func (cc *ConfigCache) GetConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configs := make([]*Config, 0, len(cc.cache))
	for _, config := range cc.cache {
		configs = append(configs, config)
	}

	sortConfigs(configs)
	return configs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.APIKey = strings.TrimSpace(os.ExpandEnv(config.APIKey))
	config.Type = Type(strings.ToLower(strings.TrimSpace(string(config.Type))))

	for i := range config.Filters {
		config.Filters[i].Field = strings.ToLower(strings.TrimSpace(config.Filters[i].Field))
	}

	if config.Tier == "" {
		config.Tier = evidence.TierUnverified.String()
	}
	if config.Settings.MaxItems == 0 {
		config.Settings.MaxItems = DefaultMaxItems
	}
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = cc.defaultTimeout
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigurationInvalid)
	}

	switch config.Type {
	case TypeRSS:
		if config.URL == "" {
			return fmt.Errorf("%w: source URL is required for rss sources", ErrConfigurationInvalid)
		}
		if !strings.Contains(config.URL, "{query}") {
			return fmt.Errorf("%w: rss source URL must contain a {query} placeholder", ErrConfigurationInvalid)
		}
	case TypeNewsAPI, TypeGDELT:
	default:
		return fmt.Errorf("%w: unknown source type '%s'", ErrConfigurationInvalid, config.Type)
	}

	nonNegativeFields := map[string]float64{
		"max items":  float64(config.Settings.MaxItems),
		"timeout":    float64(config.Settings.Timeout),
		"rate limit": config.Settings.RateLimit,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%w: %s must be non-negative", ErrConfigurationInvalid, fieldName)
		}
	}

	for _, filter := range config.Filters {
		if !slices.Contains(filterFields, filter.Field) {
			return fmt.Errorf("%w: unknown filter field '%s'", ErrConfigurationInvalid, filter.Field)
		}
	}

	if _, err := evidence.ParseTrustTier(config.Tier); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigurationInvalid, err)
	}
	for key, tier := range config.DomainTiers {
		if _, err := evidence.ParseTrustTier(tier); err != nil {
			return fmt.Errorf("%w: domain tier for '%s': %w", ErrConfigurationInvalid, key, err)
		}
	}

	return nil
}

// TierFor resolves the static trust tier of an item from its link host or
// publisher name, falling back to the source's default tier.
func (c *Config) TierFor(host, publisher string) evidence.TrustTier {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	publisher = strings.ToLower(strings.TrimSpace(publisher))

	// Longest matching key wins so news.example.com can override example.com.
	bestKey, bestTier := "", ""
	for key, tierName := range c.DomainTiers {
		normalized := strings.ToLower(strings.TrimSpace(key))
		matched := (host != "" && (host == normalized || strings.HasSuffix(host, "."+normalized))) ||
			(publisher != "" && publisher == normalized)
		if matched && (len(normalized) > len(bestKey) || (len(normalized) == len(bestKey) && normalized < bestKey)) {
			bestKey, bestTier = normalized, tierName
		}
	}

	if bestKey != "" {
		if tier, err := evidence.ParseTrustTier(bestTier); err == nil {
			return tier
		}
	}

	tier, err := evidence.ParseTrustTier(c.Tier)
	if err != nil {
		return evidence.TierUnverified
	}
	return tier
}

func sortConfigs(configs []*Config) {
	slices.SortFunc(configs, func(a, b *Config) int {
		return cmp.Or(
			cmp.Compare(a.Settings.Priority, b.Settings.Priority),
			cmp.Compare(a.Name, b.Name),
		)
	})
}
