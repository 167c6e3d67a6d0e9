package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

var ErrConfigurationInvalid = errors.New("invalid configuration")

var cacheBackends = []string{"sqlite", "file", "redis"}

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Service configuration
	Port       string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	SourcesDir string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`
	APIKey     string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key protecting /api endpoints (optional)"`
	UserAgent  string `long:"user-agent" env:"USER_AGENT" default:"Claim Comb/1.0" description:"User agent string for HTTP requests"`

	// Result cache configuration
	CacheBackend         string        `long:"cache-backend" env:"CACHE_BACKEND" default:"sqlite" choice:"sqlite" choice:"file" choice:"redis" description:"Verdict cache backend"`
	CachePath            string        `long:"cache-path" env:"CACHE_PATH" default:"./data/verdicts.db" description:"SQLite database or JSON file used by the verdict cache"`
	RedisAddr            string        `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for the redis cache backend"`
	CacheTTL             time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"720h" description:"How long cached verdicts are served"`
	CacheRevalidateAfter time.Duration `long:"cache-revalidate-after" env:"CACHE_REVALIDATE_AFTER" default:"0s" description:"Age after which cached verdicts are checked against fresh evidence (0 disables)"`
	CacheMaxEntries      int           `long:"cache-max-entries" env:"CACHE_MAX_ENTRIES" default:"100" description:"Maximum number of cached verdicts (0 for unlimited)"`
	PurgeInterval        int           `long:"purge-interval" env:"PURGE_INTERVAL" default:"3600" description:"Cache purge interval in seconds"`
	WorkerCount          int           `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers"`

	// Evidence configuration
	AdapterTimeout int     `long:"adapter-timeout" env:"ADAPTER_TIMEOUT" default:"10" description:"Default per-source timeout in seconds"`
	MaxEvidence    int     `long:"max-evidence" env:"MAX_EVIDENCE" default:"15" description:"Maximum number of evidence items per verdict"`
	DedupThreshold float64 `long:"dedup-threshold" env:"DEDUP_THRESHOLD" default:"0.8" description:"Title similarity at which two articles are merged"`

	// AI model configuration
	AIBaseURL        string   `long:"ai-base-url" env:"AI_BASE_URL" description:"OpenAI-compatible API base URL"`
	AIAPIKey         string   `long:"ai-api-key" env:"AI_API_KEY" description:"AI provider API key"`
	AIModel          string   `long:"ai-model" env:"AI_MODEL" default:"gpt-4o-mini" description:"Model used for classification"`
	AIModelVersion   string   `long:"ai-model-version" env:"AI_MODEL_VERSION" default:"1" description:"Model version; changing it rebuilds the cached model handle"`
	AIFallbackModels []string `long:"ai-fallback-model" env:"AI_FALLBACK_MODELS" env-delim:"," description:"Fallback models tried when discovery does not find the configured model"`
	AIDiscover       bool     `long:"ai-discover" env:"AI_DISCOVER" description:"List provider models before first use"`
	AITimeout        int      `long:"ai-timeout" env:"AI_TIMEOUT" default:"30" description:"AI call timeout in seconds"`
	AIRetries        int      `long:"ai-retries" env:"AI_RETRIES" default:"1" description:"Retries after a failed or malformed AI response"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" description:"Timezone for timestamps (e.g., UTC, Asia/Kolkata)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Cfg, error) {
	envFile := cmp.Or(os.Getenv("ENV_FILE"), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Port:                 raw.Port,
		SourcesDir:           raw.SourcesDir,
		APIKey:               raw.APIKey,
		UserAgent:            raw.UserAgent,
		CacheBackend:         raw.CacheBackend,
		CachePath:            raw.CachePath,
		RedisAddr:            raw.RedisAddr,
		CacheTTL:             raw.CacheTTL,
		CacheRevalidateAfter: raw.CacheRevalidateAfter,
		CacheMaxEntries:      raw.CacheMaxEntries,
		PurgeInterval:        raw.PurgeInterval,
		WorkerCount:          raw.WorkerCount,
		AdapterTimeout:       raw.AdapterTimeout,
		MaxEvidence:          raw.MaxEvidence,
		DedupThreshold:       raw.DedupThreshold,
		AIBaseURL:            raw.AIBaseURL,
		AIAPIKey:             raw.AIAPIKey,
		AIModel:              raw.AIModel,
		AIModelVersion:       raw.AIModelVersion,
		AIFallbackModels:     raw.AIFallbackModels,
		AIDiscover:           raw.AIDiscover,
		AITimeout:            raw.AITimeout,
		AIRetries:            raw.AIRetries,
		Timezone:             raw.Timezone,
		Debug:                raw.Debug,
		Version:              GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(cfg *Cfg) error {
	var problems []error

	if cfg.Port == "" {
		problems = append(problems, errors.New("port is required"))
	}
	if !slices.Contains(cacheBackends, cfg.CacheBackend) {
		problems = append(problems, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend))
	}
	if cfg.CacheBackend != "redis" && cfg.CachePath == "" {
		problems = append(problems, errors.New("cache path is required"))
	}
	if cfg.CacheTTL <= 0 {
		problems = append(problems, fmt.Errorf("cache ttl must be positive, got %s", cfg.CacheTTL))
	}
	if cfg.CacheRevalidateAfter < 0 {
		problems = append(problems, fmt.Errorf("cache revalidate window must not be negative, got %s", cfg.CacheRevalidateAfter))
	}
	if cfg.CacheMaxEntries < 0 {
		problems = append(problems, fmt.Errorf("cache max entries must not be negative, got %d", cfg.CacheMaxEntries))
	}
	if cfg.PurgeInterval <= 0 {
		problems = append(problems, fmt.Errorf("purge interval must be positive, got %d", cfg.PurgeInterval))
	}
	if cfg.WorkerCount <= 0 {
		problems = append(problems, fmt.Errorf("worker count must be positive, got %d", cfg.WorkerCount))
	}
	if cfg.AdapterTimeout <= 0 {
		problems = append(problems, fmt.Errorf("adapter timeout must be positive, got %d", cfg.AdapterTimeout))
	}
	if cfg.MaxEvidence <= 0 {
		problems = append(problems, fmt.Errorf("max evidence must be positive, got %d", cfg.MaxEvidence))
	}
	if cfg.DedupThreshold <= 0 || cfg.DedupThreshold > 1 {
		problems = append(problems, fmt.Errorf("dedup threshold must be in (0, 1], got %g", cfg.DedupThreshold))
	}
	if cfg.AIModel == "" {
		problems = append(problems, errors.New("ai model is required"))
	}
	if cfg.AITimeout <= 0 {
		problems = append(problems, fmt.Errorf("ai timeout must be positive, got %d", cfg.AITimeout))
	}
	if cfg.AIRetries < 0 {
		problems = append(problems, fmt.Errorf("ai retries must not be negative, got %d", cfg.AIRetries))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigurationInvalid, errors.Join(problems...))
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			slog.Debug("Timezone configured", "timezone", timezone)
		}
	}
	return nil
}
