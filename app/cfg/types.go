package cfg

import "time"

type Cfg struct {
	// Service
	Port       string
	SourcesDir string
	APIKey     string
	UserAgent  string

	// Result cache
	CacheBackend         string
	CachePath            string
	RedisAddr            string
	CacheTTL             time.Duration
	CacheRevalidateAfter time.Duration
	CacheMaxEntries      int
	PurgeInterval        int
	WorkerCount          int

	// Evidence
	AdapterTimeout int
	MaxEvidence    int
	DedupThreshold float64

	// AI model
	AIBaseURL        string
	AIAPIKey         string
	AIModel          string
	AIModelVersion   string
	AIFallbackModels []string
	AIDiscover       bool
	AITimeout        int
	AIRetries        int

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}

func (c *Cfg) AdapterTimeoutDuration() time.Duration {
	return time.Duration(c.AdapterTimeout) * time.Second
}

func (c *Cfg) AITimeoutDuration() time.Duration {
	return time.Duration(c.AITimeout) * time.Second
}

func (c *Cfg) PurgeIntervalDuration() time.Duration {
	return time.Duration(c.PurgeInterval) * time.Second
}
