package config

import "time"

// Config is built once at startup by Load. Every field has a documented
// default applied in setDefaults; a zero value left after unmarshalling is
// replaced by that default in applyDefaults.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	SAM         SAMConfig         `mapstructure:"sam"`
	Quota       map[string]int    `mapstructure:"quota"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Description DescriptionConfig `mapstructure:"description"`
	AI          AIConfig          `mapstructure:"ai"`
	Market      MarketConfig      `mapstructure:"market"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Profile     ProfileConfig     `mapstructure:"profile"`
	Documents   DocumentsConfig   `mapstructure:"documents"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`         // 8081
	CORSOrigins []string `mapstructure:"cors_origins"` // http://localhost:4200
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // info
	Format string `mapstructure:"format"` // json
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"` // DATABASE_URL
}

// RedisConfig selects the cache backend. An empty URL means the in-process
// memory cache.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`  // 5s
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 3s
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 3s
}

type SAMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`         // https://api.sam.gov/prod/opportunities/v2/search
	APIKeys        []string      `mapstructure:"api_keys"`         // SAM_GOV_API_KEY, SAM_GOV_API_KEY_1..10
	AccountType    string        `mapstructure:"account_type"`     // non_federal
	Timeout        time.Duration `mapstructure:"timeout"`          // 60s
	MaxRetries     int           `mapstructure:"max_retries"`      // 3
	BackoffBase    time.Duration `mapstructure:"backoff_base"`     // 500ms
	BackoffFactor  float64       `mapstructure:"backoff_factor"`   // 2.0
	KeyDisabledTTL time.Duration `mapstructure:"key_disabled_ttl"` // 1h
}

type CacheConfig struct {
	SearchTTL      time.Duration `mapstructure:"search_ttl"`      // 1h
	DetailTTL      time.Duration `mapstructure:"detail_ttl"`      // 1h
	DescriptionTTL time.Duration `mapstructure:"description_ttl"` // 1h
	MarketTTL      time.Duration `mapstructure:"market_ttl"`      // 24h
}

type DescriptionConfig struct {
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`          // 10s
	MaxLength            int           `mapstructure:"max_length"`             // 10000
	MinEnhancementLength int           `mapstructure:"min_enhancement_length"` // 50
}

type AIConfig struct {
	PreferredProvider string         `mapstructure:"preferred_provider"`
	Fallback          bool           `mapstructure:"fallback"`         // true
	ProviderOrder     []string       `mapstructure:"provider_order"`   // claude, gemini, openrouter, ollama
	MaxTokens         int            `mapstructure:"max_tokens"`       // 4000
	Temperature       float64        `mapstructure:"temperature"`      // 0.7
	Timeout           time.Duration  `mapstructure:"timeout"`          // 60s
	RateLimitDelay    time.Duration  `mapstructure:"rate_limit_delay"` // 1s
	Claude            ProviderConfig `mapstructure:"claude"`
	Gemini            ProviderConfig `mapstructure:"gemini"`
	OpenRouter        ProviderConfig `mapstructure:"openrouter"`
	Ollama            ProviderConfig `mapstructure:"ollama"`
}

// ProviderConfig is shared by every AI backend. Model overrides the default
// model for all task types; EmbedModel is only read by ollama.
type ProviderConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	EmbedModel string `mapstructure:"embed_model"`
}

type MarketConfig struct {
	BaseURL string `mapstructure:"base_url"` // https://api.usaspending.gov/api/v2
	Limit   int    `mapstructure:"limit"`    // 10
}

type PipelineConfig struct {
	Workers         int           `mapstructure:"workers"`          // 4
	NotifyThreshold float64       `mapstructure:"notify_threshold"` // 70
	JobTimeout      time.Duration `mapstructure:"job_timeout"`      // 30m
}

type ProfileConfig struct {
	Path  string `mapstructure:"path"` // empty: built-in profile
	Watch bool   `mapstructure:"watch"`
}

type DocumentsConfig struct {
	Dir string `mapstructure:"dir"` // ./data/documents
}

// DefaultQuotas is the daily request allowance per SAM.gov account tier.
var DefaultQuotas = map[string]int{
	"non_federal":       10,
	"entity_associated": 1000,
	"federal_system":    10000,
}

// DailyQuota returns the quota for the configured account tier, falling back
// to the non_federal allowance for unknown tiers.
func (c *Config) DailyQuota() int {
	if q, ok := c.Quota[c.SAM.AccountType]; ok && q > 0 {
		return q
	}
	if q, ok := DefaultQuotas[c.SAM.AccountType]; ok {
		return q
	}
	return DefaultQuotas["non_federal"]
}
