package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "BIDINTEL"

// maxNumberedKeys bounds the SAM_GOV_API_KEY_1..N scan.
const maxNumberedKeys = 10

// Load reads configuration from defaults, an optional YAML file, a .env file
// and the environment, in increasing order of precedence. An empty path
// searches ./configs and the working directory for bidintel.yaml.
func Load(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bidintel")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(p); err == nil {
			if godotenv.Load(p) == nil {
				return
			}
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.cors_origins", []string{"http://localhost:4200"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("sam.base_url", "https://api.sam.gov/prod/opportunities/v2/search")
	v.SetDefault("sam.api_keys", []string{})
	v.SetDefault("sam.account_type", "non_federal")
	v.SetDefault("sam.timeout", 60*time.Second)
	v.SetDefault("sam.max_retries", 3)
	v.SetDefault("sam.backoff_base", 500*time.Millisecond)
	v.SetDefault("sam.backoff_factor", 2.0)
	v.SetDefault("sam.key_disabled_ttl", time.Hour)

	for tier, q := range DefaultQuotas {
		v.SetDefault("quota."+tier, q)
	}

	v.SetDefault("cache.search_ttl", time.Hour)
	v.SetDefault("cache.detail_ttl", time.Hour)
	v.SetDefault("cache.description_ttl", time.Hour)
	v.SetDefault("cache.market_ttl", 24*time.Hour)

	v.SetDefault("description.fetch_timeout", 10*time.Second)
	v.SetDefault("description.max_length", 10000)
	v.SetDefault("description.min_enhancement_length", 50)

	v.SetDefault("ai.preferred_provider", "")
	v.SetDefault("ai.fallback", true)
	v.SetDefault("ai.provider_order", []string{"claude", "gemini", "openrouter", "ollama"})
	v.SetDefault("ai.max_tokens", 4000)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("ai.rate_limit_delay", time.Second)
	for _, p := range []string{"claude", "gemini", "openrouter", "ollama"} {
		v.SetDefault("ai."+p+".enabled", p != "ollama")
		v.SetDefault("ai."+p+".api_key", "")
		v.SetDefault("ai."+p+".base_url", "")
		v.SetDefault("ai."+p+".model", "")
		v.SetDefault("ai."+p+".embed_model", "")
	}

	v.SetDefault("market.base_url", "https://api.usaspending.gov/api/v2")
	v.SetDefault("market.limit", 10)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.notify_threshold", 70.0)
	v.SetDefault("pipeline.job_timeout", 30*time.Minute)

	v.SetDefault("profile.path", "")
	v.SetDefault("profile.watch", false)
	v.SetDefault("documents.dir", "./data/documents")
}

var envReplacer = strings.NewReplacer(".", "_", "-", "_")

// legacyEnv maps config keys to the unprefixed variable names used by
// existing deployments. The prefixed name still wins when both are set.
var legacyEnv = map[string]string{
	"sam.account_type":      "SAM_GOV_ACCOUNT_TYPE",
	"ai.claude.api_key":     "ANTHROPIC_API_KEY",
	"ai.gemini.api_key":     "GOOGLE_AI_API_KEY",
	"ai.openrouter.api_key": "OPENROUTER_API_KEY",
	"ai.ollama.base_url":    "OLLAMA_HOST",
	"database.url":          "DATABASE_URL",
	"redis.url":             "REDIS_URL",
	"server.port":           "PORT",
}

// bindLegacyEnv binds legacy names inside viper so they rank above defaults
// and the config file, like every other environment variable.
func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(envReplacer.Replace(key))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind %s: %w", legacy, err)
		}
	}
	return nil
}

// applyLegacyEnv reads the numbered SAM key variables, which have no single
// config key to bind to.
func applyLegacyEnv(cfg *Config) {
	if len(cfg.SAM.APIKeys) == 0 {
		cfg.SAM.APIKeys = collectSAMKeys()
	}
}

// collectSAMKeys reads SAM_GOV_API_KEY followed by SAM_GOV_API_KEY_1..10,
// keeping order and dropping duplicates.
func collectSAMKeys() []string {
	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	add(os.Getenv("SAM_GOV_API_KEY"))
	for i := 1; i <= maxNumberedKeys; i++ {
		add(os.Getenv(fmt.Sprintf("SAM_GOV_API_KEY_%d", i)))
	}
	return keys
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8081"
	}
	if cfg.SAM.AccountType == "" {
		cfg.SAM.AccountType = "non_federal"
	}
	if cfg.SAM.Timeout <= 0 {
		cfg.SAM.Timeout = 60 * time.Second
	}
	if cfg.SAM.BackoffBase <= 0 {
		cfg.SAM.BackoffBase = 500 * time.Millisecond
	}
	if cfg.SAM.BackoffFactor <= 0 {
		cfg.SAM.BackoffFactor = 2.0
	}
	if cfg.SAM.KeyDisabledTTL <= 0 {
		cfg.SAM.KeyDisabledTTL = time.Hour
	}
	if cfg.Quota == nil {
		cfg.Quota = make(map[string]int)
	}
	for tier, q := range DefaultQuotas {
		if cfg.Quota[tier] <= 0 {
			cfg.Quota[tier] = q
		}
	}
	if cfg.Description.MaxLength <= 0 {
		cfg.Description.MaxLength = 10000
	}
	if cfg.Description.MinEnhancementLength <= 0 {
		cfg.Description.MinEnhancementLength = 50
	}
	if cfg.Description.FetchTimeout <= 0 {
		cfg.Description.FetchTimeout = 10 * time.Second
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 4000
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60 * time.Second
	}
	if cfg.Market.Limit <= 0 {
		cfg.Market.Limit = 10
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.SAM.MaxRetries < 0 {
		return fmt.Errorf("sam.max_retries must be >= 0, got %d", c.SAM.MaxRetries)
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be within [0,2], got %v", c.AI.Temperature)
	}
	if c.AI.RateLimitDelay < 0 {
		return fmt.Errorf("ai.rate_limit_delay must be >= 0")
	}
	if c.Description.MinEnhancementLength > c.Description.MaxLength {
		return fmt.Errorf("description.min_enhancement_length (%d) exceeds description.max_length (%d)",
			c.Description.MinEnhancementLength, c.Description.MaxLength)
	}
	if c.AI.PreferredProvider != "" && !contains(c.AI.ProviderOrder, c.AI.PreferredProvider) {
		return fmt.Errorf("ai.preferred_provider %q is not in ai.provider_order", c.AI.PreferredProvider)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
