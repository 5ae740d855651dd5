package ai

import (
	"net/http"
	"strings"

	"github.com/david/bid-intel/internal/config"
	"go.uber.org/zap"
)

// DefaultProviderOrder is used when the configuration names none.
var DefaultProviderOrder = []string{ProviderClaude, ProviderGemini, ProviderOpenRouter, ProviderOllama}

// Providers is what the server needs from the AI configuration.
type Providers struct {
	Orchestrator *Orchestrator
	Options      GenerateOptions
	// Embedder is nil unless ollama is enabled.
	Embedder Embedder
}

// NewFromConfig builds adapters in ProviderOrder, skipping disabled ones and
// hosted providers without a key. client may be nil.
func NewFromConfig(cfg config.AIConfig, client *http.Client, log *zap.Logger) *Providers {
	if log == nil {
		log = zap.NewNop()
	}
	order := cfg.ProviderOrder
	if len(order) == 0 {
		order = DefaultProviderOrder
	}

	adapterCfg := func(p config.ProviderConfig) AdapterConfig {
		return AdapterConfig{
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			Timeout:     cfg.Timeout,
			MinInterval: cfg.RateLimitDelay,
			HTTPClient:  client,
		}
	}

	out := &Providers{Options: GenerateOptions{Preferred: cfg.PreferredProvider, Fallback: cfg.Fallback}}
	var adapters []Adapter
	seen := map[string]bool{}
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case ProviderClaude:
			if cfg.Claude.Enabled && cfg.Claude.APIKey != "" {
				adapters = append(adapters, NewClaudeAdapter(adapterCfg(cfg.Claude)))
			}
		case ProviderGemini:
			if cfg.Gemini.Enabled && cfg.Gemini.APIKey != "" {
				adapters = append(adapters, NewGeminiAdapter(adapterCfg(cfg.Gemini)))
			}
		case ProviderOpenRouter:
			if cfg.OpenRouter.Enabled && cfg.OpenRouter.APIKey != "" {
				adapters = append(adapters, NewOpenRouterAdapter(adapterCfg(cfg.OpenRouter)))
			}
		case ProviderOllama:
			if cfg.Ollama.Enabled {
				c := NewOllamaClient(adapterCfg(cfg.Ollama), cfg.Ollama.EmbedModel)
				adapters = append(adapters, c)
				out.Embedder = c
			}
		default:
			log.Warn("unknown AI provider in provider_order", zap.String("provider", name))
		}
	}

	out.Orchestrator = NewOrchestrator(adapters, log)
	out.Orchestrator.maxTokens = cfg.MaxTokens
	out.Orchestrator.temperature = Float64(cfg.Temperature)
	log.Info("AI providers configured", zap.Strings("providers", out.Orchestrator.Providers()))
	return out
}
