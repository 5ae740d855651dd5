package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	ProviderOpenRouter     = "openrouter"
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterSite  = "https://github.com/david/bid-intel"
	defaultOpenRouterTitle = "bid-intel"
	defaultOpenRouterModel = "openai/gpt-4o-mini"
)

var openRouterModels = map[TaskType]string{
	TaskAnalysis:       "anthropic/claude-3.5-sonnet",
	TaskGeneration:     "openai/gpt-4o",
	TaskSummarization:  "openai/gpt-4o-mini",
	TaskClassification: "meta-llama/llama-3.1-8b-instruct:free",
}

// OpenRouterAdapter talks to OpenRouter's OpenAI-compatible endpoint.
type OpenRouterAdapter struct {
	client   openai.Client
	apiKey   string
	model    string
	timeout  time.Duration
	throttle *throttle
}

func NewOpenRouterAdapter(cfg AdapterConfig) *OpenRouterAdapter {
	cfg = cfg.withDefaults()
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
		option.WithHeader("HTTP-Referer", defaultOpenRouterSite),
		option.WithHeader("X-Title", defaultOpenRouterTitle),
	}
	return &OpenRouterAdapter{
		client:   openai.NewClient(opts...),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		throttle: newThrottle(cfg.MinInterval),
	}
}

func (o *OpenRouterAdapter) Name() string    { return ProviderOpenRouter }
func (o *OpenRouterAdapter) Available() bool { return o.apiKey != "" }

func (o *OpenRouterAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	req = req.withDefaults()
	if err := o.throttle.wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	model := modelFor(req, o.model, openRouterModels, defaultOpenRouterModel)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(*req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Content:    resp.Choices[0].Message.Content,
		Provider:   ProviderOpenRouter,
		Model:      model,
		TokensUsed: intPtr(int(resp.Usage.TotalTokens)),
		LatencyMs:  time.Since(start).Milliseconds(),
		Metadata: map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"finish_reason":     string(resp.Choices[0].FinishReason),
			"upstream_model":    resp.Model,
		},
	}, nil
}
