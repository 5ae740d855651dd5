package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const ProviderClaude = "claude"

var claudeModels = map[TaskType]string{
	TaskAnalysis:       "claude-3-5-sonnet-20241022",
	TaskGeneration:     "claude-3-5-sonnet-20241022",
	TaskSummarization:  "claude-3-5-haiku-20241022",
	TaskClassification: "claude-3-5-haiku-20241022",
}

// USD per million input and output tokens.
var claudePricing = map[string][2]float64{
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-5-haiku-20241022":  {0.80, 4.00},
	"claude-3-opus-20240229":     {15.00, 75.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},
}

type ClaudeAdapter struct {
	client   anthropic.Client
	apiKey   string
	model    string
	timeout  time.Duration
	throttle *throttle
}

func NewClaudeAdapter(cfg AdapterConfig) *ClaudeAdapter {
	cfg = cfg.withDefaults()
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		// Fallback to the next provider replaces SDK-level retries.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &ClaudeAdapter{
		client:   anthropic.NewClient(opts...),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		throttle: newThrottle(cfg.MinInterval),
	}
}

func (c *ClaudeAdapter) Name() string    { return ProviderClaude }
func (c *ClaudeAdapter) Available() bool { return c.apiKey != "" }

func (c *ClaudeAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	req = req.withDefaults()
	if err := c.throttle.wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := modelFor(req, c.model, claudeModels, claudeModels[TaskAnalysis])
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.Prompt)},
		}},
		Temperature: anthropic.Float(*req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	out := &Response{
		Content:    content.String(),
		Provider:   ProviderClaude,
		Model:      model,
		TokensUsed: intPtr(int(resp.Usage.OutputTokens)),
		LatencyMs:  time.Since(start).Milliseconds(),
		Metadata: map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"stop_reason":   string(resp.StopReason),
		},
	}
	if price, ok := claudePricing[model]; ok {
		cost := (float64(resp.Usage.InputTokens)*price[0] + float64(resp.Usage.OutputTokens)*price[1]) / 1e6
		out.CostEstimate = float64Ptr(cost)
	}
	return out, nil
}
