// Package ai puts several LLM backends behind one request/response contract
// and tries them in order until one answers.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// TaskType picks a model from each adapter's model table.
type TaskType string

const (
	TaskAnalysis       TaskType = "analysis"
	TaskGeneration     TaskType = "generation"
	TaskSummarization  TaskType = "summarization"
	TaskClassification TaskType = "classification"
)

const (
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.7
	DefaultTimeout     = 60 * time.Second
	DefaultMinInterval = time.Second
)

var (
	ErrNoProvidersAvailable = errors.New("no AI providers available")
	ErrEmptyResponse        = errors.New("provider returned no content")
)

type Request struct {
	Prompt       string
	SystemPrompt string
	TaskType     TaskType
	MaxTokens    int      // DefaultMaxTokens when zero
	Temperature  *float64 // DefaultTemperature when nil; zero is a valid setting
	Model        string   // overrides the task table when set
}

func (r Request) withDefaults() Request {
	if r.TaskType == "" {
		r.TaskType = TaskAnalysis
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature == nil {
		r.Temperature = Float64(DefaultTemperature)
	}
	return r
}

// Float64 returns a pointer to v, for Request.Temperature.
func Float64(v float64) *float64 {
	return &v
}

// AdapterConfig is shared by every adapter constructor. Zero durations take
// DefaultTimeout and DefaultMinInterval; a negative MinInterval disables
// throttling.
type AdapterConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MinInterval time.Duration
	HTTPClient  *http.Client
}

func (c AdapterConfig) withDefaults() AdapterConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// modelFor resolves the model for req: an explicit request override, then a
// configured override, then the adapter's task table.
func modelFor(req Request, override string, table map[TaskType]string, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if override != "" {
		return override
	}
	if m, ok := table[req.TaskType]; ok {
		return m
	}
	return fallback
}

type Response struct {
	Content      string         `json:"content"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	TokensUsed   *int           `json:"tokens_used,omitempty"`
	CostEstimate *float64       `json:"cost_estimate,omitempty"`
	LatencyMs    int64          `json:"latency_ms"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Adapter maps the uniform contract onto one provider's API.
type Adapter interface {
	Name() string
	Available() bool
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Embedder produces vectors for similar-notice search.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ProviderError is a non-2xx answer from a provider reached over plain HTTP.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
}

// IsRetryable reports whether err looks transient: rate limiting, a 5xx, or
// a network failure without a response. Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNoProvidersAvailable) || errors.Is(err, ErrEmptyResponse) {
		return false
	}

	status := 0
	var oaErr *openai.Error
	var anErr *anthropic.Error
	var pErr *ProviderError
	switch {
	case errors.As(err, &oaErr):
		status = oaErr.StatusCode
	case errors.As(err, &anErr):
		status = anErr.StatusCode
	case errors.As(err, &pErr):
		status = pErr.StatusCode
	default:
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func intPtr(v int) *int { return &v }

func float64Ptr(v float64) *float64 { return &v }
