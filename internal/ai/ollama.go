package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ProviderOllama = "ollama"

// OllamaClient is a local model server. It generates completions and the
// embeddings used for similar-notice search.
type OllamaClient struct {
	BaseURL    string
	EmbedModel string
	GenModel   string

	client   *http.Client
	timeout  time.Duration
	throttle *throttle
}

func NewOllamaClient(cfg AdapterConfig, embedModel string) *OllamaClient {
	cfg = cfg.withDefaults()
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	genModel := cfg.Model
	if genModel == "" {
		genModel = "llama3.2:latest" // Default generation model
	}
	return &OllamaClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		EmbedModel: embedModel,
		GenModel:   genModel,
		client:     cfg.HTTPClient,
		timeout:    cfg.Timeout,
		throttle:   newThrottle(cfg.MinInterval),
	}
}

func (c *OllamaClient) Name() string    { return ProviderOllama }
func (c *OllamaClient) Available() bool { return c.BaseURL != "" }

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *OllamaClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var parsedResp embeddingResponse
	if err := c.post(ctx, "/api/embeddings", embeddingRequest{Model: c.EmbedModel, Prompt: text}, &parsedResp); err != nil {
		return nil, err
	}
	if len(parsedResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return parsedResp.Embedding, nil
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Format  string          `json:"format,omitempty"` // For JSON mode
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Model           string `json:"model"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate implements Adapter. Local models ignore the task table unless a
// request names a model.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (*Response, error) {
	req = req.withDefaults()
	if err := c.throttle.wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := modelFor(req, c.GenModel, nil, c.GenModel)
	body := generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.SystemPrompt,
		Stream: false,
		Options: generateOptions{
			Temperature: *req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	if wantsJSON(req.Prompt) {
		body.Format = "json"
	}

	start := time.Now()
	var parsedResp generateResponse
	if err := c.post(ctx, "/api/generate", body, &parsedResp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(parsedResp.Response) == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Content:      parsedResp.Response,
		Provider:     ProviderOllama,
		Model:        model,
		TokensUsed:   intPtr(parsedResp.PromptEvalCount + parsedResp.EvalCount),
		CostEstimate: float64Ptr(0),
		LatencyMs:    time.Since(start).Milliseconds(),
		Metadata:     map[string]any{"done": parsedResp.Done},
	}, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, reqBody, out any) error {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// wantsJSON reports whether the prompt asks for a bare JSON object, which
// lets ollama constrain decoding.
func wantsJSON(prompt string) bool {
	lower := strings.ToLower(prompt)
	return strings.Contains(lower, "respond only with") && strings.Contains(lower, "json")
}
