package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderGemini   = "gemini"
	DefaultGeminiURL = "https://generativelanguage.googleapis.com"
)

var geminiModels = map[TaskType]string{
	TaskAnalysis:       "gemini-1.5-pro",
	TaskGeneration:     "gemini-1.5-pro",
	TaskSummarization:  "gemini-1.5-flash",
	TaskClassification: "gemini-1.5-flash",
}

type GeminiAdapter struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	model    string
	timeout  time.Duration
	throttle *throttle
}

func NewGeminiAdapter(cfg AdapterConfig) *GeminiAdapter {
	cfg = cfg.withDefaults()
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	return &GeminiAdapter{
		client:   cfg.HTTPClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		throttle: newThrottle(cfg.MinInterval),
	}
}

func (g *GeminiAdapter) Name() string    { return ProviderGemini }
func (g *GeminiAdapter) Available() bool { return g.apiKey != "" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (g *GeminiAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	req = req.withDefaults()
	if err := g.throttle.wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := modelFor(req, g.model, geminiModels, geminiModels[TaskSummarization])
	text := req.Prompt
	if req.SystemPrompt != "" {
		text = req.SystemPrompt + "\n\n" + req.Prompt
	}

	var body geminiRequest
	body.Contents = []geminiContent{{Parts: []geminiPart{{Text: text}}}}
	body.GenerationConfig.Temperature = *req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		// url.Error would echo the key.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gemini request: %w", ctxErr)
		}
		return nil, fmt.Errorf("gemini request failed: %v", redactKey(err.Error(), g.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{Provider: ProviderGemini, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	var content strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		content.WriteString(p.Text)
	}
	out := &Response{
		Content:   content.String(),
		Provider:  ProviderGemini,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
		Metadata:  map[string]any{"finish_reason": parsed.Candidates[0].FinishReason},
	}
	if u := parsed.UsageMetadata; u != nil {
		out.TokensUsed = intPtr(u.TotalTokenCount)
		out.Metadata["prompt_tokens"] = u.PromptTokenCount
		out.Metadata["candidates_tokens"] = u.CandidatesTokenCount
	}
	return out, nil
}

func redactKey(s, key string) string {
	if key == "" {
		return s
	}
	return strings.ReplaceAll(s, url.QueryEscape(key), "REDACTED")
}
