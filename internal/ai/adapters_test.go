package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapterConfig(baseURL string) AdapterConfig {
	return AdapterConfig{
		APIKey:      "secret-key",
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		MinInterval: -1,
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestClaudeAdapter_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("X-Api-Key"))
		body = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant",
			"model": "claude-3-5-haiku-20241022",
			"content": [{"type": "text", "text": "OK"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1000, "output_tokens": 500}
		}`)
	}))
	defer srv.Close()

	a := NewClaudeAdapter(testAdapterConfig(srv.URL + "/"))
	require.True(t, a.Available())

	resp, err := a.Generate(context.Background(), Request{
		Prompt:       "hello",
		SystemPrompt: "be brief",
		TaskType:     TaskClassification,
		MaxTokens:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Content)
	assert.Equal(t, ProviderClaude, resp.Provider)
	assert.Equal(t, "claude-3-5-haiku-20241022", resp.Model)
	require.NotNil(t, resp.TokensUsed)
	assert.Equal(t, 500, *resp.TokensUsed)
	require.NotNil(t, resp.CostEstimate)
	assert.InDelta(t, (1000*0.80+500*4.00)/1e6, *resp.CostEstimate, 1e-12)

	assert.Equal(t, "claude-3-5-haiku-20241022", body["model"])
	assert.EqualValues(t, 100, body["max_tokens"])
	require.NotNil(t, body["system"])
}

func TestClaudeAdapter_ServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	}))
	defer srv.Close()

	_, err := NewClaudeAdapter(testAdapterConfig(srv.URL+"/")).Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 1, calls)
}

func TestOpenRouterAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("HTTP-Referer"))
		assert.Equal(t, defaultOpenRouterTitle, r.Header.Get("X-Title"))
		body := decodeBody(t, r)
		assert.Equal(t, "openai/gpt-4o", body["model"])
		msgs := body["messages"].([]any)
		assert.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "gen-1", "object": "chat.completion", "created": 1,
			"model": "openai/gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "OK"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`)
	}))
	defer srv.Close()

	a := NewOpenRouterAdapter(testAdapterConfig(srv.URL + "/api/v1/"))
	resp, err := a.Generate(context.Background(), Request{Prompt: "hi", SystemPrompt: "sys", TaskType: TaskGeneration})
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Content)
	assert.Equal(t, ProviderOpenRouter, resp.Provider)
	require.NotNil(t, resp.TokensUsed)
	assert.Equal(t, 10, *resp.TokensUsed)
}

func TestOpenRouterAdapter_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"gen-1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenRouterAdapter(testAdapterConfig(srv.URL+"/")).Generate(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret-key", r.URL.Query().Get("key"))
		body := decodeBody(t, r)
		text := body["contents"].([]any)[0].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"].(string)
		assert.Equal(t, "sys\n\nhi", text)

		_, _ = io.WriteString(w, `{
			"candidates": [{"content": {"parts": [{"text": "O"}, {"text": "K"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
		}`)
	}))
	defer srv.Close()

	resp, err := NewGeminiAdapter(testAdapterConfig(srv.URL)).Generate(context.Background(),
		Request{Prompt: "hi", SystemPrompt: "sys", TaskType: TaskSummarization})
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Content)
	require.NotNil(t, resp.TokensUsed)
	assert.Equal(t, 6, *resp.TokensUsed)
}

func TestGeminiAdapter_ErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `quota exceeded`)
	}))
	defer srv.Close()

	_, err := NewGeminiAdapter(testAdapterConfig(srv.URL)).Generate(context.Background(), Request{Prompt: "hi"})
	var pErr *ProviderError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, http.StatusTooManyRequests, pErr.StatusCode)
	assert.True(t, IsRetryable(err))
	assert.NotContains(t, err.Error(), "secret-key")

	srv.Close()
	_, err = NewGeminiAdapter(testAdapterConfig(srv.URL)).Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-key")
}

func TestOllamaClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		switch r.URL.Path {
		case "/api/generate":
			assert.Equal(t, "json", body["format"])
			assert.Equal(t, false, body["stream"])
			_, _ = io.WriteString(w, `{"response":"{\"ok\":true}","done":true,"prompt_eval_count":5,"eval_count":7}`)
		case "/api/embeddings":
			assert.Equal(t, "nomic-embed-text", body["model"])
			_, _ = io.WriteString(w, `{"embedding":[0.1,0.2,0.3]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewOllamaClient(testAdapterConfig(srv.URL), "")
	resp, err := c.Generate(context.Background(), Request{Prompt: "Respond ONLY with a JSON object"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 12, *resp.TokensUsed)
	assert.Equal(t, 0.0, *resp.CostEstimate)

	vec, err := c.GenerateEmbedding(context.Background(), "cloud migration")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestWantsJSON(t *testing.T) {
	assert.True(t, wantsJSON("...\nRespond ONLY with the JSON object."))
	assert.False(t, wantsJSON("Write a short summary"))
	assert.False(t, wantsJSON(strings.Repeat("json ", 3)))
}

func TestThrottleWaitsBetweenCalls(t *testing.T) {
	th := newThrottle(50 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, th.wait(ctx))
	require.NoError(t, th.wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, th.wait(cancelled))
}
