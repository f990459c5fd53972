package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"groceryai/pkg/domain"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = time.Second
	defaultTimeout        = 120 * time.Second
)

// Config holds immutable client configuration. The client is safe for
// concurrent use and is constructed once per process.
type Config struct {
	BaseURL         string
	APIKey          string
	EmbeddingModel  string
	CompletionModel string
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	Timeout         time.Duration
	Temperature     float64
}

// Client calls an OpenAI-compatible embeddings + chat completions endpoint
// with batching, per-attempt timeouts and retry with exponential backoff.
type Client struct {
	baseURL         string
	apiKey          string
	embeddingModel  string
	completionModel string
	maxAttempts     int
	retryBaseDelay  time.Duration
	timeout         time.Duration
	temperature     float64
	httpClient      *http.Client
}

// New constructs the client. It fails fast when no credential is present.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key required", ErrNotConfigured)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryBaseDelay := cfg.RetryBaseDelay
	if retryBaseDelay <= 0 {
		retryBaseDelay = defaultRetryBaseDelay
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          strings.TrimSpace(cfg.APIKey),
		embeddingModel:  strings.TrimSpace(cfg.EmbeddingModel),
		completionModel: strings.TrimSpace(cfg.CompletionModel),
		maxAttempts:     maxAttempts,
		retryBaseDelay:  retryBaseDelay,
		timeout:         timeout,
		temperature:     cfg.Temperature,
		httpClient:      &http.Client{},
	}, nil
}

// EmbedResult carries the vectors for one batched embedding call.
type EmbedResult struct {
	Model      string
	Embeddings [][]float32
	Usage      domain.Usage
}

// Message is one chat turn sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompleteOptions tune a single completion call.
type CompleteOptions struct {
	MaxTokens   int
	Temperature *float64
}

// Completion is the provider's answer plus usage accounting.
type Completion struct {
	Message string
	Model   string
	Usage   domain.Usage
}

// EmbedBatch embeds all texts in a single provider call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) (EmbedResult, error) {
	if c == nil || c.apiKey == "" {
		return EmbedResult{}, ErrNotConfigured
	}
	if len(texts) == 0 {
		return EmbedResult{}, fmt.Errorf("embed batch requires at least one text")
	}
	reqBody := embeddingRequest{Model: c.embeddingModel, Input: texts}

	var resp embeddingResponse
	err := c.withRetry(ctx, "embeddings", c.embeddingModel, func(ctx context.Context) error {
		resp = embeddingResponse{}
		return c.doJSON(ctx, "/embeddings", reqBody, &resp)
	})
	if err != nil {
		return EmbedResult{}, err
	}
	if len(resp.Data) != len(texts) {
		return EmbedResult{}, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}
	embeddings := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return EmbedResult{}, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	usage := resp.Usage.toDomain()
	logUsage("embeddings", resp.Model, usage)
	return EmbedResult{
		Model:      resp.Model,
		Embeddings: embeddings,
		Usage:      usage,
	}, nil
}

// EmbedText embeds a single text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, domain.Usage, error) {
	result, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, domain.Usage{}, err
	}
	return result.Embeddings[0], result.Usage, nil
}

// Complete issues one chat completion call.
func (c *Client) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (Completion, error) {
	if c == nil || c.apiKey == "" {
		return Completion{}, ErrNotConfigured
	}
	if len(messages) == 0 {
		return Completion{}, fmt.Errorf("completion requires at least one message")
	}
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	reqBody := chatRequest{
		Model:       c.completionModel,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: temperature,
	}

	var resp chatResponse
	err := c.withRetry(ctx, "chat.completions", c.completionModel, func(ctx context.Context) error {
		resp = chatResponse{}
		return c.doJSON(ctx, "/chat/completions", reqBody, &resp)
	})
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("empty response from completion api")
	}
	usage := resp.Usage.toDomain()
	logUsage("chat.completions", resp.Model, usage)
	return Completion{
		Message: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   resp.Model,
		Usage:   usage,
	}, nil
}

func (c *Client) withRetry(ctx context.Context, operation, model string, op func(context.Context) error) error {
	attempt := 0
	return Attempt(ctx, c.maxAttempts, c.retryBaseDelay, IsRetryable, func(ctx context.Context) error {
		attempt++
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		err := op(callCtx)
		if err != nil {
			slog.Warn("provider call failed",
				"operation", operation,
				"model", model,
				"attempt", attempt,
				"duration_ms", time.Since(start).Milliseconds(),
				"err", err,
			)
			return err
		}
		slog.Info("provider call",
			"operation", operation,
			"model", model,
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	})
}

// logUsage records the token counters of a successful call, with the dollar
// estimate when the model is in the cost table.
func logUsage(operation, model string, usage domain.Usage) {
	attrs := []any{
		"operation", operation,
		"model", model,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
	}
	if cost := EstimateCost(model, usage); cost != nil {
		attrs = append(attrs, "estimated_cost_usd", *cost)
	}
	slog.Info("provider usage", attrs...)
}

func (c *Client) doJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Wire types for the OpenAI-compatible API.

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage usagePayload `json:"usage"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage usagePayload `json:"usage"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u usagePayload) toDomain() domain.Usage {
	return domain.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
