package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"groceryai/pkg/domain"
)

// Result is what the OCR provider extracts from one receipt image.
type Result struct {
	RawText       string               `json:"rawText"`
	Merchant      string               `json:"merchant"`
	PurchaseDate  string               `json:"purchaseDate"`
	Total         *float64             `json:"total"`
	Subtotal      *float64             `json:"subtotal,omitempty"`
	Tax           *float64             `json:"tax,omitempty"`
	Currency      string               `json:"currency"`
	Items         []domain.ReceiptItem `json:"items"`
	DetectedStore string               `json:"detectedStore,omitempty"`
}

// Client calls an external OCR service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ocr base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}, nil
}

// Extract sends the image to the OCR service. Failures come back as
// "service unreachable", "HTTP <code>" or "timed out after Ns" so the
// ingestion path can record a readable receipt error.
func (c *Client) Extract(ctx context.Context, filename string, image io.Reader) (Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Result{}, fmt.Errorf("timed out after %ds", int(c.timeout.Seconds()))
		}
		return Result{}, errors.New("service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	slog.Info("ocr extract complete",
		"filename", filename,
		"duration_ms", time.Since(start).Milliseconds(),
		"items", len(result.Items),
	)
	return result, nil
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
