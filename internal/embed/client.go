package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/grazeapp/menupipe/internal/metrics"
)

// Client defaults.
const (
	DefaultModel     = "text-embedding-ada-002"
	DefaultDimension = 1536
	DefaultBatchSize = 32

	maxRetries = 4
)

// ClientConfig points the embedder at the external embedding service.
type ClientConfig struct {
	Endpoint  string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
	RPS       float64
	Timeout   time.Duration
}

// HTTPEmbedder calls the external embedding service in rate-limited
// batches, backing off exponentially when the service returns 429.
type HTTPEmbedder struct {
	cfg     ClientConfig
	client  *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewHTTPEmbedder builds the embedding client.
func NewHTTPEmbedder(cfg ClientConfig) (*HTTPEmbedder, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &HTTPEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepCtx,
	}, nil
}

// ModelVersion reports which model produced the vectors.
func (e *HTTPEmbedder) ModelVersion() string { return e.cfg.Model }

// Dimension reports the vector width.
func (e *HTTPEmbedder) Dimension() int { return e.cfg.Dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in order. Inputs beyond the
// batch size are split across sequential requests.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *HTTPEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		vectors, retryable, err := e.doRequest(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if !retryable || attempt >= maxRetries {
			return nil, err
		}
		if err := e.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (e *HTTPEmbedder) doRequest(ctx context.Context, texts []string) ([][]float32, bool, error) {
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, false, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("new embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	metrics.ObserveExternalCall("embedding", time.Since(start), err)
	if err != nil {
		return nil, true, fmt.Errorf("call embedding service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read embedding response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("embedding service rate limited")
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("embedding service returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("embedding service rejected request: %d", resp.StatusCode)
	}

	var decoded embedResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, false, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, false, fmt.Errorf("embedding service returned %d vectors for %d texts", len(decoded.Data), len(texts))
	}
	out := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		if len(d.Embedding) != e.cfg.Dimension {
			return nil, false, fmt.Errorf("vector %d has dimension %d, want %d", i, len(d.Embedding), e.cfg.Dimension)
		}
		out[i] = d.Embedding
	}
	return out, false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
