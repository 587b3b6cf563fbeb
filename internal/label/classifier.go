package label

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

// ClassifierConfig points the client at the external classification service.
type ClassifierConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPClassifier calls the external dietary classifier over JSON.
type HTTPClassifier struct {
	cfg    ClassifierConfig
	client *http.Client
}

// NewHTTPClassifier builds the classifier client.
func NewHTTPClassifier(cfg ClassifierConfig) (*HTTPClassifier, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("classifier endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type classifyRequest struct {
	Texts []string `json:"texts"`
}

type classifyResponse struct {
	Results []pipeline.Classification `json:"results"`
}

// Classify sends a small batch of item texts and returns one verdict per
// text, in order.
func (c *HTTPClassifier) Classify(ctx context.Context, texts []string) ([]pipeline.Classification, error) {
	body, err := json.Marshal(classifyRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveExternalCall("classifier", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}

	var decoded classifyResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	if len(decoded.Results) != len(texts) {
		return nil, fmt.Errorf("classifier returned %d results for %d texts", len(decoded.Results), len(texts))
	}
	return decoded.Results, nil
}
