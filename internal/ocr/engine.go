package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

// EngineConfig points the client at the external OCR service.
type EngineConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPEngine calls an external OCR service over a JSON boundary.
type HTTPEngine struct {
	cfg    EngineConfig
	client *http.Client
}

// NewHTTPEngine builds the engine client.
func NewHTTPEngine(cfg EngineConfig) (*HTTPEngine, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("ocr endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPEngine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type extractRequest struct {
	Image    string `json:"image"`
	MIMEType string `json:"mime_type"`
}

type extractResponse struct {
	Blocks    []pipeline.TextBlock `json:"blocks"`
	PageCount int                  `json:"page_count"`
	Engine    string               `json:"engine"`
}

// Extract sends the (preprocessed) image or PDF to the engine and returns
// ordered text blocks. 4xx responses are permanent; network errors and 5xx
// are transient and retried by the queue.
func (e *HTTPEngine) Extract(ctx context.Context, image []byte, mimeType string) (pipeline.OCRResult, error) {
	body, err := json.Marshal(extractRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MIMEType: mimeType,
	})
	if err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("marshal ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("new ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	metrics.ObserveExternalCall("ocr", time.Since(start), err)
	if err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("call ocr engine: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("read ocr response: %w", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return pipeline.OCRResult{}, fmt.Errorf("ocr engine returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return pipeline.OCRResult{}, pipeline.Permanentf("ocr engine rejected input: %d %s", resp.StatusCode, truncate(respBody, 200))
	}

	var decoded extractResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return pipeline.OCRResult{}, fmt.Errorf("decode ocr response: %w", err)
	}
	return pipeline.OCRResult{
		Blocks:    decoded.Blocks,
		PageCount: decoded.PageCount,
		Engine:    decoded.Engine,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
