// Package crawl implements the crawl stage: robots enforcement, homepage
// fetching, menu link discovery, and structured markup extraction.
package crawl

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// FetchResponse is the outcome of one page or asset fetch.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher retrieves one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// CollyConfig controls collector behavior.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyFetcher fetches pages with a colly collector. Each Fetch clones the
// base collector so hooks stay request-scoped.
type CollyFetcher struct {
	cfg           CollyConfig
	baseCollector *colly.Collector
}

// NewCollyFetcher builds a CollyFetcher.
func NewCollyFetcher(cfg CollyConfig) *CollyFetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // robots enforcement happens in RobotsEnforcer
	c.WithTransport(newHTTPTransport())
	return &CollyFetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET using colly.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) (FetchResponse, error) {
	var (
		result   FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return FetchResponse{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
