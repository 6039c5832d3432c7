// Package upstream is the single funnel for requests to the catalog site and title providers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	collyfetcher "github.com/JakeFAU/einthusan-addon/internal/fetcher/colly"
	"github.com/JakeFAU/einthusan-addon/internal/metrics"
)

// Fetcher performs one HTTP exchange.
type Fetcher interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Permits bounds concurrent upstream work.
type Permits interface {
	Acquire(ctx context.Context) error
	Release()
}

// Politeness waits for a per-host token before a request is sent.
type Politeness interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the access layer.
type Config struct {
	BaseURL          string
	Retry            RetryPolicy
	RateLimitMarkers []string
	Headers          http.Header
}

// Client fetches upstream resources under the retry policy, the concurrency limiter, and per-host politeness.
type Client struct {
	base    *url.URL
	cfg     Config
	fetcher Fetcher
	permits Permits
	polite  Politeness
	logger  *zap.Logger
}

// New builds a Client. permits and polite may be nil.
func New(cfg Config, fetcher Fetcher, permits Permits, polite Politeness, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("upstream: fetcher is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.RateLimitMarkers == nil {
		cfg.RateLimitMarkers = DefaultRateLimitMarkers
	}
	return &Client{
		base:    base,
		cfg:     cfg,
		fetcher: fetcher,
		permits: permits,
		polite:  polite,
		logger:  logger.Named("upstream"),
	}, nil
}

// BaseURL returns the site root every relative path is resolved against.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ResolveURL resolves a site-relative path and query against the base URL.
func (c *Client) ResolveURL(path string, params url.Values) string {
	ref := &url.URL{Path: path}
	if len(params) > 0 {
		ref.RawQuery = params.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

// Document fetches a site-relative page and parses it as HTML.
func (c *Client) Document(ctx context.Context, path string, params url.Values) (*goquery.Document, error) {
	target := c.ResolveURL(path, params)
	body, err := c.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", target, err)
	}
	if u, err := url.Parse(target); err == nil {
		doc.Url = u
	}
	return doc, nil
}

// Get fetches an absolute URL and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Do(ctx, collyfetcher.Request{Method: http.MethodGet, URL: rawURL})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// JSON fetches an absolute URL and decodes the body into v.
func (c *Client) JSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// Do executes a request. GET and HEAD are retried under the policy; other methods get one attempt.
func (c *Client) Do(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error) {
	if request.Method == "" {
		request.Method = http.MethodGet
	}
	if len(c.cfg.Headers) > 0 {
		merged := c.cfg.Headers.Clone()
		for k, vs := range request.Headers {
			merged[k] = vs
		}
		request.Headers = merged
	}

	policy := c.cfg.Retry
	replayable := request.Method == http.MethodGet || request.Method == http.MethodHead
	budget := newAttemptBudget(policy, replayable)

	var resp collyfetcher.Response
	err := retry.Do(
		func() error {
			r, err := c.attempt(ctx, request)
			budget.record(err)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.LastErrorOnly(true),
		retry.RetryIf(budget.allows),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			return budget.delay(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying upstream request",
				zap.String("url", request.URL),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return resp, nil
	}
	return collyfetcher.Response{}, c.fetchError(request.URL, budget, err)
}

func (c *Client) attempt(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error) {
	if c.permits != nil {
		if err := c.permits.Acquire(ctx); err != nil {
			return collyfetcher.Response{}, retry.Unrecoverable(err)
		}
		defer c.permits.Release()
	}
	if c.polite != nil {
		if err := c.polite.Wait(ctx, request.URL); err != nil {
			return collyfetcher.Response{}, retry.Unrecoverable(err)
		}
	}

	start := time.Now()
	resp, err := c.fetcher.Fetch(ctx, request)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveUpstream(request.URL, "error", elapsed)
		if ctx.Err() != nil {
			return collyfetcher.Response{}, retry.Unrecoverable(err)
		}
		return collyfetcher.Response{}, err
	}
	if c.isRateLimited(resp) {
		metrics.ObserveUpstream(request.URL, "rate_limited", elapsed)
		metrics.ObserveRateLimited(request.URL)
		return collyfetcher.Response{}, &StatusError{Code: resp.StatusCode, Err: catalog.ErrRateLimited}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.ObserveUpstream(request.URL, statusClass(resp.StatusCode), elapsed)
		se := &StatusError{Code: resp.StatusCode}
		if resp.StatusCode == http.StatusNotFound {
			se.Err = catalog.ErrNotFound
		}
		return collyfetcher.Response{}, se
	}
	metrics.ObserveUpstream(request.URL, "ok", elapsed)
	return resp, nil
}

func (c *Client) isRateLimited(resp collyfetcher.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if len(resp.Body) == 0 {
		return false
	}
	body := string(resp.Body)
	for _, marker := range c.cfg.RateLimitMarkers {
		if marker != "" && strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func (c *Client) fetchError(rawURL string, budget *attemptBudget, err error) error {
	fe := &catalog.FetchError{URL: rawURL, Attempts: budget.total, Err: err}
	var se *StatusError
	if errors.As(err, &se) {
		fe.Status = se.Code
	}
	c.logger.Warn("upstream request failed",
		zap.String("url", rawURL),
		zap.Int("status", fe.Status),
		zap.Int("attempts", fe.Attempts),
		zap.Error(err),
	)
	return fe
}

func statusClass(code int) string {
	if code >= http.StatusInternalServerError {
		return "5xx"
	}
	return "4xx"
}
