// Package client fetches user updates from the upstream API.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"usersync/internal/usersync/config"
	"usersync/internal/usersync/metrics"
	"usersync/internal/usersync/model"
)

const (
	UserAgent = "usersync/1.0"

	maxBodyBytes  = 32 << 20
	maxErrorBytes = 512
)

// Client issues one logical fetch per FetchUpdates call, retrying transient
// failures. It keeps no state between calls apart from the http.Client.
type Client struct {
	endpoint    string
	method      string
	apiKey      string
	recordsPath string

	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	jitter      float64

	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		endpoint:    cfg.Endpoint(),
		method:      cfg.APIMethod,
		apiKey:      cfg.APIKey,
		recordsPath: cfg.APIRecordsPath,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
		jitter:      cfg.BackoffJitter,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		sleep:       sleepContext,
		now:         time.Now,
		logger:      slog.Default(),
	}
	if c.method == "" {
		c.method = http.MethodGet
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchUpdates makes at most maxRetries+1 attempts. Client errors, decode
// errors and cancellation end the loop immediately.
func (c *Client) FetchUpdates(ctx context.Context) ([]model.UserUpdate, error) {
	schedule := c.newBackOff()

	var last *FetchError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		body, retryAfter, ferr := c.do(ctx)
		if ferr == nil {
			c.metrics.ObserveFetchAttempt("success")
			updates, err := decodeUpdates(body, c.recordsPath)
			if err != nil {
				return nil, &FetchError{Kind: KindDecode, Attempts: attempt + 1, Err: err}
			}
			c.logger.Debug("fetched updates", "attempt", attempt+1, "count", len(updates))
			return updates, nil
		}

		ferr.Attempts = attempt + 1
		c.metrics.ObserveFetchAttempt(string(ferr.Kind))
		last = ferr
		if !ferr.Retryable() || attempt == c.maxRetries {
			break
		}

		delay := schedule.NextBackOff()
		if retryAfter > 0 {
			delay = retryAfter
		}
		if c.backoffMax > 0 && delay > c.backoffMax {
			delay = c.backoffMax
		}
		c.logger.Warn("fetch attempt failed, retrying",
			"attempt", attempt+1,
			"kind", string(ferr.Kind),
			"status", ferr.StatusCode,
			"delay", delay.String(),
			"error", ferr.Err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &FetchError{Kind: KindCanceled, Attempts: attempt + 1, Err: err}
		}
	}
	return nil, last
}

// newBackOff yields base, 2*base, 4*base, ... capped at backoffMax.
func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	b.Multiplier = 2
	b.RandomizationFactor = c.jitter
	b.MaxInterval = c.backoffMax
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.Reset()
	return b
}

func (c *Client) do(ctx context.Context) ([]byte, time.Duration, *FetchError) {
	var reqBody io.Reader
	if c.method == http.MethodPost {
		reqBody = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.endpoint, reqBody)
	if err != nil {
		return nil, 0, &FetchError{Kind: KindClient, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, &FetchError{Kind: KindCanceled, Err: ctx.Err()}
		}
		return nil, 0, &FetchError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			return nil, 0, &FetchError{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		}
		if len(data) > maxBodyBytes {
			return nil, 0, &FetchError{Kind: KindDecode, StatusCode: resp.StatusCode, Err: fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)}
		}
		return data, 0, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, retryAfter, &FetchError{Kind: KindRateLimited, StatusCode: resp.StatusCode, Err: statusErr}
	case resp.StatusCode >= 500:
		return nil, 0, &FetchError{Kind: KindServer, StatusCode: resp.StatusCode, Err: statusErr}
	default:
		return nil, 0, &FetchError{Kind: KindClient, StatusCode: resp.StatusCode, Err: statusErr}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Zero means no hint.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
