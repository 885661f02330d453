// Package restclient implements the RestAPIClient template (spec.md
// section 4.9): a service-provider base composing a rate limiter, a
// per-target circuit breaker, and a full-jitter retry loop around an
// *http.Client, reporting its own health.
package restclient

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/jobengine/worker-core/internal/breaker"
	"github.com/jobengine/worker-core/internal/errs"
	"github.com/jobengine/worker-core/internal/health"
	"github.com/jobengine/worker-core/internal/ratelimit"
)

// Config controls one client's rate limit, retry, and circuit-breaker
// behavior. BaseURL also doubles as the breaker's target key unless
// BreakerTarget is set.
type Config struct {
	BaseURL       string
	BreakerTarget string

	RateLimit ratelimit.Config

	// MaxRetries is the number of retries after the initial attempt (0
	// means no retries). A negative value picks the default of 3.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BreakerTarget == "" {
		c.BreakerTarget = c.BaseURL
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	return c
}

// Client is one configured REST endpoint's delivery path: circuit
// breaker check -> rate limiter -> request -> record outcome.
type Client struct {
	cfg       Config
	http      *http.Client
	limiter   *ratelimit.Limiter
	breakers  *breaker.Manager
	checks    *health.Registry
	checkName string
}

// New builds a Client. httpClient defaults to http.DefaultClient when nil.
func New(cfg Config, httpClient *http.Client, breakers *breaker.Manager, checks *health.Registry) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	checkName := "restclient:" + cfg.BreakerTarget
	checks.Register(checkName)
	return &Client{
		cfg:       cfg,
		http:      httpClient,
		limiter:   ratelimit.New(cfg.RateLimit),
		breakers:  breakers,
		checks:    checks,
		checkName: checkName,
	}
}

// Do executes req through the rate limiter, circuit breaker, and
// full-jitter retry loop. On circuit-open, it fails fast with
// CIRCUIT_OPEN without consuming a rate-limit token. 4xx responses are
// never retried; 5xx, connect errors, and timeouts are retried up to
// MaxRetries, each retry consuming one token.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	cb := c.breakers.For(c.cfg.BreakerTarget)
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, errs.New(errs.UpstreamConnect, "restclient: read request body: %v", err)
		}
		req.Body.Close()
	}

	for attempt := 0; ; attempt++ {
		if !cb.Allow() {
			_ = c.checks.Update(c.checkName, health.Red, map[string]any{"reason": "circuit_open"})
			return nil, errs.New(errs.CircuitOpen, "restclient: circuit open for %s", c.cfg.BreakerTarget)
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, errs.Wrap(errs.RateLimitExceeded, err)
		}

		attemptReq := req.Clone(ctx)
		if bodyBytes != nil {
			attemptReq.Body = io.NopCloser(newByteReader(bodyBytes))
		}

		resp, err := c.http.Do(attemptReq)
		jobErr, retryable := classify(resp, err)
		if jobErr == nil {
			cb.Record(true)
			_ = c.checks.Update(c.checkName, health.Green, nil)
			return resp, nil
		}
		cb.Record(false)

		if !retryable || attempt >= c.cfg.MaxRetries {
			_ = c.checks.Update(c.checkName, health.Red, map[string]any{"error": jobErr.Message})
			return resp, jobErr
		}

		_ = c.checks.Update(c.checkName, health.Yellow, map[string]any{"attempt": attempt + 1, "error": jobErr.Message})
		wait := fullJitterBackoff(attempt+1, c.cfg.BackoffBase, c.cfg.BackoffMax)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// classify turns a round-trip outcome into a structured error and
// whether it should be retried. A nil error with no error means success.
// Per spec.md section 4.9, 4xx responses (including 429) are never
// retried; only 5xx, connect errors, and timeouts are.
func classify(resp *http.Response, err error) (*errs.JobError, bool) {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return errs.New(errs.UpstreamTimeout, "restclient: %v", err), true
		}
		return errs.New(errs.UpstreamConnect, "restclient: %v", err), true
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.New(errs.RateLimitExceeded, "restclient: upstream returned 429"), false
	}
	if resp.StatusCode < 500 {
		return nil, false
	}
	return errs.New(errs.Upstream5xx, "restclient: upstream returned %d", resp.StatusCode), true
}

// fullJitterBackoff computes an exponential backoff window (base doubled
// per attempt, capped at ceiling), then applies full jitter: sleep is
// drawn uniformly from [0, window).
func fullJitterBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	window := time.Duration(1<<uint(attempt-1)) * base
	if window <= 0 || window > ceiling {
		window = ceiling
	}
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(window)))
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
