// Package acrcloud is the client for the acoustic fingerprinting provider:
// request signing, audio registration, monitoring toggles and detection
// retrieval. Provider-native field names never leave this package.
package acrcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/httpclient"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/observability/metrics"
)

const (
	componentACRCloud = "acrcloud"

	pathAudios     = "/v1/audios"
	pathMonitors   = "/v1/monitors"
	pathDetections = "/v1/detections"

	opRegister = metrics.OpRegister
	opEnable   = metrics.OpEnableMonitor
	opDisable  = metrics.OpDisableMonitor
	opQuery    = metrics.OpQueryDetections

	maxResponseBytes = 8 << 20
)

// RetryConfig configures exponential backoff for transient failures.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Config holds provider credentials and transport tuning.
type Config struct {
	Host         string
	AccessKey    string
	AccessSecret string
	Timeout      time.Duration // per attempt
	UserAgent    string
	RateLimit    float64 // requests per second, 0 disables
	RateBurst    int
	Retry        RetryConfig
}

// ConfigFromSettings converts loaded settings into a client Config.
func ConfigFromSettings(s *conf.ACRCloudSettings) Config {
	return Config{
		Host:         s.Host,
		AccessKey:    s.AccessKey,
		AccessSecret: s.AccessSecret,
		Timeout:      s.Timeout,
		UserAgent:    s.UserAgent,
		RateLimit:    s.RateLimit,
		RateBurst:    s.RateBurst,
		Retry: RetryConfig{
			MaxRetries:   s.Retry.MaxRetries,
			InitialDelay: s.Retry.InitialDelay,
			MaxDelay:     s.Retry.MaxDelay,
			Multiplier:   s.Retry.Multiplier,
		},
	}
}

// Recorder receives per-call provider metrics.
type Recorder interface {
	RecordProviderRequest(operation, outcome string, seconds float64)
	RecordProviderRetry(operation string)
}

// Client talks to the provider API. Safe for concurrent use.
type Client struct {
	baseURL string
	signer  *Signer
	http    *httpclient.Client
	limiter *rate.Limiter
	timeout time.Duration
	retry   RetryConfig
	log     logger.Logger
	metrics Recorder
	now     func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// WithClock overrides the time source used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a provider client. Missing host or credentials are a
// configuration error.
func New(cfg Config, opts ...Option) (*Client, error) {
	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "host")
	}
	if cfg.AccessKey == "" {
		missing = append(missing, "access_key")
	}
	if cfg.AccessSecret == "" {
		missing = append(missing, "access_secret")
	}
	if len(missing) > 0 {
		return nil, errors.Newf("acrcloud client: missing %s", strings.Join(missing, ", ")).
			Component(componentACRCloud).
			Category(errors.CategoryConfiguration).
			Priority(errors.PriorityCritical).
			Context("missing", missing).
			Build()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = httpclient.DefaultTimeout
	}
	if cfg.Retry.Multiplier < 1 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		cfg.Retry.MaxDelay = cfg.Retry.InitialDelay
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}

	baseURL := strings.TrimRight(cfg.Host, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := max(cfg.RateBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		baseURL: baseURL,
		signer:  NewSigner(cfg.AccessKey, cfg.AccessSecret),
		limiter: limiter,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(&httpclient.Config{DefaultTimeout: cfg.Timeout, UserAgent: cfg.UserAgent})
	}
	if c.log == nil {
		c.log = logger.Global().Module(componentACRCloud)
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

// envelope is the provider's response wrapper.
type envelope struct {
	Status struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"status"`
	Data json.RawMessage `json:"data"`
}

// requestFunc builds one attempt's request. It is called again for every
// retry so that each attempt carries a fresh timestamp and signature.
type requestFunc func(ctx context.Context, now time.Time) (*http.Request, error)

// call runs one provider operation with rate limiting, per-attempt timeouts
// and bounded exponential backoff on transient failures. It returns the
// envelope's data on success.
func (c *Client) call(ctx context.Context, op string, build requestFunc) (json.RawMessage, error) {
	start := time.Now()
	log := c.log.WithContext(ctx).With(logger.String("operation", op))

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.retry, attempt-1)
			log.Warn("provider call failed, retrying",
				logger.Int("attempt", attempt),
				logger.Int("max_retries", c.retry.MaxRetries),
				logger.Duration("delay", delay),
				logger.Error(lastErr))
			if c.metrics != nil {
				c.metrics.RecordProviderRetry(op)
			}
			if err := sleepContext(ctx, delay); err != nil {
				break
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// Wait fails early when the deadline is closer than the next token.
				lastErr = &ProviderError{Op: op, Kind: ErrRateLimited, Message: "local rate limit", Err: err}
			}
			break
		}

		data, err := c.attempt(ctx, op, build)
		if err == nil {
			c.record(op, metrics.OutcomeSuccess, start)
			return data, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil {
		c.record(op, metrics.OutcomeCancelled, start)
		return nil, errors.New(ctx.Err()).
			Component(componentACRCloud).
			Category(errors.CategoryCancellation).
			Context("operation", op).
			Build()
	}

	var pe *ProviderError
	outcome := metrics.OutcomeError
	if errors.As(lastErr, &pe) {
		outcome = string(pe.ErrorCategory())
	}
	c.record(op, outcome, start)

	return nil, errors.New(lastErr).
		Component(componentACRCloud).
		Context("operation", op).
		Timing(op, time.Since(start)).
		Build()
}

// attempt performs a single signed HTTP exchange.
func (c *Client) attempt(ctx context.Context, op string, build requestFunc) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(attemptCtx, c.now())
	if err != nil {
		return nil, &ProviderError{Op: op, Kind: ErrProviderRejected, Message: "building request", Err: err}
	}

	resp, err := c.http.Do(attemptCtx, req)
	if err != nil {
		return nil, &ProviderError{Op: op, Kind: ErrProviderUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ProviderError{Op: op, Kind: ErrProviderUnavailable, HTTPStatus: resp.StatusCode, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if kind := classifyHTTPStatus(op, resp.StatusCode); kind != nil {
		pe := &ProviderError{Op: op, Kind: kind, HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && env.Status.Msg != "" {
			pe.Code, pe.Message = env.Status.Code, env.Status.Msg
		}
		return nil, pe
	}

	if decodeErr != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &ProviderError{Op: op, Kind: ErrProviderRejected, HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, &ProviderError{Op: op, Kind: ErrProviderUnavailable, HTTPStatus: resp.StatusCode, Message: "malformed response envelope", Err: decodeErr}
	}

	if env.Status.Code != codeSuccess {
		return nil, &ProviderError{
			Op:         op,
			Code:       env.Status.Code,
			Message:    env.Status.Msg,
			HTTPStatus: resp.StatusCode,
			Kind:       classifyCode(env.Status.Code),
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ProviderError{Op: op, Kind: ErrProviderRejected, HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return env.Data, nil
}

func (c *Client) record(op, outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordProviderRequest(op, outcome, time.Since(start).Seconds())
	}
}

// newSignedRequest builds a request whose auth parameters go in the query string.
func (c *Client) newSignedRequest(ctx context.Context, method, path string, now time.Time, params map[string]string, body []byte) (*http.Request, error) {
	q := c.signer.Credentials(method, path, now)
	for k, v := range params {
		q.Set(k, v)
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+q.Encode(), rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// backoffDelay returns the wait before retry number attemptNum (0-based):
// InitialDelay * Multiplier^attemptNum with +-10% jitter, capped at MaxDelay.
func backoffDelay(cfg RetryConfig, attemptNum int) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attemptNum))
	backoff *= 0.9 + 0.2*rand.Float64() //nolint:gosec // jitter does not need a secure source
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}
	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodeData unmarshals an envelope's data field into out.
func decodeData(op string, data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return malformedDataError(op, nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return malformedDataError(op, err)
	}
	return nil
}

// malformedDataError reports a success envelope whose data is missing or
// undecodable. It is treated as a transient provider fault.
func malformedDataError(op string, err error) error {
	msg := "response has no data"
	if err != nil {
		msg = fmt.Sprintf("decoding data: %v", err)
	}
	return errors.New(&ProviderError{Op: op, Kind: ErrProviderUnavailable, Message: msg, Err: err}).
		Component(componentACRCloud).
		Context("operation", op).
		Build()
}
