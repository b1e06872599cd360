// Package transport performs HTTP requests against the Airtable REST API
// with retries, rate limit gating and request metrics.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/airtable-client/pkg/ratelimit"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtable_requests_total",
		Help: "Total Airtable requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airtable_request_duration_seconds",
		Help:    "Airtable request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtable_errors_total",
		Help: "Total Airtable request errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtable_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airtable_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

var validate = validator.New()

// Transport issues a single logical request. Implementations may retry
// internally but return exactly one Response or one error.
type Transport interface {
	Request(ctx context.Context, method, rawURL string, params url.Values, headers http.Header) (*Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Config holds the transport configuration.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string `validate:"required"`

	// Timeout bounds a single attempt.
	Timeout time.Duration `validate:"gt=0"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `validate:"gte=0,lte=10"`

	// InitialBackoff is the first retry delay; it doubles up to MaxBackoff.
	InitialBackoff time.Duration `validate:"gt=0"`
	MaxBackoff     time.Duration `validate:"gtefield=InitialBackoff"`

	// Limiter gates attempts on the shared rate limit state.
	// nil selects a process-local ratelimit.MemoryTracker.
	Limiter ratelimit.Limiter `validate:"-"`

	// HTTPClient overrides the underlying client (for testing).
	HTTPClient *http.Client `validate:"-"`
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "airtable-client/1.0",
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new HTTPTransport.
func New(cfg Config) (*HTTPTransport, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	logger := log.With().Str("component", "airtable-transport").Logger()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryTracker(logger)
	}

	return &HTTPTransport{
		httpClient: httpClient,
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Request sends method to rawURL with params merged into its query string.
//
// 5xx, 429 and network failures are retried with exponential backoff. A 4xx
// response is returned immediately. When retries run out the last response
// is returned as is, or, if no response was ever received, an error
// wrapping ErrRetryExhausted.
func (t *HTTPTransport) Request(ctx context.Context, method, rawURL string, params url.Values, headers http.Header) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", t.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	// Path only: the query may carry formulas and the headers carry the key.
	endpoint := u.Path

	var (
		resp      *Response
		lastClass ErrorClass
		attempts  int
		waitErr   error
	)

	operation := func() error {
		attempts++

		if err := t.limiter.Wait(ctx); err != nil {
			waitErr = err
			return backoff.Permanent(err)
		}

		t.logger.Debug().
			Str("endpoint", endpoint).
			Str("method", method).
			Int("attempt", attempts).
			Msg("Executing Airtable request")

		r, err := t.do(req)
		if err != nil {
			lastClass = ErrorClassNetwork
			errorsTotal.WithLabelValues(string(lastClass)).Inc()
			requestsTotal.WithLabelValues("network_error").Inc()
			t.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return &RequestError{ErrorClass: lastClass, Message: "request failed", Err: err}
		}

		resp = r
		requestsTotal.WithLabelValues(strconv.Itoa(r.StatusCode)).Inc()

		lastClass = classifyStatus(r.StatusCode)
		if lastClass == "" {
			return nil
		}

		errorsTotal.WithLabelValues(string(lastClass)).Inc()
		t.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", r.StatusCode).
			Str("error_class", string(lastClass)).
			Msg("Airtable request error")

		if lastClass == ErrorClassRateLimit {
			if err := t.limiter.ReportThrottle(ctx, ratelimit.ParseRetryAfter(r.Header)); err != nil {
				t.logger.Warn().Err(err).Msg("Failed to record rate limit cooldown")
			}
		}

		if !shouldRetry(lastClass) {
			// Let the caller interpret the status.
			return nil
		}
		return &RequestError{
			StatusCode: r.StatusCode,
			ErrorClass: lastClass,
			Message:    http.StatusText(r.StatusCode),
		}
	}

	notify := func(err error, next time.Duration) {
		retriesTotal.WithLabelValues(string(lastClass)).Inc()
		t.logger.Debug().
			Err(err).
			Str("error_class", string(lastClass)).
			Int("attempt", attempts).
			Dur("backoff", next).
			Msg("Retrying request after backoff")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), uint64(t.config.MaxRetries)), ctx)
	retryErr := backoff.RetryNotify(operation, b, notify)
	if retryErr == nil {
		if attempts > 1 {
			t.logger.Info().
				Str("endpoint", endpoint).
				Int("attempt", attempts).
				Msg("Request succeeded after retry")
		}
		return resp, nil
	}

	if ctx.Err() != nil {
		t.logger.Warn().
			Str("endpoint", endpoint).
			Int("attempt", attempts).
			Msg("Context cancelled during request")
		return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	}
	if waitErr != nil {
		return nil, fmt.Errorf("rate limit wait: %w", waitErr)
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	t.logger.Warn().
		Str("endpoint", endpoint).
		Str("error_class", string(lastClass)).
		Int("attempts", attempts).
		Msg("Retry attempts exhausted")

	var reqErr *RequestError
	if resp != nil && errors.As(retryErr, &reqErr) && reqErr.StatusCode != 0 {
		return resp, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, retryErr)
}

// do executes one attempt and reads the whole body.
func (t *HTTPTransport) do(req *http.Request) (*Response, error) {
	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func (t *HTTPTransport) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.config.InitialBackoff
	b.MaxInterval = t.config.MaxBackoff
	b.Multiplier = 2.0
	// ±20% jitter
	b.RandomizationFactor = 0.2
	// WithMaxRetries bounds the loop instead of elapsed time.
	b.MaxElapsedTime = 0
	return b
}
