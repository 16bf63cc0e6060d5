// Package hyperscale is the client of the remote profiling and masking
// service.
package hyperscale

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"maskflow/internal/domain"
)

// Endpoint paths.
const (
	ProfilePath = "/v1/discovery/profileByColumn"
	MaskPath    = "/v1/masking/batchMaskByColumn"
)

// Request headers of the masking endpoint.
const (
	HeaderRunID                 = "Run-Id"
	HeaderFieldAlgorithm        = "Field-Algorithm-Assignment"
	HeaderFailOnNonConformant   = "Fail-On-Non-Conformant-Data"
	HeaderFieldDateFormat       = "Field-Date-Format"
	nonConformantErrorCode      = "NON_CONFORMANT_DATA"
	maxErrorBodyBytes           = 4 << 10
	defaultRequestTimeout       = 5 * time.Minute
	defaultBreakerOpenTimeout   = 30 * time.Second
	defaultBreakerHalfOpenCalls = 1
)

var (
	_ domain.ProfilingService = (*Client)(nil)
	_ domain.MaskingService   = (*Client)(nil)
)

// RetryPolicy controls retries of transport errors, 5xx and 429 responses.
// MaxAttempts of 1 (the default) disables retrying.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Observer receives one call per HTTP attempt. status is 0 on transport errors.
type Observer func(endpoint string, status int, d time.Duration)

// Options configures a Client.
type Options struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	Retry           RetryPolicy
	RPS             float64 // 0 disables client-side rate limiting
	BreakerFailures uint32  // consecutive failures that open the breaker; 0 disables
	HTTPClient      *http.Client
	Logger          *slog.Logger
	Observer        Observer
}

// Client calls the profiling and masking endpoints. It is safe for concurrent
// use by the table workers of a run.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	retry    RetryPolicy
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
	observer Observer
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("hyperscale base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}

	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		http:     httpClient,
		retry:    opts.Retry,
		logger:   opts.Logger.With("component", "hyperscale"),
		observer: opts.Observer,
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	if opts.BreakerFailures > 0 {
		threshold := opts.BreakerFailures
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "hyperscale",
			MaxRequests: defaultBreakerHalfOpenCalls,
			Timeout:     defaultBreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c, nil
}

// Profile submits sampled column values for classification. The response
// must profile exactly the submitted columns.
func (c *Client) Profile(ctx context.Context, columns map[string][]any) (map[string]domain.ColumnProfile, error) {
	body, err := c.call(ctx, ProfilePath, columns, nil)
	if err != nil {
		return nil, err
	}

	var out map[string]domain.ColumnProfile
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &APIError{Endpoint: ProfilePath, StatusCode: http.StatusOK, Message: "response is not a column profile object: " + err.Error()}
	}
	for col := range out {
		if _, ok := columns[col]; !ok {
			return nil, &APIError{Endpoint: ProfilePath, StatusCode: http.StatusOK, Message: fmt.Sprintf("response profiles unknown column %q", col)}
		}
	}
	for col := range columns {
		if _, ok := out[col]; !ok {
			return nil, &APIError{Endpoint: ProfilePath, StatusCode: http.StatusOK, Message: fmt.Sprintf("response is missing column %q", col)}
		}
	}
	return out, nil
}

// Mask submits one batch of column values and returns the masked values. The
// response must hold every requested column with as many values as were sent.
func (c *Client) Mask(ctx context.Context, req domain.MaskRequest) (map[string][]any, error) {
	headers := http.Header{}
	headers.Set(HeaderRunID, req.RunID)
	headers.Set(HeaderFailOnNonConformant, strconv.FormatBool(req.FailOnNonConformant))
	algos, err := json.Marshal(req.FieldAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("encode field algorithms: %w", err)
	}
	headers.Set(HeaderFieldAlgorithm, string(algos))
	if len(req.FieldDateFormats) > 0 {
		formats, err := json.Marshal(req.FieldDateFormats)
		if err != nil {
			return nil, fmt.Errorf("encode field date formats: %w", err)
		}
		headers.Set(HeaderFieldDateFormat, string(formats))
	}

	body, err := c.call(ctx, MaskPath, req.Columns, headers)
	if err != nil {
		return nil, err
	}

	var out map[string][]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &APIError{Endpoint: MaskPath, StatusCode: http.StatusOK, Message: "response is not a column value object: " + err.Error()}
	}
	for col, values := range req.Columns {
		got, ok := out[col]
		if !ok {
			return nil, &APIError{Endpoint: MaskPath, StatusCode: http.StatusOK, Message: fmt.Sprintf("response is missing column %q", col)}
		}
		if len(got) != len(values) {
			return nil, &APIError{Endpoint: MaskPath, StatusCode: http.StatusOK,
				Message: fmt.Sprintf("column %q: sent %d values, received %d", col, len(values), len(got))}
		}
	}
	return out, nil
}

// call POSTs payload to path with retry, rate limiting and the breaker, and
// returns the body of a 200 response.
func (c *Client) call(ctx context.Context, path string, payload any, headers http.Header) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	backoff := retry.WithMaxRetries(uint64(c.retry.MaxAttempts-1), retry.NewExponential(c.retry.BaseDelay))
	var body []byte
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		b, err := c.attempt(ctx, path, data, headers)
		if err == nil {
			body = b
			return nil
		}
		if retryable(err) && attempt < c.retry.MaxAttempts {
			c.logger.Warn("retrying request", "endpoint", path, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	return body, err
}

type outcome struct {
	body []byte
	err  error
}

func (c *Client) attempt(ctx context.Context, path string, data []byte, headers http.Header) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if c.breaker == nil {
		o, err := c.send(ctx, path, data, headers)
		if err != nil {
			return nil, err
		}
		return o.body, o.err
	}

	// Only transport errors and retryable statuses count against the breaker;
	// rejected data is a valid answer from a healthy service.
	res, err := c.breaker.Execute(func() (interface{}, error) {
		o, err := c.send(ctx, path, data, headers)
		if err != nil {
			return nil, err
		}
		if retryable(o.err) {
			return nil, o.err
		}
		return o, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, err
	}
	o := res.(outcome)
	return o.body, o.err
}

// send performs one HTTP exchange. Transport failures are returned as err;
// HTTP-level failures are returned inside the outcome.
func (c *Client) send(ctx context.Context, path string, data []byte, headers http.Header) (outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return outcome{}, fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(path, 0, time.Since(start))
		return outcome{}, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	c.observe(path, resp.StatusCode, time.Since(start))
	if err != nil {
		return outcome{}, fmt.Errorf("read %s response: %w", path, err)
	}

	c.logger.Debug("hyperscale call", "endpoint", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusOK {
		return outcome{body: body}, nil
	}
	return outcome{err: decodeError(path, resp.StatusCode, body)}, nil
}

func (c *Client) observe(path string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer(path, status, d)
	}
}

type errorBody struct {
	ErrorCode    string   `json:"errorCode"`
	ErrorMessage string   `json:"errorMessage"`
	Message      string   `json:"message"`
	Columns      []string `json:"columns"`
}

func decodeError(path string, status int, body []byte) error {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	apiErr := APIError{Endpoint: path, StatusCode: status, Message: strings.TrimSpace(string(body))}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if msg := firstNonEmpty(eb.ErrorMessage, eb.Message); msg != "" {
			apiErr.Message = msg
		}
		if strings.EqualFold(eb.ErrorCode, nonConformantErrorCode) {
			return &NonConformantError{API: apiErr, Columns: eb.Columns}
		}
	}
	if status == http.StatusUnprocessableEntity && path == MaskPath {
		return &NonConformantError{API: apiErr}
	}
	return &apiErr
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Anything else reaching here is a transport failure.
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
