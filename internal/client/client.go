package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-search-client/internal/circuitbreaker"
	"github.com/kjstillabower/city-search-client/internal/models"
	"github.com/kjstillabower/city-search-client/internal/observability"
)

// SearchClient is the request/response contract of the remote search service.
type SearchClient interface {
	SearchCity(ctx context.Context, req models.CitySearchRequest) (models.CitySearchResponse, error)
	SearchClimate(ctx context.Context, req models.ClimateSearchRequest) (models.ClimateSearchResponse, error)
}

var (
	ErrInvalidURL        = errors.New("invalid search API URL")
	ErrBadRequest        = errors.New("bad request")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrUnexpectedCommand = errors.New("unexpected response command")
)

// maxErrorBody bounds how much of a non-2xx body is copied into the error.
const maxErrorBody = 512

type correlationKey struct{}

// WithCorrelationID attaches id to ctx; the client sends it as X-Correlation-ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id attached by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}

// HTTPClient posts JSON commands to the single search endpoint.
type HTTPClient struct {
	apiURL  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewHTTPClient validates apiURL and returns a client. timeout is a transport
// backstop; the dispatcher enforces the user-facing bound on its own.
func NewHTTPClient(apiURL string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return &HTTPClient{
		apiURL: u.String(),
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every call in cb. nil disables it.
func (c *HTTPClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// SetRateLimiter makes every call wait for a token from l. nil disables it.
func (c *HTTPClient) SetRateLimiter(l *rate.Limiter) {
	c.limiter = l
}

func (c *HTTPClient) SearchCity(ctx context.Context, req models.CitySearchRequest) (models.CitySearchResponse, error) {
	req.Command = models.CommandSearchCity
	var resp models.CitySearchResponse
	if err := c.call(ctx, req.Command, req, &resp, func() string { return resp.Command }); err != nil {
		return models.CitySearchResponse{}, err
	}
	return resp, nil
}

func (c *HTTPClient) SearchClimate(ctx context.Context, req models.ClimateSearchRequest) (models.ClimateSearchResponse, error) {
	req.Command = models.CommandSearchClimate
	var resp models.ClimateSearchResponse
	if err := c.call(ctx, req.Command, req, &resp, func() string { return resp.Command }); err != nil {
		return models.ClimateSearchResponse{}, err
	}
	return resp, nil
}

func (c *HTTPClient) call(ctx context.Context, command string, body, out any, gotCommand func() string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	do := func() error {
		if err := c.post(ctx, command, body, out); err != nil {
			return err
		}
		if got := gotCommand(); got != command {
			return fmt.Errorf("%w: sent %q, got %q", ErrUnexpectedCommand, command, got)
		}
		return nil
	}
	if c.breaker != nil {
		return c.breaker.Call(ctx, do)
	}
	return do()
}

func (c *HTTPClient) post(ctx context.Context, command string, body, out any) error {
	start := time.Now()

	req, err := c.buildRequest(ctx, body)
	if err != nil {
		observability.SearchAPICallsTotal.WithLabelValues(command, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.SearchAPICallsTotal.WithLabelValues(command, "error").Inc()
		observability.SearchAPIDuration.WithLabelValues(command, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.SearchAPICallsTotal.WithLabelValues(command, status).Inc()
	observability.SearchAPIDuration.WithLabelValues(command, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *HTTPClient) buildRequest(ctx context.Context, body any) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	corrID := CorrelationID(ctx)
	if corrID == "" {
		corrID = uuid.New().String()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", corrID)
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s", ErrBadRequest, strings.TrimSpace(string(msg)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
