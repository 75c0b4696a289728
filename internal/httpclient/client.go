// Package httpclient provides the outbound HTTP client used for ledger
// calls: bounded retries with exponential backoff, a circuit breaker, and
// request logging that never prints credentials.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/reelcast/internal/urlutil"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
)

// Default configuration values.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultRetryAttempts     = 2
	DefaultRetryDelay        = 500 * time.Millisecond
	DefaultRetryMaxDelay     = 5 * time.Second
	DefaultCircuitThreshold  = 5
	DefaultCircuitCooldown   = 30 * time.Second
	DefaultMaxErrorBodyBytes = 512
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout bounds each individual request.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first try.
	RetryAttempts int

	// RetryDelay is the delay before the first retry; it doubles per retry
	// up to RetryMaxDelay.
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	// CircuitThreshold is the number of consecutive failures that open the circuit.
	CircuitThreshold int

	// CircuitCooldown is how long the circuit stays open before one probe
	// request is let through.
	CircuitCooldown time.Duration

	UserAgent string
	Logger    *slog.Logger

	// BaseClient is the underlying http.Client. If nil, one is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		RetryAttempts:    DefaultRetryAttempts,
		RetryDelay:       DefaultRetryDelay,
		RetryMaxDelay:    DefaultRetryMaxDelay,
		CircuitThreshold: DefaultCircuitThreshold,
		CircuitCooldown:  DefaultCircuitCooldown,
		Logger:           slog.Default(),
	}
}

// Client is an HTTP client with retries and a circuit breaker.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryMaxDelay < cfg.RetryDelay {
		cfg.RetryMaxDelay = cfg.RetryDelay
	}

	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config:  cfg,
		client:  base,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		logger:  cfg.Logger,
	}
}

// StatusError is returned when the server answers with a non-2xx status
// that is not retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Do executes req, retrying network errors and retryable statuses. A
// request with a body is only retried if req.GetBody is set, which
// http.NewRequest does for in-memory bodies.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, c.config.RetryMaxDelay)

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewinding request body: %w", err)
				}
				req.Body = body
			}
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			continue
		}

		start := time.Now()
		resp, err := c.client.Do(req.WithContext(ctx))
		elapsed := time.Since(start)

		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", urlutil.Redact(req.URL)),
				slog.String("method", req.Method),
				slog.Duration("duration", elapsed),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			c.logger.Warn("retryable status code",
				slog.String("url", urlutil.Redact(req.URL)),
				slog.String("method", req.Method),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			_ = resp.Body.Close()
			continue
		}

		c.breaker.RecordSuccess()
		c.logger.Debug("request completed",
			slog.String("url", urlutil.Redact(req.URL)),
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", elapsed),
		)
		return resp, nil
	}

	if errors.Is(lastErr, ErrCircuitOpen) {
		return nil, ErrCircuitOpen
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// PostJSON sends payload as JSON and decodes a JSON response into out when
// out is non-nil. Non-2xx responses yield a *StatusError.
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers http.Header, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxErrorBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// isRetryableStatus returns true if the HTTP status code is retryable.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
