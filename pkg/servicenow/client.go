// Package servicenow is the Table API client. It is the only place that
// speaks ServiceNow's wire format; errors leave here normalized to the
// taxonomy kinds and records leave here as domain models.
package servicenow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/caseops/casepilot/pkg/backoff"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// ErrNotFound reports a record that does not exist. Callers that treat
// absence as normal (similar-case lookups, KB search) check for it.
var ErrNotFound = errors.New("servicenow: record not found")

const (
	defaultTimeout = 15 * time.Second
	maxRetries     = 3
)

// Config holds connection settings. Token wins over Username/Password
// when both are set.
type Config struct {
	BaseURL  string
	Token    string
	Username string
	Password string
	Timeout  time.Duration
}

// Validate checks that the config can authenticate somewhere.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("SERVICENOW_BASE_URL is required")
	}
	if c.Token == "" && (c.Username == "" || c.Password == "") {
		return errors.New("SERVICENOW_TOKEN or SERVICENOW_USERNAME/SERVICENOW_PASSWORD is required")
	}
	return nil
}

// Client calls the ServiceNow Table API. All calls carry a deadline,
// retry transient statuses with backoff, and flow through a circuit
// breaker so a down instance fails fast instead of piling up goroutines.
type Client struct {
	baseURL    string
	token      string
	username   string
	password   string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	retry      backoff.Config
	logger     *slog.Logger
}

// NewClient builds a Table API client from config.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		username:   cfg.Username,
		password:   cfg.Password,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		retry: backoff.Config{
			BasePeriod:    500 * time.Millisecond,
			MaxPeriod:     5 * time.Second,
			Multiplier:    2.0,
			JitterPercent: 10,
		},
		logger: slog.Default().With("component", "servicenow"),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "servicenow",
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
		// The instance answered; 4xx and missing records must not trip
		// the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, ErrNotFound) {
				return true
			}
			switch taxonomy.KindOf(err) {
			case taxonomy.KindValidation, taxonomy.KindAuth:
				return true
			}
			return false
		},
	})

	return c, nil
}

// tableURL builds {base}/api/now/table/{table} with the given query.
func (c *Client) tableURL(table string, query url.Values) string {
	u := c.baseURL + "/api/now/table/" + table
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// getJSON performs an authenticated GET and decodes the response into
// out. 404 maps to ErrNotFound.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return taxonomy.Validation(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// patchJSON performs an authenticated PATCH with a JSON body.
func (c *Client) patchJSON(ctx context.Context, rawURL string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return taxonomy.Validation(fmt.Errorf("encode request: %w", err))
	}
	_, err = c.do(ctx, http.MethodPatch, rawURL, body)
	return err
}

// do runs one API call through the breaker with retries for transient
// statuses. The returned error is already taxonomy-classified.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			delay := c.retry.Calculate(attempt - 1)
			select {
			case <-ctx.Done():
				return nil, taxonomy.Timeout(ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := c.breaker.Execute(func() (any, error) {
			return c.roundTrip(ctx, method, rawURL, body)
		})
		if err == nil {
			return result.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, taxonomy.DependencyDisabled(fmt.Errorf("servicenow circuit open: %w", err))
		}
		if errors.Is(err, ErrNotFound) || !taxonomy.Retryable(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("ServiceNow call failed, retrying",
			"method", method, "attempt", attempt, "error", err)
	}

	return nil, lastErr
}

// roundTrip executes a single HTTP exchange and classifies the status.
func (c *Client) roundTrip(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, taxonomy.Validation(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, taxonomy.Timeout(ctx.Err())
		}
		return nil, taxonomy.Transient(fmt.Errorf("%s %s: %w", method, rawURL, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, taxonomy.Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, taxonomy.Auth(fmt.Errorf("servicenow returned HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, taxonomy.Transient(fmt.Errorf("servicenow returned HTTP %d", resp.StatusCode))
	default:
		return nil, taxonomy.Validation(fmt.Errorf("servicenow returned HTTP %d: %s", resp.StatusCode, truncate(data, 200)))
	}
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
	req.Header.Set("Authorization", "Basic "+creds)
}

// OverrideHTTPClientForTest replaces the underlying HTTP client.
// For testing only.
func (c *Client) OverrideHTTPClientForTest(httpClient *http.Client) {
	c.httpClient = httpClient
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
