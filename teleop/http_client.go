package teleop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	maxResponseBytes = 1 << 20

	// remoteStoreTimeout bounds one Load or Save including retries.
	remoteStoreTimeout = 30 * time.Second
)

// FetchOption configures the connection config client.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// FetchConnectionConfig reads the persisted bridge address from a remote
// console's /api/ipconfig endpoint.
func FetchConnectionConfig(ctx context.Context, url string, opts ...FetchOption) (ConnectionConfig, error) {
	if url == "" {
		return ConnectionConfig{}, fmt.Errorf("fetch connection config: URL is empty")
	}

	var cfg ConnectionConfig
	err := withRetry(ctx, opts, func(client *http.Client) error {
		body, err := doRequest(ctx, client, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &cfg); err != nil {
			return permanentError{fmt.Errorf("parsing JSON: %w", err)}
		}
		return nil
	})
	if err != nil {
		return ConnectionConfig{}, fmt.Errorf("fetch connection config: %w", err)
	}
	return cfg, nil
}

// SaveConnectionConfig posts cfg to a remote console's /api/ipconfig endpoint.
func SaveConnectionConfig(ctx context.Context, url string, cfg ConnectionConfig, opts ...FetchOption) error {
	if url == "" {
		return fmt.Errorf("save connection config: URL is empty")
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save connection config: %w", err)
	}

	err = withRetry(ctx, opts, func(client *http.Client) error {
		_, err := doRequest(ctx, client, http.MethodPost, url, payload)
		return err
	})
	if err != nil {
		return fmt.Errorf("save connection config: %w", err)
	}
	return nil
}

func withRetry(ctx context.Context, opts []FetchOption, attemptFn func(*http.Client) error) error {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := attemptFn(client)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
	}
	return fmt.Errorf("all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// doRequest performs one request. 4xx responses are permanent; network
// errors and 5xx responses may be retried.
func doRequest(ctx context.Context, client *http.Client, method, url string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, permanentError{fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %s %s: status %d", method, url, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, permanentError{err}
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return data, nil
}

// RemoteConnectionConfig is a ConnectionConfigStore kept by another console.
type RemoteConnectionConfig struct {
	url  string
	opts []FetchOption
}

// NewRemoteConnectionConfig returns a store reading and writing url.
func NewRemoteConnectionConfig(url string, opts ...FetchOption) *RemoteConnectionConfig {
	return &RemoteConnectionConfig{url: url, opts: opts}
}

// URL returns the remote endpoint.
func (r *RemoteConnectionConfig) URL() string { return r.url }

// Load fetches the remote config.
func (r *RemoteConnectionConfig) Load() (ConnectionConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteStoreTimeout)
	defer cancel()
	return FetchConnectionConfig(ctx, r.url, r.opts...)
}

// Save posts cfg to the remote console.
func (r *RemoteConnectionConfig) Save(cfg ConnectionConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), remoteStoreTimeout)
	defer cancel()
	return SaveConnectionConfig(ctx, r.url, cfg, r.opts...)
}
