package traj

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for remote files.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of fetch attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// DefaultMaxResponseBytes limits a downloaded file to 256 MB.
	DefaultMaxResponseBytes = 256 << 20
)

// FetchOption configures remote file fetching.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBytes    int64
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		maxBytes:    DefaultMaxResponseBytes,
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

// WithMaxBytes sets the largest accepted response body. Larger files fail
// with ErrResponseTooLarge instead of being truncated.
func WithMaxBytes(n int64) FetchOption {
	return func(c *fetchConfig) {
		c.maxBytes = n
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// IsRemote reports whether a trajectory location is an http(s) URL
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// FetchTrajectory downloads and parses a pose trajectory file. Transient
// failures are retried with exponential backoff; parse errors are not.
func FetchTrajectory(ctx context.Context, url string, opts ...FetchOption) (*TrajectoryFile, error) {
	body, err := fetch(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	return ParseTrajectory(bytes.NewReader(body), url)
}

// FetchFileList downloads and parses a generic file list, see ParseFileList
func FetchFileList(ctx context.Context, url string, start, end *int, opts ...FetchOption) (FileList, error) {
	body, err := fetch(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	return ParseFileList(bytes.NewReader(body), url, start, end)
}

func fetch(ctx context.Context, url string, opts ...FetchOption) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("fetch: URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
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
				return nil, fmt.Errorf("fetch %s: %w", url, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, url, cfg.maxBytes)
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		if err != nil {
			lastErr = err
			Logf("Fetch attempt %d/%d for %s failed: %v", attempt+1, cfg.maxRetries, url, err)
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("fetch %s: all %d attempts failed: %w", url, cfg.maxRetries, lastErr)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w of %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return body, nil
}
