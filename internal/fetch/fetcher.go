// internal/fetch/fetcher.go
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/SiteMigrator/internal/monitoring"
)

// Config defines configuration options for the content fetcher.
type Config struct {
	Timeout       time.Duration
	RetryAttempts int // retries after the first attempt; transient failures only
	RetryDelay    time.Duration
	UserAgents    []string
	Headers       map[string]string
	RateLimit     float64 // requests per second
	RateBurst     int
	MaxBodySize   int64
	Metrics       *monitoring.Metrics // optional; nil disables fetch metrics
}

// Fetcher retrieves raw HTML for source URLs over HTTP with bounded timeout,
// limited retry on transient failures, and per-host politeness via a shared
// rate limiter.
type Fetcher struct {
	httpClient    *http.Client
	userAgents    []string
	currentUA     int
	uaMutex       sync.Mutex
	rateLimiter   *rate.Limiter
	retryAttempts int
	retryDelay    time.Duration
	headers       map[string]string
	maxBodySize   int64
	metrics       *monitoring.Metrics
}

// NewFetcher creates a fetcher with the specified configuration, applying
// defaults for any zero values.
func NewFetcher(config Config) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 90 * time.Second
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 1
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2.0
	}
	if config.RateBurst == 0 {
		config.RateBurst = 5
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 10 << 20 // 10MB
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = defaultUserAgents()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Fetcher{
		httpClient:    httpClient,
		userAgents:    config.UserAgents,
		rateLimiter:   rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		retryAttempts: config.RetryAttempts,
		retryDelay:    config.RetryDelay,
		headers:       config.Headers,
		maxBodySize:   config.MaxBodySize,
		metrics:       config.Metrics,
	}
}

// Fetch performs an HTTP GET for the target URL and returns the response body
// and status code. Transient failures (connection errors, timeouts, retryable
// status codes) are retried up to the configured attempt count; client errors
// are not. All failures are reported as *NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (string, int, error) {
	if _, err := url.ParseRequestURI(targetURL); err != nil {
		return "", 0, &NetworkError{URL: targetURL, Err: fmt.Errorf("invalid URL: %w", err)}
	}

	var lastErr *NetworkError

	for attempt := 0; attempt <= f.retryAttempts; attempt++ {
		if err := f.rateLimiter.Wait(ctx); err != nil {
			return "", 0, &NetworkError{URL: targetURL, Transient: true, Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return "", 0, &NetworkError{URL: targetURL, Err: err}
		}
		f.setRequestHeaders(req)

		start := time.Now()
		resp, err := f.httpClient.Do(req)
		if err != nil {
			f.recordFetch(0, time.Since(start))
			lastErr = &NetworkError{URL: targetURL, Transient: true, Err: err}
			if attempt < f.retryAttempts && ctx.Err() == nil {
				f.waitForRetry(attempt)
				continue
			}
			break
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
		resp.Body.Close()
		f.recordFetch(resp.StatusCode, time.Since(start))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				lastErr = &NetworkError{URL: targetURL, StatusCode: resp.StatusCode, Transient: true, Err: readErr}
				if attempt < f.retryAttempts {
					f.waitForRetry(attempt)
					continue
				}
				break
			}
			return string(body), resp.StatusCode, nil
		}

		lastErr = &NetworkError{
			URL:        targetURL,
			StatusCode: resp.StatusCode,
			Transient:  retryableStatusCode(resp.StatusCode),
			Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
		if !lastErr.Transient {
			break
		}
		if attempt < f.retryAttempts {
			f.waitForRetry(attempt)
		}
	}

	return "", lastErr.StatusCode, lastErr
}

// recordFetch reports one attempt to the metrics registry. Transport errors
// carry status code 0.
func (f *Fetcher) recordFetch(statusCode int, elapsed time.Duration) {
	if f.metrics == nil {
		return
	}
	f.metrics.RecordFetch(statusCode, elapsed)
}

func (f *Fetcher) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	for key, value := range f.headers {
		req.Header.Set(key, value)
	}
}

func (f *Fetcher) nextUserAgent() string {
	f.uaMutex.Lock()
	defer f.uaMutex.Unlock()

	if len(f.userAgents) == 0 {
		return "SiteMigrator/1.0"
	}
	ua := f.userAgents[f.currentUA]
	f.currentUA = (f.currentUA + 1) % len(f.userAgents)
	return ua
}

// waitForRetry implements exponential backoff with jitter.
func (f *Fetcher) waitForRetry(attempt int) {
	backoff := f.retryDelay * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Int63n(int64(backoff/2) + 1))
	delay := backoff + jitter
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	time.Sleep(delay)
}

// retryableStatusCode reports whether a status code warrants a retry. Client
// errors other than 429 indicate a problem with the source row, not the
// network, and retrying them wastes the item's attempt budget.
func retryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		520, 521, 522, 523, 524: // CloudFlare errors
		return true
	}
	return false
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
	}
}

// NetworkError reports a fetch failure with enough context to decide whether
// the owning batch item should be retried.
type NetworkError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a network error worth retrying.
func IsTransient(err error) bool {
	if netErr, ok := err.(*NetworkError); ok {
		return netErr.Transient
	}
	return false
}
