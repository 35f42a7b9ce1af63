// internal/fetch/fetcher_test.go
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valpere/SiteMigrator/internal/monitoring"
)

func testFetcher() *Fetcher {
	return NewFetcher(Config{
		RetryDelay: time.Millisecond,
		RateLimit:  1000,
		RateBurst:  1000,
	})
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("request sent without a user agent")
		}
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	html, status, err := testFetcher().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d", status)
	}
	if html != "<html><body>ok</body></html>" {
		t.Errorf("html = %q", html)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	html, _, err := testFetcher().Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if html != "recovered" {
		t.Errorf("html = %q", html)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("made %d requests, want 2", calls)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, status, err := testFetcher().Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if status != http.StatusNotFound {
		t.Errorf("status = %d", status)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("made %d requests, want 1", calls)
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %T", err)
	}
	if netErr.Transient {
		t.Error("404 must not be transient")
	}
}

func TestFetchExhaustedRetriesStayTransient(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, _, err := testFetcher().Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("made %d requests, want 2", calls)
	}
	if !IsTransient(err) {
		t.Error("exhausted 502 should stay transient for the caller")
	}
}

func TestFetchConnectionError(t *testing.T) {
	// a server that is immediately closed leaves a refused port
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, _, err := testFetcher().Fetch(context.Background(), url)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !IsTransient(err) {
		t.Error("connection error should be transient")
	}
}

func TestFetchInvalidURL(t *testing.T) {
	_, _, err := testFetcher().Fetch(context.Background(), "not a url")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Error("invalid URL must not be transient")
	}
}

func TestFetchHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := testFetcher().Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("fetch did not honor context cancellation")
	}
}

func TestFetchRecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	metrics := monitoring.NewMetrics()
	fetcher := NewFetcher(Config{
		RetryDelay: time.Millisecond,
		RateLimit:  1000,
		RateBurst:  1000,
		Metrics:    metrics,
	})
	if _, _, err := fetcher.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := recorder.Body.String()

	if !strings.Contains(body, `sitemigrator_fetches_total{status_code="200"} 1`) {
		t.Error("fetch counter not exported")
	}
	if !strings.Contains(body, "sitemigrator_fetch_duration_seconds_count 1") {
		t.Error("fetch duration not observed")
	}
}

func TestRetryableStatusCode(t *testing.T) {
	retryable := []int{429, 500, 502, 503, 504, 520, 524}
	for _, code := range retryable {
		if !retryableStatusCode(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	terminal := []int{400, 401, 403, 404, 410, 451}
	for _, code := range terminal {
		if retryableStatusCode(code) {
			t.Errorf("status %d should not be retryable", code)
		}
	}
}
