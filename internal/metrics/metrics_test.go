package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveCache(t *testing.T) {
	hits := cacheRequestsTotal.WithLabelValues("metrics-test", "hit")
	misses := cacheRequestsTotal.WithLabelValues("metrics-test", "miss")
	beforeHits := testutil.ToFloat64(hits)
	beforeMisses := testutil.ToFloat64(misses)

	ObserveCache("metrics-test", true)
	ObserveCache("metrics-test", false)
	ObserveCache("metrics-test", false)

	if got := testutil.ToFloat64(hits) - beforeHits; got != 1 {
		t.Errorf("expected 1 hit, got %f", got)
	}
	if got := testutil.ToFloat64(misses) - beforeMisses; got != 2 {
		t.Errorf("expected 2 misses, got %f", got)
	}
}

func TestObserveRefreshSkipsGaugeOnError(t *testing.T) {
	ObserveRefresh("metrics-lang", "full", "success", 42, time.Second)
	ObserveRefresh("metrics-lang", "full", "error", 0, time.Second)

	if got := testutil.ToFloat64(catalogRecords.WithLabelValues("metrics-lang")); got != 42 {
		t.Errorf("expected catalog_records 42, got %f", got)
	}
	if got := testutil.ToFloat64(refreshRunsTotal.WithLabelValues("metrics-lang", "full", "error")); got != 1 {
		t.Errorf("expected one error run, got %f", got)
	}
}

func TestObserveEvictionIgnoresZero(t *testing.T) {
	counter := cacheEvictionsTotal.WithLabelValues("metrics-test-zero")
	ObserveEviction("metrics-test-zero", 0)
	if got := testutil.ToFloat64(counter); got != 0 {
		t.Errorf("expected no evictions, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
