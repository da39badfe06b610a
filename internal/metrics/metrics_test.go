package metrics

import (
	"testing"

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

func TestObserveHelpersInitialize(t *testing.T) {
	Init()
	Init()

	ObservePage("https://metrics-test.example/a", "success", 10)
	if val := testutil.ToFloat64(pagesTotal.WithLabelValues("metrics-test.example", "success")); val != 1 {
		t.Errorf("expected one page observation, got %f", val)
	}
	ObserveRobotsFallback("test_reason")
	if val := testutil.ToFloat64(robotsFallbackTotal.WithLabelValues("test_reason")); val != 1 {
		t.Errorf("expected one robots fallback, got %f", val)
	}
	ObserveEmbeddingFailures("test_provider", 0)
	ObserveEmbeddingFailures("test_provider", 3)
	if val := testutil.ToFloat64(embeddingFailuresTotal.WithLabelValues("test_provider")); val != 3 {
		t.Errorf("expected 3 embedding failures, got %f", val)
	}
}

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
