package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/articles/1?src=x", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if dispatchTotal == nil || viewsActive == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveDispatch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(dispatchTotal.WithLabelValues("event", OutcomeNoConsent))
	ObserveDispatch("event", OutcomeNoConsent)
	ObserveDispatch("event", OutcomeNoConsent)
	if got := testutil.ToFloat64(dispatchTotal.WithLabelValues("event", OutcomeNoConsent)); got != before+2 {
		t.Errorf("expected %f, got %f", before+2, got)
	}
}

func TestViewGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(viewsActive)
	ViewMounted()
	ViewMounted()
	ViewClosed()
	if got := testutil.ToFloat64(viewsActive); got != before+1 {
		t.Errorf("expected active views %f, got %f", before+1, got)
	}
}

func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://news.example.org/a", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
