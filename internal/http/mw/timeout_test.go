package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTimeout_SkipsConfiguredPatterns(t *testing.T) {
	h := Timeout(TimeoutConfig{Default: 10 * time.Millisecond, SkipPatterns: []string{"/stream"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(30 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/jobs/1/stream", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected a skipped path to run past its own default timeout, got %d", rec.Code)
	}
}

func TestTimeout_DeadlineExceededReturnsGatewayTimeout(t *testing.T) {
	h := Timeout(TimeoutConfig{Default: 10 * time.Millisecond})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 once the default timeout elapses, got %d", rec.Code)
	}
}

func TestTimeout_ExtendedPatternGetsLongerDeadline(t *testing.T) {
	h := Timeout(TimeoutConfig{
		Default:          5 * time.Millisecond,
		Extended:         100 * time.Millisecond,
		ExtendedPatterns: []string{"/jobs/batch-state"},
	})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(30 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/jobs/batch-state", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the extended pattern to outlive the default timeout, got %d", rec.Code)
	}
}
