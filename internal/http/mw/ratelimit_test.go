package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitByUser_AllowsWithinLimit(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 60})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-123"))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimitByUser_FallsBackToIPWithoutUser(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 60})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimitByUser_DistinctUsersHaveSeparateBuckets(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 1})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	reqFor := func(userID string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		return r.WithContext(context.WithValue(r.Context(), UserIDKey, userID))
	}

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, reqFor("user-a"))
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request for user-a: status = %d, want %d", rec1.Code, http.StatusOK)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, reqFor("user-b"))
	if rec2.Code != http.StatusOK {
		t.Fatalf("a different user's first request should not share user-a's bucket: status = %d, want %d", rec2.Code, http.StatusOK)
	}

	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, reqFor("user-a"))
	if rec3.Code != http.StatusTooManyRequests {
		t.Fatalf("user-a's second request within a 1/minute limit: status = %d, want %d", rec3.Code, http.StatusTooManyRequests)
	}
}
