package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if !rl.allowAt("a", now) || !rl.allowAt("a", now) {
		t.Fatal("burst requests should pass")
	}
	if rl.allowAt("a", now) {
		t.Error("third request in the same instant should be limited")
	}
	if !rl.allowAt("b", now) {
		t.Error("clients have separate buckets")
	}
	if !rl.allowAt("a", now.Add(time.Second)) {
		t.Error("bucket should refill after one second")
	}
}

func TestRateLimiterUpdate(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()

	rl.allowAt("a", now)
	if rl.allowAt("a", now) {
		t.Fatal("bucket should be empty")
	}

	rl.Update(1000, 5)
	later := now.Add(time.Second)
	for i := 0; i < 5; i++ {
		if !rl.allowAt("a", later) {
			t.Fatalf("request %d: existing buckets should pick up the new burst", i)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()

	rl.allowAt("old", now.Add(-10*time.Minute))
	rl.allowAt("fresh", now)

	if removed := rl.cleanupAt(now, 5*time.Minute); removed != 1 {
		t.Errorf("removed %d buckets, want 1", removed)
	}
	if rl.Clients() != 1 {
		t.Errorf("tracked clients = %d, want 1", rl.Clients())
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote addr without port", nil, "192.0.2.1", "192.0.2.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:80", "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggingMiddlewareRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	var seen string
	h := s.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = getRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if seen != "req-42" || rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("incoming request id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status %d, want 418", rec.Code)
	}

	if got := getRequestID(context.Background()); got != "unknown" {
		t.Errorf("missing request id = %q, want unknown", got)
	}
}
