package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/time/rate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMiddlewareLimitsPerIP(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 2, time.Minute, nil)
	defer l.Close()

	h := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if got := send("10.0.0.1:1234"); got != http.StatusNoContent {
			t.Fatalf("request %d = %d, want 204", i, got)
		}
	}
	if got := send("10.0.0.1:1234"); got != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", got)
	}
	if got := send("10.0.0.2:1234"); got != http.StatusNoContent {
		t.Errorf("other IP = %d, want 204", got)
	}
}

func TestClientIPHonorsTrustedProxiesOnly(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1, time.Minute, []string{"192.168.1.0/24", "10.1.1.1"})
	defer l.Close()

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"trusted cidr", "192.168.1.5:80", "203.0.113.9, 192.168.1.5", "203.0.113.9"},
		{"trusted single ip", "10.1.1.1:80", "203.0.113.7", "203.0.113.7"},
		{"untrusted peer", "198.51.100.2:80", "203.0.113.9", "198.51.100.2"},
		{"garbage header", "192.168.1.5:80", "nope", "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", tt.xff)
			if got := l.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSweepDropsIdleEntries(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1, time.Hour, nil)
	defer l.Close()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("10.0.0.1")

	now = now.Add(3 * time.Hour)
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) != 0 {
		t.Errorf("limiters = %d, want 0", len(l.limiters))
	}
}
