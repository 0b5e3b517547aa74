package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/marketpulse/internal/httputil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestCORSAllowAll(t *testing.T) {
	h := NewCORSMiddleware([]string{"*"}).Handler(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/top-gainers", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Trace-ID", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSPreflight(t *testing.T) {
	h := NewCORSMiddleware(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight reached handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/market-status", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://a.example.com", ".trusted.io"}).Handler(okHandler)

	cases := map[string]string{
		"https://a.example.com":    "https://a.example.com",
		"https://app.trusted.io":   "https://app.trusted.io",
		"https://evil.example.com": "",
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	h := rl.Handler(okHandler)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/top-gainers", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)

	limited := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(limited.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["code"])

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func TestRateLimiterIgnoresSpoofedForwardingHeaders(t *testing.T) {
	h := NewRateLimiter(1, 1, nil).Handler(okHandler)

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/top-gainers", nil)
		req.RemoteAddr = "203.0.113.9:4444"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 19, limited)
}

func TestRateLimiterTrustedProxy(t *testing.T) {
	proxies, err := httputil.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	rl := NewRateLimiter(1, 1, nil).WithTrustedProxies(proxies)
	h := rl.Handler(okHandler)

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/top-gainers", nil)
		req.RemoteAddr = "10.0.0.2:4444"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"))
	assert.Equal(t, 2, rl.size())
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, 5, nil)
	rl.now = func() time.Time { return now }

	rl.getLimiter("a")
	rl.getLimiter("b")
	assert.Equal(t, 2, rl.size())

	now = now.Add(limiterIdleTTL / 2)
	rl.getLimiter("b")

	// "a" is idle past the TTL; the next lookup sweeps it.
	now = now.Add(limiterIdleTTL/2 + time.Second)
	rl.getLimiter("c")
	assert.Equal(t, 2, rl.size())

	now = now.Add(limiterIdleTTL + time.Second)
	rl.Cleanup()
	assert.Equal(t, 0, rl.size())
}

func TestTracingSetsHeader(t *testing.T) {
	h := NewTracingMiddleware(nil).Handler(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(TraceHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceHeader, "trace-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(TraceHeader))
}

func TestWrappedWriterSupportsResponseController(t *testing.T) {
	var flushErr error
	h := Recovery(nil)(NewTracingMiddleware(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		flushErr = http.NewResponseController(w).Flush()
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NoError(t, flushErr)
	assert.True(t, rec.Flushed)
}

func TestRecoveryReturnsJSON(t *testing.T) {
	h := Recovery(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")
}

func TestWorkerLimiterBoundsConcurrency(t *testing.T) {
	limiter := NewWorkerLimiter(2)
	assert.Equal(t, 2, limiter.Capacity())

	release := make(chan struct{})
	var mu sync.Mutex
	active, peak := 0, 0
	h := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}()
	}

	require.Eventually(t, func() bool { return limiter.InUse() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 2, peak)
	assert.Equal(t, 0, limiter.InUse())
}

func TestWorkerLimiterRejectsWhenContextEnds(t *testing.T) {
	limiter := NewWorkerLimiter(1)
	limiter.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	limiter.Handler(okHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
