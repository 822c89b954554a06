package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vigil/pkg/config"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/api/v1/status", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func get(router http.Handler, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	if mutate != nil {
		mutate(req)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newLimitedRouter(cfg)

	for i := 0; i < 5; i++ {
		if w := get(router, "/api/v1/status", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, w.Code)
		}
	}
}

func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	router := newLimitedRouter(cfg)

	if w := get(router, "/api/v1/status", nil); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", w.Code)
	}

	w := get(router, "/api/v1/status", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After header, got %q", w.Header().Get("Retry-After"))
	}
}

func TestHTTPRateLimitMiddleware_SeparateBucketsPerClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	router := newLimitedRouter(cfg)

	from := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1") }
	}

	if w := get(router, "/api/v1/status", from("192.168.1.10")); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for first client, got %d", w.Code)
	}
	if w := get(router, "/api/v1/status", from("192.168.1.11")); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for second client, got %d", w.Code)
	}
	if w := get(router, "/api/v1/status", from("192.168.1.10")); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated client, got %d", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"remote addr", "", "192.168.1.5:51000", "192.168.1.5"},
		{"forwarded", "10.1.1.1", "127.0.0.1:80", "10.1.1.1"},
		{"forwarded chain", "10.1.1.1, 10.2.2.2", "127.0.0.1:80", "10.1.1.1"},
		{"garbage forwarded", "not-an-ip", "192.168.1.5:51000", "192.168.1.5"},
		{"no port", "", "192.168.1.5", "192.168.1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebSocketLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.MaxConcurrent = 1

	inside := make(chan struct{})
	release := make(chan struct{})
	router := gin.New()
	router.Use(NewWebSocketLimitMiddleware(cfg))
	router.GET("/ws", func(c *gin.Context) {
		inside <- struct{}{}
		<-release
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() { done <- get(router, "/ws", nil).Code }()
	<-inside

	if w := get(router, "/ws", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while slot is held, got %d", w.Code)
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected first stream to finish with 200, got %d", code)
	}
}

func TestRateLimiterStore_ReusesLimiter(t *testing.T) {
	store := newRateLimiterStore(1, 1)

	a := store.getLimiter("192.168.1.10")
	b := store.getLimiter("192.168.1.10")
	store.getLimiter("192.168.1.11")

	if a != b {
		t.Error("expected the same limiter for the same key")
	}
	if store.size() != 2 {
		t.Errorf("expected 2 limiters, got %d", store.size())
	}
}
