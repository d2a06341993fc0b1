package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		env    string
		origin string
		want   string
	}{
		{"dev echoes", "dev", "http://localhost:3000", "http://localhost:3000"},
		{"prod allow list", "prod", "https://app.example.com", "https://app.example.com"},
		{"prod same origin", "prod", "http://api.example.com", "http://api.example.com"},
		{"prod rejected", "prod", "https://evil.example.com", ""},
		{"suffix is not same origin", "prod", "http://api.example.com.evil.io", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.env, []string{"https://app.example.com/"}))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "http://api.example.com/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("dev", nil))
	r.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}

func TestKeyedLimiter_AllowPerKey(t *testing.T) {
	rl := NewKeyedLimiter(rate.Every(time.Hour), 2, time.Minute)
	defer rl.Stop()

	if !rl.Allow("alice") || !rl.Allow("alice") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("alice") {
		t.Error("third call should be limited")
	}
	if !rl.Allow("bob") {
		t.Error("keys must not share a bucket")
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(rate.Every(time.Hour), 1))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 429]", codes)
	}
}

func TestKeyedLimiter_SweepIdle(t *testing.T) {
	l := NewKeyedLimiter(rate.Every(time.Second), 1, time.Minute)
	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
	l.sweep(time.Now())
	if l.Len() != 2 {
		t.Errorf("fresh buckets swept")
	}
	l.sweep(time.Now().Add(2 * time.Minute))
	if l.Len() != 0 {
		t.Errorf("idle buckets kept: %d", l.Len())
	}
}
