package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(5)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestRateLimiter_DefaultsOnBadRPS(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.True(t, rl.Allow())
}

func TestClientRateLimiter_PerClientBuckets(t *testing.T) {
	crl := NewClientRateLimiter(1)

	a := crl.GetLimiter("client-a")
	b := crl.GetLimiter("client-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, crl.GetLimiter("client-a"))

	// Exhausting one client's bucket leaves the other untouched
	assert.True(t, a.Allow())
	assert.False(t, a.Allow())
	assert.True(t, b.Allow())
}

func TestClientRateLimit_Middleware(t *testing.T) {
	handler := ClientRateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestClientRateLimit_SeparateClients(t *testing.T) {
	handler := ClientRateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "client %d", i)
	}
}
