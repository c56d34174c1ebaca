package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDistributedRateLimiter(t *testing.T) {
	client := newTestRedis(t)
	rl := NewDistributedRateLimiter(client, RateLimitConfig{Requests: 2, Window: time.Minute})
	handler := rl.Middleware(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
		req.RemoteAddr = "10.0.0.1:4455"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send().Code)
	rec := send()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestDistributedRateLimiter_SharedAcrossInstances(t *testing.T) {
	client := newTestRedis(t)
	cfg := RateLimitConfig{Requests: 1, Window: time.Minute}
	first := NewDistributedRateLimiter(client, cfg).Middleware(okHandler())
	second := NewDistributedRateLimiter(client, cfg).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
	req.RemoteAddr = "10.0.0.1:4455"

	rec := httptest.NewRecorder()
	first.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The budget is shared: the second instance sees the spend.
	rec = httptest.NewRecorder()
	second.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
