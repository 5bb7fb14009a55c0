package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signage/screen-pairing-server/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func withAccount(r *http.Request, account *model.Account) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), AccountContextKey, account))
}

func TestRedisRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under limit", func(t *testing.T) {
		_, client := newTestRedis(t)
		limiter := NewRedisRateLimiter(client)

		for i := 0; i < 5; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "account-1", 10)
			assert.True(t, allowed)
			assert.Equal(t, 10-i-1, remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		_, client := newTestRedis(t)
		limiter := NewRedisRateLimiter(client)

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "account-2", 5)
		}

		allowed, remaining, _ := limiter.Check(ctx, "account-2", 5)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("tracks accounts separately", func(t *testing.T) {
		_, client := newTestRedis(t)
		limiter := NewRedisRateLimiter(client)

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "account-3", 5)
		}

		allowed, _, _ := limiter.Check(ctx, "account-4", 5)
		assert.True(t, allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		_, client := newTestRedis(t)
		limiter := NewRedisRateLimiter(client)
		now := time.Unix(1_700_000_000, 0)
		limiter.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			limiter.Check(ctx, "account-5", 3)
		}
		allowed, _, _ := limiter.Check(ctx, "account-5", 3)
		require.False(t, allowed)

		now = now.Add(rateLimitWindow + time.Second)
		allowed, _, _ = limiter.Check(ctx, "account-5", 3)
		assert.True(t, allowed)
	})

	t.Run("fails open when redis is down", func(t *testing.T) {
		mr, client := newTestRedis(t)
		limiter := NewRedisRateLimiter(client)
		mr.Close()

		allowed, remaining, _ := limiter.Check(ctx, "account-6", 10)
		assert.True(t, allowed)
		assert.Equal(t, 9, remaining)
	})
}

func TestRedisRateLimitMiddleware(t *testing.T) {
	t.Run("sets rate limit headers", func(t *testing.T) {
		_, client := newTestRedis(t)
		middleware := NewRedisRateLimitMiddleware(client)
		handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := withAccount(httptest.NewRequest("GET", "/devices", nil), &model.Account{ID: "acc-1", RateLimitPerMin: 100})
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("returns 429 when limit exceeded", func(t *testing.T) {
		_, client := newTestRedis(t)
		middleware := NewRedisRateLimitMiddleware(client)
		handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		account := &model.Account{ID: "acc-2", RateLimitPerMin: 2}

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, withAccount(httptest.NewRequest("GET", "/devices", nil), account))
			assert.Equal(t, http.StatusOK, rec.Code)
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withAccount(httptest.NewRequest("GET", "/devices", nil), account))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
	})

	t.Run("passes through without account", func(t *testing.T) {
		_, client := newTestRedis(t)
		middleware := NewRedisRateLimitMiddleware(client)
		handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})
}

func TestIPRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	request := func(ip string) *http.Request {
		req := httptest.NewRequest("POST", "/devices/register", nil)
		req.RemoteAddr = ip
		return req
	}

	t.Run("allows the burst then rejects", func(t *testing.T) {
		handler := NewIPRateLimitMiddleware(0.001, 3, "claim").Handler(ok)

		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, request("10.0.0.1:1234"))
			assert.Equal(t, http.StatusOK, rec.Code)
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, request("10.0.0.1:1234"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})

	t.Run("tracks addresses separately", func(t *testing.T) {
		handler := NewIPRateLimitMiddleware(0.001, 1, "claim").Handler(ok)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, request("10.0.0.1:1234"))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, request("10.0.0.2:1234"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
