package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/signage/screen-pairing-server/internal/audit"
	apperrors "github.com/signage/screen-pairing-server/internal/errors"
	"github.com/signage/screen-pairing-server/internal/httputil"
)

// idleLimiterTTL is how long an IP's bucket is kept after its last request.
const idleLimiterTTL = 10 * time.Minute

// IPRateLimitMiddleware is a per-IP token bucket for the code-claiming
// endpoints, where a caller could otherwise walk the code space.
type IPRateLimitMiddleware struct {
	mu       sync.Mutex
	limiters *cache.Cache
	rate     rate.Limit
	burst    int
	prefix   string
}

func NewIPRateLimitMiddleware(perSecond float64, burst int, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiters: cache.New(idleLimiterTTL, idleLimiterTTL),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		prefix:   prefix,
	}
}

func (m *IPRateLimitMiddleware) limiter(ip string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.limiters.Get(ip); ok {
		m.limiters.SetDefault(ip, existing)
		return existing.(*rate.Limiter)
	}
	l := rate.NewLimiter(m.rate, m.burst)
	m.limiters.SetDefault(ip, l)
	return l
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		if !m.limiter(ip).Allow() {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"limiter": m.prefix},
			})
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
