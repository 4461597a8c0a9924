package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// KeyedRateLimiter stores a rate limiter per caller. Limiters expire an hour
// after creation.
type KeyedRateLimiter struct {
	limiters *cache.Cache
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

// NewKeyedRateLimiter creates a new KeyedRateLimiter.
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: cache.New(time.Hour, 10*time.Minute),
		r:        r,
		b:        b,
	}
}

// GetLimiter returns the rate limiter for key, creating it on first use.
func (k *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	if l, found := k.limiters.Get(key); found {
		return l.(*rate.Limiter)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if l, found := k.limiters.Get(key); found {
		return l.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(k.r, k.b)
	k.limiters.SetDefault(key, limiter)
	return limiter
}

// rateKey prefers the student hash so students behind one NAT do not share a bucket.
func rateKey(c *gin.Context) string {
	if id, ok := IdentityFrom(c); ok && id.StudentHash != "" {
		return "student:" + id.StudentHash
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter is a middleware for per-caller rate limiting. It must run
// after Identify to key by student.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.GetLimiter(rateKey(c)).Allow() {
			abort(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}
