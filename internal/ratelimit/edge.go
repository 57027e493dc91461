package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Edge enforces per-IP token-bucket rate limiting in front of the admission
// pipeline, so unauthenticated floods are shed before any token parsing
// happens. It is edge protection only — the identity-keyed fixed-window
// limits in this package are enforced separately, inside the pipeline.
type Edge struct {
	rps   int
	burst int

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	stop     chan struct{}
	stopOnce sync.Once
}

// NewEdge creates an Edge limiter. rps is the steady-state requests per
// second per client IP; burst is the maximum burst size. Stale per-IP
// entries are evicted every 5 minutes until Close is called.
func NewEdge(rps, burst int) *Edge {
	e := &Edge{
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*ipLimiter),
		stop:     make(chan struct{}),
	}
	go e.evictLoop()
	return e
}

func (e *Edge) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			for ip, l := range e.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(e.limiters, ip)
				}
			}
			e.mu.Unlock()
		case <-e.stop:
			return
		}
	}
}

// Close stops the eviction goroutine. Safe to call more than once.
func (e *Edge) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Middleware returns the Gin handler enforcing the per-IP limit.
func (e *Edge) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		e.mu.Lock()
		l, ok := e.limiters[ip]
		if !ok {
			l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(e.rps), e.burst)}
			e.limiters[ip] = l
		}
		l.lastSeen = time.Now()
		e.mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "rate limit exceeded",
				},
			})
			return
		}
		c.Next()
	}
}
