package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// RateDecision is the outcome of one limiter check
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter decides whether the client identified by key may proceed
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
}

// RedisRateLimiter applies a GCRA limit shared by every API instance
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

func NewRedisRateLimiter(client redis.UniversalClient, perMinute int) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.PerMinute(perMinute),
		prefix:  "fintera-sign:ratelimit:",
	}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return RateDecision{}, err
	}
	return RateDecision{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// LocalRateLimiter is an in-process token bucket per key
type LocalRateLimiter struct {
	perMinute int
	burst     int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewLocalRateLimiter(perMinute, burst int) *LocalRateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &LocalRateLimiter{
		perMinute: perMinute,
		burst:     burst,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rate := float64(l.perMinute) / 60.0

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastUpdate: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(float64(l.burst), b.tokens+now.Sub(b.lastUpdate).Seconds()*rate)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return RateDecision{Allowed: true, Limit: l.perMinute, Remaining: int(b.tokens)}, nil
	}

	wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
	return RateDecision{Limit: l.perMinute, RetryAfter: wait}, nil
}

// Sweep drops buckets idle for longer than maxIdle
func (l *LocalRateLimiter) Sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > maxIdle {
			delete(l.buckets, key)
		}
	}
}

// RateLimit limits requests per client IP. Limiter errors let the request through.
func RateLimit(limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + geoip.ClientIP(c.Request.Header, c.Request.RemoteAddr)

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limiter unavailable", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retry := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Demasiadas solicitudes, intente de nuevo en unos momentos",
				"code":        "RATE_LIMITED",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}
