package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Route classes carry independent budgets; the class name is part of the
// counter key.
const (
	ClassView     = "view"
	ClassPreview  = "preview"
	ClassDownload = "download"
	ClassBatch    = "batch"
	ClassList     = "list"
	ClassSearch   = "search"
)

// CounterStore increments a windowed counter and returns the new value.
// Production uses redis so every worker process observes the same budget;
// the in-memory store is the single-process fallback.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		// first hit in this window owns the expiry
		s.client.Expire(ctx, key, ttl)
	}
	return count, nil
}

type MemoryCounterStore struct {
	cache *gocache.Cache
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		cache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	// Add is a no-op when the key exists, so the increment below is safe
	// either way.
	s.cache.Add(key, int64(0), ttl)
	return s.cache.IncrementInt64(key, 1)
}

// RateLimiter enforces fixed-window budgets per (client identity, route
// class). The window index is baked into the key, so a rolled-over window
// starts a fresh counter without coordination.
type RateLimiter struct {
	store   CounterStore
	window  time.Duration
	enabled bool
	logger  *zap.Logger
	now     func() time.Time
}

func NewRateLimiter(store CounterStore, window time.Duration, enabled bool, logger *zap.Logger) *RateLimiter {
	// the window index is computed in whole seconds
	if window < time.Second {
		window = time.Second
	}
	return &RateLimiter{
		store:   store,
		window:  window,
		enabled: enabled,
		logger:  logger.With(zap.String("middleware", "ratelimit")),
		now:     time.Now,
	}
}

// Allow reports whether one more request fits the budget for this client
// and class within the current window.
func (rl *RateLimiter) Allow(ctx context.Context, clientIP, class string, budget int) bool {
	if !rl.enabled || budget <= 0 {
		return true
	}

	windowIndex := rl.now().Unix() / int64(rl.window/time.Second)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", class, clientIP, windowIndex)

	count, err := rl.store.Incr(ctx, key, rl.window)
	if err != nil {
		// a broken counter store must not take the whole service down
		rl.logger.Warn("Rate limit store unavailable, allowing request",
			zap.String("class", class), zap.Error(err))
		return true
	}
	return count <= int64(budget)
}

// Limit is the gin middleware for one route class. Budget exceeded means
// the request is refused before any lookup, fetch or render work happens.
func (rl *RateLimiter) Limit(class string, budget int) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !rl.Allow(c.Request.Context(), clientIP, class, budget) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("class", class),
				zap.String("client_ip", clientIP),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
