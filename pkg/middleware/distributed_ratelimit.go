package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/crozierhq/crozier/pkg/observability"
)

// DistributedRateLimiter implements a fixed window counter in Redis so
// rate limits are shared across instances.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Allow checks if a request is allowed. The window TTL is set only on
// the first hit; refreshing it on every increment would pin a busy key
// alive forever and never reopen the window.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}

	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	}

	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		// Key doesn't exist, full quota available
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.TTL(ctx, redisKey).Result()
}

// Reset clears the rate limit for a key (for testing or admin purposes)
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.Del(ctx, redisKey).Err()
}

// DistributedRateLimitMiddleware provides HTTP rate limiting with
// Redis. When Redis is unreachable it degrades to per-instance
// in-memory limits rather than failing open, so an outage cannot be
// used to blow past the limits entirely.
type DistributedRateLimitMiddleware struct {
	actorLimiter     *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
	fallback         *RateLimitMiddleware
	logger           *observability.Logger
}

// NewDistributedRateLimitMiddleware creates a new Redis-backed rate
// limit middleware. Nil configs take the package defaults.
func NewDistributedRateLimitMiddleware(redisClient *redis.Client, actorConfig, anonymousConfig *RateLimitConfig, logger *observability.Logger) *DistributedRateLimitMiddleware {
	if actorConfig == nil {
		actorConfig = PerActorRateLimitConfig()
	}
	if anonymousConfig == nil {
		anonymousConfig = DefaultRateLimitConfig()
	}

	return &DistributedRateLimitMiddleware{
		actorLimiter:     NewDistributedRateLimiter(redisClient, actorConfig, "ratelimit:actor"),
		anonymousLimiter: NewDistributedRateLimiter(redisClient, anonymousConfig, "ratelimit:anon"),
		fallback:         NewRateLimitMiddleware(actorConfig, anonymousConfig),
		logger:           logger,
	}
}

// Handler wraps an HTTP handler with distributed rate limiting
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		key, authenticated := limitKey(r)
		limiter := m.anonymousLimiter
		fallbackLimiter := m.fallback.anonymousLimiter
		if authenticated {
			limiter = m.actorLimiter
			fallbackLimiter = m.fallback.actorLimiter
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			m.logger.WithError(err).Warn("redis rate limiter unavailable, using in-memory fallback")
			if !fallbackLimiter.Allow(key) {
				rateLimitExceeded(w, limiter.config, limiter.config.WindowDuration)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			retryIn := limiter.config.WindowDuration
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				retryIn = ttl
			}
			rateLimitExceeded(w, limiter.config, retryIn)
			return
		}

		remaining, err := limiter.Remaining(ctx, key)
		if err != nil {
			// Headers are best effort, the request already passed
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
		}

		next.ServeHTTP(w, r)
	})
}
