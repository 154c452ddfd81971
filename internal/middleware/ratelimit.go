package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/forgo/sect/internal/model"
)

// RateDecision is the outcome of taking one request from a limiter
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitStore takes one request for key
type RateLimitStore interface {
	Take(ctx context.Context, key string) (RateDecision, error)
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	Rate    int           // Requests per window (default 100)
	Window  time.Duration // Time window (default 1 minute)
	Burst   int           // Max burst (default 20)
	Cleanup time.Duration // Cleanup interval for idle keys (default 5 minutes)
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Rate == 0 {
		c.Rate = 100
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
	if c.Cleanup == 0 {
		c.Cleanup = 5 * time.Minute
	}
	return c
}

// ---------------------------------------------------------------------------
// In-process limiter
// ---------------------------------------------------------------------------

// MemoryRateLimitStore keeps one token bucket per key in process memory
type MemoryRateLimitStore struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	cfg      RateLimitConfig
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryRateLimitStore creates an in-process limiter and starts its cleanup loop
func NewMemoryRateLimitStore(cfg RateLimitConfig) *MemoryRateLimitStore {
	s := &MemoryRateLimitStore{
		buckets:  make(map[string]*bucket),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Stop stops the cleanup goroutine
func (s *MemoryRateLimitStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *MemoryRateLimitStore) cleanupLoop() {
	ticker := time.NewTicker(s.cfg.Cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MemoryRateLimitStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.Window * 2)
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}

// Take spends one token from key's bucket
func (s *MemoryRateLimitStore) Take(_ context.Context, key string) (RateDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	capacity := s.cfg.Rate + s.cfg.Burst
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(s.cfg.Window/time.Duration(s.cfg.Rate)), capacity)}
		s.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	// time until the bucket holds one more token
	refill := time.Duration(float64(time.Second) / float64(b.limiter.Limit()))
	return RateDecision{
		Allowed:   allowed,
		Limit:     capacity,
		Remaining: remaining,
		ResetAt:   now.Add(refill),
	}, nil
}

// ---------------------------------------------------------------------------
// Redis limiter
// ---------------------------------------------------------------------------

// RedisRateLimitStore counts requests per fixed window in Redis so every
// replica shares one budget. Redis calls run behind a circuit breaker; while
// Redis is failing, requests are limited by the local fallback instead.
type RedisRateLimitStore struct {
	client   redis.Cmdable
	breaker  *gobreaker.CircuitBreaker
	fallback RateLimitStore
	cfg      RateLimitConfig
	prefix   string
	now      func() time.Time
	logger   *slog.Logger
}

// RedisRateLimitStoreConfig holds configuration for the Redis limiter
type RedisRateLimitStoreConfig struct {
	Client   redis.Cmdable
	Fallback RateLimitStore
	Limits   RateLimitConfig
	Prefix   string
	Logger   *slog.Logger
}

// NewRedisRateLimitStore creates a Redis-backed limiter
func NewRedisRateLimitStore(cfg RedisRateLimitStoreConfig) *RedisRateLimitStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "sect:ratelimit"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisRateLimitStore{
		client:   cfg.Client,
		breaker:  newRedisBreaker("ratelimit-redis"),
		fallback: cfg.Fallback,
		cfg:      cfg.Limits.withDefaults(),
		prefix:   cfg.Prefix,
		now:      time.Now,
		logger:   cfg.Logger,
	}
}

// Take increments key's counter for the current window
func (s *RedisRateLimitStore) Take(ctx context.Context, key string) (RateDecision, error) {
	now := s.now()
	windowSecs := int64(s.cfg.Window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	window := now.Unix() / windowSecs
	resetAt := time.Unix((window+1)*windowSecs, 0)
	limit := s.cfg.Rate + s.cfg.Burst
	redisKey := fmt.Sprintf("%s:%s:%d", s.prefix, key, window)

	count, err := s.breaker.Execute(func() (interface{}, error) {
		n, err := s.client.Incr(ctx, redisKey).Result()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			if err := s.client.Expire(ctx, redisKey, s.cfg.Window).Err(); err != nil {
				return nil, err
			}
		}
		return n, nil
	})
	if err != nil {
		if s.fallback == nil {
			return RateDecision{}, fmt.Errorf("rate limit store: %w", err)
		}
		s.logger.WarnContext(ctx, "redis rate limit unavailable, using local limiter",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return s.fallback.Take(ctx, key)
	}

	used := int(count.(int64))
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Allowed:   used <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func newRedisBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimit returns a middleware that applies rate limiting per user, or per
// remote address for anonymous requests. Store errors let the request through.
func RateLimit(store RateLimitStore) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetUserID(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}

			decision, err := store.Take(r.Context(), key)
			if err != nil {
				slog.ErrorContext(r.Context(), "rate limit check failed",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.Any("error", err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfter := int(time.Until(decision.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				model.NewRateLimitError(retryAfter).WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
