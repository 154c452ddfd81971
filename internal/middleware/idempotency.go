package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/forgo/sect/internal/model"
)

// ErrIdempotencyInFlight is returned when another request holds the key
var ErrIdempotencyInFlight = errors.New("idempotent request in flight")

// CachedResponse is a completed response stored under an idempotency key
type CachedResponse struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// IdempotencyStore reserves idempotency keys and remembers their responses
type IdempotencyStore interface {
	// Reserve claims key for the caller. It returns the cached response when the
	// key already completed, ErrIdempotencyInFlight when another request holds
	// it, and nil, nil when the caller now owns it.
	Reserve(ctx context.Context, key string) (*CachedResponse, error)
	// Complete stores the response for key and releases the reservation
	Complete(ctx context.Context, key string, resp *CachedResponse) error
}

// IdempotencyConfig holds configuration for idempotency stores
type IdempotencyConfig struct {
	TTL     time.Duration // How long to keep idempotency results (default 24h)
	Cleanup time.Duration // Cleanup interval (default 1h)
}

func (c IdempotencyConfig) withDefaults() IdempotencyConfig {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Cleanup == 0 {
		c.Cleanup = time.Hour
	}
	return c
}

// ---------------------------------------------------------------------------
// In-process store
// ---------------------------------------------------------------------------

// MemoryIdempotencyStore keeps idempotency results in process memory. A
// request that finds its key in flight waits for the first one to finish.
type MemoryIdempotencyStore struct {
	mu       sync.Mutex
	entries  map[string]*idempotencyEntry
	ttl      time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

type idempotencyEntry struct {
	resp      *CachedResponse
	expiresAt time.Time
	done      chan struct{}
}

// NewMemoryIdempotencyStore creates a new in-process idempotency store
func NewMemoryIdempotencyStore(cfg IdempotencyConfig) *MemoryIdempotencyStore {
	cfg = cfg.withDefaults()
	store := &MemoryIdempotencyStore{
		entries:  make(map[string]*idempotencyEntry),
		ttl:      cfg.TTL,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go store.cleanupLoop(cfg.Cleanup)
	return store
}

// Stop stops the cleanup goroutine
func (s *MemoryIdempotencyStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *MemoryIdempotencyStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MemoryIdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.entries {
		if entry.resp != nil && entry.expiresAt.Before(now) {
			delete(s.entries, key)
		}
	}
}

// Reserve claims key, waiting for an in-flight holder to finish
func (s *MemoryIdempotencyStore) Reserve(ctx context.Context, key string) (*CachedResponse, error) {
	s.mu.Lock()
	entry, exists := s.entries[key]
	if exists && entry.resp != nil && entry.expiresAt.After(s.now()) {
		s.mu.Unlock()
		return entry.resp, nil
	}
	if exists && entry.resp == nil {
		s.mu.Unlock()
		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, ErrIdempotencyInFlight
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if entry.resp == nil {
			return nil, ErrIdempotencyInFlight
		}
		return entry.resp, nil
	}

	s.entries[key] = &idempotencyEntry{done: make(chan struct{})}
	s.mu.Unlock()
	return nil, nil
}

// Complete stores resp and wakes any waiting requests
func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, resp *CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.resp != nil {
		entry = &idempotencyEntry{done: make(chan struct{})}
		s.entries[key] = entry
	}
	entry.resp = resp
	entry.expiresAt = s.now().Add(s.ttl)
	close(entry.done)
	return nil
}

// ---------------------------------------------------------------------------
// Redis store
// ---------------------------------------------------------------------------

const inFlightMarker = "in-flight"

// RedisIdempotencyStore shares idempotency keys across replicas. A key is
// claimed with SETNX and replaced by the serialized response on completion.
type RedisIdempotencyStore struct {
	client      redis.Cmdable
	breaker     *gobreaker.CircuitBreaker
	ttl         time.Duration
	inFlightTTL time.Duration
	prefix      string
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store
func NewRedisIdempotencyStore(client redis.Cmdable, cfg IdempotencyConfig) *RedisIdempotencyStore {
	cfg = cfg.withDefaults()
	return &RedisIdempotencyStore{
		client:      client,
		breaker:     newRedisBreaker("idempotency-redis"),
		ttl:         cfg.TTL,
		inFlightTTL: time.Minute,
		prefix:      "sect:idem",
	}
}

func (s *RedisIdempotencyStore) redisKey(key string) string {
	return s.prefix + ":" + key
}

// Reserve claims key with SETNX or returns what is stored under it
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (*CachedResponse, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		rk := s.redisKey(key)
		claimed, err := s.client.SetNX(ctx, rk, inFlightMarker, s.inFlightTTL).Result()
		if err != nil {
			return nil, err
		}
		if claimed {
			return nil, nil
		}
		raw, err := s.client.Get(ctx, rk).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET; treat as held
			return nil, ErrIdempotencyInFlight
		}
		if err != nil {
			return nil, err
		}
		if raw == inFlightMarker {
			return nil, ErrIdempotencyInFlight
		}
		var resp CachedResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil, fmt.Errorf("decode cached response: %w", err)
		}
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.(*CachedResponse), nil
}

// Complete stores resp under key for the configured TTL
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp *CachedResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.redisKey(key), payload, s.ttl).Err()
	})
	return err
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// generateKey creates a unique key from user ID, idempotency key, and request fingerprint
func generateKey(userID, idempotencyKey, method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte(idempotencyKey))
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// idempotencyResponseWriter captures the response for caching
type idempotencyResponseWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *idempotencyResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func replay(w http.ResponseWriter, resp *CachedResponse) {
	for k, v := range resp.Headers {
		for _, val := range v {
			w.Header().Add(k, val)
		}
	}
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// isIdempotencyInFlight reports whether err means another request holds the key.
// gobreaker counts it as a failure, so it can arrive wrapped by the breaker.
func isIdempotencyInFlight(err error) bool {
	return errors.Is(err, ErrIdempotencyInFlight)
}

// Idempotency returns middleware that replays responses for repeated POST and
// PATCH requests carrying the same Idempotency-Key. Store failures let the
// request through without idempotency.
func Idempotency(store IdempotencyStore) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := r.Header.Get("Idempotency-Key")
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID := GetUserID(r.Context())
			if userID == "" {
				userID = r.RemoteAddr
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := generateKey(userID, idempotencyKey, r.Method, r.URL.Path, body)

			cached, err := store.Reserve(r.Context(), key)
			switch {
			case isIdempotencyInFlight(err):
				model.NewConflictError("a request with this idempotency key is still in progress").WriteJSON(w)
				return
			case err != nil:
				slog.WarnContext(r.Context(), "idempotency store unavailable",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.Any("error", err),
				)
				next.ServeHTTP(w, r)
				return
			case cached != nil:
				replay(w, cached)
				return
			}

			irw := &idempotencyResponseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
			}
			next.ServeHTTP(irw, r)

			resp := &CachedResponse{
				Status:  irw.status,
				Headers: irw.Header().Clone(),
				Body:    irw.body.Bytes(),
			}
			if err := store.Complete(context.WithoutCancel(r.Context()), key, resp); err != nil {
				slog.WarnContext(r.Context(), "failed to store idempotent response",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.Any("error", err),
				)
			}
		})
	}
}
