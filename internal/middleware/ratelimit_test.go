package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Configuration Tests
// ============================================================================

func TestRateLimitConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg := RateLimitConfig{}.withDefaults()

	if cfg.Rate != 100 {
		t.Errorf("expected default rate 100, got %d", cfg.Rate)
	}
	if cfg.Window != time.Minute {
		t.Errorf("expected default window 1m, got %v", cfg.Window)
	}
	if cfg.Burst != 20 {
		t.Errorf("expected default burst 20, got %d", cfg.Burst)
	}
	if cfg.Cleanup != 5*time.Minute {
		t.Errorf("expected default cleanup 5m, got %v", cfg.Cleanup)
	}
}

func TestRateLimitConfig_KeepsCustomValues(t *testing.T) {
	t.Parallel()
	cfg := RateLimitConfig{Rate: 5, Window: time.Second, Burst: 1, Cleanup: time.Hour}.withDefaults()

	assert.Equal(t, RateLimitConfig{Rate: 5, Window: time.Second, Burst: 1, Cleanup: time.Hour}, cfg)
}

// ============================================================================
// MemoryRateLimitStore Tests
// ============================================================================

func newFrozenMemoryStore(t *testing.T, cfg RateLimitConfig) (*MemoryRateLimitStore, *time.Time) {
	t.Helper()
	store := NewMemoryRateLimitStore(cfg)
	t.Cleanup(store.Stop)
	now := time.Now()
	store.now = func() time.Time { return now }
	return store, &now
}

func TestMemoryRateLimitStore_AllowsUpToRatePlusBurst(t *testing.T) {
	t.Parallel()
	store, _ := newFrozenMemoryStore(t, RateLimitConfig{Rate: 2, Window: time.Second, Burst: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := store.Take(ctx, "user-1")
		require.NoError(t, err)
		assert.Truef(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := store.Take(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
}

func TestMemoryRateLimitStore_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	store, _ := newFrozenMemoryStore(t, RateLimitConfig{Rate: 1, Window: time.Second, Burst: 1})
	ctx := context.Background()

	_, _ = store.Take(ctx, "a")
	_, _ = store.Take(ctx, "a")
	denied, _ := store.Take(ctx, "a")
	other, _ := store.Take(ctx, "b")

	assert.False(t, denied.Allowed)
	assert.True(t, other.Allowed)
}

func TestMemoryRateLimitStore_RefillsOverTime(t *testing.T) {
	t.Parallel()
	store, now := newFrozenMemoryStore(t, RateLimitConfig{Rate: 2, Window: time.Second, Burst: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = store.Take(ctx, "user-1")
	}
	*now = now.Add(600 * time.Millisecond)

	d, err := store.Take(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one token should refill after 500ms")
}

func TestMemoryRateLimitStore_CleanupRemovesIdleKeys(t *testing.T) {
	t.Parallel()
	store, now := newFrozenMemoryStore(t, RateLimitConfig{Window: time.Second})

	_, _ = store.Take(context.Background(), "idle")
	*now = now.Add(5 * time.Second)
	store.cleanupExpired()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.buckets)
}

func TestMemoryRateLimitStore_ConcurrentTakes(t *testing.T) {
	t.Parallel()
	store, _ := newFrozenMemoryStore(t, RateLimitConfig{Rate: 10, Window: time.Minute, Burst: 5})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := store.Take(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 15, allowed)
}

// ============================================================================
// RedisRateLimitStore Tests
// ============================================================================

func newTestRedisStore(t *testing.T, fallback RateLimitStore) (*RedisRateLimitStore, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	store := NewRedisRateLimitStore(RedisRateLimitStoreConfig{
		Client:   client,
		Fallback: fallback,
		Limits:   RateLimitConfig{Rate: 2, Window: time.Minute, Burst: 1},
	})
	store.now = func() time.Time { return time.Unix(1_000_020, 0) }
	return store, mock
}

// window 1_000_020 / 60
const testRedisKey = "sect:ratelimit:user-1:16667"

func TestRedisRateLimitStore_FirstHitSetsExpiry(t *testing.T) {
	t.Parallel()
	store, mock := newTestRedisStore(t, nil)

	mock.ExpectIncr(testRedisKey).SetVal(1)
	mock.ExpectExpire(testRedisKey, time.Minute).SetVal(true)

	d, err := store.Take(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Limit)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, time.Unix(1_000_080, 0), d.ResetAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRateLimitStore_OverLimit_Denies(t *testing.T) {
	t.Parallel()
	store, mock := newTestRedisStore(t, nil)

	mock.ExpectIncr(testRedisKey).SetVal(4)

	d, err := store.Take(context.Background(), "user-1")

	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRateLimitStore_RedisError_UsesFallback(t *testing.T) {
	t.Parallel()
	fallback, _ := newFrozenMemoryStore(t, RateLimitConfig{Rate: 7, Window: time.Minute, Burst: 1})
	store, mock := newTestRedisStore(t, fallback)

	mock.ExpectIncr(testRedisKey).SetErr(errors.New("connection refused"))

	d, err := store.Take(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 8, d.Limit, "decision should come from the local limiter")
}

func TestRedisRateLimitStore_RedisError_NoFallback_ReturnsError(t *testing.T) {
	t.Parallel()
	store, mock := newTestRedisStore(t, nil)

	mock.ExpectIncr(testRedisKey).SetErr(errors.New("connection refused"))

	_, err := store.Take(context.Background(), "user-1")

	assert.Error(t, err)
}

// ============================================================================
// RateLimit() Middleware Tests
// ============================================================================

type stubRateLimitStore struct {
	decision RateDecision
	err      error
	keys     []string
}

func (s *stubRateLimitStore) Take(_ context.Context, key string) (RateDecision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func TestRateLimit_Allowed_SetsHeaders(t *testing.T) {
	t.Parallel()
	reset := time.Now().Add(30 * time.Second)
	store := &stubRateLimitStore{decision: RateDecision{Allowed: true, Limit: 10, Remaining: 9, ResetAt: reset}}
	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	RateLimit(store)(handler).ServeHTTP(rr, newTestRequest(""))

	assert.True(t, handler.called)
	assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(reset.Unix(), 10), rr.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_Denied_Returns429WithRetryAfter(t *testing.T) {
	t.Parallel()
	store := &stubRateLimitStore{decision: RateDecision{Limit: 10, ResetAt: time.Now().Add(20 * time.Second)}}
	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	RateLimit(store)(handler).ServeHTTP(rr, newTestRequest(""))

	assert.False(t, handler.called)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
}

func TestRateLimit_StoreError_FailsOpen(t *testing.T) {
	t.Parallel()
	store := &stubRateLimitStore{err: errors.New("down")}
	handler := &captureHandler{}
	rr := httptest.NewRecorder()

	RateLimit(store)(handler).ServeHTTP(rr, newTestRequest(""))

	assert.True(t, handler.called)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit_KeysByUserThenRemoteAddr(t *testing.T) {
	t.Parallel()
	store := &stubRateLimitStore{decision: RateDecision{Allowed: true}}

	anon := newTestRequest("")
	anon.RemoteAddr = "10.0.0.1:1234"
	RateLimit(store)(&captureHandler{}).ServeHTTP(httptest.NewRecorder(), anon)

	authed := newTestRequest("")
	authed = authed.WithContext(context.WithValue(authed.Context(), UserIDKey, "user-9"))
	RateLimit(store)(&captureHandler{}).ServeHTTP(httptest.NewRecorder(), authed)

	assert.Equal(t, []string{"10.0.0.1:1234", "user-9"}, store.keys)
}
