package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// MemoryIdempotencyStore Tests
// ============================================================================

func TestNewMemoryIdempotencyStore_DefaultConfig(t *testing.T) {
	t.Parallel()
	store := NewMemoryIdempotencyStore(IdempotencyConfig{})
	defer store.Stop()

	if store.ttl != 24*time.Hour {
		t.Errorf("expected TTL 24h, got %v", store.ttl)
	}
}

func TestMemoryIdempotencyStore_Stop_StopsCleanupLoop(t *testing.T) {
	t.Parallel()
	store := NewMemoryIdempotencyStore(IdempotencyConfig{Cleanup: time.Millisecond})
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		store.Stop()
		store.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Stop() did not return within timeout")
	}
}

func TestMemoryIdempotencyStore_ReserveThenComplete(t *testing.T) {
	t.Parallel()
	store := NewMemoryIdempotencyStore(IdempotencyConfig{})
	defer store.Stop()
	ctx := context.Background()

	cached, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, cached)

	require.NoError(t, store.Complete(ctx, "k", &CachedResponse{Status: http.StatusCreated, Body: []byte("ok")}))

	cached, err = store.Reserve(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, http.StatusCreated, cached.Status)
	assert.Equal(t, "ok", string(cached.Body))
}

func TestMemoryIdempotencyStore_InFlight_CancelledWaiterGetsInFlight(t *testing.T) {
	t.Parallel()
	store := NewMemoryIdempotencyStore(IdempotencyConfig{})
	defer store.Stop()

	_, err := store.Reserve(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = store.Reserve(ctx, "k")

	assert.ErrorIs(t, err, ErrIdempotencyInFlight)
}

func TestMemoryIdempotencyStore_Expired_CanBeReservedAgain(t *testing.T) {
	t.Parallel()
	store := NewMemoryIdempotencyStore(IdempotencyConfig{TTL: time.Minute})
	defer store.Stop()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = store.Reserve(ctx, "k")
	_ = store.Complete(ctx, "k", &CachedResponse{Status: http.StatusOK})

	now = now.Add(2 * time.Minute)
	store.cleanup()

	cached, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, cached, "expired entry should not replay")
}

// ============================================================================
// RedisIdempotencyStore Tests
// ============================================================================

func TestRedisIdempotencyStore_Reserve_Claims(t *testing.T) {
	t.Parallel()
	client, mock := redismock.NewClientMock()
	store := NewRedisIdempotencyStore(client, IdempotencyConfig{})

	mock.ExpectSetNX("sect:idem:k", inFlightMarker, time.Minute).SetVal(true)

	cached, err := store.Reserve(context.Background(), "k")

	require.NoError(t, err)
	assert.Nil(t, cached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisIdempotencyStore_Reserve_InFlight(t *testing.T) {
	t.Parallel()
	client, mock := redismock.NewClientMock()
	store := NewRedisIdempotencyStore(client, IdempotencyConfig{})

	mock.ExpectSetNX("sect:idem:k", inFlightMarker, time.Minute).SetVal(false)
	mock.ExpectGet("sect:idem:k").SetVal(inFlightMarker)

	_, err := store.Reserve(context.Background(), "k")

	assert.ErrorIs(t, err, ErrIdempotencyInFlight)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisIdempotencyStore_Reserve_ReturnsCompleted(t *testing.T) {
	t.Parallel()
	client, mock := redismock.NewClientMock()
	store := NewRedisIdempotencyStore(client, IdempotencyConfig{})

	stored, _ := json.Marshal(CachedResponse{Status: http.StatusCreated, Body: []byte(`{"id":"x"}`)})
	mock.ExpectSetNX("sect:idem:k", inFlightMarker, time.Minute).SetVal(false)
	mock.ExpectGet("sect:idem:k").SetVal(string(stored))

	cached, err := store.Reserve(context.Background(), "k")

	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, http.StatusCreated, cached.Status)
	assert.JSONEq(t, `{"id":"x"}`, string(cached.Body))
}

func TestRedisIdempotencyStore_Complete_StoresWithTTL(t *testing.T) {
	t.Parallel()
	client, mock := redismock.NewClientMock()
	store := NewRedisIdempotencyStore(client, IdempotencyConfig{TTL: time.Hour})
	resp := &CachedResponse{Status: http.StatusOK, Body: []byte("done")}
	payload, _ := json.Marshal(resp)

	mock.ExpectSet("sect:idem:k", payload, time.Hour).SetVal("OK")

	require.NoError(t, store.Complete(context.Background(), "k", resp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisIdempotencyStore_RedisDown_ReturnsError(t *testing.T) {
	t.Parallel()
	client, mock := redismock.NewClientMock()
	store := NewRedisIdempotencyStore(client, IdempotencyConfig{})

	mock.ExpectSetNX("sect:idem:k", inFlightMarker, time.Minute).SetErr(errors.New("connection refused"))

	_, err := store.Reserve(context.Background(), "k")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIdempotencyInFlight)
}

// ============================================================================
// generateKey Tests
// ============================================================================

func TestGenerateKey(t *testing.T) {
	t.Parallel()
	base := generateKey("user:1", "idem", "POST", "/v1/sects", []byte(`{"a":1}`))

	if base != generateKey("user:1", "idem", "POST", "/v1/sects", []byte(`{"a":1}`)) {
		t.Error("same inputs should produce the same key")
	}
	variants := []string{
		generateKey("user:2", "idem", "POST", "/v1/sects", []byte(`{"a":1}`)),
		generateKey("user:1", "other", "POST", "/v1/sects", []byte(`{"a":1}`)),
		generateKey("user:1", "idem", "PATCH", "/v1/sects", []byte(`{"a":1}`)),
		generateKey("user:1", "idem", "POST", "/v1/sects/x", []byte(`{"a":1}`)),
		generateKey("user:1", "idem", "POST", "/v1/sects", []byte(`{"a":2}`)),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d should differ from base key", i)
		}
	}
}

// ============================================================================
// Idempotency() Middleware Tests
// ============================================================================

// countingHandler writes a 201 with a body and counts invocations
type countingHandler struct {
	calls atomic.Int32
	delay time.Duration
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls.Add(1)
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func idempotentRequest(method, key, body string) *http.Request {
	req := httptest.NewRequest(method, "/v1/sects/sect:1/checkin", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestIdempotency_ReplaysSecondRequest(t *testing.T) {
	t.Parallel()
	store := NewMemoryIdempotencyStore(IdempotencyConfig{})
	defer store.Stop()
	handler := &countingHandler{}
	wrapped := Idempotency(store)(handler)

	first := httptest.NewRecorder()
	wrapped.ServeHTTP(first, idempotentRequest(http.MethodPost, "abc", `{}`))
	second := httptest.NewRecorder()
	wrapped.ServeHTTP(second, idempotentRequest(http.MethodPost, "abc", `{}`))

	assert.Equal(t, int32(1), handler.calls.Load())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, `{"ok":true}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.Empty(t, first.Header().Get("X-Idempotency-Replayed"))
}

func TestIdempotency_PassThrough(t *testing.T) {
	t.Parallel()
	cases := map[string]*http.Request{
		"no key":     idempotentRequest(http.MethodPost, "", `{}`),
		"get method": idempotentRequest(http.MethodGet, "abc", ``),
		"delete":     idempotentRequest(http.MethodDelete, "abc", ``),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			store := NewMemoryIdempotencyStore(IdempotencyConfig{})
			defer store.Stop()
			handler := &countingHandler{}
			wrapped := Idempotency(store)(handler)

			wrapped.ServeHTTP(httptest.NewRecorder(), req)
			wrapped.ServeHTTP(httptest.NewRecorder(), req.Clone(req.Context()))

			assert.Equal(t, int32(2), handler.calls.Load())
		})
	}
}

func TestIdempotency_DifferentBody_NotReplayed(t *testing.T) {
	t.Parallel()
	store := NewMemoryIdempotencyStore(IdempotencyConfig{})
	defer store.Stop()
	handler := &countingHandler{}
	wrapped := Idempotency(store)(handler)

	wrapped.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "abc", `{"a":1}`))
	wrapped.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "abc", `{"a":2}`))

	assert.Equal(t, int32(2), handler.calls.Load())
}

func TestIdempotency_ConcurrentRequests_RunHandlerOnce(t *testing.T) {
	t.Parallel()
	store := NewMemoryIdempotencyStore(IdempotencyConfig{})
	defer store.Stop()
	handler := &countingHandler{delay: 20 * time.Millisecond}
	wrapped := Idempotency(store)(handler)

	var wg sync.WaitGroup
	codes := make([]int, 5)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := httptest.NewRecorder()
			wrapped.ServeHTTP(rr, idempotentRequest(http.MethodPost, "same", `{}`))
			codes[i] = rr.Code
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), handler.calls.Load())
	for _, code := range codes {
		assert.Equal(t, http.StatusCreated, code)
	}
}

// failingIdempotencyStore simulates an unreachable shared store
type failingIdempotencyStore struct{}

func (failingIdempotencyStore) Reserve(context.Context, string) (*CachedResponse, error) {
	return nil, errors.New("redis down")
}

func (failingIdempotencyStore) Complete(context.Context, string, *CachedResponse) error {
	return errors.New("redis down")
}

func TestIdempotency_StoreError_FailsOpen(t *testing.T) {
	t.Parallel()
	handler := &countingHandler{}
	rr := httptest.NewRecorder()

	Idempotency(failingIdempotencyStore{})(handler).ServeHTTP(rr, idempotentRequest(http.MethodPost, "abc", `{}`))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, int32(1), handler.calls.Load())
}

// inFlightStore reports every key as held by another request
type inFlightStore struct{}

func (inFlightStore) Reserve(context.Context, string) (*CachedResponse, error) {
	return nil, ErrIdempotencyInFlight
}

func (inFlightStore) Complete(context.Context, string, *CachedResponse) error { return nil }

func TestIdempotency_InFlight_ReturnsConflict(t *testing.T) {
	t.Parallel()
	handler := &countingHandler{}
	rr := httptest.NewRecorder()

	Idempotency(inFlightStore{})(handler).ServeHTTP(rr, idempotentRequest(http.MethodPost, "abc", `{}`))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Zero(t, handler.calls.Load())
}
