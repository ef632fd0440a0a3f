package middleware

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func countingHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"id":"esc-%d","status":"funded"}`, n)
	})
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	return postBody(h, path, key, `{}`)
}

func postBody(h http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	mr, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, zap.NewNop(), IdempotencyOptions{})(countingHandler(&calls, http.StatusCreated))

	first := post(h, "/api/escrows", "key-1")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(IdempotencyHitHeader))

	second := post(h, "/api/escrows", "key-1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(IdempotencyHitHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.True(t, mr.Exists(RedisKeyPrefix+"/api/escrows:key-1"))
	assert.False(t, mr.Exists(LockKeyPrefix+"/api/escrows:key-1"))
	ttl := mr.TTL(RedisKeyPrefix + "/api/escrows:key-1")
	assert.Equal(t, DefaultCacheTTL, ttl)
}

func TestIdempotencyScopesKeyByPath(t *testing.T) {
	_, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, zap.NewNop(), IdempotencyOptions{})(countingHandler(&calls, http.StatusOK))

	post(h, "/api/escrows/a/confirm", "same")
	post(h, "/api/escrows/b/confirm", "same")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	_, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, zap.NewNop(), IdempotencyOptions{})(countingHandler(&calls, http.StatusOK))

	post(h, "/api/escrows", "")
	post(h, "/api/escrows", "")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	mr, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, zap.NewNop(), IdempotencyOptions{})(countingHandler(&calls, http.StatusConflict))

	post(h, "/api/escrows/x/release", "k")
	rec := post(h, "/api/escrows/x/release", "k")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.False(t, mr.Exists(RedisKeyPrefix+"/api/escrows/x/release:k"))
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	mr, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, zap.NewNop(), IdempotencyOptions{LockTimeout: time.Minute})(countingHandler(&calls, http.StatusOK))

	// simulate a request still being processed
	require.NoError(t, mr.Set(LockKeyPrefix+"/api/escrows:busy", "processing"))

	rec := post(h, "/api/escrows", "busy")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "currently being processed")
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestIdempotencyRedisDown(t *testing.T) {
	mr, rdb := newRedis(t)
	core, logs := observer.New(zap.ErrorLevel)
	var calls int32
	h := Idempotency(rdb, zap.New(core), IdempotencyOptions{})(countingHandler(&calls, http.StatusOK))
	mr.Close()

	rec := post(h, "/api/escrows", "k")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Equal(t, 1, logs.Len())
}

func TestIdempotencyRejectsKeyReusedWithDifferentBody(t *testing.T) {
	_, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, zap.NewNop(), IdempotencyOptions{})(countingHandler(&calls, http.StatusOK))

	path := "/api/escrows/x/confirm"
	first := postBody(h, path, "k", `{"actor":"alice@studio.com"}`)
	require.Equal(t, http.StatusOK, first.Code)

	rec := postBody(h, path, "k", `{"actor":"bob@studio.com"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, rec.Header().Get(IdempotencyHitHeader))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	replay := postBody(h, path, "k", `{"actor":"alice@studio.com"}`)
	assert.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(IdempotencyHitHeader))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdempotencyForwardsBody(t *testing.T) {
	_, rdb := newRedis(t)
	var seen string
	h := Idempotency(rdb, zap.NewNop(), IdempotencyOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	postBody(h, "/api/escrows/x/confirm", "k", `{"actor":"alice@studio.com"}`)
	assert.Equal(t, `{"actor":"alice@studio.com"}`, seen)
}

func TestIdempotencyRejectsOversizedBody(t *testing.T) {
	mr, rdb := newRedis(t)
	var calls int32
	h := Idempotency(rdb, zap.NewNop(), IdempotencyOptions{})(countingHandler(&calls, http.StatusOK))

	rec := postBody(h, "/api/escrows", "big", `{"title":"`+strings.Repeat("x", MaxBodyBytes)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.False(t, mr.Exists(LockKeyPrefix+"/api/escrows:big"))
}
