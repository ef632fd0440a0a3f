package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yashasviy/escrow-payments-api/models"
)

const (
	// IdempotencyHeader is the standard HTTP header for idempotency keys
	IdempotencyHeader = "Idempotency-Key"

	// IdempotencyHitHeader marks a response replayed from the cache
	IdempotencyHitHeader = "X-Idempotency-Hit"

	// DefaultCacheTTL defines how long responses are cached in Redis
	DefaultCacheTTL = 24 * time.Hour

	// DefaultLockTimeout prevents indefinite locks if a request crashes
	DefaultLockTimeout = 10 * time.Second

	// RedisKeyPrefix for namespacing idempotency keys
	RedisKeyPrefix = "escrow:idempotency:"

	// LockKeyPrefix for namespacing distributed locks
	LockKeyPrefix = "escrow:lock:"

	// MaxBodyBytes caps the request body read by the API and by this middleware
	MaxBodyBytes = 64 << 10
)

// IdempotencyOptions tunes the middleware. Zero values fall back to the defaults.
type IdempotencyOptions struct {
	CacheTTL    time.Duration
	LockTimeout time.Duration
}

// cachedResponse is what gets stored in Redis for a completed request.
type cachedResponse struct {
	Fingerprint string          `json:"fingerprint"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body"`
}

// responseWriterWrapper captures the status code and body of a response.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseWriterWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriterWrapper) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated Idempotency-Key
// and rejects a duplicate that arrives while the first is still running.
// Keys are scoped to the request path, so the same key sent to two different
// escrows does not collide. A key reused on the same path with a different
// body is rejected with 422 instead of replayed. Only 2xx responses are cached.
func Idempotency(rdb *redis.Client, logger *zap.Logger, opts IdempotencyOptions) func(http.Handler) http.Handler {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idempotencyKey := r.Header.Get(IdempotencyHeader)
			if idempotencyKey == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			scope := r.URL.Path + ":" + idempotencyKey
			cacheKey := RedisKeyPrefix + scope
			lockKey := LockKeyPrefix + scope
			log := logger.With(zap.String("idempotency_key", idempotencyKey), zap.String("path", r.URL.Path))

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			case err != nil:
				writeDetail(w, http.StatusBadRequest, "Invalid Body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := bodyFingerprint(body)

			if raw, err := rdb.Get(ctx, cacheKey).Bytes(); err == nil {
				var cached cachedResponse
				if err := json.Unmarshal(raw, &cached); err == nil {
					if cached.Fingerprint != fingerprint {
						log.Warn("idempotency key reused with a different body")
						writeDetail(w, http.StatusUnprocessableEntity, "Idempotency key was already used with a different request body")
						return
					}
					log.Info("idempotency cache hit")
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(IdempotencyHitHeader, "true")
					w.WriteHeader(cached.Status)
					w.Write(cached.Body)
					return
				}
				log.Warn("discarding unreadable cached response")
			} else if err != redis.Nil {
				log.Error("idempotency cache lookup failed", zap.Error(err))
				writeDetail(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			acquired, err := rdb.SetNX(ctx, lockKey, "processing", opts.LockTimeout).Result()
			if err != nil {
				log.Error("idempotency lock acquisition failed", zap.Error(err))
				writeDetail(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !acquired {
				log.Warn("concurrent request with same idempotency key")
				writeDetail(w, http.StatusConflict, "A request with this idempotency key is currently being processed")
				return
			}

			// the lock and cache writes must outlive a client disconnect
			ctx = context.WithoutCancel(ctx)
			defer func() {
				if err := rdb.Del(ctx, lockKey).Err(); err != nil {
					log.Error("failed to release idempotency lock", zap.Error(err))
				}
			}()

			wrapper := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(wrapper, r)

			if wrapper.statusCode < 200 || wrapper.statusCode >= 300 {
				return
			}
			payload, err := json.Marshal(cachedResponse{
				Fingerprint: fingerprint,
				Status:      wrapper.statusCode,
				Body:        wrapper.body.Bytes(),
			})
			if err != nil {
				log.Error("failed to encode response for cache", zap.Error(err))
				return
			}
			if err := rdb.Set(ctx, cacheKey, payload, opts.CacheTTL).Err(); err != nil {
				log.Error("failed to cache response", zap.Error(err))
				return
			}
			log.Debug("cached response", zap.Duration("ttl", opts.CacheTTL))
		})
	}
}

func bodyFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.ErrorResponse{Detail: detail})
}
