package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yashasviy/escrow-payments-api/middleware"
)

// RouterConfig wires optional pieces into the router. A nil Redis client
// disables the idempotency middleware.
type RouterConfig struct {
	Redis       *redis.Client
	Idempotency middleware.IdempotencyOptions
}

// NewRouter builds the HTTP surface of the escrow service.
func NewRouter(svc EscrowService, logger *zap.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", HealthHandler())

	r.Group(func(r chi.Router) {
		if cfg.Redis != nil {
			r.Use(middleware.Idempotency(cfg.Redis, logger, cfg.Idempotency))
		}
		Mount(r, svc, logger)
	})
	return r
}
