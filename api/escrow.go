package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yashasviy/escrow-payments-api/escrow"
	"github.com/yashasviy/escrow-payments-api/middleware"
	"github.com/yashasviy/escrow-payments-api/models"
)

// EscrowService is the set of operations the handlers drive.
type EscrowService interface {
	CreateEscrow(ctx context.Context, req models.CreateEscrowRequest) (models.Receipt, error)
	CreateP2P(ctx context.Context, req models.CreateP2PRequest) (models.Receipt, error)
	Confirm(ctx context.Context, id, actor string) (models.Status, error)
	ReleaseFunds(ctx context.Context, id string) (models.Status, error)
	Get(ctx context.Context, id string) (models.Escrow, error)
}

// Mount registers the escrow routes on r.
func Mount(r chi.Router, svc EscrowService, logger *zap.Logger) {
	r.Route("/api/escrows", func(r chi.Router) {
		r.Post("/", CreateEscrowHandler(svc, logger))
		r.Post("/p2p", CreateP2PHandler(svc, logger))
		r.Get("/{id}", GetEscrowHandler(svc, logger))
		r.Post("/{id}/confirm", ConfirmHandler(svc, logger))
		r.Post("/{id}/release", ReleaseHandler(svc, logger))
	})
}

// CreateEscrowHandler opens a general multi-recipient escrow.
func CreateEscrowHandler(svc EscrowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateEscrowRequest
		if !decodeBody(w, r, &req) {
			return
		}

		receipt, err := svc.CreateEscrow(r.Context(), req)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	}
}

// CreateP2PHandler opens a single-recipient escrow.
func CreateP2PHandler(svc EscrowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateP2PRequest
		if !decodeBody(w, r, &req) {
			return
		}

		receipt, err := svc.CreateP2P(r.Context(), req)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	}
}

// ConfirmHandler records a party's confirmation.
func ConfirmHandler(svc EscrowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ConfirmRequest
		if !decodeBody(w, r, &req) {
			return
		}

		status, err := svc.Confirm(r.Context(), chi.URLParam(r, "id"), req.Actor)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, models.StatusResponse{Status: status})
	}
}

// ReleaseHandler releases a fully confirmed escrow. It takes no body.
func ReleaseHandler(svc EscrowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.ReleaseFunds(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, models.StatusResponse{Status: status})
	}
}

// GetEscrowHandler returns the full escrow record.
func GetEscrowHandler(svc EscrowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// decodeBody reads a JSON body of at most middleware.MaxBodyBytes into v.
// On failure it writes the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, middleware.MaxBodyBytes)).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, models.ErrorResponse{Detail: "Request body too large"})
		return false
	case err != nil:
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Detail: "Invalid Body"})
		return false
	}
	return true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrInvalidState), errors.Is(err, escrow.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, code, models.ErrorResponse{Detail: "Internal server error"})
		return
	}
	writeJSON(w, code, models.ErrorResponse{Detail: escrow.Detail(err)})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
