package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yashasviy/escrow-payments-api/allocator"
	"github.com/yashasviy/escrow-payments-api/escrow"
	"github.com/yashasviy/escrow-payments-api/models"
	"github.com/yashasviy/escrow-payments-api/settlement"
	"github.com/yashasviy/escrow-payments-api/store"
)

// Service exposes the escrow operations. All state changes go through the
// store; the service only validates input and hands released escrows to
// the settler.
type Service struct {
	store   store.Store
	settler settlement.Settler
	logger  *zap.Logger
	newID   func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithSettler sets the collaborator notified after each release.
func WithSettler(s settlement.Settler) Option {
	return func(svc *Service) { svc.settler = s }
}

// WithIDGenerator replaces the default uuid generator.
func WithIDGenerator(fn func() string) Option {
	return func(svc *Service) { svc.newID = fn }
}

// New builds a Service. Without WithSettler, released escrows are logged.
func New(st store.Store, logger *zap.Logger, opts ...Option) *Service {
	svc := &Service{
		store:  st,
		logger: logger,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.settler == nil {
		svc.settler = settlement.LogSettler{Logger: logger}
	}
	return svc
}

// CreateEscrow validates the request and stores a new funded escrow.
func (s *Service) CreateEscrow(ctx context.Context, req models.CreateEscrowRequest) (models.Receipt, error) {
	if err := validateHeader(req); err != nil {
		return models.Receipt{}, err
	}
	recipients, err := allocator.Validate(req.Recipients)
	if err != nil {
		return models.Receipt{}, err
	}

	e := models.Escrow{
		ID:          s.newID(),
		Title:       req.Title,
		Description: req.Description,
		PayerEmail:  req.PayerEmail,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
		Chain:       req.Chain,
		Recipients:  recipients,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return models.Receipt{}, err
	}

	s.logger.Info("escrow created",
		zap.String("escrow_id", e.ID),
		zap.String("payer", e.PayerEmail),
		zap.String("amount", e.TotalAmount.String()),
		zap.String("currency", e.Currency),
		zap.Int("recipients", len(e.Recipients)),
	)
	return models.Receipt{ID: e.ID, Status: models.StatusFunded}, nil
}

// CreateP2P is CreateEscrow with a single recipient holding the full share.
func (s *Service) CreateP2P(ctx context.Context, req models.CreateP2PRequest) (models.Receipt, error) {
	return s.CreateEscrow(ctx, models.CreateEscrowRequest{
		Title:       req.Title,
		Description: req.Description,
		PayerEmail:  req.PayerEmail,
		TotalAmount: req.Amount,
		Currency:    req.Currency,
		Chain:       req.Chain,
		Recipients: []models.Recipient{
			{Email: req.RecipientEmail, Percentage: decimal.NewFromInt(100)},
		},
	})
}

// Confirm records actor's confirmation and returns the resulting status.
func (s *Service) Confirm(ctx context.Context, id, actor string) (models.Status, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", escrow.Validation("actor is required")
	}

	status, err := s.store.RecordConfirmation(ctx, id, actor)
	if err != nil {
		return "", err
	}
	s.logger.Info("escrow confirmed",
		zap.String("escrow_id", id),
		zap.String("actor", actor),
		zap.String("status", string(status)),
	)
	return status, nil
}

// ReleaseFunds releases a fully confirmed escrow and triggers settlement.
// A settlement failure is logged; the release itself stands.
func (s *Service) ReleaseFunds(ctx context.Context, id string) (models.Status, error) {
	released, err := s.store.Release(ctx, id)
	if err != nil {
		return "", err
	}
	s.logger.Info("escrow released", zap.String("escrow_id", id))

	// the release is committed; settlement must not die with the caller's request
	if err := s.settler.Settle(context.WithoutCancel(ctx), released); err != nil {
		s.logger.Error("settlement failed", zap.String("escrow_id", id), zap.Error(err))
	}
	return released.Status, nil
}

// Get returns a snapshot of the escrow.
func (s *Service) Get(ctx context.Context, id string) (models.Escrow, error) {
	return s.store.Get(ctx, id)
}

func validateHeader(req models.CreateEscrowRequest) error {
	switch {
	case !allocator.ValidEmail(req.PayerEmail):
		return escrow.Validation("invalid payer_email %q", req.PayerEmail)
	case !allocator.Bounded(req.TotalAmount):
		return escrow.Validation("total_amount exceeds %d decimal places or %d digits", allocator.MaxScale, allocator.MaxDigits)
	case !req.TotalAmount.IsPositive():
		return escrow.Validation("total_amount must be positive")
	case strings.TrimSpace(req.Currency) == "":
		return escrow.Validation("currency is required")
	case strings.TrimSpace(req.Chain) == "":
		return escrow.Validation("chain is required")
	}
	return nil
}
