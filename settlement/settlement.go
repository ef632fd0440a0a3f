// Package settlement hands released escrows to whatever moves the money.
// Nothing here touches funds; settlers only describe the payout.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yashasviy/escrow-payments-api/models"
)

// DefaultChannel is the Redis channel release instructions are published on.
const DefaultChannel = "escrow:released"

// Settler is notified exactly once per escrow, right after it is released.
type Settler interface {
	Settle(ctx context.Context, e models.Escrow) error
}

// Instruction is the payout plan for one released escrow.
type Instruction struct {
	EscrowID    string          `json:"escrow_id"`
	PayerEmail  string          `json:"payer_email"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Chain       string          `json:"chain"`
	Payouts     []models.Payout `json:"payouts"`
}

// NewInstruction builds the payout plan for e.
func NewInstruction(e models.Escrow) Instruction {
	return Instruction{
		EscrowID:    e.ID,
		PayerEmail:  e.PayerEmail,
		TotalAmount: e.TotalAmount,
		Currency:    e.Currency,
		Chain:       e.Chain,
		Payouts:     e.Payouts(),
	}
}

// LogSettler only logs the payout plan.
type LogSettler struct {
	Logger *zap.Logger
}

func (s LogSettler) Settle(_ context.Context, e models.Escrow) error {
	in := NewInstruction(e)
	for _, p := range in.Payouts {
		s.Logger.Info("payout due",
			zap.String("escrow_id", in.EscrowID),
			zap.String("recipient", p.Email),
			zap.String("wallet", p.Wallet),
			zap.String("amount", p.Amount.String()),
			zap.String("currency", in.Currency),
			zap.String("chain", in.Chain),
		)
	}
	return nil
}

// RedisSettler publishes the payout plan as JSON for a settlement worker.
type RedisSettler struct {
	rdb     *redis.Client
	channel string
}

// NewRedisSettler publishes on channel, or DefaultChannel when empty.
func NewRedisSettler(rdb *redis.Client, channel string) *RedisSettler {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSettler{rdb: rdb, channel: channel}
}

func (s *RedisSettler) Settle(ctx context.Context, e models.Escrow) error {
	payload, err := json.Marshal(NewInstruction(e))
	if err != nil {
		return fmt.Errorf("encode instruction: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish instruction: %w", err)
	}
	return nil
}
