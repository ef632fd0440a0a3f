package settlement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yashasviy/escrow-payments-api/models"
)

func releasedEscrow() models.Escrow {
	return models.Escrow{
		ID:          "esc-1",
		PayerEmail:  "client@company.com",
		TotalAmount: decimal.NewFromInt(2500),
		Currency:    "USDC",
		Chain:       "testnet",
		Recipients: []models.Recipient{
			{Email: "alice@studio.com", Percentage: decimal.NewFromInt(70), Wallet: "0xa"},
			{Email: "bob@studio.com", Percentage: decimal.NewFromInt(30)},
			{Email: "observer@studio.com", Percentage: decimal.Zero},
		},
		Status: models.StatusReleased,
	}
}

func TestNewInstructionSplitsAmount(t *testing.T) {
	in := NewInstruction(releasedEscrow())
	require.Len(t, in.Payouts, 2)
	assert.Equal(t, "alice@studio.com", in.Payouts[0].Email)
	assert.Equal(t, "0xa", in.Payouts[0].Wallet)
	assert.True(t, in.Payouts[0].Amount.Equal(decimal.NewFromInt(1750)))
	assert.True(t, in.Payouts[1].Amount.Equal(decimal.NewFromInt(750)))
}

func TestLogSettler(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := LogSettler{Logger: zap.New(core)}

	require.NoError(t, s.Settle(context.Background(), releasedEscrow()))
	entries := logs.FilterMessage("payout due").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "bob@studio.com", entries[1].ContextMap()["recipient"])
	assert.Equal(t, "750", entries[1].ContextMap()["amount"])
}

func TestRedisSettlerPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, DefaultChannel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedisSettler(rdb, "").Settle(ctx, releasedEscrow()))

	select {
	case msg := <-sub.Channel():
		var in Instruction
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &in))
		assert.Equal(t, "esc-1", in.EscrowID)
		assert.Len(t, in.Payouts, 2)
		assert.True(t, in.TotalAmount.Equal(decimal.NewFromInt(2500)))
	case <-time.After(2 * time.Second):
		t.Fatal("no instruction published")
	}
}

func TestRedisSettlerUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	err := NewRedisSettler(rdb, "custom").Settle(context.Background(), releasedEscrow())
	assert.Error(t, err)
}
