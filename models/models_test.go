package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRequiredConfirmers(t *testing.T) {
	e := Escrow{
		PayerEmail: "client@company.com",
		Recipients: []Recipient{
			{Email: "alice@studio.com", Percentage: decimal.NewFromInt(60)},
			{Email: "observer@studio.com", Percentage: decimal.Zero},
			{Email: "client@company.com", Percentage: decimal.NewFromInt(40)},
		},
	}
	assert.Equal(t, []string{"client@company.com", "alice@studio.com"}, e.RequiredConfirmers())

	assert.False(t, e.FullyConfirmed())
	e.Confirmations = []string{"observer@studio.com", "alice@studio.com"}
	assert.False(t, e.FullyConfirmed())
	e.Confirmations = append(e.Confirmations, "client@company.com")
	assert.True(t, e.FullyConfirmed())
}

func TestPayouts(t *testing.T) {
	e := Escrow{
		TotalAmount: decimal.RequireFromString("100.01"),
		Recipients: []Recipient{
			{Email: "a@x.io", Percentage: decimal.NewFromInt(50), Wallet: "0xa"},
			{Email: "b@x.io", Percentage: decimal.NewFromInt(50)},
			{Email: "c@x.io", Percentage: decimal.Zero},
		},
	}
	p := e.Payouts()
	assert.Len(t, p, 2)
	assert.Equal(t, "0xa", p[0].Wallet)
	assert.True(t, p[0].Amount.Equal(decimal.RequireFromString("50.005")))
	assert.True(t, p[0].Amount.Add(p[1].Amount).Equal(e.TotalAmount))
}

func TestCloneDoesNotShare(t *testing.T) {
	e := Escrow{
		Recipients:    []Recipient{{Email: "a@x.io"}},
		Confirmations: []string{"a@x.io"},
	}
	c := e.Clone()
	c.Recipients[0].Email = "b@x.io"
	c.Confirmations[0] = "b@x.io"
	assert.Equal(t, "a@x.io", e.Recipients[0].Email)
	assert.Equal(t, "a@x.io", e.Confirmations[0])
}
