package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an escrow
type Status string

const (
	StatusFunded    Status = "funded"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
)

var hundred = decimal.NewFromInt(100)

// Recipient is one party entitled to a share of the escrowed amount
type Recipient struct {
	Email      string          `json:"email"`
	Percentage decimal.Decimal `json:"percentage"`
	Wallet     string          `json:"wallet,omitempty"`
}

// Escrow represents funds locked by a payer pending multi-party confirmation
type Escrow struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	PayerEmail    string          `json:"payer_email"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	Chain         string          `json:"chain"`
	Recipients    []Recipient     `json:"recipients"`
	Confirmations []string        `json:"confirmations"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RequiredConfirmers returns the payer plus every recipient holding a nonzero
// share. It is derived from the recipient list each time it is needed.
func (e Escrow) RequiredConfirmers() []string {
	seen := map[string]bool{e.PayerEmail: true}
	required := []string{e.PayerEmail}
	for _, r := range e.Recipients {
		if !r.Percentage.IsPositive() || seen[r.Email] {
			continue
		}
		seen[r.Email] = true
		required = append(required, r.Email)
	}
	return required
}

// HasConfirmed reports whether actor is already in the confirmation set.
func (e Escrow) HasConfirmed(actor string) bool {
	for _, c := range e.Confirmations {
		if c == actor {
			return true
		}
	}
	return false
}

// FullyConfirmed reports whether every required confirmer has confirmed.
func (e Escrow) FullyConfirmed() bool {
	for _, who := range e.RequiredConfirmers() {
		if !e.HasConfirmed(who) {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no slices with e.
func (e Escrow) Clone() Escrow {
	out := e
	out.Recipients = append([]Recipient(nil), e.Recipients...)
	out.Confirmations = append([]string{}, e.Confirmations...)
	return out
}

// Payout is the amount owed to one recipient on release
type Payout struct {
	Email  string          `json:"email"`
	Wallet string          `json:"wallet,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// Payouts splits the total amount by recipient percentage. Zero-share
// recipients are omitted.
func (e Escrow) Payouts() []Payout {
	out := make([]Payout, 0, len(e.Recipients))
	for _, r := range e.Recipients {
		if !r.Percentage.IsPositive() {
			continue
		}
		out = append(out, Payout{
			Email:  r.Email,
			Wallet: r.Wallet,
			Amount: e.TotalAmount.Mul(r.Percentage).Div(hundred),
		})
	}
	return out
}

// CreateEscrowRequest is what the client sends to open a general escrow
type CreateEscrowRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	PayerEmail  string          `json:"payer_email"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Chain       string          `json:"chain"`
	Recipients  []Recipient     `json:"recipients"`
}

// CreateP2PRequest is the single-recipient shorthand
type CreateP2PRequest struct {
	PayerEmail     string          `json:"payer_email"`
	RecipientEmail string          `json:"recipient_email"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Chain          string          `json:"chain"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
}

// ConfirmRequest names the party confirming an escrow
type ConfirmRequest struct {
	Actor string `json:"actor"`
}

// Receipt is returned after an escrow is created
type Receipt struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// StatusResponse is returned by confirm and release
type StatusResponse struct {
	Status Status `json:"status"`
}

// ErrorResponse carries the detail message for any failed request
type ErrorResponse struct {
	Detail string `json:"detail"`
}
