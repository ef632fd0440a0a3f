package allocator

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/yashasviy/escrow-payments-api/escrow"
	"github.com/yashasviy/escrow-payments-api/models"
)

const (
	// MaxScale is the most fractional digits an amount or percentage may carry.
	MaxScale = 18
	// MaxDigits bounds the significant digits of an amount or percentage.
	MaxDigits = 38
)

var (
	validate = validator.New()
	hundred  = decimal.NewFromInt(100)
)

// Bounded reports whether d fits within MaxScale and MaxDigits. Decimals
// outside these bounds are rejected before any arithmetic, since comparing
// them rescales to the extreme exponent.
func Bounded(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp < -MaxScale || exp > MaxDigits {
		return false
	}
	n := d.NumDigits()
	return n <= MaxDigits && n+int(exp) <= MaxDigits
}

// ValidEmail reports whether s is a well-formed email address.
func ValidEmail(s string) bool {
	return validate.Var(s, "required,email") == nil
}

// Validate gates a recipient list before an escrow is created. Percentages
// are taken as given and must add up to exactly 100; the list is returned
// unchanged on success.
func Validate(recipients []models.Recipient) ([]models.Recipient, error) {
	if len(recipients) == 0 {
		return nil, escrow.Validation("at least one recipient is required")
	}

	sum := decimal.Zero
	for i, r := range recipients {
		if !ValidEmail(r.Email) {
			return nil, escrow.Validation("recipient %d: invalid email %q", i, r.Email)
		}
		if !Bounded(r.Percentage) {
			return nil, escrow.Validation("recipient %d: percentage exceeds %d decimal places or %d digits", i, MaxScale, MaxDigits)
		}
		if r.Percentage.IsNegative() || r.Percentage.GreaterThan(hundred) {
			return nil, escrow.Validation("recipient %d: percentage %s out of range 0-100", i, r.Percentage)
		}
		sum = sum.Add(r.Percentage)
	}

	if !sum.Equal(hundred) {
		return nil, escrow.Validation("recipient percentages must sum to 100, got %s", sum)
	}
	return recipients, nil
}
