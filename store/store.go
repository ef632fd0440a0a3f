// Package store holds escrow records and is the only place their state
// changes. Both backends run every transition through applyConfirmation and
// applyRelease while holding exclusive access to the escrow being changed.
package store

import (
	"context"
	"time"

	"github.com/yashasviy/escrow-payments-api/escrow"
	"github.com/yashasviy/escrow-payments-api/models"
)

// Store is the authoritative escrow state machine.
type Store interface {
	Create(ctx context.Context, e models.Escrow) error
	RecordConfirmation(ctx context.Context, id, actor string) (models.Status, error)
	Release(ctx context.Context, id string) (models.Escrow, error)
	Get(ctx context.Context, id string) (models.Escrow, error)
}

// newRecord resets the mutable fields of a freshly created escrow.
func newRecord(e models.Escrow, now time.Time) models.Escrow {
	rec := e.Clone()
	rec.Status = models.StatusFunded
	rec.Confirmations = []string{}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return rec
}

// applyConfirmation adds actor to e and advances it to confirmed once the
// required set is covered. changed is false for a repeated confirmation.
func applyConfirmation(e *models.Escrow, actor string, now time.Time) (changed bool, err error) {
	if e.Status == models.StatusReleased {
		return false, escrow.InvalidState("escrow %s already released", e.ID)
	}
	if e.HasConfirmed(actor) {
		return false, nil
	}

	e.Confirmations = append(e.Confirmations, actor)
	if e.Status == models.StatusFunded && e.FullyConfirmed() {
		e.Status = models.StatusConfirmed
	}
	e.UpdatedAt = now
	return true, nil
}

func applyRelease(e *models.Escrow, now time.Time) error {
	switch e.Status {
	case models.StatusReleased:
		return escrow.InvalidState("escrow %s already released", e.ID)
	case models.StatusConfirmed:
		e.Status = models.StatusReleased
		e.UpdatedAt = now
		return nil
	default:
		return escrow.InvalidState("escrow %s is %s; all parties must confirm before release", e.ID, e.Status)
	}
}
