package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	"github.com/yashasviy/escrow-payments-api/escrow"
	"github.com/yashasviy/escrow-payments-api/models"
)

// Postgres persists escrows through database/sql with the pgx driver.
// Transitions lock the escrow row with SELECT ... FOR UPDATE, so concurrent
// writers to one escrow serialize while other escrows proceed in parallel.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open database whose schema was created by db.Initialize.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (p *Postgres) Create(ctx context.Context, e models.Escrow) error {
	rec := newRecord(e, p.now())
	recipients, err := json.Marshal(rec.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO escrows (id, title, description, payer_email, total_amount, currency, chain, recipients, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Title, rec.Description, rec.PayerEmail, rec.TotalAmount, rec.Currency, rec.Chain,
		string(recipients), string(rec.Status), rec.CreatedAt, rec.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return escrow.Conflict(rec.ID)
	}
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (p *Postgres) RecordConfirmation(ctx context.Context, id, actor string) (models.Status, error) {
	var status models.Status
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		e, err := load(ctx, tx, id, true)
		if err != nil {
			return err
		}

		now := p.now()
		changed, err := applyConfirmation(&e, actor, now)
		if err != nil {
			return err
		}
		status = e.Status
		if !changed {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO escrow_confirmations (escrow_id, actor, confirmed_at) VALUES ($1, $2, $3)",
			id, actor, now); err != nil {
			return fmt.Errorf("insert confirmation: %w", err)
		}
		return updateStatus(ctx, tx, e)
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func (p *Postgres) Release(ctx context.Context, id string) (models.Escrow, error) {
	var released models.Escrow
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		e, err := load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := applyRelease(&e, p.now()); err != nil {
			return err
		}
		released = e
		return updateStatus(ctx, tx, e)
	})
	if err != nil {
		return models.Escrow{}, err
	}
	return released, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (models.Escrow, error) {
	return load(ctx, p.db, id, false)
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() // no-op if already committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func updateStatus(ctx context.Context, tx *sql.Tx, e models.Escrow) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE escrows SET status = $1, updated_at = $2 WHERE id = $3",
		string(e.Status), e.UpdatedAt, e.ID); err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	return nil
}

func load(ctx context.Context, q queryer, id string, forUpdate bool) (models.Escrow, error) {
	query := `
		SELECT id, title, description, payer_email, total_amount, currency, chain, recipients, status, created_at, updated_at
		FROM escrows WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		e          models.Escrow
		recipients []byte
		status     string
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.Title, &e.Description, &e.PayerEmail, &e.TotalAmount, &e.Currency, &e.Chain,
		&recipients, &status, &e.CreatedAt, &e.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Escrow{}, escrow.NotFound(id)
	case err != nil:
		return models.Escrow{}, fmt.Errorf("select escrow: %w", err)
	}
	e.Status = models.Status(status)
	if err := json.Unmarshal(recipients, &e.Recipients); err != nil {
		return models.Escrow{}, fmt.Errorf("decode recipients: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT actor FROM escrow_confirmations WHERE escrow_id = $1 ORDER BY seq", id)
	if err != nil {
		return models.Escrow{}, fmt.Errorf("select confirmations: %w", err)
	}
	defer rows.Close()

	e.Confirmations = []string{}
	for rows.Next() {
		var actor string
		if err := rows.Scan(&actor); err != nil {
			return models.Escrow{}, fmt.Errorf("scan confirmation: %w", err)
		}
		e.Confirmations = append(e.Confirmations, actor)
	}
	if err := rows.Err(); err != nil {
		return models.Escrow{}, fmt.Errorf("read confirmations: %w", err)
	}
	return e, nil
}
