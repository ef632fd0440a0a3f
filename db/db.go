package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Initialize creates the escrow tables if they do not exist yet.
func Initialize(ctx context.Context, db *sql.DB) error {
	// 1. Escrows. Recipients are fixed at creation so they live in one JSONB column.
	queryEscrows := `
	CREATE TABLE IF NOT EXISTS escrows (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		payer_email TEXT NOT NULL,
		total_amount NUMERIC NOT NULL CHECK (total_amount > 0),
		currency TEXT NOT NULL,
		chain TEXT NOT NULL,
		recipients JSONB NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('funded', 'confirmed', 'released')),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`

	if _, err := db.ExecContext(ctx, queryEscrows); err != nil {
		return fmt.Errorf("create escrows table: %w", err)
	}

	// 2. Confirmations. The primary key makes a repeated confirmation a no-op at the row level.
	queryConfirmations := `
	CREATE TABLE IF NOT EXISTS escrow_confirmations (
		seq BIGSERIAL,
		escrow_id TEXT NOT NULL REFERENCES escrows(id),
		actor TEXT NOT NULL,
		confirmed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (escrow_id, actor)
	);`

	if _, err := db.ExecContext(ctx, queryConfirmations); err != nil {
		return fmt.Errorf("create escrow_confirmations table: %w", err)
	}

	return nil
}
