package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EnsureSchema creates the vehicle stats table and its natural-key constraint
// when missing. NULLS NOT DISTINCT needs PostgreSQL 15 or newer.
func EnsureSchema(ctx context.Context, db *sql.DB, table string) error {
	if db == nil {
		return errors.New("postgres sink: nil db")
	}
	if table == "" {
		table = defaultTable
	}
	if _, err := db.ExecContext(ctx, schemaQuery(table)); err != nil {
		return fmt.Errorf("postgres sink: ensure schema: %w", err)
	}
	return nil
}

func schemaQuery(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	observed_at TIMESTAMPTZ NOT NULL,
	vehicle_id TEXT,
	code TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT %s UNIQUE NULLS NOT DISTINCT (observed_at, vehicle_id, code, kind, payload)
)`, quoteTable(table), quoteConstraint(table))
}
