package database

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS failures (
    orderref TEXT PRIMARY KEY,
    error_message TEXT NOT NULL,
    failure_type TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    first_failure TIMESTAMPTZ NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    resolved BOOLEAN NOT NULL DEFAULT FALSE,
    resolution_note TEXT NOT NULL DEFAULT '',
    resolved_at TIMESTAMPTZ,
    customer_data JSONB
);

CREATE INDEX IF NOT EXISTS idx_failures_resolved ON failures(resolved);
CREATE INDEX IF NOT EXISTS idx_failures_recorded_at ON failures(recorded_at);
`

func InitSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}
