package storage

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS symbols (
    code        TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    exchange    TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS snapshots (
    symbol          TEXT PRIMARY KEY,
    price           NUMERIC NOT NULL,
    change_amount   NUMERIC NOT NULL,
    change_percent  NUMERIC NOT NULL,
    volume          BIGINT NOT NULL,
    observed_at     TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS price_history (
    id          BIGSERIAL PRIMARY KEY,
    symbol      TEXT NOT NULL,
    price       NUMERIC NOT NULL,
    volume      BIGINT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS price_alerts (
    id             BIGSERIAL PRIMARY KEY,
    symbol         TEXT NOT NULL,
    direction      TEXT NOT NULL,
    magnitude_pct  NUMERIC NOT NULL,
    threshold_pct  NUMERIC NOT NULL,
    triggered_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_price_history_symbol_recorded
    ON price_history (symbol, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_price_history_recorded
    ON price_history (recorded_at);
CREATE INDEX IF NOT EXISTS idx_price_alerts_triggered
    ON price_alerts (triggered_at DESC);
`

// EnsureSchema creates the tables and indexes if they do not exist yet.
// Idempotent; invoked once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
