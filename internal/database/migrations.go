package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_accounts (
		user_id      TEXT        NOT NULL,
		platform     TEXT        NOT NULL CHECK (platform IN ('discord', 'web')),
		growid       TEXT        NOT NULL DEFAULT '',
		balance_wl   BIGINT      NOT NULL DEFAULT 0 CHECK (balance_wl >= 0),
		balance_dl   BIGINT      NOT NULL DEFAULT 0 CHECK (balance_dl >= 0),
		balance_bgl  BIGINT      NOT NULL DEFAULT 0 CHECK (balance_bgl >= 0),
		balance_idr  BIGINT      NOT NULL DEFAULT 0 CHECK (balance_idr >= 0),
		status       TEXT        NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'disabled')),
		version      BIGINT      NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_by   TEXT        NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, platform),
		CHECK (platform <> 'discord' OR growid <> ''),
		CHECK (platform <> 'web' OR (balance_wl = 0 AND balance_dl = 0 AND balance_bgl = 0))
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id            TEXT        PRIMARY KEY,
		user_id       TEXT        NOT NULL,
		platform      TEXT        NOT NULL,
		currency      TEXT        NOT NULL CHECK (currency IN ('wl', 'dl', 'bgl', 'idr')),
		entry_type    TEXT        NOT NULL,
		direction     TEXT        NOT NULL CHECK (direction IN ('up', 'down')),
		amount        BIGINT      NOT NULL CHECK (amount > 0),
		status        TEXT        NOT NULL CHECK (status IN ('pending', 'success', 'failed', 'reversed', 'cancelled')),
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL,
		created_by    TEXT        NOT NULL,
		description   TEXT        NOT NULL DEFAULT '',
		metadata      JSONB       NOT NULL DEFAULT '{}',
		reverses_id   TEXT        REFERENCES ledger_entries (id),
		conversion_id TEXT,
		FOREIGN KEY (user_id, platform) REFERENCES ledger_accounts (user_id, platform)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries (user_id, platform, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_status
		ON ledger_entries (status, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_reverses
		ON ledger_entries (reverses_id) WHERE reverses_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS conversion_rates (
		id           TEXT        PRIMARY KEY,
		currency     TEXT        NOT NULL CHECK (currency IN ('wl', 'dl', 'bgl')),
		rate         BIGINT      NOT NULL CHECK (rate > 0),
		min_amount   BIGINT      NOT NULL CHECK (min_amount >= 1),
		max_amount   BIGINT      NOT NULL,
		is_active    BOOLEAN     NOT NULL DEFAULT TRUE,
		effective_at TIMESTAMPTZ NOT NULL,
		set_by       TEXT        NOT NULL,
		CHECK (max_amount > min_amount)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversion_rates_active
		ON conversion_rates (currency) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS conversion_records (
		id               TEXT        PRIMARY KEY,
		user_id          TEXT        NOT NULL,
		platform         TEXT        NOT NULL,
		from_currency    TEXT        NOT NULL,
		to_currency      TEXT        NOT NULL,
		amount           BIGINT      NOT NULL CHECK (amount > 0),
		converted_amount BIGINT      NOT NULL,
		rate_used        BIGINT      NOT NULL,
		rate_id          TEXT        NOT NULL,
		status           TEXT        NOT NULL CHECK (status IN ('success', 'failed')),
		debit_entry_id   TEXT        NOT NULL REFERENCES ledger_entries (id),
		credit_entry_id  TEXT        NOT NULL REFERENCES ledger_entries (id),
		created_at       TIMESTAMPTZ NOT NULL,
		metadata         JSONB       NOT NULL DEFAULT '{}',
		FOREIGN KEY (user_id, platform) REFERENCES ledger_accounts (user_id, platform)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversion_records_account
		ON conversion_records (user_id, platform, created_at DESC)`,
}

// Migrate creates the ledger schema inside one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	return tx.Commit()
}
