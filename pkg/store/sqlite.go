package store

import (
	"database/sql"
	"fmt"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// sqliteSchema bootstraps the embedded database. The SQL store otherwise
// assumes migrations ran out of band.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plans (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	currency        TEXT NOT NULL,
	price_cents     INTEGER NOT NULL,
	cycle           TEXT NOT NULL,
	max_subscribers INTEGER NOT NULL DEFAULT 0,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id              TEXT PRIMARY KEY,
	plan_id         TEXT NOT NULL REFERENCES plans(id),
	payer           TEXT NOT NULL,
	status          TEXT NOT NULL,
	auto_renew      BOOLEAN NOT NULL,
	start_at        TIMESTAMP NOT NULL,
	next_billing_at TIMESTAMP NOT NULL,
	failed_payments INTEGER NOT NULL DEFAULT 0,
	paused_at       TIMESTAMP,
	ended_at        TIMESTAMP,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_due ON subscriptions(status, next_billing_at);
CREATE INDEX IF NOT EXISTS idx_subscriptions_payer ON subscriptions(payer);

CREATE TABLE IF NOT EXISTS payments (
	id               TEXT PRIMARY KEY,
	subscription_id  TEXT NOT NULL DEFAULT '',
	payer            TEXT NOT NULL,
	payee            TEXT NOT NULL,
	currency         TEXT NOT NULL,
	gross_cents      INTEGER NOT NULL,
	fee_cents        INTEGER NOT NULL,
	net_cents        INTEGER NOT NULL,
	fee_collector    TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	idempotency_key  TEXT NOT NULL,
	correlation_hash TEXT NOT NULL DEFAULT '',
	refunded_at      TIMESTAMP,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_payer ON payments(payer, created_at);
CREATE INDEX IF NOT EXISTS idx_payments_subscription ON payments(subscription_id);
`

// OpenSQLite opens (and bootstraps) a SQLite-backed store. Use ":memory:"
// for an ephemeral database.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap sqlite schema: %w", err)
	}
	return NewSQLStore(db, FlavorSQLite), nil
}
