package sqlite

import (
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Open connects to the ledger database and ensures the schema exists. Use
// ":memory:" for tests.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent settlement runs.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

-- SKU stock counters
CREATE TABLE IF NOT EXISTS skus(
  sku_id            TEXT PRIMARY KEY,
  vendor_id         TEXT NOT NULL,
  category_id       TEXT NOT NULL DEFAULT '',
  on_hand           INTEGER NOT NULL CHECK (on_hand >= 0),
  reserved          INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0),
  reorder_threshold INTEGER NOT NULL DEFAULT 0,
  updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_skus_vendor ON skus(vendor_id);

-- Reservation holds
CREATE TABLE IF NOT EXISTS reservations(
  token      TEXT PRIMARY KEY,
  sku_id     TEXT NOT NULL REFERENCES skus(sku_id),
  quantity   INTEGER NOT NULL CHECK (quantity > 0),
  state      TEXT NOT NULL CHECK (state IN ('active','committed','released')),
  created_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservations_state_expiry ON reservations(state, expires_at);

-- Orders
CREATE TABLE IF NOT EXISTS orders(
  id             TEXT PRIMARY KEY,
  customer_id    TEXT NOT NULL,
  status         TEXT NOT NULL,
  failure_reason TEXT NOT NULL DEFAULT '',
  created_at     INTEGER NOT NULL,
  updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS order_lines(
  order_id         TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  idx              INTEGER NOT NULL,
  sku_id           TEXT NOT NULL,
  quantity         INTEGER NOT NULL CHECK (quantity > 0),
  unit_price_cents INTEGER NOT NULL CHECK (unit_price_cents >= 0),
  PRIMARY KEY (order_id, idx)
);

-- Per-vendor sub-orders
CREATE TABLE IF NOT EXISTS sub_orders(
  id         TEXT PRIMARY KEY,
  order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  vendor_id  TEXT NOT NULL,
  method_ref TEXT NOT NULL DEFAULT '',
  status     TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sub_orders_order ON sub_orders(order_id, created_at);

CREATE TABLE IF NOT EXISTS sub_order_lines(
  sub_order_id      TEXT NOT NULL REFERENCES sub_orders(id) ON DELETE CASCADE,
  idx               INTEGER NOT NULL,
  line_ref          TEXT NOT NULL,
  sku_id            TEXT NOT NULL,
  category_id       TEXT NOT NULL DEFAULT '',
  quantity          INTEGER NOT NULL CHECK (quantity > 0),
  unit_price_cents  INTEGER NOT NULL CHECK (unit_price_cents >= 0),
  reservation_token TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (sub_order_id, idx)
);

-- Payment ledger; the unique line index is the settlement idempotency key
CREATE TABLE IF NOT EXISTS payments(
  id               TEXT PRIMARY KEY,
  sub_order_id     TEXT NOT NULL,
  line_ref         TEXT NOT NULL,
  vendor_id        TEXT NOT NULL,
  gross_cents      INTEGER NOT NULL CHECK (gross_cents >= 0),
  commission_cents INTEGER NOT NULL CHECK (commission_cents >= 0),
  net_cents        INTEGER NOT NULL CHECK (net_cents >= 0),
  status           TEXT NOT NULL,
  transaction_id   TEXT NOT NULL DEFAULT '',
  failure_reason   TEXT NOT NULL DEFAULT '',
  payout_id        TEXT NOT NULL DEFAULT '',
  reversal_of      TEXT NOT NULL DEFAULT '',
  created_at       INTEGER NOT NULL,
  updated_at       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_sub_order_line ON payments(sub_order_id, line_ref);
CREATE INDEX IF NOT EXISTS idx_payments_vendor_claim ON payments(vendor_id, status, payout_id);

-- Versioned commission policy
CREATE TABLE IF NOT EXISTS commission_rates(
  id              TEXT PRIMARY KEY,
  vendor_id       TEXT,
  category_id     TEXT,
  rate_percent    TEXT NOT NULL,
  fixed_fee_cents INTEGER NOT NULL DEFAULT 0,
  effective_from  INTEGER NOT NULL,
  effective_until INTEGER,
  created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rates_scope ON commission_rates(vendor_id, category_id);

-- Payout batches
CREATE TABLE IF NOT EXISTS payouts(
  id                     TEXT PRIMARY KEY,
  vendor_id              TEXT NOT NULL,
  period_start           INTEGER NOT NULL,
  period_end             INTEGER NOT NULL,
  total_gross_cents      INTEGER NOT NULL DEFAULT 0,
  total_commission_cents INTEGER NOT NULL DEFAULT 0,
  total_net_cents        INTEGER NOT NULL DEFAULT 0,
  payment_count          INTEGER NOT NULL DEFAULT 0,
  status                 TEXT NOT NULL,
  created_at             INTEGER NOT NULL,
  updated_at             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payouts_vendor ON payouts(vendor_id);
`
	_, err := db.Exec(schema)
	return err
}

// Timestamps are stored as unix nanoseconds so range comparisons stay integer
// arithmetic.
func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
