package database

// SQL migrations for the portfolio database.
// All migrations use IF NOT EXISTS to be idempotent.

// The portfolio singleton is the row with id 1.
const migrationPortfolios = `
CREATE TABLE IF NOT EXISTS portfolios (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    name TEXT NOT NULL,
    as_of DATETIME NOT NULL
);
`

const migrationAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    remote_id TEXT NOT NULL UNIQUE,
    portfolio_id INTEGER REFERENCES portfolios(id) ON DELETE SET NULL,
    name TEXT NOT NULL,
    brokerage TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL DEFAULT '',
    last_synced_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

const migrationHoldings = `
CREATE TABLE IF NOT EXISTS holdings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    remote_id TEXT NOT NULL UNIQUE,
    account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    symbol TEXT NOT NULL,
    quantity REAL NOT NULL DEFAULT 0,
    avg_cost REAL NOT NULL DEFAULT 0,
    market_price REAL,
    updated_at DATETIME NOT NULL,
    price_as_of DATETIME,
    prev_close REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

const migrationSyncHistory = `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    accounts_synced INTEGER NOT NULL DEFAULT 0,
    holdings_synced INTEGER NOT NULL DEFAULT 0,
    quotes_applied INTEGER NOT NULL DEFAULT 0,
    orphaned_holdings INTEGER NOT NULL DEFAULT 0,
    cleanup_errors INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    duration_ms INTEGER
);
`

const migrationCredentials = `
CREATE TABLE IF NOT EXISTS credentials (
    name TEXT PRIMARY KEY,
    ciphertext BLOB NOT NULL,
    nonce BLOB NOT NULL,
    updated_at DATETIME NOT NULL
);
`

// One row per UTC day; later recordings on the same day overwrite it.
const migrationValueHistory = `
CREATE TABLE IF NOT EXISTS portfolio_value_history (
    date TEXT PRIMARY KEY,
    total_value REAL NOT NULL,
    recorded_at DATETIME NOT NULL
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_accounts_portfolio ON accounts(portfolio_id);
CREATE INDEX IF NOT EXISTS idx_holdings_account ON holdings(account_id);
CREATE INDEX IF NOT EXISTS idx_holdings_symbol ON holdings(symbol);
CREATE INDEX IF NOT EXISTS idx_sync_history_started ON sync_history(started_at);
`

// migrationAddHoldingDescription adds the instrument description column to holdings
const migrationAddHoldingDescription = `
ALTER TABLE holdings ADD COLUMN description TEXT;
`
