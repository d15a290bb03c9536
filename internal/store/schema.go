package store

// SQL schema constants for all broker tables.

const schemaProviderAccounts = `
CREATE TABLE IF NOT EXISTS provider_accounts (
    account_id TEXT PRIMARY KEY,
    owner_user_id TEXT NOT NULL,
    account_name TEXT,
    subscription TEXT NOT NULL DEFAULT '',
    is_shared INTEGER NOT NULL DEFAULT 0,
    access_token TEXT NOT NULL,
    refresh_token TEXT,
    expires_at INTEGER,
    last_refresh TEXT,
    resource_url TEXT NOT NULL DEFAULT '',
    email TEXT,
    status INTEGER NOT NULL DEFAULT 1,
    need_refresh INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_email
    ON provider_accounts(email) WHERE email IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_refresh_token
    ON provider_accounts(refresh_token) WHERE refresh_token IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_accounts_owner ON provider_accounts(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_accounts_created ON provider_accounts(created_at);
`

const schemaConsumptionLog = `
CREATE TABLE IF NOT EXISTS consumption_log (
    log_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    api_key_id INTEGER,
    model_id TEXT NOT NULL,
    credit_used REAL NOT NULL DEFAULT 0.0,
    is_shared INTEGER NOT NULL DEFAULT 0,
    endpoint TEXT,
    method TEXT NOT NULL DEFAULT 'POST',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 1,
    status_code INTEGER,
    error_message TEXT,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    stream INTEGER NOT NULL DEFAULT 0,
    consumed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consumption_user ON consumption_log(user_id);
CREATE INDEX IF NOT EXISTS idx_consumption_account ON consumption_log(account_id);
CREATE INDEX IF NOT EXISTS idx_consumption_api_key ON consumption_log(api_key_id);
CREATE INDEX IF NOT EXISTS idx_consumption_consumed_at ON consumption_log(consumed_at);
`

const schemaSubscriptionModels = `
CREATE TABLE IF NOT EXISTS subscription_models (
    subscription TEXT PRIMARY KEY,
    allowed_model_ids TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas lists every DDL block applied by the initial migration.
var allSchemas = []string{
	schemaProviderAccounts,
	schemaConsumptionLog,
	schemaSubscriptionModels,
}
