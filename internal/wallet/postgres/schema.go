package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS wallets (
	user_id TEXT PRIMARY KEY,
	wallet_type TEXT NOT NULL,
	address BYTEA NOT NULL,
	encrypted_signing_key TEXT NOT NULL,
	encrypted_recovery_phrase TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS wallets_address_idx ON wallets (address);

CREATE TABLE IF NOT EXISTS user_credentials (
	user_id TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
