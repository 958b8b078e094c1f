package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the escrow store (SQLite).
var Migrations = migrate.NewGroup("escrow")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_escrow_accounts",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				// typeof() rejects the REAL that integer overflow silently produces.
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_accounts (
    address    TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    mint       TEXT NOT NULL,
    amount     INTEGER NOT NULL DEFAULT 0 CHECK (typeof(amount) = 'integer' AND amount >= 0),
    custodial  INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_escrow_accounts_owner ON escrow_accounts (owner, mint);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS escrow_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_escrow_streams",
			Version: "20250601000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_streams (
    address         TEXT PRIMARY KEY,
    bump            INTEGER NOT NULL,
    vault           TEXT NOT NULL UNIQUE,
    vault_bump      INTEGER NOT NULL,
    sender          TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    mint            TEXT NOT NULL,
    start_time      INTEGER NOT NULL,
    rate_per_second INTEGER NOT NULL,
    total_deposit   INTEGER NOT NULL CHECK (total_deposit > 0),
    active          INTEGER NOT NULL DEFAULT 1,
    record          BLOB NOT NULL,
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_escrow_streams_pair ON escrow_streams (sender, recipient);
CREATE INDEX IF NOT EXISTS idx_escrow_streams_recipient ON escrow_streams (recipient);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS escrow_streams`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_escrow_openings",
			Version: "20250601000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_openings (
    id              TEXT PRIMARY KEY,
    stream          TEXT NOT NULL,
    bump            INTEGER NOT NULL,
    vault           TEXT NOT NULL,
    vault_bump      INTEGER NOT NULL,
    source_account  TEXT NOT NULL,
    sender          TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    mint            TEXT NOT NULL,
    start_time      INTEGER NOT NULL,
    rate_per_second INTEGER NOT NULL,
    total_deposit   INTEGER NOT NULL CHECK (total_deposit > 0),
    record          BLOB NOT NULL,
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_escrow_openings_stream ON escrow_openings (stream);

CREATE TRIGGER IF NOT EXISTS escrow_apply_opening
BEFORE INSERT ON escrow_openings
BEGIN
    SELECT RAISE(ABORT, 'escrow: stream already exists')
    WHERE EXISTS (SELECT 1 FROM escrow_streams WHERE address = NEW.stream);
    SELECT RAISE(ABORT, 'escrow: stream already exists: vault in use')
    WHERE EXISTS (SELECT 1 FROM escrow_accounts WHERE address = NEW.vault);

    SELECT RAISE(ABORT, 'escrow: insufficient funds: source account not found')
    WHERE NOT EXISTS (SELECT 1 FROM escrow_accounts WHERE address = NEW.source_account);
    SELECT RAISE(ABORT, 'escrow: insufficient funds: source not owned by sender')
    WHERE (SELECT owner FROM escrow_accounts WHERE address = NEW.source_account) <> NEW.sender;
    SELECT RAISE(ABORT, 'escrow: insufficient funds: source mint mismatch')
    WHERE (SELECT mint FROM escrow_accounts WHERE address = NEW.source_account) <> NEW.mint;
    SELECT RAISE(ABORT, 'escrow: insufficient funds')
    WHERE (SELECT amount FROM escrow_accounts WHERE address = NEW.source_account) < NEW.total_deposit;

    INSERT INTO escrow_streams (address, bump, vault, vault_bump, sender, recipient, mint,
        start_time, rate_per_second, total_deposit, active, record, created_at, updated_at)
    VALUES (NEW.stream, NEW.bump, NEW.vault, NEW.vault_bump, NEW.sender, NEW.recipient, NEW.mint,
        NEW.start_time, NEW.rate_per_second, NEW.total_deposit, 1, NEW.record, NEW.created_at, NEW.created_at);

    INSERT INTO escrow_accounts (address, owner, mint, amount, custodial, created_at, updated_at)
    VALUES (NEW.vault, NEW.stream, NEW.mint, NEW.total_deposit, 1, NEW.created_at, NEW.created_at);

    UPDATE escrow_accounts
    SET amount = amount - NEW.total_deposit, updated_at = NEW.created_at
    WHERE address = NEW.source_account;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS escrow_apply_opening;
DROP TABLE IF EXISTS escrow_openings;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_escrow_settlements",
			Version: "20250601000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_settlements (
    id                TEXT PRIMARY KEY,
    stream            TEXT NOT NULL,
    vault             TEXT NOT NULL,
    sender            TEXT NOT NULL,
    recipient         TEXT NOT NULL,
    mint              TEXT NOT NULL,
    sender_account    TEXT NOT NULL,
    recipient_account TEXT NOT NULL,
    start_time        INTEGER NOT NULL,
    closed_at         INTEGER NOT NULL,
    rate_per_second   INTEGER NOT NULL,
    total_deposit     INTEGER NOT NULL CHECK (total_deposit >= 0),
    elapsed           INTEGER NOT NULL,
    earned            INTEGER NOT NULL,
    payout            INTEGER NOT NULL CHECK (payout >= 0),
    refund            INTEGER NOT NULL CHECK (refund >= 0),
    created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_escrow_settlements_stream ON escrow_settlements (stream, created_at);
CREATE INDEX IF NOT EXISTS idx_escrow_settlements_sender ON escrow_settlements (sender, created_at);
CREATE INDEX IF NOT EXISTS idx_escrow_settlements_recipient ON escrow_settlements (recipient, created_at);

CREATE TRIGGER IF NOT EXISTS escrow_apply_settlement
BEFORE INSERT ON escrow_settlements
BEGIN
    SELECT RAISE(ABORT, 'escrow: stream not found')
    WHERE NOT EXISTS (SELECT 1 FROM escrow_streams WHERE address = NEW.stream);
    SELECT RAISE(ABORT, 'escrow: account mismatch: stream record')
    WHERE NOT EXISTS (
        SELECT 1 FROM escrow_streams
        WHERE address = NEW.stream AND vault = NEW.vault AND sender = NEW.sender
          AND recipient = NEW.recipient AND mint = NEW.mint
    );
    SELECT RAISE(ABORT, 'escrow: account mismatch: stream terms changed')
    WHERE NOT EXISTS (
        SELECT 1 FROM escrow_streams
        WHERE address = NEW.stream AND start_time = NEW.start_time
          AND rate_per_second = NEW.rate_per_second AND total_deposit = NEW.total_deposit
    );
    SELECT RAISE(ABORT, 'escrow: account mismatch: split does not cover deposit')
    WHERE NEW.payout > NEW.total_deposit OR NEW.refund <> NEW.total_deposit - NEW.payout;

    SELECT RAISE(ABORT, 'escrow: account mismatch: sender destination')
    WHERE NOT EXISTS (
        SELECT 1 FROM escrow_accounts
        WHERE address = NEW.sender_account AND owner = NEW.sender AND mint = NEW.mint
    );
    SELECT RAISE(ABORT, 'escrow: account mismatch: recipient destination')
    WHERE NOT EXISTS (
        SELECT 1 FROM escrow_accounts
        WHERE address = NEW.recipient_account AND owner = NEW.recipient AND mint = NEW.mint
    );
    SELECT RAISE(ABORT, 'escrow: account mismatch: vault')
    WHERE NOT EXISTS (
        SELECT 1 FROM escrow_accounts
        WHERE address = NEW.vault AND owner = NEW.stream AND amount = NEW.total_deposit
    );

    UPDATE escrow_accounts
    SET amount = amount + NEW.payout, updated_at = NEW.created_at
    WHERE address = NEW.recipient_account;
    UPDATE escrow_accounts
    SET amount = amount + NEW.refund, updated_at = NEW.created_at
    WHERE address = NEW.sender_account;

    DELETE FROM escrow_accounts WHERE address = NEW.vault;
    DELETE FROM escrow_streams WHERE address = NEW.stream;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS escrow_apply_settlement;
DROP TABLE IF EXISTS escrow_settlements;
`)
				return err
			},
		},
	)
}
