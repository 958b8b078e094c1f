package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the escrow store.
var Migrations = migrate.NewGroup("escrow")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_escrow_accounts",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS escrow_accounts (
    address    TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    mint       TEXT NOT NULL,
    amount     BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
    custodial  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    bump            SMALLINT NOT NULL,
    vault           TEXT NOT NULL UNIQUE,
    vault_bump      SMALLINT NOT NULL,
    sender          TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    mint            TEXT NOT NULL,
    start_time      BIGINT NOT NULL,
    rate_per_second BIGINT NOT NULL,
    total_deposit   BIGINT NOT NULL CHECK (total_deposit > 0),
    active          BOOLEAN NOT NULL DEFAULT TRUE,
    record          BYTEA NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    bump            SMALLINT NOT NULL,
    vault           TEXT NOT NULL,
    vault_bump      SMALLINT NOT NULL,
    source_account  TEXT NOT NULL,
    sender          TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    mint            TEXT NOT NULL,
    start_time      BIGINT NOT NULL,
    rate_per_second BIGINT NOT NULL,
    total_deposit   BIGINT NOT NULL CHECK (total_deposit > 0),
    record          BYTEA NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_escrow_openings_stream ON escrow_openings (stream);

CREATE OR REPLACE FUNCTION escrow_apply_opening() RETURNS trigger AS $$
DECLARE
    src escrow_accounts%ROWTYPE;
BEGIN
    IF EXISTS (SELECT 1 FROM escrow_streams WHERE address = NEW.stream) THEN
        RAISE EXCEPTION 'escrow: stream already exists';
    END IF;
    IF EXISTS (SELECT 1 FROM escrow_accounts WHERE address = NEW.vault) THEN
        RAISE EXCEPTION 'escrow: stream already exists: vault in use';
    END IF;

    SELECT * INTO src FROM escrow_accounts WHERE address = NEW.source_account FOR UPDATE;
    IF NOT FOUND THEN
        RAISE EXCEPTION 'escrow: insufficient funds: source account not found';
    END IF;
    IF src.owner <> NEW.sender THEN
        RAISE EXCEPTION 'escrow: insufficient funds: source not owned by sender';
    END IF;
    IF src.mint <> NEW.mint THEN
        RAISE EXCEPTION 'escrow: insufficient funds: source mint mismatch';
    END IF;
    IF src.amount < NEW.total_deposit THEN
        RAISE EXCEPTION 'escrow: insufficient funds';
    END IF;

    INSERT INTO escrow_streams (address, bump, vault, vault_bump, sender, recipient, mint,
        start_time, rate_per_second, total_deposit, active, record, created_at, updated_at)
    VALUES (NEW.stream, NEW.bump, NEW.vault, NEW.vault_bump, NEW.sender, NEW.recipient, NEW.mint,
        NEW.start_time, NEW.rate_per_second, NEW.total_deposit, TRUE, NEW.record, NEW.created_at, NEW.created_at);

    INSERT INTO escrow_accounts (address, owner, mint, amount, custodial, created_at, updated_at)
    VALUES (NEW.vault, NEW.stream, NEW.mint, NEW.total_deposit, TRUE, NEW.created_at, NEW.created_at);

    UPDATE escrow_accounts
    SET amount = amount - NEW.total_deposit, updated_at = NEW.created_at
    WHERE address = NEW.source_account;

    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS escrow_apply_opening ON escrow_openings;
CREATE TRIGGER escrow_apply_opening
    BEFORE INSERT ON escrow_openings
    FOR EACH ROW EXECUTE FUNCTION escrow_apply_opening();
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS escrow_openings;
DROP FUNCTION IF EXISTS escrow_apply_opening();
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
    start_time        BIGINT NOT NULL,
    closed_at         BIGINT NOT NULL,
    rate_per_second   BIGINT NOT NULL,
    total_deposit     BIGINT NOT NULL CHECK (total_deposit >= 0),
    elapsed           BIGINT NOT NULL,
    earned            BIGINT NOT NULL,
    payout            BIGINT NOT NULL CHECK (payout >= 0),
    refund            BIGINT NOT NULL CHECK (refund >= 0),
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_escrow_settlements_stream ON escrow_settlements (stream, created_at);
CREATE INDEX IF NOT EXISTS idx_escrow_settlements_sender ON escrow_settlements (sender, created_at);
CREATE INDEX IF NOT EXISTS idx_escrow_settlements_recipient ON escrow_settlements (recipient, created_at);

CREATE OR REPLACE FUNCTION escrow_apply_settlement() RETURNS trigger AS $$
DECLARE
    st escrow_streams%ROWTYPE;
    v  escrow_accounts%ROWTYPE;
BEGIN
    SELECT * INTO st FROM escrow_streams WHERE address = NEW.stream FOR UPDATE;
    IF NOT FOUND THEN
        RAISE EXCEPTION 'escrow: stream not found';
    END IF;
    IF st.vault <> NEW.vault OR st.sender <> NEW.sender
        OR st.recipient <> NEW.recipient OR st.mint <> NEW.mint THEN
        RAISE EXCEPTION 'escrow: account mismatch: stream record';
    END IF;
    IF st.start_time <> NEW.start_time OR st.rate_per_second <> NEW.rate_per_second
        OR st.total_deposit <> NEW.total_deposit THEN
        RAISE EXCEPTION 'escrow: account mismatch: stream terms changed';
    END IF;
    IF NEW.payout > st.total_deposit OR NEW.refund <> st.total_deposit - NEW.payout THEN
        RAISE EXCEPTION 'escrow: account mismatch: split does not cover deposit';
    END IF;

    PERFORM 1 FROM escrow_accounts
    WHERE address = NEW.sender_account AND owner = NEW.sender AND mint = NEW.mint
    FOR UPDATE;
    IF NOT FOUND THEN
        RAISE EXCEPTION 'escrow: account mismatch: sender destination';
    END IF;
    PERFORM 1 FROM escrow_accounts
    WHERE address = NEW.recipient_account AND owner = NEW.recipient AND mint = NEW.mint
    FOR UPDATE;
    IF NOT FOUND THEN
        RAISE EXCEPTION 'escrow: account mismatch: recipient destination';
    END IF;

    SELECT * INTO v FROM escrow_accounts WHERE address = NEW.vault FOR UPDATE;
    IF NOT FOUND OR v.owner <> NEW.stream OR v.amount <> st.total_deposit THEN
        RAISE EXCEPTION 'escrow: account mismatch: vault';
    END IF;

    UPDATE escrow_accounts
    SET amount = amount + NEW.payout, updated_at = NEW.created_at
    WHERE address = NEW.recipient_account;
    UPDATE escrow_accounts
    SET amount = amount + NEW.refund, updated_at = NEW.created_at
    WHERE address = NEW.sender_account;

    DELETE FROM escrow_accounts WHERE address = NEW.vault;
    DELETE FROM escrow_streams WHERE address = NEW.stream;

    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS escrow_apply_settlement ON escrow_settlements;
CREATE TRIGGER escrow_apply_settlement
    BEFORE INSERT ON escrow_settlements
    FOR EACH ROW EXECUTE FUNCTION escrow_apply_settlement();
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS escrow_settlements;
DROP FUNCTION IF EXISTS escrow_apply_settlement();
`)
				return err
			},
		},
	)
}
