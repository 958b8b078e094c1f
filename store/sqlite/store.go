// Package sqlite implements store.Store on SQLite via Grove ORM.
//
// As in the postgres store, an opening or settlement is one INSERT whose
// trigger aborts the whole statement on the first failed check.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the migrate executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/settlement"
	escrowstore "github.com/xraph/escrow/store"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// compile-time interface check
var _ escrowstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables, indexes and triggers using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("escrow/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("escrow/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *token.Account) error {
	m, err := toAccountModel(a)
	if err != nil {
		return err
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", escrow.ErrAlreadyExists, token.ErrAccountExists)
		}
		return fmt.Errorf("escrow/sqlite: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, addr solana.PublicKey) (*token.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("address = ?", addr.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) MintTo(ctx context.Context, addr solana.PublicKey, amount uint64) error {
	delta, err := toBalance(amount)
	if err != nil {
		return err
	}
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("amount = amount + ?", delta).
		Set("updated_at = ?", now()).
		Where("address = ?", addr.String()).
		Where("custodial = 0").
		Exec(ctx)
	if err != nil {
		return translate(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetAccount(ctx, addr); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s rejects deposits", token.ErrCustodial, addr)
	}
	return nil
}

// ==================== Stream Store ====================

func (s *Store) OpenStream(ctx context.Context, op *stream.Opening) error {
	m, err := toOpeningModel(op)
	if err != nil {
		return err
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) GetStream(ctx context.Context, addr solana.PublicKey) (*stream.Stream, error) {
	m := new(streamModel)
	err := s.sdb.NewSelect(m).
		Where("address = ?", addr.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrStreamNotFound
		}
		return nil, err
	}
	return fromStreamModel(m)
}

func (s *Store) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	var models []streamModel
	q := s.sdb.NewSelect(&models)

	if !opts.Sender.IsZero() {
		q = q.Where("sender = ?", opts.Sender.String())
	}
	if !opts.Recipient.IsZero() {
		q = q.Where("recipient = ?", opts.Recipient.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, address ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*stream.Stream, len(models))
	for i := range models {
		st, err := fromStreamModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = st
	}
	return result, nil
}

// ==================== Settlement Store ====================

func (s *Store) SettleStream(ctx context.Context, stl *settlement.Settlement) error {
	m, err := toSettlementModel(stl)
	if err != nil {
		return err
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, settlementID id.SettlementID) (*settlement.Settlement, error) {
	m := new(settlementModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", settlementID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrSettlementNotFound
		}
		return nil, err
	}
	return fromSettlementModel(m)
}

func (s *Store) ListSettlements(ctx context.Context, opts settlement.ListOpts) ([]*settlement.Settlement, error) {
	var models []settlementModel
	q := s.sdb.NewSelect(&models)

	if !opts.Stream.IsZero() {
		q = q.Where("stream = ?", opts.Stream.String())
	}
	if !opts.Sender.IsZero() {
		q = q.Where("sender = ?", opts.Sender.String())
	}
	if !opts.Recipient.IsZero() {
		q = q.Where("recipient = ?", opts.Recipient.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*settlement.Settlement, len(models))
	for i := range models {
		stl, err := fromSettlementModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = stl
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translate maps trigger exceptions and constraint violations onto escrow
// errors, keeping the database message for context.
func translate(err error) error {
	msg := err.Error()
	var sentinel error
	switch {
	case strings.Contains(msg, "escrow: stream already exists"),
		isUniqueViolation(err) && strings.Contains(msg, "escrow_streams"):
		sentinel = escrow.ErrDuplicateStream
	case strings.Contains(msg, "escrow: stream not found"):
		sentinel = escrow.ErrStreamNotFound
	case strings.Contains(msg, "escrow: insufficient funds"):
		sentinel = escrow.ErrInsufficientFunds
	case strings.Contains(msg, "escrow: account mismatch"):
		sentinel = escrow.ErrAccountMismatch
	case strings.Contains(msg, "CHECK constraint failed"):
		sentinel = escrow.ErrAmountOutOfRange
	default:
		return fmt.Errorf("escrow/sqlite: %w", err)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
