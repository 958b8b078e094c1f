// Package postgres implements store.Store on PostgreSQL via Grove ORM.
//
// Openings and settlements are journal rows. Inserting one fires a
// BEFORE INSERT trigger that checks every precondition and applies every
// balance and record change, so each operation is a single statement that
// either fully applies or raises.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the migrate executor
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables, indexes and triggers using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("escrow/postgres: migration failed: %w", err)
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
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", escrow.ErrAlreadyExists, token.ErrAccountExists)
		}
		return fmt.Errorf("escrow/postgres: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, addr solana.PublicKey) (*token.Account, error) {
	m := new(accountModel)
	err := s.pg.NewSelect(m).
		Where("address = $1", addr.String()).
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
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("amount = amount + $1", delta).
		Set("updated_at = $2", now()).
		Where("address = $3", addr.String()).
		Where("custodial = FALSE").
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
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) GetStream(ctx context.Context, addr solana.PublicKey) (*stream.Stream, error) {
	m := new(streamModel)
	err := s.pg.NewSelect(m).
		Where("address = $1", addr.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.Sender.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("sender = $%d", argIdx), opts.Sender.String())
	}
	if !opts.Recipient.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("recipient = $%d", argIdx), opts.Recipient.String())
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
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, settlementID id.SettlementID) (*settlement.Settlement, error) {
	m := new(settlementModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", settlementID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.Stream.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("stream = $%d", argIdx), opts.Stream.String())
	}
	if !opts.Sender.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("sender = $%d", argIdx), opts.Sender.String())
	}
	if !opts.Recipient.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("recipient = $%d", argIdx), opts.Recipient.String())
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
	return strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "SQLSTATE 23505")
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
	case strings.Contains(msg, "out of range"), strings.Contains(msg, "check constraint"):
		sentinel = escrow.ErrAmountOutOfRange
	default:
		return fmt.Errorf("escrow/postgres: %w", err)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
