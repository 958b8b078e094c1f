// Package mongo implements store.Store on MongoDB via Grove ORM.
//
// Reads go through grove. Openings, settlements and deposits run inside a
// client session transaction so that every account, stream and receipt
// write of one operation commits together.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/settlement"
	escrowstore "github.com/xraph/escrow/store"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// Collection name constants.
const (
	colAccounts    = "escrow_accounts"
	colStreams     = "escrow_streams"
	colOpenings    = "escrow_openings"
	colSettlements = "escrow_settlements"
)

// compile-time interface check
var _ escrowstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM. Transactions need
// a replica set or sharded cluster.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all escrow collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("escrow/mongo: migrate %s indexes: %w", col, err)
		}
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %w", escrow.ErrAlreadyExists, token.ErrAccountExists)
		}
		return fmt.Errorf("escrow/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, addr solana.PublicKey) (*token.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": addr.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrAccountNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) MintTo(ctx context.Context, addr solana.PublicKey, amount uint64) error {
	return s.transact(ctx, "mint", func(ctx context.Context, t *tx) error {
		return token.MintTo(ctx, t, addr, amount)
	})
}

// ==================== Stream Store ====================

func (s *Store) OpenStream(ctx context.Context, op *stream.Opening) error {
	journal, err := toOpeningModel(op)
	if err != nil {
		return err
	}
	return s.transact(ctx, "open stream", func(ctx context.Context, t *tx) error {
		if err := escrowstore.Open(ctx, t, op); err != nil {
			return err
		}
		if _, err := t.collection(colOpenings).InsertOne(ctx, journal); err != nil {
			return insertError(colOpenings, err)
		}
		return nil
	})
}

func (s *Store) GetStream(ctx context.Context, addr solana.PublicKey) (*stream.Stream, error) {
	var m streamModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": addr.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrStreamNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: get stream: %w", err)
	}
	return fromStreamModel(&m)
}

func (s *Store) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	var models []streamModel

	filter := bson.M{}
	if !opts.Sender.IsZero() {
		filter["sender"] = opts.Sender.String()
	}
	if !opts.Recipient.IsZero() {
		filter["recipient"] = opts.Recipient.String()
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("escrow/mongo: list streams: %w", err)
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
	if _, err := toSettlementModel(stl); err != nil {
		return err
	}
	return s.transact(ctx, "settle stream", func(ctx context.Context, t *tx) error {
		return escrowstore.Settle(ctx, t, stl)
	})
}

func (s *Store) GetSettlement(ctx context.Context, settlementID id.SettlementID) (*settlement.Settlement, error) {
	var m settlementModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": settlementID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrSettlementNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: get settlement: %w", err)
	}
	return fromSettlementModel(&m)
}

func (s *Store) ListSettlements(ctx context.Context, opts settlement.ListOpts) ([]*settlement.Settlement, error) {
	var models []settlementModel

	filter := bson.M{}
	if !opts.Stream.IsZero() {
		filter["stream"] = opts.Stream.String()
	}
	if !opts.Sender.IsZero() {
		filter["sender"] = opts.Sender.String()
	}
	if !opts.Recipient.IsZero() {
		filter["recipient"] = opts.Recipient.String()
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("escrow/mongo: list settlements: %w", err)
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

// ==================== Transactions ====================

// transact runs fn inside a session transaction. The driver retries
// transient conflicts; anything else aborts the transaction and is
// returned as is, so domain sentinels survive.
func (s *Store) transact(ctx context.Context, op string, fn func(context.Context, *tx) error) error {
	client := s.mdb.Collection(colAccounts).Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("escrow/mongo: %s: start session: %w", op, err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, &tx{store: s})
	})
	switch {
	case err == nil:
		return nil
	case mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %s: %w", escrow.ErrTransactionFailed, op, err)
	default:
		return err
	}
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all escrow collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "mint", Value: 1}}},
		},
		colStreams: {
			{
				Keys:    bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "vault", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colOpenings: {
			{Keys: bson.D{{Key: "stream", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colSettlements: {
			{Keys: bson.D{{Key: "stream", Value: 1}}},
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
