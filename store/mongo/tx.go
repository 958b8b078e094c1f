package mongo

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/settlement"
	escrowstore "github.com/xraph/escrow/store"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

var _ escrowstore.Tx = (*tx)(nil)

// tx reads and writes through the collections with the session context
// handed to it by WithTransaction.
type tx struct {
	store *Store
}

func (t *tx) collection(name string) *mongo.Collection {
	return t.store.mdb.Collection(name)
}

func (t *tx) Account(ctx context.Context, addr solana.PublicKey) (*token.Account, error) {
	var m accountModel
	err := t.collection(colAccounts).FindOne(ctx, bson.M{"_id": addr.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrAccountNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: load account: %w", err)
	}
	return fromAccountModel(&m)
}

func (t *tx) SetAccount(ctx context.Context, a *token.Account) error {
	m, err := toAccountModel(a)
	if err != nil {
		return err
	}
	_, err = t.collection(colAccounts).ReplaceOne(ctx,
		bson.M{"_id": m.Address}, m,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("escrow/mongo: save account: %w", err)
	}
	return nil
}

func (t *tx) RemoveAccount(ctx context.Context, addr solana.PublicKey) error {
	if _, err := t.collection(colAccounts).DeleteOne(ctx, bson.M{"_id": addr.String()}); err != nil {
		return fmt.Errorf("escrow/mongo: remove account: %w", err)
	}
	return nil
}

func (t *tx) Stream(ctx context.Context, addr solana.PublicKey) (*stream.Stream, error) {
	var m streamModel
	err := t.collection(colStreams).FindOne(ctx, bson.M{"_id": addr.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, escrow.ErrStreamNotFound
		}
		return nil, fmt.Errorf("escrow/mongo: load stream: %w", err)
	}
	return fromStreamModel(&m)
}

// PutStream inserts; streams are never rewritten in place.
func (t *tx) PutStream(ctx context.Context, s *stream.Stream) error {
	m, err := toStreamModel(s)
	if err != nil {
		return err
	}
	if _, err := t.collection(colStreams).InsertOne(ctx, m); err != nil {
		return insertError(colStreams, err)
	}
	return nil
}

func (t *tx) DeleteStream(ctx context.Context, addr solana.PublicKey) error {
	res, err := t.collection(colStreams).DeleteOne(ctx, bson.M{"_id": addr.String()})
	if err != nil {
		return fmt.Errorf("escrow/mongo: delete stream: %w", err)
	}
	if res.DeletedCount == 0 {
		return escrow.ErrStreamNotFound
	}
	return nil
}

func (t *tx) PutSettlement(ctx context.Context, stl *settlement.Settlement) error {
	m, err := toSettlementModel(stl)
	if err != nil {
		return err
	}
	if _, err := t.collection(colSettlements).InsertOne(ctx, m); err != nil {
		return insertError(colSettlements, err)
	}
	return nil
}

// insertError reports a failed insert into coll. A duplicate key means a
// duplicate stream only when it comes from the streams collection.
func insertError(coll string, err error) error {
	if coll == colStreams && mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", escrow.ErrDuplicateStream, err)
	}
	return fmt.Errorf("escrow/mongo: insert %s: %w", coll, err)
}
