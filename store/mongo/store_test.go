package mongo

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
	"github.com/xraph/escrow/types"
)

func TestAccountModelRoundTrip(t *testing.T) {
	a := &token.Account{
		Entity:    types.NewEntity(),
		Address:   solana.NewWallet().PublicKey(),
		Owner:     solana.NewWallet().PublicKey(),
		Mint:      solana.NewWallet().PublicKey(),
		Amount:    42,
		Custodial: true,
	}
	m, err := toAccountModel(a)
	if err != nil {
		t.Fatal(err)
	}
	if m.Address != a.Address.String() {
		t.Fatalf("_id = %s, want %s", m.Address, a.Address)
	}
	got, err := fromAccountModel(m)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Address.Equals(a.Address) || !got.Owner.Equals(a.Owner) || got.Amount != 42 || !got.Custodial {
		t.Fatalf("round trip = %+v, want %+v", got, a)
	}
}

func TestAccountModelRejects(t *testing.T) {
	if _, err := toAccountModel(&token.Account{Amount: math.MaxInt64 + 1}); !errors.Is(err, escrow.ErrAmountOutOfRange) {
		t.Fatalf("wide balance: err = %v, want ErrAmountOutOfRange", err)
	}

	m := &accountModel{
		Address: solana.NewWallet().PublicKey().String(),
		Owner:   solana.NewWallet().PublicKey().String(),
		Mint:    solana.NewWallet().PublicKey().String(),
		Amount:  -1,
	}
	if _, err := fromAccountModel(m); err == nil {
		t.Fatal("negative balance decoded without error")
	}
}

func TestStreamModelRoundTrip(t *testing.T) {
	st := &stream.Stream{
		Entity:        types.NewEntity(),
		Address:       solana.NewWallet().PublicKey(),
		Bump:          254,
		Vault:         solana.NewWallet().PublicKey(),
		VaultBump:     253,
		Sender:        solana.NewWallet().PublicKey(),
		Recipient:     solana.NewWallet().PublicKey(),
		Mint:          solana.NewWallet().PublicKey(),
		StartTime:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Unix(),
		RatePerSecond: 20_000,
		TotalDeposit:  24_000_000,
		Active:        true,
	}
	m, err := toStreamModel(st)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Record) != stream.RecordSize {
		t.Fatalf("record size = %d, want %d", len(m.Record), stream.RecordSize)
	}
	got, err := fromStreamModel(m)
	if err != nil {
		t.Fatal(err)
	}
	if got.Bump != 254 || got.VaultBump != 253 || !got.Sender.Equals(st.Sender) ||
		got.StartTime != st.StartTime || got.TotalDeposit != st.TotalDeposit || !got.Active {
		t.Fatalf("round trip = %+v, want %+v", got, st)
	}

	m.Record = m.Record[:10]
	if _, err := fromStreamModel(m); !errors.Is(err, stream.ErrBadRecord) {
		t.Fatalf("short record: err = %v, want ErrBadRecord", err)
	}
}

func TestSettlementModelRoundTrip(t *testing.T) {
	stl := &settlement.Settlement{
		Entity:           types.NewEntity(),
		ID:               id.NewSettlementID(),
		Stream:           solana.NewWallet().PublicKey(),
		Vault:            solana.NewWallet().PublicKey(),
		Sender:           solana.NewWallet().PublicKey(),
		Recipient:        solana.NewWallet().PublicKey(),
		Mint:             solana.NewWallet().PublicKey(),
		SenderAccount:    solana.NewWallet().PublicKey(),
		RecipientAccount: solana.NewWallet().PublicKey(),
		StartTime:        1000,
		ClosedAt:         1300,
		RatePerSecond:    math.MaxUint64,
		TotalDeposit:     500,
		Breakdown:        settlement.Breakdown{Elapsed: 300, Earned: 300, Payout: 300, Refund: 200},
	}
	m, err := toSettlementModel(stl)
	if err != nil {
		t.Fatal(err)
	}
	got, err := fromSettlementModel(m)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != stl.ID.String() || got.RatePerSecond != math.MaxUint64 ||
		got.Breakdown != stl.Breakdown || !got.RecipientAccount.Equals(stl.RecipientAccount) {
		t.Fatalf("round trip = %+v, want %+v", got, stl)
	}
}

func TestMigrationIndexesEnforcePairUniqueness(t *testing.T) {
	models, ok := migrationIndexes()[colStreams]
	if !ok {
		t.Fatal("no stream indexes")
	}
	want := bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}}
	for _, m := range models {
		keys, ok := m.Keys.(bson.D)
		if !ok || len(keys) != len(want) {
			continue
		}
		if keys[0] == want[0] && keys[1] == want[1] {
			if m.Options == nil {
				t.Fatal("sender/recipient index is not unique")
			}
			return
		}
	}
	t.Fatal("no sender/recipient index")
}

func TestInsertErrorDuplicateKey(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}

	tests := []struct {
		coll          string
		err           error
		wantDuplicate bool
	}{
		{colStreams, dup, true},
		{colOpenings, dup, false},
		{colSettlements, dup, false},
		{colStreams, errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.coll, func(t *testing.T) {
			err := insertError(tt.coll, tt.err)
			if got := errors.Is(err, escrow.ErrDuplicateStream); got != tt.wantDuplicate {
				t.Fatalf("ErrDuplicateStream = %v, want %v (err %v)", got, tt.wantDuplicate, err)
			}
			if !errors.Is(err, tt.err) && !mongo.IsDuplicateKeyError(err) {
				t.Fatalf("cause lost: %v", err)
			}
		})
	}
}
