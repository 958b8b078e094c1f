package store

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// Store is the unified storage interface for all escrow records.
//
// OpenStream and SettleStream are each one atomic unit: either every effect
// (record, vault, transfers, receipt) is visible afterwards or none is.
type Store interface {
	// Account methods
	CreateAccount(ctx context.Context, a *token.Account) error
	GetAccount(ctx context.Context, addr solana.PublicKey) (*token.Account, error)
	MintTo(ctx context.Context, addr solana.PublicKey, amount uint64) error

	// Stream methods
	OpenStream(ctx context.Context, op *stream.Opening) error
	GetStream(ctx context.Context, addr solana.PublicKey) (*stream.Stream, error)
	ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error)

	// Settlement methods
	SettleStream(ctx context.Context, s *settlement.Settlement) error
	GetSettlement(ctx context.Context, settlementID id.SettlementID) (*settlement.Settlement, error)
	ListSettlements(ctx context.Context, opts settlement.ListOpts) ([]*settlement.Settlement, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ stream.Store     = Store(nil)
	_ settlement.Store = Store(nil)
)
