package memory

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

var _ store.Tx = (*tx)(nil)

// tx is a write overlay on Store. A nil map value marks a removal.
// Callers hold the store's write lock for the lifetime of a tx.
type tx struct {
	base *Store

	accounts    map[solana.PublicKey]*token.Account
	streams     map[solana.PublicKey]*stream.Stream
	settlements []*settlement.Settlement
}

func (t *tx) Account(_ context.Context, addr solana.PublicKey) (*token.Account, error) {
	a, staged := t.accounts[addr]
	if !staged {
		a = t.base.accounts[addr]
	}
	if a == nil {
		return nil, escrow.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (t *tx) SetAccount(_ context.Context, a *token.Account) error {
	t.accounts[a.Address] = a.Clone()
	return nil
}

func (t *tx) RemoveAccount(_ context.Context, addr solana.PublicKey) error {
	t.accounts[addr] = nil
	return nil
}

func (t *tx) Stream(_ context.Context, addr solana.PublicKey) (*stream.Stream, error) {
	st, staged := t.streams[addr]
	if !staged {
		st = t.base.streams[addr]
	}
	if st == nil {
		return nil, escrow.ErrStreamNotFound
	}
	return cloneStream(st), nil
}

func (t *tx) PutStream(_ context.Context, st *stream.Stream) error {
	t.streams[st.Address] = cloneStream(st)
	return nil
}

func (t *tx) DeleteStream(_ context.Context, addr solana.PublicKey) error {
	t.streams[addr] = nil
	return nil
}

func (t *tx) PutSettlement(_ context.Context, stl *settlement.Settlement) error {
	c := *stl
	t.settlements = append(t.settlements, &c)
	return nil
}

func (t *tx) commit() {
	for addr, a := range t.accounts {
		if a == nil {
			delete(t.base.accounts, addr)
			continue
		}
		t.base.accounts[addr] = a
	}
	for addr, st := range t.streams {
		if st == nil {
			delete(t.base.streams, addr)
			continue
		}
		t.base.streams[addr] = st
	}
	t.base.settlements = append(t.base.settlements, t.settlements...)
}
