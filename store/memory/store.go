// Package memory is an in-process store. Every mutating operation runs
// against a staged overlay under the write lock and is committed only when
// it succeeds.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	accounts    map[solana.PublicKey]*token.Account
	streams     map[solana.PublicKey]*stream.Stream
	settlements []*settlement.Settlement
}

func New() *Store {
	return &Store{
		accounts: make(map[solana.PublicKey]*token.Account),
		streams:  make(map[solana.PublicKey]*stream.Stream),
	}
}

// ──────────────────────────────────────────────────
// Account Store
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(ctx context.Context, a *token.Account) error {
	return s.update(func(t *tx) error {
		err := token.InitializeAccount(ctx, t, a)
		if errors.Is(err, token.ErrAccountExists) {
			return fmt.Errorf("%w: %w", escrow.ErrAlreadyExists, err)
		}
		return err
	})
}

func (s *Store) GetAccount(_ context.Context, addr solana.PublicKey) (*token.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[addr]; ok {
		return a.Clone(), nil
	}
	return nil, escrow.ErrAccountNotFound
}

func (s *Store) MintTo(ctx context.Context, addr solana.PublicKey, amount uint64) error {
	return s.update(func(t *tx) error {
		return token.MintTo(ctx, t, addr, amount)
	})
}

// ──────────────────────────────────────────────────
// Stream Store
// ──────────────────────────────────────────────────

func (s *Store) OpenStream(ctx context.Context, op *stream.Opening) error {
	return s.update(func(t *tx) error {
		return store.Open(ctx, t, op)
	})
}

func (s *Store) GetStream(_ context.Context, addr solana.PublicKey) (*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.streams[addr]; ok {
		return cloneStream(st), nil
	}
	return nil, escrow.ErrStreamNotFound
}

func (s *Store) ListStreams(_ context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*stream.Stream, 0)
	for _, st := range s.streams {
		if opts.Matches(st) {
			result = append(result, cloneStream(st))
		}
	}
	slices.SortFunc(result, func(a, b *stream.Stream) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.Address[:], b.Address[:])
	})

	return page(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Settlement Store
// ──────────────────────────────────────────────────

func (s *Store) SettleStream(ctx context.Context, stl *settlement.Settlement) error {
	return s.update(func(t *tx) error {
		return store.Settle(ctx, t, stl)
	})
}

func (s *Store) GetSettlement(_ context.Context, settlementID id.SettlementID) (*settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stl := range s.settlements {
		if stl.ID.String() == settlementID.String() {
			c := *stl
			return &c, nil
		}
	}
	return nil, escrow.ErrSettlementNotFound
}

func (s *Store) ListSettlements(_ context.Context, opts settlement.ListOpts) ([]*settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*settlement.Settlement, 0)
	for _, stl := range s.settlements {
		if opts.Matches(stl) {
			c := *stl
			result = append(result, &c)
		}
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return escrow.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// update runs fn against a fresh overlay and commits it if fn succeeds.
func (s *Store) update(fn func(*tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return escrow.ErrStoreClosed
	}

	t := &tx{
		base:     s,
		accounts: make(map[solana.PublicKey]*token.Account),
		streams:  make(map[solana.PublicKey]*stream.Stream),
	}
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}

func cloneStream(st *stream.Stream) *stream.Stream {
	c := *st
	return &c
}
