// Package token models the asset accounts escrow moves funds between and
// the transfer primitive that moves them.
package token

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/types"
)

// Account is a balance of one mint held for one owner.
//
// The owner is the release authority: only a caller presenting the owner
// (or, for program-owned accounts, a signer that derives it) may debit the
// account. Custodial accounts are program vaults; they accept no external
// deposits.
type Account struct {
	types.Entity
	Address   solana.PublicKey `json:"address"`
	Owner     solana.PublicKey `json:"owner"`
	Mint      solana.PublicKey `json:"mint"`
	Amount    uint64           `json:"amount"`
	Custodial bool             `json:"custodial"`
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// AssociatedAddress returns the default account address of owner for mint.
func AssociatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("token: associated address: %w", err)
	}
	return addr, nil
}

// Ledger is the unit of work token operations read and write through.
// Implementations stage writes so that a failed operation leaves no trace.
type Ledger interface {
	Account(ctx context.Context, addr solana.PublicKey) (*Account, error)
	SetAccount(ctx context.Context, a *Account) error
	RemoveAccount(ctx context.Context, addr solana.PublicKey) error
}
