package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/pda"
	"github.com/xraph/escrow/types"
)

// Token errors. Messages share the escrow prefix so that stores which can
// only surface text (SQL triggers) map back onto the same values.
var (
	ErrAccountNotFound   = errors.New("escrow: account not found")
	ErrAccountExists     = errors.New("escrow: account already exists")
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	ErrOwnerMismatch     = errors.New("escrow: owner does not match authority")
	ErrMintMismatch      = errors.New("escrow: mint mismatch")
	ErrCustodial         = errors.New("escrow: custodial account")
	ErrNonZeroBalance    = errors.New("escrow: account balance is not zero")
)

// InitializeAccount creates a new account. The address must be unused.
func InitializeAccount(ctx context.Context, l Ledger, a *Account) error {
	_, err := l.Account(ctx, a.Address)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAccountExists, a.Address)
	case !errors.Is(err, ErrAccountNotFound):
		return err
	}
	if a.CreatedAt.IsZero() {
		a.Entity = types.NewEntity()
	}
	return l.SetAccount(ctx, a)
}

// MintTo credits amount to a non-custodial account.
func MintTo(ctx context.Context, l Ledger, addr solana.PublicKey, amount uint64) error {
	acct, err := l.Account(ctx, addr)
	if err != nil {
		return err
	}
	if acct.Custodial {
		return fmt.Errorf("%w: %s rejects deposits", ErrCustodial, addr)
	}
	sum, err := types.Amount(acct.Amount).Add(types.Amount(amount))
	if err != nil {
		return err
	}
	acct.Amount = uint64(sum)
	acct.Touch()
	return l.SetAccount(ctx, acct)
}

// Transfer moves amount from one account to another on the authority of
// the source account's owner.
func Transfer(ctx context.Context, l Ledger, from, to, authority solana.PublicKey, amount uint64) error {
	return transfer(ctx, l, from, to, amount, func(owner solana.PublicKey) error {
		if !owner.Equals(authority) {
			return ErrOwnerMismatch
		}
		return nil
	})
}

// TransferSigned moves amount out of a program-owned account. The signer
// must derive the source account's owner.
func TransferSigned(ctx context.Context, l Ledger, from, to solana.PublicKey, signer pda.Signer, amount uint64) error {
	return transfer(ctx, l, from, to, amount, func(owner solana.PublicKey) error {
		if err := signer.Authorizes(owner); err != nil {
			return fmt.Errorf("%w: %w", ErrOwnerMismatch, err)
		}
		return nil
	})
}

// CloseAccount removes an empty program-owned account. Any residual value
// of the account itself goes to destination, which must exist.
func CloseAccount(ctx context.Context, l Ledger, account, destination solana.PublicKey, signer pda.Signer) error {
	acct, err := l.Account(ctx, account)
	if err != nil {
		return err
	}
	if err := signer.Authorizes(acct.Owner); err != nil {
		return fmt.Errorf("%w: %w", ErrOwnerMismatch, err)
	}
	if acct.Amount != 0 {
		return fmt.Errorf("%w: %s holds %d", ErrNonZeroBalance, account, acct.Amount)
	}
	if _, err := l.Account(ctx, destination); err != nil {
		return err
	}
	return l.RemoveAccount(ctx, account)
}

func transfer(ctx context.Context, l Ledger, from, to solana.PublicKey, amount uint64, authorize func(solana.PublicKey) error) error {
	src, err := l.Account(ctx, from)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := authorize(src.Owner); err != nil {
		return err
	}
	dst, err := l.Account(ctx, to)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if !src.Mint.Equals(dst.Mint) {
		return fmt.Errorf("%w: %s -> %s", ErrMintMismatch, src.Mint, dst.Mint)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientFunds, from, src.Amount, amount)
	}
	if from.Equals(to) {
		return nil
	}

	sum, err := types.Amount(dst.Amount).Add(types.Amount(amount))
	if err != nil {
		return err
	}
	src.Amount -= amount
	dst.Amount = uint64(sum)
	src.Touch()
	dst.Touch()

	if err := l.SetAccount(ctx, src); err != nil {
		return err
	}
	return l.SetAccount(ctx, dst)
}
