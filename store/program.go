package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// Tx is a staged unit of work over accounts, streams and settlements.
// Backends that cannot express an opening or settlement as a single
// statement run Open and Settle against a Tx and commit it only when they
// return nil.
type Tx interface {
	token.Ledger
	Stream(ctx context.Context, addr solana.PublicKey) (*stream.Stream, error)
	PutStream(ctx context.Context, s *stream.Stream) error
	DeleteStream(ctx context.Context, addr solana.PublicKey) error
	PutSettlement(ctx context.Context, s *settlement.Settlement) error
}

// Open creates the stream record and its vault and funds the vault from
// the opening's source account, which must be owned by the sender.
func Open(ctx context.Context, tx Tx, op *stream.Opening) error {
	s := op.Stream
	if _, err := tx.Stream(ctx, s.Address); err == nil {
		return fmt.Errorf("%w: %s", stream.ErrDuplicate, s.Address)
	} else if !errors.Is(err, stream.ErrNotFound) {
		return err
	}
	if err := tx.PutStream(ctx, s); err != nil {
		return err
	}

	vault := &token.Account{
		Entity:    s.Entity,
		Address:   s.Vault,
		Owner:     s.Address,
		Mint:      s.Mint,
		Custodial: true,
	}
	if err := token.InitializeAccount(ctx, tx, vault); err != nil {
		if errors.Is(err, token.ErrAccountExists) {
			return fmt.Errorf("%w: vault %s", stream.ErrDuplicate, s.Vault)
		}
		return err
	}

	if err := token.Transfer(ctx, tx, op.SourceAccount, s.Vault, s.Sender, s.TotalDeposit); err != nil {
		return fundingError(err)
	}
	return nil
}

// Settle pays out and refunds a stream's vault, closes the vault and
// removes the stream, recording the settlement. The settlement must agree
// with the stored stream and its destination accounts must belong to the
// stream's parties.
func Settle(ctx context.Context, tx Tx, stl *settlement.Settlement) error {
	s, err := tx.Stream(ctx, stl.Stream)
	if err != nil {
		return err
	}
	if err := Verify(s, stl); err != nil {
		return err
	}
	if err := verifyDestination(ctx, tx, stl.SenderAccount, s.Sender, s.Mint); err != nil {
		return err
	}
	if err := verifyDestination(ctx, tx, stl.RecipientAccount, s.Recipient, s.Mint); err != nil {
		return err
	}

	vault, err := tx.Account(ctx, s.Vault)
	if err != nil {
		return err
	}
	if vault.Amount != s.TotalDeposit {
		return fmt.Errorf("%w: vault holds %d, deposit is %d", settlement.ErrAccountMismatch, vault.Amount, s.TotalDeposit)
	}

	if stl.Payout > 0 {
		if err := token.TransferSigned(ctx, tx, s.Vault, stl.RecipientAccount, stl.Authority, stl.Payout); err != nil {
			return fmt.Errorf("payout: %w", err)
		}
	}
	if stl.Refund > 0 {
		if err := token.TransferSigned(ctx, tx, s.Vault, stl.SenderAccount, stl.Authority, stl.Refund); err != nil {
			return fmt.Errorf("refund: %w", err)
		}
	}
	if err := token.CloseAccount(ctx, tx, s.Vault, stl.SenderAccount, stl.Authority); err != nil {
		return fmt.Errorf("close vault: %w", err)
	}
	if err := tx.DeleteStream(ctx, s.Address); err != nil {
		return err
	}
	return tx.PutSettlement(ctx, stl)
}

// Verify checks that a settlement was computed against the stored stream s.
func Verify(s *stream.Stream, stl *settlement.Settlement) error {
	switch {
	case !s.Vault.Equals(stl.Vault):
		return fmt.Errorf("%w: vault", settlement.ErrAccountMismatch)
	case !s.Sender.Equals(stl.Sender):
		return fmt.Errorf("%w: sender", settlement.ErrAccountMismatch)
	case !s.Recipient.Equals(stl.Recipient):
		return fmt.Errorf("%w: recipient", settlement.ErrAccountMismatch)
	case !s.Mint.Equals(stl.Mint):
		return fmt.Errorf("%w: mint", settlement.ErrAccountMismatch)
	case s.StartTime != stl.StartTime || s.RatePerSecond != stl.RatePerSecond || s.TotalDeposit != stl.TotalDeposit:
		return fmt.Errorf("%w: stream terms changed", settlement.ErrAccountMismatch)
	case stl.Payout > s.TotalDeposit || stl.Refund != s.TotalDeposit-stl.Payout:
		return fmt.Errorf("%w: split does not cover deposit", settlement.ErrAccountMismatch)
	}
	return nil
}

func verifyDestination(ctx context.Context, tx Tx, addr, owner, mint solana.PublicKey) error {
	acct, err := tx.Account(ctx, addr)
	if err != nil {
		if errors.Is(err, token.ErrAccountNotFound) {
			return fmt.Errorf("%w: destination %s does not exist", settlement.ErrAccountMismatch, addr)
		}
		return err
	}
	if !acct.Owner.Equals(owner) || !acct.Mint.Equals(mint) {
		return fmt.Errorf("%w: destination %s", settlement.ErrAccountMismatch, addr)
	}
	return nil
}

// fundingError folds every reason the deposit could not be moved into
// token.ErrInsufficientFunds while keeping the cause inspectable.
func fundingError(err error) error {
	if errors.Is(err, token.ErrInsufficientFunds) {
		return err
	}
	return fmt.Errorf("%w: %w", token.ErrInsufficientFunds, err)
}
