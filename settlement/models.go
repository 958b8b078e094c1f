// Package settlement computes how a closed stream's deposit is split and
// records the outcome.
package settlement

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/pda"
	"github.com/xraph/escrow/types"
)

var (
	ErrNotFound        = errors.New("escrow: settlement not found")
	ErrAccountMismatch = errors.New("escrow: account mismatch")
)

// Settlement is the receipt of a closed stream. It is written in the same
// unit that pays out, refunds, closes the vault and removes the stream.
type Settlement struct {
	types.Entity
	ID id.SettlementID `json:"id"`

	Stream           solana.PublicKey `json:"stream"`
	Vault            solana.PublicKey `json:"vault"`
	Sender           solana.PublicKey `json:"sender"`
	Recipient        solana.PublicKey `json:"recipient"`
	Mint             solana.PublicKey `json:"mint"`
	SenderAccount    solana.PublicKey `json:"sender_account"`
	RecipientAccount solana.PublicKey `json:"recipient_account"`

	StartTime     int64  `json:"start_time"`
	ClosedAt      int64  `json:"closed_at"`
	RatePerSecond uint64 `json:"rate_per_second"`
	TotalDeposit  uint64 `json:"total_deposit"`
	Breakdown

	// Authority is the stream's delegated signer over its vault.
	Authority pda.Signer `json:"-"`
}

// ListOpts filters settlement listings. Zero-valued keys match everything.
type ListOpts struct {
	Stream    solana.PublicKey
	Sender    solana.PublicKey
	Recipient solana.PublicKey
	Limit     int
	Offset    int
}

// Matches reports whether s passes the filters.
func (o ListOpts) Matches(s *Settlement) bool {
	if !o.Stream.IsZero() && !o.Stream.Equals(s.Stream) {
		return false
	}
	if !o.Sender.IsZero() && !o.Sender.Equals(s.Sender) {
		return false
	}
	if !o.Recipient.IsZero() && !o.Recipient.Equals(s.Recipient) {
		return false
	}
	return true
}
