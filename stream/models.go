// Package stream defines the escrow record that meters a payer's deposit
// out to a payee over time.
package stream

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

var (
	ErrNotFound  = errors.New("escrow: stream not found")
	ErrDuplicate = errors.New("escrow: stream already exists")
)

// Stream is the record behind one open escrow. It lives at the address
// derived from (Sender, Recipient) and owns the vault at Vault.
//
// StartTime, RatePerSecond and TotalDeposit are fixed at creation. The
// record is removed, not deactivated, when the stream is closed.
type Stream struct {
	types.Entity
	Address   solana.PublicKey `json:"address"`
	Bump      uint8            `json:"bump"`
	Vault     solana.PublicKey `json:"vault"`
	VaultBump uint8            `json:"vault_bump"`

	Sender        solana.PublicKey `json:"sender"`
	Recipient     solana.PublicKey `json:"recipient"`
	Mint          solana.PublicKey `json:"mint"`
	StartTime     int64            `json:"start_time"`
	RatePerSecond uint64           `json:"rate_per_second"`
	TotalDeposit  uint64           `json:"total_deposit"`
	Active        bool             `json:"active"`
}

// Opening is a request to create a stream and fund its vault from
// SourceAccount, performed as one unit by the store.
type Opening struct {
	ID            id.OpeningID     `json:"id"`
	Stream        *Stream          `json:"stream"`
	SourceAccount solana.PublicKey `json:"source_account"`
}

// ListOpts filters stream listings. Zero-valued keys match everything.
type ListOpts struct {
	Sender    solana.PublicKey
	Recipient solana.PublicKey
	Limit     int
	Offset    int
}

// Matches reports whether s passes the sender/recipient filters.
func (o ListOpts) Matches(s *Stream) bool {
	if !o.Sender.IsZero() && !o.Sender.Equals(s.Sender) {
		return false
	}
	if !o.Recipient.IsZero() && !o.Recipient.Equals(s.Recipient) {
		return false
	}
	return true
}
