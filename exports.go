package escrow

import (
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
	"github.com/xraph/escrow/types"
)

// Re-export common types for convenience so users don't have to import
// the model packages.

type (
	Stream     = stream.Stream
	Settlement = settlement.Settlement
	Breakdown  = settlement.Breakdown
	Account    = token.Account
	Amount     = types.Amount
	Terms      = stream.Terms
)

var (
	ParseAmount = types.ParseAmount
	PerMinute   = stream.PerMinute
	Compute     = settlement.Compute
)
