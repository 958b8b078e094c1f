package escrow

import "github.com/xraph/escrow/id"

// ID is the identifier type for escrow records.
type ID = id.ID

// SettlementID identifies a settlement receipt.
type SettlementID = id.SettlementID
