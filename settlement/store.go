package settlement

import (
	"context"

	"github.com/xraph/escrow/id"
)

type Store interface {
	SettleStream(ctx context.Context, s *Settlement) error
	GetSettlement(ctx context.Context, settlementID id.SettlementID) (*Settlement, error)
	ListSettlements(ctx context.Context, opts ListOpts) ([]*Settlement, error)
}
