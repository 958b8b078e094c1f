package stream

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

type Store interface {
	OpenStream(ctx context.Context, op *Opening) error
	GetStream(ctx context.Context, addr solana.PublicKey) (*Stream, error)
	ListStreams(ctx context.Context, opts ListOpts) ([]*Stream, error)
}
