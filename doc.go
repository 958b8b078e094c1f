// Package escrow provides time-metered payment escrow for Go applications.
//
// A payer opens a stream to a payee by depositing an upper bound: the most
// the session could ever cost. The deposit sits in a vault that only the
// stream can release. Value accrues to the payee at a fixed rate per second
// and, when the stream is closed, the accrued amount (capped at the
// deposit) is paid out and the remainder refunded. Both the open and the
// close are single atomic units; a close that fails moves nothing.
//
// # Quick Start
//
//	s := memory.New()
//	e := escrow.New(s, escrow.WithLogger(logger))
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
//	// 100 units per second, at most 10 000 units.
//	st, err := e.CreateStream(ctx, escrow.CreateStreamInput{
//	    Sender:        caller,
//	    Recipient:     expert,
//	    Mint:          usdc,
//	    RatePerSecond: 100,
//	    MaxAmount:     10_000,
//	})
//
//	// Later: pay the expert for the seconds used, refund the rest.
//	stl, err := e.CloseStreamBetween(ctx, caller, expert)
//
// # Addresses
//
// A stream lives at an address derived from ("stream", sender, recipient)
// and its vault at ("vault", stream). There can be at most one open stream
// per ordered pair; opening a second one fails with ErrDuplicateStream.
// The vault is owned by the stream address, and only the stream's derived
// signer can move funds out of it.
//
// # Settlement
//
// With elapsed = max(0, now-start):
//
//	earned = elapsed * rate      (ErrMathOverflow past 64 bits)
//	payout = min(earned, deposit)
//	refund = deposit - payout
//
// Every close writes a Settlement receipt in the same unit that removes the
// stream, so ListSettlements is the payment history of a pair.
//
// # Stores
//
// The memory, postgres, sqlite and mongo stores all implement store.Store.
// SQL stores perform each opening and settlement as one INSERT whose
// triggers apply every effect; the mongo store uses a session transaction.
package escrow
