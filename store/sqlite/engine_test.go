package sqlite_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/store/sqlite"
	"github.com/xraph/escrow/stream"
)

// harness runs the engine against a migrated SQLite file so every opening
// and settlement goes through the triggers.
type harness struct {
	t   *testing.T
	ctx context.Context
	e   *escrow.Escrow
	now int64

	sender, recipient, mint         solana.PublicKey
	senderAccount, recipientAccount solana.PublicKey
}

func newHarness(t *testing.T, funds uint64) *harness {
	t.Helper()
	ctx := context.Background()

	drv := sqlitedriver.New()
	if err := drv.Open(ctx, filepath.Join(t.TempDir(), "escrow.db")); err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		t.Fatalf("grove.Open: %v", err)
	}

	h := &harness{
		t:         t,
		ctx:       ctx,
		now:       1_000,
		sender:    solana.NewWallet().PublicKey(),
		recipient: solana.NewWallet().PublicKey(),
		mint:      solana.NewWallet().PublicKey(),
	}
	h.e = escrow.New(sqlite.New(db), escrow.WithClock(func() time.Time { return time.Unix(h.now, 0) }))
	if err := h.e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.e.Stop() })

	h.senderAccount = h.openAccount(h.sender, funds)
	h.recipientAccount = h.openAccount(h.recipient, 0)
	return h
}

func (h *harness) openAccount(owner solana.PublicKey, funds uint64) solana.PublicKey {
	h.t.Helper()
	acct, err := h.e.OpenAccount(h.ctx, owner, h.mint)
	if err != nil {
		h.t.Fatalf("OpenAccount: %v", err)
	}
	if funds > 0 {
		if err := h.e.Deposit(h.ctx, acct.Address, funds); err != nil {
			h.t.Fatalf("Deposit: %v", err)
		}
	}
	return acct.Address
}

func (h *harness) create(rate, maxAmount uint64) (*stream.Stream, error) {
	return h.e.CreateStream(h.ctx, escrow.CreateStreamInput{
		Sender:        h.sender,
		Recipient:     h.recipient,
		Mint:          h.mint,
		RatePerSecond: rate,
		MaxAmount:     maxAmount,
	})
}

func (h *harness) mustCreate(rate, maxAmount uint64) *stream.Stream {
	h.t.Helper()
	s, err := h.create(rate, maxAmount)
	if err != nil {
		h.t.Fatalf("CreateStream: %v", err)
	}
	return s
}

func (h *harness) closeInput(s *stream.Stream) escrow.CloseStreamInput {
	return escrow.CloseStreamInput{
		Stream:           s.Address,
		Vault:            s.Vault,
		Sender:           h.sender,
		Recipient:        h.recipient,
		SenderAccount:    h.senderAccount,
		RecipientAccount: h.recipientAccount,
	}
}

func (h *harness) balance(addr solana.PublicKey) uint64 {
	h.t.Helper()
	acct, err := h.e.GetAccount(h.ctx, addr)
	if err != nil {
		h.t.Fatalf("GetAccount(%s): %v", addr, err)
	}
	return acct.Amount
}

func TestEngineCreateAndClose(t *testing.T) {
	tests := []struct {
		name       string
		advance    int64
		wantPayout uint64
		wantRefund uint64
	}{
		{"half way", 50, 5_000, 5_000},
		{"past cap pays the cap", 200, 10_000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 12_000)
			s := h.mustCreate(100, 10_000)

			if got := h.balance(s.Vault); got != 10_000 {
				t.Fatalf("vault: expected 10000, got %d", got)
			}
			if got := h.balance(h.senderAccount); got != 2_000 {
				t.Fatalf("sender after create: expected 2000, got %d", got)
			}
			stored, err := h.e.GetStream(h.ctx, s.Address)
			if err != nil {
				t.Fatalf("GetStream: %v", err)
			}
			if stored.RatePerSecond != 100 || stored.TotalDeposit != 10_000 || stored.StartTime != 1_000 {
				t.Fatalf("unexpected stored stream: %+v", stored)
			}

			h.now += tt.advance
			stl, err := h.e.CloseStream(h.ctx, h.closeInput(s))
			if err != nil {
				t.Fatalf("CloseStream: %v", err)
			}
			if stl.Payout != tt.wantPayout || stl.Refund != tt.wantRefund {
				t.Errorf("expected %d/%d, got %d/%d", tt.wantPayout, tt.wantRefund, stl.Payout, stl.Refund)
			}
			if got := h.balance(h.recipientAccount); got != tt.wantPayout {
				t.Errorf("recipient: expected %d, got %d", tt.wantPayout, got)
			}
			if got := h.balance(h.senderAccount); got != 2_000+tt.wantRefund {
				t.Errorf("sender: expected %d, got %d", 2_000+tt.wantRefund, got)
			}
			if _, err := h.e.GetStream(h.ctx, s.Address); !errors.Is(err, escrow.ErrStreamNotFound) {
				t.Errorf("expected stream removed, got %v", err)
			}
			if _, err := h.e.GetAccount(h.ctx, s.Vault); !errors.Is(err, escrow.ErrAccountNotFound) {
				t.Errorf("expected vault closed, got %v", err)
			}

			receipts, err := h.e.ListSettlements(h.ctx, settlement.ListOpts{Stream: s.Address})
			if err != nil {
				t.Fatalf("ListSettlements: %v", err)
			}
			if len(receipts) != 1 || receipts[0].Payout != tt.wantPayout || receipts[0].ClosedAt != h.now {
				t.Errorf("unexpected receipts: %+v", receipts)
			}
		})
	}
}

func TestEngineCreateDuplicate(t *testing.T) {
	h := newHarness(t, 20_000)
	h.mustCreate(100, 10_000)

	if _, err := h.create(100, 10_000); !errors.Is(err, escrow.ErrDuplicateStream) {
		t.Fatalf("expected ErrDuplicateStream, got %v", err)
	}
	if got := h.balance(h.senderAccount); got != 10_000 {
		t.Errorf("duplicate create moved funds: sender holds %d", got)
	}
}

func TestEngineCloseTwice(t *testing.T) {
	h := newHarness(t, 10_000)
	s := h.mustCreate(100, 10_000)

	h.now += 30
	if _, err := h.e.CloseStream(h.ctx, h.closeInput(s)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.CloseStream(h.ctx, h.closeInput(s)); !errors.Is(err, escrow.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
	if got := h.balance(h.recipientAccount); got != 3_000 {
		t.Errorf("second close moved funds: recipient holds %d", got)
	}
}

func TestEngineCloseOverflowLeavesVault(t *testing.T) {
	h := newHarness(t, 10_000)
	s := h.mustCreate(math.MaxUint64, 10_000)

	h.now += 2
	if _, err := h.e.CloseStream(h.ctx, h.closeInput(s)); !errors.Is(err, escrow.ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
	if got := h.balance(s.Vault); got != 10_000 {
		t.Errorf("vault changed after failed close: %d", got)
	}
	if _, err := h.e.GetStream(h.ctx, s.Address); err != nil {
		t.Errorf("stream should survive a failed close: %v", err)
	}
}

func TestEngineCloseDestinationMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *harness, in *escrow.CloseStreamInput)
	}{
		{"recipient paid into sender account", func(h *harness, in *escrow.CloseStreamInput) { in.RecipientAccount = h.senderAccount }},
		{"refund into recipient account", func(h *harness, in *escrow.CloseStreamInput) { in.SenderAccount = h.recipientAccount }},
		{"destination does not exist", func(_ *harness, in *escrow.CloseStreamInput) { in.RecipientAccount = solana.NewWallet().PublicKey() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 10_000)
			s := h.mustCreate(100, 10_000)
			h.now += 10

			in := h.closeInput(s)
			tt.mutate(h, &in)
			if _, err := h.e.CloseStream(h.ctx, in); !errors.Is(err, escrow.ErrAccountMismatch) {
				t.Fatalf("expected ErrAccountMismatch, got %v", err)
			}
			if got := h.balance(s.Vault); got != 10_000 {
				t.Errorf("vault changed after rejected close: %d", got)
			}
			if got := h.balance(h.recipientAccount); got != 0 {
				t.Errorf("recipient paid after rejected close: %d", got)
			}
		})
	}
}

func TestEngineCreateInsufficientFunds(t *testing.T) {
	h := newHarness(t, 9_999)

	if _, err := h.create(1, 10_000); !errors.Is(err, escrow.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := h.e.GetStreamBetween(h.ctx, h.sender, h.recipient); !errors.Is(err, escrow.ErrStreamNotFound) {
		t.Errorf("failed create left a stream behind: %v", err)
	}
	if got := h.balance(h.senderAccount); got != 9_999 {
		t.Errorf("sender balance changed: %d", got)
	}
}
