package escrow_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// fixture is an engine over a memory store with a controllable clock and
// two funded parties.
type fixture struct {
	t   *testing.T
	ctx context.Context
	e   *escrow.Escrow
	now int64

	sender, recipient, mint         solana.PublicKey
	senderAccount, recipientAccount solana.PublicKey
}

func newFixture(t *testing.T, funds uint64, opts ...escrow.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		now:       1_000,
		sender:    solana.NewWallet().PublicKey(),
		recipient: solana.NewWallet().PublicKey(),
		mint:      solana.NewWallet().PublicKey(),
	}
	opts = append(opts, escrow.WithClock(func() time.Time { return time.Unix(f.now, 0) }))
	f.e = escrow.New(memory.New(), opts...)
	if err := f.e.Start(f.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.e.Stop() })

	f.senderAccount = f.openAccount(f.sender, funds)
	f.recipientAccount = f.openAccount(f.recipient, 0)
	return f
}

func (f *fixture) openAccount(owner solana.PublicKey, funds uint64) solana.PublicKey {
	f.t.Helper()
	acct, err := f.e.OpenAccount(f.ctx, owner, f.mint)
	if err != nil {
		f.t.Fatalf("OpenAccount: %v", err)
	}
	if funds > 0 {
		if err := f.e.Deposit(f.ctx, acct.Address, funds); err != nil {
			f.t.Fatalf("Deposit: %v", err)
		}
	}
	return acct.Address
}

func (f *fixture) create(rate, maxAmount uint64) (*stream.Stream, error) {
	return f.e.CreateStream(f.ctx, escrow.CreateStreamInput{
		Sender:        f.sender,
		Recipient:     f.recipient,
		Mint:          f.mint,
		RatePerSecond: rate,
		MaxAmount:     maxAmount,
	})
}

func (f *fixture) mustCreate(rate, maxAmount uint64) *stream.Stream {
	f.t.Helper()
	s, err := f.create(rate, maxAmount)
	if err != nil {
		f.t.Fatalf("CreateStream: %v", err)
	}
	return s
}

func (f *fixture) closeInput(s *stream.Stream) escrow.CloseStreamInput {
	return escrow.CloseStreamInput{
		Stream:           s.Address,
		Vault:            s.Vault,
		Sender:           f.sender,
		Recipient:        f.recipient,
		SenderAccount:    f.senderAccount,
		RecipientAccount: f.recipientAccount,
	}
}

func (f *fixture) balance(addr solana.PublicKey) uint64 {
	f.t.Helper()
	acct, err := f.e.GetAccount(f.ctx, addr)
	if err != nil {
		f.t.Fatalf("GetAccount(%s): %v", addr, err)
	}
	return acct.Amount
}

func TestCreateStream(t *testing.T) {
	f := newFixture(t, 12_000)
	s := f.mustCreate(100, 10_000)

	if s.StartTime != 1_000 || !s.Active || s.RatePerSecond != 100 || s.TotalDeposit != 10_000 {
		t.Errorf("unexpected stream: %+v", s)
	}

	stored, err := f.e.GetStreamBetween(f.ctx, f.sender, f.recipient)
	if err != nil {
		t.Fatalf("GetStreamBetween: %v", err)
	}
	if !stored.Address.Equals(s.Address) || !stored.Vault.Equals(s.Vault) {
		t.Error("stored stream does not match created stream")
	}

	vault, err := f.e.GetAccount(f.ctx, s.Vault)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if vault.Amount != 10_000 || !vault.Owner.Equals(s.Address) || !vault.Custodial {
		t.Errorf("unexpected vault: %+v", vault)
	}
	if got := f.balance(f.senderAccount); got != 2_000 {
		t.Errorf("expected sender balance 2000, got %d", got)
	}
}

func TestCloseStreamSplits(t *testing.T) {
	tests := []struct {
		name       string
		advance    int64
		wantPayout uint64
		wantRefund uint64
	}{
		{"immediate close refunds everything", 0, 0, 10_000},
		{"half way", 50, 5_000, 5_000},
		{"exactly at cap", 100, 10_000, 0},
		{"past cap pays the cap", 200, 10_000, 0},
		{"clock behind start", -30, 0, 10_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10_000)
			s := f.mustCreate(100, 10_000)

			f.now += tt.advance
			stl, err := f.e.CloseStream(f.ctx, f.closeInput(s))
			if err != nil {
				t.Fatalf("CloseStream: %v", err)
			}
			if stl.Payout != tt.wantPayout || stl.Refund != tt.wantRefund {
				t.Errorf("expected %d/%d, got %d/%d", tt.wantPayout, tt.wantRefund, stl.Payout, stl.Refund)
			}

			if got := f.balance(f.recipientAccount); got != tt.wantPayout {
				t.Errorf("recipient: expected %d, got %d", tt.wantPayout, got)
			}
			if got := f.balance(f.senderAccount); got != tt.wantRefund {
				t.Errorf("sender: expected %d, got %d", tt.wantRefund, got)
			}
			if _, err := f.e.GetStream(f.ctx, s.Address); !errors.Is(err, escrow.ErrStreamNotFound) {
				t.Errorf("expected stream removed, got %v", err)
			}
			if _, err := f.e.GetAccount(f.ctx, s.Vault); !errors.Is(err, escrow.ErrAccountNotFound) {
				t.Errorf("expected vault closed, got %v", err)
			}

			receipt, err := f.e.GetSettlement(f.ctx, stl.ID)
			if err != nil {
				t.Fatalf("GetSettlement: %v", err)
			}
			if receipt.Payout != stl.Payout || receipt.ClosedAt != f.now {
				t.Errorf("unexpected receipt: %+v", receipt)
			}
		})
	}
}

func TestCloseStreamOverflowLeavesVault(t *testing.T) {
	f := newFixture(t, 10_000)
	s := f.mustCreate(math.MaxUint64, 10_000)

	f.now += 2
	if _, err := f.e.CloseStream(f.ctx, f.closeInput(s)); !errors.Is(err, escrow.ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
	if got := f.balance(s.Vault); got != 10_000 {
		t.Errorf("vault changed after failed close: %d", got)
	}
	if _, err := f.e.GetStream(f.ctx, s.Address); err != nil {
		t.Errorf("stream should survive a failed close: %v", err)
	}
	if _, err := f.e.Accrued(f.ctx, s.Address); !errors.Is(err, escrow.ErrMathOverflow) {
		t.Errorf("expected Accrued to report overflow, got %v", err)
	}
}

func TestCloseStreamMaxRateImmediate(t *testing.T) {
	f := newFixture(t, 10_000)
	s := f.mustCreate(math.MaxUint64, 10_000)

	stl, err := f.e.CloseStream(f.ctx, f.closeInput(s))
	if err != nil {
		t.Fatalf("CloseStream: %v", err)
	}
	if stl.Elapsed != 0 || stl.Payout != 0 || stl.Refund != 10_000 {
		t.Errorf("expected a full refund, got %+v", stl.Breakdown)
	}
	if got := f.balance(f.senderAccount); got != 10_000 {
		t.Errorf("sender: expected 10000, got %d", got)
	}
}

func TestCloseStreamTwice(t *testing.T) {
	f := newFixture(t, 10_000)
	s := f.mustCreate(100, 10_000)

	f.now += 30
	if _, err := f.e.CloseStream(f.ctx, f.closeInput(s)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.e.CloseStream(f.ctx, f.closeInput(s)); !errors.Is(err, escrow.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
	if got := f.balance(f.recipientAccount); got != 3_000 {
		t.Errorf("second close moved funds: recipient holds %d", got)
	}

	list, err := f.e.ListSettlements(f.ctx, settlement.ListOpts{Stream: s.Address})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 settlement, got %d", len(list))
	}
}

func TestCreateStreamDuplicate(t *testing.T) {
	f := newFixture(t, 20_000)
	s := f.mustCreate(100, 10_000)

	if _, err := f.create(5, 500); !errors.Is(err, escrow.ErrDuplicateStream) {
		t.Fatalf("expected ErrDuplicateStream, got %v", err)
	}

	stored, err := f.e.GetStream(f.ctx, s.Address)
	if err != nil {
		t.Fatal(err)
	}
	if stored.RatePerSecond != 100 || stored.TotalDeposit != 10_000 {
		t.Errorf("original stream changed: %+v", stored)
	}
	if got := f.balance(f.senderAccount); got != 10_000 {
		t.Errorf("expected sender balance 10000, got %d", got)
	}
}

func TestCreateStreamReverseDirection(t *testing.T) {
	f := newFixture(t, 10_000)
	forward := f.mustCreate(1, 100)

	if err := f.e.Deposit(f.ctx, f.recipientAccount, 100); err != nil {
		t.Fatal(err)
	}
	backward, err := f.e.CreateStream(f.ctx, escrow.CreateStreamInput{
		Sender:        f.recipient,
		Recipient:     f.sender,
		Mint:          f.mint,
		RatePerSecond: 1,
		MaxAmount:     100,
	})
	if err != nil {
		t.Fatalf("reverse stream: %v", err)
	}
	if forward.Address.Equals(backward.Address) {
		t.Error("reverse direction derived the same stream address")
	}
}

func TestCreateStreamInsufficientFunds(t *testing.T) {
	tests := []struct {
		name  string
		funds uint64
		input func(f *fixture) escrow.CreateStreamInput
	}{
		{"short balance", 9_999, func(f *fixture) escrow.CreateStreamInput {
			return escrow.CreateStreamInput{Sender: f.sender, Recipient: f.recipient, Mint: f.mint, RatePerSecond: 1, MaxAmount: 10_000}
		}},
		{"source owned by someone else", 10_000, func(f *fixture) escrow.CreateStreamInput {
			return escrow.CreateStreamInput{Sender: f.sender, Recipient: f.recipient, Mint: f.mint, SenderAccount: f.recipientAccount, RatePerSecond: 1, MaxAmount: 10}
		}},
		{"no source account", 10_000, func(f *fixture) escrow.CreateStreamInput {
			return escrow.CreateStreamInput{Sender: f.sender, Recipient: f.recipient, Mint: solana.NewWallet().PublicKey(), RatePerSecond: 1, MaxAmount: 10}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.funds)
			in := tt.input(f)
			if _, err := f.e.CreateStream(f.ctx, in); !errors.Is(err, escrow.ErrInsufficientFunds) {
				t.Fatalf("expected ErrInsufficientFunds, got %v", err)
			}
			if _, err := f.e.GetStreamBetween(f.ctx, f.sender, f.recipient); !errors.Is(err, escrow.ErrStreamNotFound) {
				t.Errorf("failed create left a stream behind: %v", err)
			}
			if got := f.balance(f.senderAccount); got != tt.funds {
				t.Errorf("sender balance changed: %d", got)
			}
		})
	}
}

func TestCreateStreamValidation(t *testing.T) {
	f := newFixture(t, 10_000)
	base := escrow.CreateStreamInput{Sender: f.sender, Recipient: f.recipient, Mint: f.mint, RatePerSecond: 1, MaxAmount: 1}

	tests := []struct {
		name   string
		mutate func(*escrow.CreateStreamInput)
		field  string
	}{
		{"zero rate", func(in *escrow.CreateStreamInput) { in.RatePerSecond = 0 }, "rate_per_second"},
		{"zero cap", func(in *escrow.CreateStreamInput) { in.MaxAmount = 0 }, "max_amount"},
		{"self stream", func(in *escrow.CreateStreamInput) { in.Recipient = in.Sender }, "recipient"},
		{"missing mint", func(in *escrow.CreateStreamInput) { in.Mint = solana.PublicKey{} }, "mint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := f.e.CreateStream(f.ctx, in)
			if !errors.Is(err, escrow.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			var verr escrow.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestCloseStreamAccountMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, in *escrow.CloseStreamInput)
	}{
		{"wrong vault", func(_ *fixture, in *escrow.CloseStreamInput) { in.Vault = solana.NewWallet().PublicKey() }},
		{"wrong recipient", func(_ *fixture, in *escrow.CloseStreamInput) { in.Recipient = solana.NewWallet().PublicKey() }},
		{"recipient paid into sender account", func(f *fixture, in *escrow.CloseStreamInput) { in.RecipientAccount = f.senderAccount }},
		{"refund into recipient account", func(f *fixture, in *escrow.CloseStreamInput) { in.SenderAccount = f.recipientAccount }},
		{"destination does not exist", func(_ *fixture, in *escrow.CloseStreamInput) { in.RecipientAccount = solana.NewWallet().PublicKey() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10_000)
			s := f.mustCreate(100, 10_000)
			f.now += 10

			in := f.closeInput(s)
			tt.mutate(f, &in)
			if _, err := f.e.CloseStream(f.ctx, in); !errors.Is(err, escrow.ErrAccountMismatch) {
				t.Fatalf("expected ErrAccountMismatch, got %v", err)
			}
			if got := f.balance(s.Vault); got != 10_000 {
				t.Errorf("vault changed after rejected close: %d", got)
			}
			if got := f.balance(f.recipientAccount); got != 0 {
				t.Errorf("recipient paid after rejected close: %d", got)
			}
		})
	}
}

func TestCloseStreamBetween(t *testing.T) {
	f := newFixture(t, 10_000)
	s := f.mustCreate(7, 1_000)

	f.now += 10
	preview, err := f.e.Accrued(f.ctx, s.Address)
	if err != nil {
		t.Fatal(err)
	}
	if preview.Payout != 70 || preview.Refund != 930 {
		t.Errorf("unexpected preview: %+v", preview)
	}

	stl, err := f.e.CloseStreamBetween(f.ctx, f.sender, f.recipient)
	if err != nil {
		t.Fatalf("CloseStreamBetween: %v", err)
	}
	if stl.Breakdown != preview {
		t.Errorf("close %+v differs from preview %+v", stl.Breakdown, preview)
	}
	if got := f.balance(f.senderAccount); got != 9_930 {
		t.Errorf("expected sender 9930, got %d", got)
	}
}

func TestDepositIntoVaultRejected(t *testing.T) {
	f := newFixture(t, 10_000)
	s := f.mustCreate(1, 100)

	if err := f.e.Deposit(f.ctx, s.Vault, 1); !errors.Is(err, token.ErrCustodial) {
		t.Fatalf("expected ErrCustodial, got %v", err)
	}
	if got := f.balance(s.Vault); got != 100 {
		t.Errorf("vault changed: %d", got)
	}
}

func TestListStreams(t *testing.T) {
	f := newFixture(t, 10_000)
	f.mustCreate(1, 100)

	other := solana.NewWallet().PublicKey()
	f.openAccount(other, 0)
	if _, err := f.e.CreateStream(f.ctx, escrow.CreateStreamInput{
		Sender: f.sender, Recipient: other, Mint: f.mint, RatePerSecond: 1, MaxAmount: 100,
	}); err != nil {
		t.Fatal(err)
	}

	all, err := f.e.ListStreams(f.ctx, stream.ListOpts{Sender: f.sender})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 streams, got %d", len(all))
	}

	toOther, err := f.e.ListStreams(f.ctx, stream.ListOpts{Recipient: other})
	if err != nil {
		t.Fatal(err)
	}
	if len(toOther) != 1 || !toOther[0].Recipient.Equals(other) {
		t.Errorf("recipient filter returned %d streams", len(toOther))
	}

	limited, err := f.e.ListStreams(f.ctx, stream.ListOpts{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 stream with limit, got %d", len(limited))
	}
}

type maxRate uint64

func (maxRate) Name() string { return "max-rate" }

func (m maxRate) ValidateOpening(_ context.Context, s *stream.Stream) error {
	if s.RatePerSecond > uint64(m) {
		return errors.New("rate above policy")
	}
	return nil
}

func TestOpeningValidatorVeto(t *testing.T) {
	f := newFixture(t, 10_000, escrow.WithPlugin(maxRate(10)))

	if _, err := f.create(11, 100); !errors.Is(err, escrow.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := f.balance(f.senderAccount); got != 10_000 {
		t.Errorf("vetoed opening moved funds: %d", got)
	}
	f.mustCreate(10, 100)
}

func TestWithProgramID(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	f := newFixture(t, 10_000, escrow.WithProgramID(programID))
	s := f.mustCreate(1, 100)

	want, err := f.e.Deriver().Stream(f.sender, f.recipient)
	if err != nil {
		t.Fatal(err)
	}
	if !want.Key.Equals(s.Address) {
		t.Error("stream not derived under the configured program id")
	}
	if !f.e.Deriver().ProgramID().Equals(programID) {
		t.Error("deriver program id not applied")
	}
}
