package token_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/pda"
	"github.com/xraph/escrow/token"
)

type mapLedger map[solana.PublicKey]*token.Account

func (m mapLedger) Account(_ context.Context, addr solana.PublicKey) (*token.Account, error) {
	a, ok := m[addr]
	if !ok {
		return nil, token.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (m mapLedger) SetAccount(_ context.Context, a *token.Account) error {
	m[a.Address] = a.Clone()
	return nil
}

func (m mapLedger) RemoveAccount(_ context.Context, addr solana.PublicKey) error {
	delete(m, addr)
	return nil
}

func newAccount(t *testing.T, l mapLedger, owner, mint solana.PublicKey, amount uint64) solana.PublicKey {
	t.Helper()
	addr, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		t.Fatalf("AssociatedAddress: %v", err)
	}
	if err := token.InitializeAccount(context.Background(), l, &token.Account{
		Address: addr, Owner: owner, Mint: mint, Amount: amount,
	}); err != nil {
		t.Fatalf("InitializeAccount: %v", err)
	}
	return addr
}

func TestAssociatedAddressDeterministic(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	a, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		t.Fatal(err)
	}
	b, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equals(b) {
		t.Fatalf("expected same address, got %s and %s", a, b)
	}

	other, err := token.AssociatedAddress(owner, solana.NewWallet().PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if a.Equals(other) {
		t.Fatal("different mints produced the same address")
	}
}

func TestInitializeAccountTwice(t *testing.T) {
	l := mapLedger{}
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	addr := newAccount(t, l, owner, mint, 0)

	err := token.InitializeAccount(context.Background(), l, &token.Account{Address: addr, Owner: owner, Mint: mint})
	if !errors.Is(err, token.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	mint := solana.NewWallet().PublicKey()
	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()

	tests := []struct {
		name      string
		authority func(alice, bob solana.PublicKey) solana.PublicKey
		amount    uint64
		wantErr   error
		wantFrom  uint64
		wantTo    uint64
	}{
		{"moves funds", func(a, _ solana.PublicKey) solana.PublicKey { return a }, 40, nil, 60, 40},
		{"whole balance", func(a, _ solana.PublicKey) solana.PublicKey { return a }, 100, nil, 0, 100},
		{"short balance", func(a, _ solana.PublicKey) solana.PublicKey { return a }, 101, token.ErrInsufficientFunds, 100, 0},
		{"wrong authority", func(_, b solana.PublicKey) solana.PublicKey { return b }, 1, token.ErrOwnerMismatch, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := mapLedger{}
			from := newAccount(t, l, alice, mint, 100)
			to := newAccount(t, l, bob, mint, 0)

			err := token.Transfer(ctx, l, from, to, tt.authority(alice, bob), tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := l[from].Amount; got != tt.wantFrom {
				t.Errorf("source: expected %d, got %d", tt.wantFrom, got)
			}
			if got := l[to].Amount; got != tt.wantTo {
				t.Errorf("destination: expected %d, got %d", tt.wantTo, got)
			}
		})
	}
}

func TestTransferMintMismatch(t *testing.T) {
	l := mapLedger{}
	alice := solana.NewWallet().PublicKey()
	from := newAccount(t, l, alice, solana.NewWallet().PublicKey(), 10)
	to := newAccount(t, l, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 0)

	err := token.Transfer(context.Background(), l, from, to, alice, 5)
	if !errors.Is(err, token.ErrMintMismatch) {
		t.Fatalf("expected ErrMintMismatch, got %v", err)
	}
}

func TestTransferMissingSource(t *testing.T) {
	l := mapLedger{}
	to := newAccount(t, l, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 0)

	err := token.Transfer(context.Background(), l, solana.NewWallet().PublicKey(), to, solana.NewWallet().PublicKey(), 1)
	if !errors.Is(err, token.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSignedTransferAndClose(t *testing.T) {
	ctx := context.Background()
	l := mapLedger{}
	mint := solana.NewWallet().PublicKey()
	d := pda.Default()

	stream, err := d.Stream(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	vault, err := d.Vault(stream.Key)
	if err != nil {
		t.Fatal(err)
	}
	if err := token.InitializeAccount(ctx, l, &token.Account{
		Address: vault.Key, Owner: stream.Key, Mint: mint, Amount: 50, Custodial: true,
	}); err != nil {
		t.Fatal(err)
	}
	dest := newAccount(t, l, solana.NewWallet().PublicKey(), mint, 0)

	// The vault's own seeds do not speak for the stream.
	if err := token.TransferSigned(ctx, l, vault.Key, dest, vault.Signer(), 10); !errors.Is(err, token.ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}

	if err := token.CloseAccount(ctx, l, vault.Key, dest, stream.Signer()); !errors.Is(err, token.ErrNonZeroBalance) {
		t.Fatalf("expected ErrNonZeroBalance, got %v", err)
	}

	if err := token.TransferSigned(ctx, l, vault.Key, dest, stream.Signer(), 50); err != nil {
		t.Fatalf("TransferSigned: %v", err)
	}
	if err := token.CloseAccount(ctx, l, vault.Key, dest, stream.Signer()); err != nil {
		t.Fatalf("CloseAccount: %v", err)
	}
	if _, ok := l[vault.Key]; ok {
		t.Error("vault still present after close")
	}
	if got := l[dest].Amount; got != 50 {
		t.Errorf("expected destination 50, got %d", got)
	}
}

func TestMintTo(t *testing.T) {
	ctx := context.Background()
	l := mapLedger{}
	mint := solana.NewWallet().PublicKey()
	addr := newAccount(t, l, solana.NewWallet().PublicKey(), mint, 0)

	if err := token.MintTo(ctx, l, addr, 25); err != nil {
		t.Fatal(err)
	}
	if got := l[addr].Amount; got != 25 {
		t.Errorf("expected 25, got %d", got)
	}

	vaultAddr := solana.NewWallet().PublicKey()
	l[vaultAddr] = &token.Account{Address: vaultAddr, Owner: solana.NewWallet().PublicKey(), Mint: mint, Custodial: true}
	if err := token.MintTo(ctx, l, vaultAddr, 1); !errors.Is(err, token.ErrCustodial) {
		t.Fatalf("expected ErrCustodial, got %v", err)
	}
}
