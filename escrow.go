package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/pda"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
	"github.com/xraph/escrow/types"
)

// Clock reports the current time. Only whole seconds are used.
type Clock func() time.Time

// Escrow is the streaming escrow engine.
type Escrow struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	pda     pda.Deriver
	clock   Clock
}

// New creates a new Escrow instance.
func New(s store.Store, opts ...Option) *Escrow {
	e := &Escrow{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		pda:     pda.Default(),
		clock:   time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Escrow instance.
type Option func(*Escrow)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Escrow) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Escrow) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProgramID sets the namespace stream and vault addresses are derived under.
func WithProgramID(programID solana.PublicKey) Option {
	return func(e *Escrow) {
		e.pda = pda.New(programID)
	}
}

// WithClock replaces the wall clock, e.g. with a fixed clock in tests.
func WithClock(c Clock) Option {
	return func(e *Escrow) {
		e.clock = c
	}
}

// Start migrates the store and initializes plugins.
func (e *Escrow) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("escrow started",
		"program_id", e.pda.ProgramID().String(),
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Escrow) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Escrow) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Escrow) Plugins() *plugin.Registry { return e.plugins }

// Deriver returns the address deriver in use.
func (e *Escrow) Deriver() pda.Deriver { return e.pda }

// ──────────────────────────────────────────────────
// Streams
// ──────────────────────────────────────────────────

// CreateStreamInput describes a new stream.
type CreateStreamInput struct {
	Sender    solana.PublicKey
	Recipient solana.PublicKey
	Mint      solana.PublicKey

	// SenderAccount funds the vault. Defaults to the sender's associated
	// account for Mint.
	SenderAccount solana.PublicKey

	RatePerSecond uint64
	MaxAmount     uint64
}

// CreateStream opens a stream from Sender to Recipient and moves MaxAmount
// into its vault. The stream starts accruing at the current clock second.
func (e *Escrow) CreateStream(ctx context.Context, in CreateStreamInput) (*stream.Stream, error) {
	begin := time.Now()

	s, err := e.createStream(ctx, in)
	if err != nil {
		var addr solana.PublicKey
		if s != nil {
			addr = s.Address
		}
		e.logger.Warn("create stream failed",
			"sender", in.Sender.String(),
			"recipient", in.Recipient.String(),
			"error", err,
		)
		e.plugins.EmitOperationFailed(ctx, plugin.OpCreateStream, addr, err)
		return nil, err
	}

	e.logger.Info("stream created",
		"stream", s.Address.String(),
		"sender", s.Sender.String(),
		"recipient", s.Recipient.String(),
		"rate_per_second", s.RatePerSecond,
		"total_deposit", s.TotalDeposit,
	)
	e.plugins.EmitStreamCreated(ctx, s)
	e.plugins.EmitOperationCompleted(ctx, plugin.OpCreateStream, time.Since(begin))
	return s, nil
}

func (e *Escrow) createStream(ctx context.Context, in CreateStreamInput) (*stream.Stream, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	streamAddr, err := e.pda.Stream(in.Sender, in.Recipient)
	if err != nil {
		return nil, err
	}
	vaultAddr, err := e.pda.Vault(streamAddr.Key)
	if err != nil {
		return nil, err
	}

	source := in.SenderAccount
	if source.IsZero() {
		if source, err = token.AssociatedAddress(in.Sender, in.Mint); err != nil {
			return nil, err
		}
	}

	s := &stream.Stream{
		Entity:        types.NewEntity(),
		Address:       streamAddr.Key,
		Bump:          streamAddr.Bump,
		Vault:         vaultAddr.Key,
		VaultBump:     vaultAddr.Bump,
		Sender:        in.Sender,
		Recipient:     in.Recipient,
		Mint:          in.Mint,
		StartTime:     e.now(),
		RatePerSecond: in.RatePerSecond,
		TotalDeposit:  in.MaxAmount,
		Active:        true,
	}

	if err := e.plugins.ValidateOpening(ctx, s); err != nil {
		return s, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	op := &stream.Opening{
		ID:            id.NewOpeningID(),
		Stream:        s,
		SourceAccount: source,
	}
	if err := e.store.OpenStream(ctx, op); err != nil {
		return s, err
	}
	return s, nil
}

func (in CreateStreamInput) validate() error {
	switch {
	case in.Sender.IsZero():
		return ValidationError{Field: "sender", Message: "required"}
	case in.Recipient.IsZero():
		return ValidationError{Field: "recipient", Message: "required"}
	case in.Mint.IsZero():
		return ValidationError{Field: "mint", Message: "required"}
	case in.Sender.Equals(in.Recipient):
		return ValidationError{Field: "recipient", Message: "must differ from sender"}
	case in.RatePerSecond == 0:
		return ValidationError{Field: "rate_per_second", Message: "must be positive"}
	case in.MaxAmount == 0:
		return ValidationError{Field: "max_amount", Message: "must be positive"}
	}
	return nil
}

// CloseStreamInput names the accounts a close touches. Every address must
// agree with the stored stream and its derivation.
type CloseStreamInput struct {
	Stream           solana.PublicKey
	Vault            solana.PublicKey
	Sender           solana.PublicKey
	Recipient        solana.PublicKey
	SenderAccount    solana.PublicKey
	RecipientAccount solana.PublicKey
}

// CloseStream settles a stream at the current clock second: the accrued
// amount (capped at the deposit) goes to the recipient, the rest back to
// the sender, the vault is closed and the stream record removed.
func (e *Escrow) CloseStream(ctx context.Context, in CloseStreamInput) (*settlement.Settlement, error) {
	begin := time.Now()

	stl, err := e.closeStream(ctx, in)
	if err != nil {
		e.logger.Warn("close stream failed",
			"stream", in.Stream.String(),
			"error", err,
		)
		e.plugins.EmitOperationFailed(ctx, plugin.OpCloseStream, in.Stream, err)
		return nil, err
	}

	e.logger.Info("stream closed",
		"stream", stl.Stream.String(),
		"settlement_id", stl.ID.String(),
		"elapsed", stl.Elapsed,
		"payout", stl.Payout,
		"refund", stl.Refund,
	)
	e.plugins.EmitStreamClosed(ctx, stl)
	e.plugins.EmitOperationCompleted(ctx, plugin.OpCloseStream, time.Since(begin))
	return stl, nil
}

func (e *Escrow) closeStream(ctx context.Context, in CloseStreamInput) (*settlement.Settlement, error) {
	streamAddr, err := e.pda.Stream(in.Sender, in.Recipient)
	if err != nil {
		return nil, err
	}
	if !streamAddr.Key.Equals(in.Stream) {
		return nil, fmt.Errorf("%w: stream is not derived from sender and recipient", ErrAccountMismatch)
	}
	vaultAddr, err := e.pda.Vault(in.Stream)
	if err != nil {
		return nil, err
	}
	if !vaultAddr.Key.Equals(in.Vault) {
		return nil, fmt.Errorf("%w: vault is not derived from stream", ErrAccountMismatch)
	}

	s, err := e.store.GetStream(ctx, in.Stream)
	if err != nil {
		return nil, err
	}

	now := e.now()
	b, err := settlement.Compute(s.StartTime, now, s.RatePerSecond, s.TotalDeposit)
	if err != nil {
		return nil, err
	}

	stl := &settlement.Settlement{
		Entity:           types.NewEntity(),
		ID:               id.NewSettlementID(),
		Stream:           in.Stream,
		Vault:            in.Vault,
		Sender:           in.Sender,
		Recipient:        in.Recipient,
		Mint:             s.Mint,
		SenderAccount:    in.SenderAccount,
		RecipientAccount: in.RecipientAccount,
		StartTime:        s.StartTime,
		ClosedAt:         now,
		RatePerSecond:    s.RatePerSecond,
		TotalDeposit:     s.TotalDeposit,
		Breakdown:        b,
		Authority:        streamAddr.Signer(),
	}
	if err := store.Verify(s, stl); err != nil {
		return nil, err
	}

	if err := e.store.SettleStream(ctx, stl); err != nil {
		return nil, err
	}
	return stl, nil
}

// CloseStreamBetween closes the stream from sender to recipient, paying
// into both parties' associated accounts.
func (e *Escrow) CloseStreamBetween(ctx context.Context, sender, recipient solana.PublicKey) (*settlement.Settlement, error) {
	s, err := e.GetStreamBetween(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}
	senderAccount, err := token.AssociatedAddress(sender, s.Mint)
	if err != nil {
		return nil, err
	}
	recipientAccount, err := token.AssociatedAddress(recipient, s.Mint)
	if err != nil {
		return nil, err
	}
	return e.CloseStream(ctx, CloseStreamInput{
		Stream:           s.Address,
		Vault:            s.Vault,
		Sender:           sender,
		Recipient:        recipient,
		SenderAccount:    senderAccount,
		RecipientAccount: recipientAccount,
	})
}

// Accrued previews the split CloseStream would make right now.
func (e *Escrow) Accrued(ctx context.Context, addr solana.PublicKey) (settlement.Breakdown, error) {
	s, err := e.store.GetStream(ctx, addr)
	if err != nil {
		return settlement.Breakdown{}, err
	}
	return settlement.Compute(s.StartTime, e.now(), s.RatePerSecond, s.TotalDeposit)
}

// GetStream retrieves a stream by address.
func (e *Escrow) GetStream(ctx context.Context, addr solana.PublicKey) (*stream.Stream, error) {
	return e.store.GetStream(ctx, addr)
}

// GetStreamBetween retrieves the stream from sender to recipient.
func (e *Escrow) GetStreamBetween(ctx context.Context, sender, recipient solana.PublicKey) (*stream.Stream, error) {
	addr, err := e.pda.Stream(sender, recipient)
	if err != nil {
		return nil, err
	}
	return e.store.GetStream(ctx, addr.Key)
}

// ListStreams lists open streams.
func (e *Escrow) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	return e.store.ListStreams(ctx, opts)
}

// GetSettlement retrieves a settlement receipt by ID.
func (e *Escrow) GetSettlement(ctx context.Context, settlementID id.SettlementID) (*settlement.Settlement, error) {
	return e.store.GetSettlement(ctx, settlementID)
}

// ListSettlements lists settlement receipts in settlement order.
func (e *Escrow) ListSettlements(ctx context.Context, opts settlement.ListOpts) ([]*settlement.Settlement, error) {
	return e.store.ListSettlements(ctx, opts)
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// OpenAccount creates owner's associated account for mint.
func (e *Escrow) OpenAccount(ctx context.Context, owner, mint solana.PublicKey) (*token.Account, error) {
	if owner.IsZero() {
		return nil, ValidationError{Field: "owner", Message: "required"}
	}
	if mint.IsZero() {
		return nil, ValidationError{Field: "mint", Message: "required"}
	}
	addr, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		return nil, err
	}

	acct := &token.Account{
		Entity:  types.NewEntity(),
		Address: addr,
		Owner:   owner,
		Mint:    mint,
	}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		e.plugins.EmitOperationFailed(ctx, plugin.OpOpenAccount, addr, err)
		return nil, err
	}

	e.logger.Debug("account opened",
		"account", addr.String(),
		"owner", owner.String(),
		"mint", mint.String(),
	)
	e.plugins.EmitAccountOpened(ctx, acct)
	return acct, nil
}

// Deposit credits amount to a non-custodial account.
func (e *Escrow) Deposit(ctx context.Context, addr solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return ValidationError{Field: "amount", Message: "must be positive"}
	}
	if err := e.store.MintTo(ctx, addr, amount); err != nil {
		e.plugins.EmitOperationFailed(ctx, plugin.OpDeposit, addr, err)
		return err
	}

	e.plugins.EmitDeposit(ctx, addr, amount)
	return nil
}

// GetAccount retrieves a token account by address.
func (e *Escrow) GetAccount(ctx context.Context, addr solana.PublicKey) (*token.Account, error) {
	return e.store.GetAccount(ctx, addr)
}

func (e *Escrow) now() int64 {
	return e.clock().Unix()
}
