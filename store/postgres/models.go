package postgres

import (
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/xraph/grove"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
	"github.com/xraph/escrow/types"
)

// Amounts that take part in balance arithmetic are stored as BIGINT and
// must fit in an int64. Rates, elapsed seconds and earnings are only
// recorded, so they are stored bit-for-bit.

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:escrow_accounts"`

	Address   string    `grove:"address,pk"`
	Owner     string    `grove:"owner"`
	Mint      string    `grove:"mint"`
	Amount    int64     `grove:"amount"`
	Custodial bool      `grove:"custodial"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toAccountModel(a *token.Account) (*accountModel, error) {
	amount, err := toBalance(a.Amount)
	if err != nil {
		return nil, err
	}
	return &accountModel{
		Address:   a.Address.String(),
		Owner:     a.Owner.String(),
		Mint:      a.Mint.String(),
		Amount:    amount,
		Custodial: a.Custodial,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}, nil
}

func fromAccountModel(m *accountModel) (*token.Account, error) {
	keys, err := parseKeys(m.Address, m.Owner, m.Mint)
	if err != nil {
		return nil, err
	}
	return &token.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Address:   keys[0],
		Owner:     keys[1],
		Mint:      keys[2],
		Amount:    uint64(m.Amount), //nolint:gosec // CHECK (amount >= 0)
		Custodial: m.Custodial,
	}, nil
}

// ==================== Stream models ====================

type streamModel struct {
	grove.BaseModel `grove:"table:escrow_streams"`

	Address       string    `grove:"address,pk"`
	Bump          int       `grove:"bump"`
	Vault         string    `grove:"vault"`
	VaultBump     int       `grove:"vault_bump"`
	Sender        string    `grove:"sender"`
	Recipient     string    `grove:"recipient"`
	Mint          string    `grove:"mint"`
	StartTime     int64     `grove:"start_time"`
	RatePerSecond int64     `grove:"rate_per_second"`
	TotalDeposit  int64     `grove:"total_deposit"`
	Active        bool      `grove:"active"`
	Record        []byte    `grove:"record"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func fromStreamModel(m *streamModel) (*stream.Stream, error) {
	keys, err := parseKeys(m.Address, m.Vault)
	if err != nil {
		return nil, err
	}
	s := &stream.Stream{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Address:   keys[0],
		Bump:      uint8(m.Bump), //nolint:gosec // derivation bump
		Vault:     keys[1],
		VaultBump: uint8(m.VaultBump), //nolint:gosec // derivation bump
	}
	if err := s.UnmarshalBinary(m.Record); err != nil {
		return nil, fmt.Errorf("stream %s: %w", m.Address, err)
	}
	return s, nil
}

// openingModel is the journal row whose insertion creates a stream.
type openingModel struct {
	grove.BaseModel `grove:"table:escrow_openings"`

	ID            string    `grove:"id,pk"`
	Stream        string    `grove:"stream"`
	Bump          int       `grove:"bump"`
	Vault         string    `grove:"vault"`
	VaultBump     int       `grove:"vault_bump"`
	SourceAccount string    `grove:"source_account"`
	Sender        string    `grove:"sender"`
	Recipient     string    `grove:"recipient"`
	Mint          string    `grove:"mint"`
	StartTime     int64     `grove:"start_time"`
	RatePerSecond int64     `grove:"rate_per_second"`
	TotalDeposit  int64     `grove:"total_deposit"`
	Record        []byte    `grove:"record"`
	CreatedAt     time.Time `grove:"created_at"`
}

func toOpeningModel(op *stream.Opening) (*openingModel, error) {
	s := op.Stream
	deposit, err := toBalance(s.TotalDeposit)
	if err != nil {
		return nil, err
	}
	record, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &openingModel{
		ID:            op.ID.String(),
		Stream:        s.Address.String(),
		Bump:          int(s.Bump),
		Vault:         s.Vault.String(),
		VaultBump:     int(s.VaultBump),
		SourceAccount: op.SourceAccount.String(),
		Sender:        s.Sender.String(),
		Recipient:     s.Recipient.String(),
		Mint:          s.Mint.String(),
		StartTime:     s.StartTime,
		RatePerSecond: int64(s.RatePerSecond), //nolint:gosec // stored bit-for-bit
		TotalDeposit:  deposit,
		Record:        record,
		CreatedAt:     s.CreatedAt,
	}, nil
}

// ==================== Settlement models ====================

// settlementModel is both the receipt and the journal row whose insertion
// settles the stream.
type settlementModel struct {
	grove.BaseModel `grove:"table:escrow_settlements"`

	ID               string    `grove:"id,pk"`
	Stream           string    `grove:"stream"`
	Vault            string    `grove:"vault"`
	Sender           string    `grove:"sender"`
	Recipient        string    `grove:"recipient"`
	Mint             string    `grove:"mint"`
	SenderAccount    string    `grove:"sender_account"`
	RecipientAccount string    `grove:"recipient_account"`
	StartTime        int64     `grove:"start_time"`
	ClosedAt         int64     `grove:"closed_at"`
	RatePerSecond    int64     `grove:"rate_per_second"`
	TotalDeposit     int64     `grove:"total_deposit"`
	Elapsed          int64     `grove:"elapsed"`
	Earned           int64     `grove:"earned"`
	Payout           int64     `grove:"payout"`
	Refund           int64     `grove:"refund"`
	CreatedAt        time.Time `grove:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"`
}

func toSettlementModel(stl *settlement.Settlement) (*settlementModel, error) {
	if stl.TotalDeposit > math.MaxInt64 {
		return nil, escrow.ErrAmountOutOfRange
	}
	return &settlementModel{
		ID:               stl.ID.String(),
		Stream:           stl.Stream.String(),
		Vault:            stl.Vault.String(),
		Sender:           stl.Sender.String(),
		Recipient:        stl.Recipient.String(),
		Mint:             stl.Mint.String(),
		SenderAccount:    stl.SenderAccount.String(),
		RecipientAccount: stl.RecipientAccount.String(),
		StartTime:        stl.StartTime,
		ClosedAt:         stl.ClosedAt,
		RatePerSecond:    int64(stl.RatePerSecond), //nolint:gosec // stored bit-for-bit
		TotalDeposit:     int64(stl.TotalDeposit),
		Elapsed:          int64(stl.Elapsed), //nolint:gosec // stored bit-for-bit
		Earned:           int64(stl.Earned),  //nolint:gosec // stored bit-for-bit
		Payout:           int64(stl.Payout),  //nolint:gosec // payout <= total_deposit
		Refund:           int64(stl.Refund),  //nolint:gosec // refund <= total_deposit
		CreatedAt:        stl.CreatedAt,
		UpdatedAt:        stl.UpdatedAt,
	}, nil
}

func fromSettlementModel(m *settlementModel) (*settlement.Settlement, error) {
	settlementID, err := id.ParseSettlementID(m.ID)
	if err != nil {
		return nil, err
	}
	keys, err := parseKeys(m.Stream, m.Vault, m.Sender, m.Recipient, m.Mint, m.SenderAccount, m.RecipientAccount)
	if err != nil {
		return nil, err
	}
	return &settlement.Settlement{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               settlementID,
		Stream:           keys[0],
		Vault:            keys[1],
		Sender:           keys[2],
		Recipient:        keys[3],
		Mint:             keys[4],
		SenderAccount:    keys[5],
		RecipientAccount: keys[6],
		StartTime:        m.StartTime,
		ClosedAt:         m.ClosedAt,
		RatePerSecond:    uint64(m.RatePerSecond), //nolint:gosec // stored bit-for-bit
		TotalDeposit:     uint64(m.TotalDeposit),  //nolint:gosec // CHECK (total_deposit >= 0)
		Breakdown: settlement.Breakdown{
			Elapsed: uint64(m.Elapsed), //nolint:gosec // stored bit-for-bit
			Earned:  uint64(m.Earned),  //nolint:gosec // stored bit-for-bit
			Payout:  uint64(m.Payout),  //nolint:gosec // CHECK (payout >= 0)
			Refund:  uint64(m.Refund),  //nolint:gosec // CHECK (refund >= 0)
		},
	}, nil
}

// ==================== Helpers ====================

func toBalance(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", escrow.ErrAmountOutOfRange, v)
	}
	return int64(v), nil
}

func parseKeys(ss ...string) ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, len(ss))
	for i, s := range ss {
		k, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("escrow/postgres: parse key %q: %w", s, err)
		}
		keys[i] = k
	}
	return keys, nil
}
