// Package plugin provides an extensible plugin system for the escrow engine.
// Plugins can hook into account and stream lifecycle events.
package plugin

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// Operation names reported to OnOperationCompleted and OnOperationFailed.
const (
	OpCreateStream = "create_stream"
	OpCloseStream  = "close_stream"
	OpOpenAccount  = "open_account"
	OpDeposit      = "deposit"
)

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. e is the *escrow.Escrow.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, e any) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountOpened is called after a token account is created.
type OnAccountOpened interface {
	Plugin
	OnAccountOpened(ctx context.Context, acct *token.Account) error
}

// OnDeposit is called after funds are credited to an account.
type OnDeposit interface {
	Plugin
	OnDeposit(ctx context.Context, addr solana.PublicKey, amount uint64) error
}

// ──────────────────────────────────────────────────
// Stream hooks
// ──────────────────────────────────────────────────

// OnStreamCreated is called after a stream and its funded vault exist.
type OnStreamCreated interface {
	Plugin
	OnStreamCreated(ctx context.Context, s *stream.Stream) error
}

// OnStreamClosed is called after a stream has been settled and removed.
type OnStreamClosed interface {
	Plugin
	OnStreamClosed(ctx context.Context, stl *settlement.Settlement) error
}

// OnOperationCompleted is called when an operation succeeds.
type OnOperationCompleted interface {
	Plugin
	OnOperationCompleted(ctx context.Context, op string, elapsed time.Duration) error
}

// OnOperationFailed is called when an operation is rejected or rolled back.
// addr is the stream or account the operation targeted, if known.
type OnOperationFailed interface {
	Plugin
	OnOperationFailed(ctx context.Context, op string, addr solana.PublicKey, err error) error
}

// ──────────────────────────────────────────────────
// Validators
// ──────────────────────────────────────────────────

// OpeningValidator may veto a stream before it is opened, e.g. to enforce
// a maximum rate or an allow-list of mints.
type OpeningValidator interface {
	Plugin
	ValidateOpening(ctx context.Context, s *stream.Stream) error
}
