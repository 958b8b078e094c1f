// Package audithook bridges escrow lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
	"github.com/xraph/escrow/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin            = (*Extension)(nil)
	_ plugin.OnAccountOpened   = (*Extension)(nil)
	_ plugin.OnDeposit         = (*Extension)(nil)
	_ plugin.OnStreamCreated   = (*Extension)(nil)
	_ plugin.OnStreamClosed    = (*Extension)(nil)
	_ plugin.OnOperationFailed = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges escrow lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	decimals uint8
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		decimals: 6,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountOpened implements plugin.OnAccountOpened.
func (e *Extension) OnAccountOpened(ctx context.Context, acct *token.Account) error {
	return e.record(ctx, ActionAccountOpened, SeverityInfo, OutcomeSuccess,
		ResourceAccount, acct.Address.String(), CategoryFunding, nil,
		"owner", acct.Owner.String(),
		"mint", acct.Mint.String(),
	)
}

// OnDeposit implements plugin.OnDeposit.
func (e *Extension) OnDeposit(ctx context.Context, addr solana.PublicKey, amount uint64) error {
	return e.record(ctx, ActionAccountDeposited, SeverityInfo, OutcomeSuccess,
		ResourceAccount, addr.String(), CategoryFunding, nil,
		"amount", e.amount(amount),
	)
}

// ──────────────────────────────────────────────────
// Stream hooks
// ──────────────────────────────────────────────────

// OnStreamCreated implements plugin.OnStreamCreated.
func (e *Extension) OnStreamCreated(ctx context.Context, s *stream.Stream) error {
	return e.record(ctx, ActionStreamCreated, SeverityInfo, OutcomeSuccess,
		ResourceStream, s.Address.String(), CategoryEscrow, nil,
		"sender", s.Sender.String(),
		"recipient", s.Recipient.String(),
		"mint", s.Mint.String(),
		"vault", s.Vault.String(),
		"start_time", s.StartTime,
		"rate_per_second", e.amount(s.RatePerSecond),
		"total_deposit", e.amount(s.TotalDeposit),
	)
}

// OnStreamClosed implements plugin.OnStreamClosed.
func (e *Extension) OnStreamClosed(ctx context.Context, stl *settlement.Settlement) error {
	return e.record(ctx, ActionStreamClosed, SeverityInfo, OutcomeSuccess,
		ResourceStream, stl.Stream.String(), CategorySettlement, nil,
		"settlement_id", stl.ID.String(),
		"sender", stl.Sender.String(),
		"recipient", stl.Recipient.String(),
		"elapsed_seconds", stl.Elapsed,
		"payout", e.amount(stl.Payout),
		"refund", e.amount(stl.Refund),
	)
}

// OnOperationFailed implements plugin.OnOperationFailed. Failed stream
// operations are warnings; other rejected operations are informational.
func (e *Extension) OnOperationFailed(ctx context.Context, op string, addr solana.PublicKey, err error) error {
	action, resource, category, severity := ActionOperationFailed, ResourceAccount, CategoryFunding, SeverityInfo
	switch op {
	case plugin.OpCreateStream:
		action, resource, category, severity = ActionStreamFailed, ResourceStream, CategoryEscrow, SeverityWarning
	case plugin.OpCloseStream:
		action, resource, category, severity = ActionStreamFailed, ResourceStream, CategorySettlement, SeverityWarning
	}

	var resourceID string
	if !addr.IsZero() {
		resourceID = addr.String()
	}
	return e.record(ctx, action, severity, OutcomeFailure,
		resource, resourceID, category, err,
		"operation", op,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (e *Extension) amount(v uint64) string {
	return types.Amount(v).Format(e.decimals)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
