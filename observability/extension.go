// Package observability provides a metrics extension for the escrow engine
// that records stream and account lifecycle events via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
	"github.com/xraph/escrow/token"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnAccountOpened      = (*MetricsExtension)(nil)
	_ plugin.OnDeposit            = (*MetricsExtension)(nil)
	_ plugin.OnStreamCreated      = (*MetricsExtension)(nil)
	_ plugin.OnStreamClosed       = (*MetricsExtension)(nil)
	_ plugin.OnOperationCompleted = (*MetricsExtension)(nil)
	_ plugin.OnOperationFailed    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide escrow metrics.
// Register it as a plugin to track stream volume and settlement outcomes.
// Amounts are observed in base units.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	AccountOpened  Counter
	DepositCount   Counter
	DepositVolume  Counter
	DepositAmounts Histogram

	// Stream metrics
	StreamCreated   Counter
	StreamClosed    Counter
	StreamDeposited Histogram
	StreamPayout    Histogram
	StreamRefund    Histogram
	StreamDuration  Histogram

	// Operation metrics
	CreateLatency Histogram
	CloseLatency  Histogram
	CreateFailed  Counter
	CloseFailed   Counter
	OtherFailed   Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions or NewPrometheusFactory elsewhere.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		AccountOpened:  factory.Counter("escrow.account.opened"),
		DepositCount:   factory.Counter("escrow.deposit.count"),
		DepositVolume:  factory.Counter("escrow.deposit.volume"),
		DepositAmounts: factory.Histogram("escrow.deposit.amount"),

		StreamCreated:   factory.Counter("escrow.stream.created"),
		StreamClosed:    factory.Counter("escrow.stream.closed"),
		StreamDeposited: factory.Histogram("escrow.stream.deposit_amount"),
		StreamPayout:    factory.Histogram("escrow.stream.payout_amount"),
		StreamRefund:    factory.Histogram("escrow.stream.refund_amount"),
		StreamDuration:  factory.Histogram("escrow.stream.duration_seconds"),

		CreateLatency: factory.Histogram("escrow.stream.create.latency_ms"),
		CloseLatency:  factory.Histogram("escrow.stream.close.latency_ms"),
		CreateFailed:  factory.Counter("escrow.stream.create.failed"),
		CloseFailed:   factory.Counter("escrow.stream.close.failed"),
		OtherFailed:   factory.Counter("escrow.operation.failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

// OnAccountOpened implements plugin.OnAccountOpened.
func (m *MetricsExtension) OnAccountOpened(_ context.Context, _ *token.Account) error {
	m.AccountOpened.Inc()
	return nil
}

// OnDeposit implements plugin.OnDeposit.
func (m *MetricsExtension) OnDeposit(_ context.Context, _ solana.PublicKey, amount uint64) error {
	m.DepositCount.Inc()
	m.DepositVolume.Add(float64(amount))
	m.DepositAmounts.Observe(float64(amount))
	return nil
}

// ──────────────────────────────────────────────────
// Stream hooks
// ──────────────────────────────────────────────────

// OnStreamCreated implements plugin.OnStreamCreated.
func (m *MetricsExtension) OnStreamCreated(_ context.Context, s *stream.Stream) error {
	m.StreamCreated.Inc()
	m.StreamDeposited.Observe(float64(s.TotalDeposit))
	return nil
}

// OnStreamClosed implements plugin.OnStreamClosed.
func (m *MetricsExtension) OnStreamClosed(_ context.Context, stl *settlement.Settlement) error {
	m.StreamClosed.Inc()
	m.StreamPayout.Observe(float64(stl.Payout))
	m.StreamRefund.Observe(float64(stl.Refund))
	m.StreamDuration.Observe(float64(stl.Elapsed))
	return nil
}

// ──────────────────────────────────────────────────
// Operation hooks
// ──────────────────────────────────────────────────

// OnOperationCompleted implements plugin.OnOperationCompleted.
func (m *MetricsExtension) OnOperationCompleted(_ context.Context, op string, elapsed time.Duration) error {
	switch op {
	case plugin.OpCreateStream:
		m.CreateLatency.Observe(float64(elapsed.Milliseconds()))
	case plugin.OpCloseStream:
		m.CloseLatency.Observe(float64(elapsed.Milliseconds()))
	}
	return nil
}

// OnOperationFailed implements plugin.OnOperationFailed.
func (m *MetricsExtension) OnOperationFailed(_ context.Context, op string, _ solana.PublicKey, _ error) error {
	switch op {
	case plugin.OpCreateStream:
		m.CreateFailed.Inc()
	case plugin.OpCloseStream:
		m.CloseFailed.Inc()
	default:
		m.OtherFailed.Inc()
	}
	return nil
}
