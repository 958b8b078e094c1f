package plugin_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/settlement"
	"github.com/xraph/escrow/stream"
)

type recorder struct {
	name    string
	created atomic.Int32
	closed  atomic.Int32
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnStreamCreated(context.Context, *stream.Stream) error {
	r.created.Add(1)
	return nil
}

func (r *recorder) OnStreamClosed(context.Context, *settlement.Settlement) error {
	r.closed.Add(1)
	return errors.New("hook errors are logged, not returned")
}

type slowHook struct{}

func (slowHook) Name() string { return "slow" }

func (slowHook) OnStreamCreated(ctx context.Context, _ *stream.Stream) error {
	<-ctx.Done()
	return nil
}

type vetoRate struct{ max uint64 }

func (vetoRate) Name() string { return "veto-rate" }

var errRateTooHigh = errors.New("rate too high")

func (v vetoRate) ValidateOpening(_ context.Context, s *stream.Stream) error {
	if s.RatePerSecond > v.max {
		return errRateTooHigh
	}
	return nil
}

func TestRegisterDuplicate(t *testing.T) {
	r := plugin.NewRegistry()
	if err := r.Register(&recorder{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&recorder{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 plugin, got %d", r.Count())
	}
	if r.Get("a") == nil || r.Get("b") != nil {
		t.Error("Get returned the wrong plugin")
	}
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	r := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	if err := r.Register(rec); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(vetoRate{max: 10}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	r.EmitStreamCreated(ctx, &stream.Stream{})
	r.EmitStreamClosed(ctx, &settlement.Settlement{})
	r.EmitOperationCompleted(ctx, plugin.OpCloseStream, time.Millisecond)

	if got := rec.created.Load(); got != 1 {
		t.Errorf("expected 1 created event, got %d", got)
	}
	if got := rec.closed.Load(); got != 1 {
		t.Errorf("expected 1 closed event, got %d", got)
	}
}

func TestValidateOpening(t *testing.T) {
	r := plugin.NewRegistry()
	if err := r.Register(vetoRate{max: 10}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := r.ValidateOpening(ctx, &stream.Stream{RatePerSecond: 10}); err != nil {
		t.Fatalf("unexpected veto: %v", err)
	}
	if err := r.ValidateOpening(ctx, &stream.Stream{RatePerSecond: 11}); !errors.Is(err, errRateTooHigh) {
		t.Fatalf("expected errRateTooHigh, got %v", err)
	}
}

func TestHookTimeout(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(10 * time.Millisecond)
	if err := r.Register(slowHook{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.EmitStreamCreated(ctx, &stream.Stream{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EmitStreamCreated blocked past the hook timeout")
	}
}
