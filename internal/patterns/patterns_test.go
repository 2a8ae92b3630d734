package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestBulkheadRejectsWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBulkhead(1, "relay", "test").WithAcquireTimeout(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("Expected ErrBulkheadFull, got %v", err)
	}

	close(release)
}

func TestBulkheadPassesThroughResult(t *testing.T) {
	t.Parallel()

	b := NewBulkhead(2, "relay", "test")
	want := errors.New("downstream")

	if err := b.Execute(context.Background(), func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Expected downstream error, got %v", err)
	}
	if err := b.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestBulkheadHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	b := NewBulkhead(1, "relay", "test").WithAcquireTimeout(time.Second)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("provider-open-test", "test", BreakerSettings{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(func() (interface{}, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("Expected boom, got %v", err)
		}
	}

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if cb.GetStateValue() != 1 {
		t.Errorf("Expected state value 1, got %d", cb.GetStateValue())
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	if err := FormatError("x", gobreaker.ErrTooManyRequests); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	other := errors.New("other")
	if err := FormatError("x", other); err != other {
		t.Errorf("Expected passthrough, got %v", err)
	}
	if FormatError("x", nil) != nil {
		t.Error("Expected nil passthrough")
	}
}

func TestWithTimeoutKeepsEarlierDeadline(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ctx, cancel2 := WithTimeout(parent)
	defer cancel2()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("Expected a deadline")
	}
	if time.Until(deadline) > 2*time.Second {
		t.Errorf("Expected parent deadline to be kept, got %v", time.Until(deadline))
	}

	ctx3, cancel3 := WithTimeout(context.Background())
	defer cancel3()
	if d, ok := ctx3.Deadline(); !ok || time.Until(d) > DefaultTimeout {
		t.Error("Expected DefaultTimeout deadline")
	}
}
