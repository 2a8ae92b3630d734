package patterns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashendes/payment-relay/internal/metrics"
)

// ErrBulkheadFull is returned when no slot frees up within the acquire window
var ErrBulkheadFull = errors.New("bulkhead full")

// DefaultAcquireTimeout is how long Execute waits for a free slot
const DefaultAcquireTimeout = 1 * time.Second

// Bulkhead caps the number of concurrent calls into one dependency
type Bulkhead struct {
	semaphore      chan struct{}
	name           string
	service        string
	acquireTimeout time.Duration
}

// NewBulkhead creates a new bulkhead with specified capacity
func NewBulkhead(size int, name, service string) *Bulkhead {
	if size < 1 {
		size = 1
	}
	return &Bulkhead{
		semaphore:      make(chan struct{}, size),
		name:           name,
		service:        service,
		acquireTimeout: DefaultAcquireTimeout,
	}
}

// WithAcquireTimeout overrides how long callers wait for a slot
func (b *Bulkhead) WithAcquireTimeout(d time.Duration) *Bulkhead {
	b.acquireTimeout = d
	return b
}

// Execute runs fn once a slot is free, giving up after the acquire timeout
// or when ctx is done
func (b *Bulkhead) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	timer := time.NewTimer(b.acquireTimeout)
	defer timer.Stop()

	select {
	case b.semaphore <- struct{}{}:
		metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Inc()

		defer func() {
			<-b.semaphore
			metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Dec()
		}()

		return fn(ctx)

	case <-timer.C:
		metrics.BulkheadRejectedRequests.WithLabelValues(b.service, b.name).Inc()
		return fmt.Errorf("bulkhead %s: timeout acquiring resource: %w", b.name, ErrBulkheadFull)

	case <-ctx.Done():
		metrics.BulkheadRejectedRequests.WithLabelValues(b.service, b.name).Inc()
		return fmt.Errorf("bulkhead %s: %w", b.name, ctx.Err())
	}
}
