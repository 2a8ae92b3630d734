package patterns

import (
	"context"
	"time"
)

// DefaultTimeout bounds every outbound call to the provider and the message relay
const DefaultTimeout = 10 * time.Second

// WithTimeout derives a context bounded by DefaultTimeout unless the parent
// already carries an earlier deadline
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) < DefaultTimeout {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, DefaultTimeout)
}
