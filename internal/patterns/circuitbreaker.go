package patterns

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashendes/payment-relay/internal/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker refuses calls
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerWrapper wraps gobreaker with metrics
type CircuitBreakerWrapper struct {
	*gobreaker.CircuitBreaker
	name    string
	service string
}

// BreakerSettings tunes a circuit breaker. Zero values fall back to defaults.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings returns the settings used for zero values
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{}.withDefaults()
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = 15 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.MinRequests == 0 {
		s.MinRequests = 5
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}
	return s
}

// NewCircuitBreaker creates a new circuit breaker with Prometheus metrics
func NewCircuitBreaker(name, service string, settings BreakerSettings) *CircuitBreakerWrapper {
	settings = settings.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(cbName string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(service, cbName).Set(stateValue(to))

			log.WithFields(log.Fields{
				"circuit": cbName,
				"from":    from.String(),
				"to":      to.String(),
			}).Info("Circuit breaker state changed")
		},
	})

	wrapper := &CircuitBreakerWrapper{
		CircuitBreaker: cb,
		name:           name,
		service:        service,
	}

	metrics.CircuitBreakerState.WithLabelValues(service, name).Set(0)

	return wrapper
}

// Execute runs a function through the circuit breaker with metrics
func (cb *CircuitBreakerWrapper) Execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cb.CircuitBreaker.Execute(fn)

	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(cb.service, cb.name).Inc()
	}

	return result, FormatError(cb.name, err)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreakerWrapper) GetState() string {
	return cb.State().String()
}

// GetStateValue returns numeric value for the state (0=closed, 1=open, 2=half-open)
func (cb *CircuitBreakerWrapper) GetStateValue() int {
	return int(stateValue(cb.State()))
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return -1
	}
}

// FormatError translates gobreaker's refusals into ErrCircuitOpen and passes
// every other error through untouched
func FormatError(circuitName string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("circuit breaker %s is open: %w", circuitName, ErrCircuitOpen)
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("circuit breaker %s: too many requests in half-open state: %w", circuitName, ErrCircuitOpen)
	}
	return err
}
