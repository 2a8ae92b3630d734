package models

import (
	"fmt"
	"strings"
)

// Status is the reconciled state of a transaction
type Status string

// Status constants
const (
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Provider-reported status strings
const (
	ProviderStatusSuccess   = "success"
	ProviderStatusFailed    = "failed"
	ProviderStatusAbandoned = "abandoned"
	ProviderStatusPending   = "pending"
)

// transitions lists the forward moves allowed out of each status.
// completed has no entry and is therefore absorbing.
var transitions = map[Status]map[Status]bool{
	StatusInitiated: {StatusPending: true, StatusCompleted: true, StatusFailed: true, StatusAbandoned: true},
	StatusPending:   {StatusCompleted: true, StatusFailed: true, StatusAbandoned: true},
	StatusFailed:    {StatusCompleted: true, StatusAbandoned: true},
	StatusAbandoned: {StatusCompleted: true, StatusFailed: true},
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusPending, StatusCompleted, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
// Same-status moves are not transitions and return false.
func (s Status) CanTransitionTo(next Status) bool {
	return transitions[s][next]
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a stored status value
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// StatusFromProvider maps a provider-reported status onto the local enum.
// Unrecognized values collapse to failed, which also swallows genuinely new
// provider states.
func StatusFromProvider(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ProviderStatusSuccess:
		return StatusCompleted
	case ProviderStatusFailed:
		return StatusFailed
	case ProviderStatusAbandoned:
		return StatusAbandoned
	case ProviderStatusPending, "ongoing", "processing", "queued":
		return StatusPending
	default:
		return StatusFailed
	}
}
