package models

import "fmt"

// AvailabilityState is the admission state of a credential.
type AvailabilityState int

const (
	// StateAvailable means the credential may serve any quota group.
	StateAvailable AvailabilityState = iota
	// StateExhausted means the credential ran out of quota for Availability.Group.
	StateExhausted
)

// Availability is a tagged state: Available, or Exhausted for one quota group.
// An empty Group means the credential is exhausted for every group.
type Availability struct {
	Group string
	State AvailabilityState
}

// Available returns the available state.
func Available() Availability {
	return Availability{State: StateAvailable}
}

// Exhausted returns the exhausted state for group ("" for all groups).
func Exhausted(group string) Availability {
	return Availability{State: StateExhausted, Group: group}
}

// IsAvailable reports whether the credential carries no exhaustion mark.
func (a Availability) IsAvailable() bool {
	return a.State == StateAvailable
}

// ExhaustedFor reports whether the credential is marked exhausted for exactly group.
func (a Availability) ExhaustedFor(group string) bool {
	return a.State == StateExhausted && a.Group == group
}

// ExhaustedAll reports whether the credential is exhausted for every group.
func (a Availability) ExhaustedAll() bool {
	return a.State == StateExhausted && a.Group == ""
}

func (a Availability) String() string {
	switch {
	case a.State == StateAvailable:
		return "available"
	case a.Group == "":
		return "exhausted"
	default:
		return "exhausted:" + a.Group
	}
}

// RotationStrategy selects how the pool advances between credentials.
type RotationStrategy string

const (
	// RoundRobin switches credential on every request.
	RoundRobin RotationStrategy = "round_robin"
	// QuotaExhausted stays on a credential until it runs out of quota.
	QuotaExhausted RotationStrategy = "quota_exhausted"
	// RequestCount switches after a fixed number of requests.
	RequestCount RotationStrategy = "request_count"
)

// Valid reports whether s is a known strategy.
func (s RotationStrategy) Valid() bool {
	switch s {
	case RoundRobin, QuotaExhausted, RequestCount:
		return true
	}
	return false
}

// ParseRotationStrategy validates a strategy name.
func ParseRotationStrategy(s string) (RotationStrategy, error) {
	strategy := RotationStrategy(s)
	if !strategy.Valid() {
		return "", fmt.Errorf("unknown rotation strategy %q", s)
	}
	return strategy, nil
}

// RotationConfig reports the live rotation state.
type RotationConfig struct {
	TokenCounts  map[string]int   `json:"tokenCounts"`
	Strategy     RotationStrategy `json:"strategy"`
	RequestCount int              `json:"requestCount"`
	CurrentIndex int              `json:"currentIndex"`
}
