package status

import (
	"fmt"
	"time"
)

// Scope names a catalog partition.
type Scope string

const (
	// ScopeStandard is the curated partition of models served by default
	ScopeStandard Scope = "standard"

	// ScopeAll is every model any provider lists
	ScopeAll Scope = "all"
)

// Scopes returns every tracked scope in a stable order.
func Scopes() []Scope {
	return []Scope{ScopeStandard, ScopeAll}
}

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch scope := Scope(s); scope {
	case ScopeStandard, ScopeAll:
		return scope, nil
	default:
		return "", fmt.Errorf("unknown scope %q: must be standard or all", s)
	}
}

// SyncState is the state of one catalog refresh.
type SyncState string

const (
	// SyncStateIdle means no refresh has run yet
	SyncStateIdle SyncState = "idle"

	// SyncStateQueued means a refresh was accepted and is about to start
	SyncStateQueued SyncState = "queued"

	// SyncStateRunning means a refresh is in progress
	SyncStateRunning SyncState = "running"

	// SyncStateSucceeded means the last refresh finished successfully
	SyncStateSucceeded SyncState = "succeeded"

	// SyncStateFailed means the last refresh failed or was interrupted
	SyncStateFailed SyncState = "failed"
)

// IsActive reports whether a refresh is queued or running.
func (s SyncState) IsActive() bool {
	return s == SyncStateQueued || s == SyncStateRunning
}

// SyncStatus is the tracked refresh state of a scope.
type SyncStatus struct {
	// Scope is the partition this status tracks
	Scope Scope `json:"scope"`

	// State is the current refresh state
	State SyncState `json:"state"`

	// Message carries the outcome of the last refresh, or why it failed
	Message string `json:"message,omitempty"`

	// StartedAt is when the current or last refresh started running
	StartedAt *time.Time `json:"startedAt,omitempty"`

	// FinishedAt is when the last refresh reached a terminal state
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// UpdatedAt is the time of the last state change
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of s.
func (s *SyncStatus) Clone() *SyncStatus {
	if s == nil {
		return nil
	}
	out := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
