// Package approval is the human-in-the-loop gate for high-impact actions.
// Requests are persisted in SQLite and resolved by auto-approval rules, an
// operator, or a per-request timeout.
package approval

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a request. Transitions are
// pending -> {approved, rejected, expired}; terminal states absorb
// further transitions.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// ImpactLevel classifies how consequential an action is. High and critical
// always require manual approval.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

func (l ImpactLevel) Valid() bool {
	switch l {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical:
		return true
	}
	return false
}

func ParseImpactLevel(s string) (ImpactLevel, error) {
	l := ImpactLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("invalid impact level %q", s)
	}
	return l, nil
}

// SystemResolver marks auto-approved requests.
const SystemResolver = "system"

// Request is one approval request as stored.
type Request struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	AgentID        string         `json:"agent_id"`
	ActionType     string         `json:"action_type"`
	ActionData     map[string]any `json:"action_data"`
	ImpactLevel    ImpactLevel    `json:"impact_level"`
	Reason         string         `json:"reason"`
	Status         Status         `json:"status"`
	Resolver       string         `json:"resolver,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// Event is delivered to subscribers when a request enters pending.
type Event struct {
	Type           string      `json:"type"`
	RequestID      string      `json:"request_id"`
	AgentID        string      `json:"agent_id"`
	ActionType     string      `json:"action_type"`
	ImpactLevel    ImpactLevel `json:"impact_level"`
	Reason         string      `json:"reason"`
	TimeoutSeconds int         `json:"timeout_seconds"`
}

// Callback receives pending-request notifications. Errors are logged and
// never propagate to the requester.
type Callback func(Event) error
