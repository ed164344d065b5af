// Package agent runs the per-agent autonomous decision loops. Each agent is
// configuration-driven: an instruction, an entity list, and a model
// reference, with the loop itself shared by all agents.
package agent

import (
	"context"
	"time"

	"github.com/castellan/castellan/pkg/approval"
	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/tools"
)

// Status is an agent's lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusDeciding     Status = "deciding"
	StatusError        Status = "error"
)

// Action is one tool invocation proposed by the model.
type Action struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`

	// ImpactLevel optionally overrides the decision-level impact for this
	// action.
	ImpactLevel approval.ImpactLevel `json:"impact_level,omitempty"`
}

// Decision is one cycle's outcome: reasoning plus zero or more actions.
type Decision struct {
	AgentID     string               `json:"agent_id"`
	Reasoning   string               `json:"reasoning"`
	Actions     []Action             `json:"actions"`
	Confidence  float64              `json:"confidence,omitempty"`
	ImpactLevel approval.ImpactLevel `json:"impact_level,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// ActionImpact resolves the effective impact of one action: the action's own
// level when present, otherwise the decision's.
func (d Decision) ActionImpact(a Action) approval.ImpactLevel {
	if a.ImpactLevel.Valid() {
		return a.ImpactLevel
	}
	if d.ImpactLevel.Valid() {
		return d.ImpactLevel
	}
	return approval.ImpactLow
}

// ExecutionResult pairs an action with its tool result.
type ExecutionResult struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Result     tools.Result   `json:"result"`
}

// StatusUpdate is broadcast to subscribers on every status change.
type StatusUpdate struct {
	AgentID    string    `json:"agent_id"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	LastActive time.Time `json:"last_active"`
}

// Subscriber receives status updates. Must not block.
type Subscriber func(StatusUpdate)

// ProgressSink receives each agent's latest decision; the orchestrator's
// progress ledger implements it.
type ProgressSink interface {
	Record(d Decision)
}

// StateBus is the slice of the device-bus client the context gather needs.
type StateBus interface {
	GetState(ctx context.Context, entityID string) (*bus.EntityState, error)
	GetStates(ctx context.Context) ([]bus.EntityState, error)
}

// EntityFinder resolves an instruction to relevant entity ids; the knowledge
// store implements it.
type EntityFinder interface {
	SearchEntities(ctx context.Context, query string, topK int) ([]string, error)
}
