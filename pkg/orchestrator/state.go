// Package orchestrator runs the periodic planning cycle over the agents: it
// plans tasks, waits for agent decisions, resolves conflicts between them,
// splits actions by impact, and executes what passed the gate.
package orchestrator

import (
	"sync"
	"time"

	"github.com/castellan/castellan/pkg/agent"
	"github.com/castellan/castellan/pkg/approval"
	"github.com/castellan/castellan/pkg/bus"
)

// Task is one planning suggestion addressed to an agent. Tasks are advisory:
// the agent's own loop remains the actor.
type Task struct {
	ID          string               `json:"id"`
	AgentID     string               `json:"agent_id"`
	Description string               `json:"description"`
	Priority    approval.ImpactLevel `json:"priority"`
	Context     map[string]any       `json:"context,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// ConflictKind names a conflict rule.
type ConflictKind string

const (
	ConflictMutualExclusion  ConflictKind = "mutual_exclusion"
	ConflictSecurityPriority ConflictKind = "security_priority"
	ConflictAwayComfort      ConflictKind = "away_comfort"
)

// Conflict records one applied resolution for the cycle log.
type Conflict struct {
	Kind   ConflictKind `json:"kind"`
	Agents []string     `json:"agents"`
	Detail string       `json:"detail"`
}

// ApprovedAction is an action that passed the approval gate, still tagged
// with its originating agent.
type ApprovedAction struct {
	AgentID string       `json:"agent_id"`
	Action  agent.Action `json:"action"`
}

// State is one cycle's working value, threaded through the pipeline nodes.
type State struct {
	Cycle     int               `json:"cycle"`
	StartedAt time.Time         `json:"started_at"`
	Home      []bus.EntityState `json:"-"`

	Tasks            []Task                    `json:"tasks,omitempty"`
	Decisions        map[string]agent.Decision `json:"decisions,omitempty"`
	Conflicts        []Conflict                `json:"conflicts,omitempty"`
	Approved         []ApprovedAction          `json:"approved,omitempty"`
	RequiresApproval []ApprovedAction          `json:"requires_approval,omitempty"`
	Results          []agent.ExecutionResult   `json:"results,omitempty"`
}

// ProgressLedger is the shared mapping from agent id to that agent's most
// recent decision. Agents write into it via the agent.ProgressSink
// interface; the orchestrator reads whatever it holds at aggregate time.
type ProgressLedger struct {
	mu        sync.RWMutex
	decisions map[string]agent.Decision
}

func NewProgressLedger() *ProgressLedger {
	return &ProgressLedger{decisions: make(map[string]agent.Decision)}
}

// Record implements agent.ProgressSink.
func (l *ProgressLedger) Record(d agent.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions[d.AgentID] = d
}

// Snapshot returns a copy of the current mapping.
func (l *ProgressLedger) Snapshot() map[string]agent.Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]agent.Decision, len(l.decisions))
	for id, d := range l.decisions {
		out[id] = d
	}
	return out
}

// FreshSince reports whether every listed agent has a decision recorded at
// or after t.
func (l *ProgressLedger) FreshSince(agentIDs []string, t time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range agentIDs {
		d, ok := l.decisions[id]
		if !ok || d.Timestamp.Before(t) {
			return false
		}
	}
	return true
}

// TaskLedger accumulates planned tasks across cycles, pruned at cycle
// boundaries to the most recent N per agent.
type TaskLedger struct {
	mu     sync.Mutex
	tasks  []Task
	retain int
}

func NewTaskLedger(retain int) *TaskLedger {
	if retain <= 0 {
		retain = 100
	}
	return &TaskLedger{retain: retain}
}

func (l *TaskLedger) Append(tasks ...Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, tasks...)
}

// Tasks returns a copy of the ledger, oldest first.
func (l *TaskLedger) Tasks() []Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}

// Prune keeps only the newest retain tasks per agent. Called at cycle
// boundaries; there is no other backpressure on the ledger.
func (l *TaskLedger) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int)
	// Walk newest to oldest, keeping the first retain per agent.
	kept := make([]Task, 0, len(l.tasks))
	for i := len(l.tasks) - 1; i >= 0; i-- {
		t := l.tasks[i]
		if counts[t.AgentID] >= l.retain {
			continue
		}
		counts[t.AgentID]++
		kept = append(kept, t)
	}
	// Restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	l.tasks = kept
}
