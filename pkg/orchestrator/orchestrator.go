package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/castellan/pkg/agent"
	"github.com/castellan/castellan/pkg/approval"
	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/decisionlog"
	"github.com/castellan/castellan/pkg/llms"
	"github.com/castellan/castellan/pkg/metrics"
	"github.com/castellan/castellan/pkg/tools"
)

// snapshotCap bounds the home-state slice shown to the planning model.
const snapshotCap = 60

// logAgentID is the decision-log shard the orchestrator writes under.
const logAgentID = "orchestrator"

// Orchestrator owns the task and progress ledgers and runs the planning
// cycle.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	bus       agent.StateBus
	providers *llms.ProviderRegistry
	tools     *tools.Registry
	agents    *agent.Manager
	approver  tools.Approver
	log       *decisionlog.Log

	progress *ProgressLedger
	taskLog  *TaskLedger
	cycle    int
}

func New(cfg config.OrchestratorConfig, b agent.StateBus, providers *llms.ProviderRegistry, reg *tools.Registry, agents *agent.Manager, approver tools.Approver, log *decisionlog.Log) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		bus:       b,
		providers: providers,
		tools:     reg,
		agents:    agents,
		approver:  approver,
		log:       log,
		progress:  NewProgressLedger(),
		taskLog:   NewTaskLedger(cfg.LedgerRetain),
	}
}

// Progress exposes the progress ledger so agents can be wired to it.
func (o *Orchestrator) Progress() *ProgressLedger {
	return o.progress
}

// Tasks exposes the task ledger for the status surface.
func (o *Orchestrator) Tasks() []Task {
	return o.taskLog.Tasks()
}

// Run executes planning cycles every planning interval until the context is
// cancelled. A failed cycle is logged and the loop resumes after a short
// back-off; it never unwinds the process.
func (o *Orchestrator) Run(ctx context.Context) {
	slog.Info("Orchestrator started", "interval", o.cfg.PlanningInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.PlanningInterval):
		}
		if _, err := o.RunCycle(ctx); err != nil {
			slog.Error("Orchestrator cycle failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
		}
	}
}

// RunCycle executes one pass of the pipeline: plan, distribute,
// wait_for_agents, aggregate, resolve_conflicts, approval_gate, execute.
func (o *Orchestrator) RunCycle(ctx context.Context) (*State, error) {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("orchestrator").Observe(time.Since(start).Seconds())
	}()

	o.cycle++
	state := &State{Cycle: o.cycle, StartedAt: start}

	home, err := o.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("home snapshot failed: %w", err)
	}
	state.Home = home

	// plan + distribute. Planning is advisory; a failed plan does not stop
	// the cycle, the agents keep acting on their own loops.
	tasks, err := o.plan(ctx, state)
	if err != nil {
		slog.Warn("Planning failed, continuing without tasks", "error", err)
	}
	state.Tasks = tasks
	o.taskLog.Append(tasks...)

	o.waitForAgents(ctx, state.StartedAt)

	state.Decisions = o.progress.Snapshot()
	resolveConflicts(state)
	o.approvalGate(state)

	// Terminal conditional: nothing approved, nothing to execute.
	if len(state.Approved) > 0 {
		o.execute(ctx, state)
	}

	o.taskLog.Prune()
	o.logCycle(state)

	slog.Info("Orchestrator cycle completed", "cycle", state.Cycle,
		"tasks", len(state.Tasks), "conflicts", len(state.Conflicts),
		"approved", len(state.Approved), "escalated", len(state.RequiresApproval))
	return state, nil
}

// snapshot returns the controllable subset of the entity registry, capped.
func (o *Orchestrator) snapshot(ctx context.Context) ([]bus.EntityState, error) {
	all, err := o.bus.GetStates(ctx)
	if err != nil {
		return nil, err
	}
	controllable := tools.NewSafety(config.SafetyConfig{})
	out := make([]bus.EntityState, 0, snapshotCap)
	for _, s := range all {
		if s.Domain() == "input_boolean" || controllable.Allowed(s.Domain()) {
			out = append(out, s)
			if len(out) >= snapshotCap {
				break
			}
		}
	}
	return out, nil
}

// plan prompts the planning model with the home snapshot and the agent
// catalogue, expecting {"tasks": [{"agent_id", "description"}]}.
func (o *Orchestrator) plan(ctx context.Context, state *State) ([]Task, error) {
	agentIDs := o.agents.IDs()
	if len(agentIDs) == 0 {
		return nil, nil
	}

	prompt := o.planPrompt(state, agentIDs)
	provider := o.providers.Default()
	resp, err := provider.Chat(ctx, o.cfg.Model, []llms.Message{llms.UserMessage(prompt)}, &llms.ChatOptions{
		Temperature: 0.2,
		MaxTokens:   800,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	raw, err := llms.ExtractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("plan output not parseable: %w", err)
	}
	var payload struct {
		Tasks []struct {
			AgentID     string         `json:"agent_id"`
			Description string         `json:"description"`
			Priority    string         `json:"priority"`
			Context     map[string]any `json:"context"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("plan output malformed: %w", err)
	}

	known := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		known[id] = true
	}
	var tasks []Task
	for _, t := range payload.Tasks {
		if !known[t.AgentID] || strings.TrimSpace(t.Description) == "" {
			continue
		}
		priority, err := approval.ParseImpactLevel(t.Priority)
		if err != nil {
			priority = approval.ImpactMedium
		}
		tasks = append(tasks, Task{
			ID:          uuid.NewString(),
			AgentID:     t.AgentID,
			Description: t.Description,
			Priority:    priority,
			Context:     t.Context,
			CreatedAt:   time.Now(),
		})
	}
	return tasks, nil
}

func (o *Orchestrator) planPrompt(state *State, agentIDs []string) string {
	var b strings.Builder
	b.WriteString("You coordinate a set of home-automation agents. Review the home state and suggest tasks for agents that should act.\n\n")
	b.WriteString("# AGENTS\n")
	for _, id := range agentIDs {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	b.WriteString("\n# HOME STATE\n")
	for _, s := range state.Home {
		fmt.Fprintf(&b, "- %s: %s\n", s.EntityID, s.State)
	}
	fmt.Fprintf(&b, "\n# TIME\n%s (%s)\n\n", state.StartedAt.Format("2006-01-02 15:04:05"), agent.TimeOfDay(state.StartedAt))
	b.WriteString(`Respond with a JSON object: {"tasks": [{"agent_id": string, "description": string, "priority": "low"|"medium"|"high"|"critical"}]}. Only use agent ids from the AGENTS list. Return an empty tasks array when nothing needs coordination.`)
	b.WriteString("\n")
	return b.String()
}

// waitForAgents polls the progress ledger until every running agent has a
// decision from this cycle or the bounded wait elapses. Best effort, not a
// barrier: aggregate reads whatever is there afterwards.
func (o *Orchestrator) waitForAgents(ctx context.Context, since time.Time) {
	deadline := time.Now().Add(o.cfg.AgentWait)
	for time.Now().Before(deadline) {
		if o.progress.FreshSince(o.agents.IDs(), since) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// approvalGate splits actions by impact: low and medium pass, high and
// critical become approval requests.
func (o *Orchestrator) approvalGate(state *State) {
	for _, id := range sortedKeys(state.Decisions) {
		d := state.Decisions[id]
		for _, a := range d.Actions {
			impact := d.ActionImpact(a)
			if impact == approval.ImpactHigh || impact == approval.ImpactCritical {
				state.RequiresApproval = append(state.RequiresApproval, ApprovedAction{AgentID: id, Action: a})
				if o.approver != nil {
					if _, err := o.approver.AddRequest(id, a.Tool, a.Parameters, impact, d.Reasoning, 0); err != nil {
						slog.Error("Failed to escalate action", "agent", id, "tool", a.Tool, "error", err)
					}
				}
				continue
			}
			state.Approved = append(state.Approved, ApprovedAction{AgentID: id, Action: a})
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, state *State) {
	for _, aa := range state.Approved {
		res := o.tools.Execute(ctx, aa.AgentID, aa.Action.Tool, tools.Args(aa.Action.Parameters))
		state.Results = append(state.Results, agent.ExecutionResult{
			Tool:       aa.Action.Tool,
			Parameters: aa.Action.Parameters,
			Result:     res,
		})
	}
}

func (o *Orchestrator) logCycle(state *State) {
	if o.log == nil {
		return
	}
	ctxJSON, _ := json.Marshal(map[string]any{
		"cycle":    state.Cycle,
		"entities": len(state.Home),
		"tasks":    state.Tasks,
	})
	decJSON, _ := json.Marshal(map[string]any{
		"decisions": state.Decisions,
		"conflicts": state.Conflicts,
		"approved":  state.Approved,
		"escalated": state.RequiresApproval,
	})
	resJSON, _ := json.Marshal(state.Results)
	entry := decisionlog.Entry{
		Timestamp: time.Now(),
		Context:   ctxJSON,
		Decision:  decJSON,
		Results:   resJSON,
		DryRun:    o.tools.DryRun(),
	}
	if _, err := o.log.Append(logAgentID, entry); err != nil {
		slog.Error("Failed to write orchestrator cycle log", "error", err)
	}
}

func sortedKeys(m map[string]agent.Decision) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
