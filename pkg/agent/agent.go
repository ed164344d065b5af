package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/decisionlog"
	"github.com/castellan/castellan/pkg/llms"
	"github.com/castellan/castellan/pkg/metrics"
	"github.com/castellan/castellan/pkg/tools"
)

const (
	defaultSettle = 5 * time.Second
	errorBackoff  = 10 * time.Second
)

// Deps are the shared backends every agent instance runs against.
type Deps struct {
	Bus       StateBus
	Tools     *tools.Registry
	Providers *llms.ProviderRegistry
	Finder    EntityFinder
	Log       *decisionlog.Log
	Ledger    ProgressSink

	// Settle overrides the start-up settle delay; zero means the default 5s.
	Settle time.Duration
}

// Instance is one running agent: its mutable configuration, its status, and
// its decision loop. Configuration updates take effect on the next cycle.
type Instance struct {
	deps Deps

	mu           sync.RWMutex
	cfg          config.AgentConfig
	status       Status
	lastDecision time.Time
	subscribers  []Subscriber
}

func NewInstance(cfg config.AgentConfig, deps Deps) *Instance {
	if deps.Settle == 0 {
		deps.Settle = defaultSettle
	}
	return &Instance{deps: deps, cfg: cfg, status: StatusInitializing}
}

func (a *Instance) ID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.ID
}

// Config returns a copy of the current configuration.
func (a *Instance) Config() config.AgentConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// UpdateConfig hot-reloads the configuration; the running loop picks it up
// at the start of its next cycle.
func (a *Instance) UpdateConfig(cfg config.AgentConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	slog.Info("Agent configuration reloaded", "agent", cfg.ID)
}

func (a *Instance) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Instance) LastDecision() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastDecision
}

// Subscribe registers a status listener. Listeners must not block.
func (a *Instance) Subscribe(sub Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers = append(a.subscribers, sub)
}

func (a *Instance) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	cfg := a.cfg
	subs := make([]Subscriber, len(a.subscribers))
	copy(subs, a.subscribers)
	a.mu.Unlock()

	update := StatusUpdate{AgentID: cfg.ID, Name: cfg.Name, Status: s, LastActive: time.Now()}
	for _, sub := range subs {
		sub(update)
	}
}

// Run is the decision loop: settle, then gather → decide → execute → log →
// notify, sleeping the decision interval between cycles. Any cycle error
// broadcasts an error status and backs off briefly; the loop only ends when
// the context is cancelled.
func (a *Instance) Run(ctx context.Context) {
	a.setStatus(StatusIdle)
	if !sleepCtx(ctx, a.deps.Settle) {
		return
	}
	slog.Info("Agent decision loop started", "agent", a.ID(), "interval", a.Config().Interval())

	for {
		if ctx.Err() != nil {
			return
		}
		if err := a.cycle(ctx); err != nil {
			a.setStatus(StatusError)
			slog.Error("Agent cycle failed", "agent", a.ID(), "error", err)
			if !sleepCtx(ctx, errorBackoff) {
				return
			}
			continue
		}
		a.setStatus(StatusIdle)
		if !sleepCtx(ctx, a.Config().Interval()) {
			return
		}
	}
}

func (a *Instance) cycle(ctx context.Context) error {
	cfg := a.Config()
	a.setStatus(StatusDeciding)

	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues("agent").Observe(time.Since(start).Seconds())
	}()

	c, err := gatherContext(ctx, cfg, a.deps.Bus, a.deps.Finder)
	if err != nil {
		return fmt.Errorf("gather failed: %w", err)
	}

	decision, err := a.decide(ctx, cfg, c)
	if err != nil {
		return fmt.Errorf("decide failed: %w", err)
	}

	results := a.execute(ctx, decision)
	a.logDecision(cfg.ID, c, decision, results)

	if a.deps.Ledger != nil {
		a.deps.Ledger.Record(decision)
	}

	a.mu.Lock()
	a.lastDecision = time.Now()
	a.mu.Unlock()

	slog.Info("Agent cycle completed", "agent", cfg.ID, "actions", len(decision.Actions))
	return nil
}

// decide prompts the model and parses the response. Provider failures
// propagate (they fail the cycle); parse failures do not.
func (a *Instance) decide(ctx context.Context, cfg config.AgentConfig, c Context) (Decision, error) {
	provider := a.deps.Providers.Default()
	prompt := BuildPrompt(cfg, c, a.deps.Tools.Schemas())

	resp, err := provider.Chat(ctx, cfg.Model, []llms.Message{llms.UserMessage(prompt)}, &llms.ChatOptions{
		Temperature: 0.3,
		MaxTokens:   1000,
		JSONMode:    true,
	})
	if err != nil {
		return Decision{}, err
	}
	return ParseDecision(cfg.ID, resp.Content), nil
}

// execute runs every action through the tool registry. Individual failures
// land in the results; an empty action list performs no invocations.
func (a *Instance) execute(ctx context.Context, d Decision) []ExecutionResult {
	results := make([]ExecutionResult, 0, len(d.Actions))
	for _, action := range d.Actions {
		res := a.deps.Tools.Execute(ctx, d.AgentID, action.Tool, tools.Args(action.Parameters))
		results = append(results, ExecutionResult{
			Tool:       action.Tool,
			Parameters: action.Parameters,
			Result:     res,
		})
	}
	return results
}

func (a *Instance) logDecision(agentID string, c Context, d Decision, results []ExecutionResult) {
	if a.deps.Log == nil {
		return
	}
	ctxJSON, _ := json.Marshal(c)
	decJSON, _ := json.Marshal(d)
	resJSON, _ := json.Marshal(results)
	entry := decisionlog.Entry{
		Timestamp: time.Now(),
		Context:   ctxJSON,
		Decision:  decJSON,
		Results:   resJSON,
		DryRun:    a.deps.Tools.DryRun(),
	}
	if _, err := a.deps.Log.Append(agentID, entry); err != nil {
		slog.Error("Failed to write decision log", "agent", agentID, "error", err)
	}
}

// sleepCtx sleeps for d or until the context is cancelled; returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
