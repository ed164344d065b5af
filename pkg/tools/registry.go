package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/decisionlog"
	"github.com/castellan/castellan/pkg/metrics"
	"github.com/castellan/castellan/pkg/registry"
)

// Registry holds the tool catalogue, the shared dry-run flag, and the
// decision log. The catalogue is immutable after setup; dry-run is the only
// mutable field.
type Registry struct {
	*registry.BaseRegistry[Tool]
	log    *decisionlog.Log
	dryRun atomic.Bool
}

func NewRegistry(log *decisionlog.Log, dryRun bool) *Registry {
	r := &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
		log:          log,
	}
	r.dryRun.Store(dryRun)
	return r
}

// RegisterDefaults installs the full catalogue against the given backends.
func RegisterDefaults(r *Registry, b ServiceBus, approver Approver, search Searcher, safetyCfg config.SafetyConfig, climateCfg config.ClimateConfig) error {
	safety := NewSafety(safetyCfg)
	all := []Tool{
		NewSetTemperatureTool(b, climateCfg),
		NewSetHVACModeTool(b),
		NewGetClimateStateTool(b),
		NewTurnOnLightTool(b),
		NewTurnOffLightTool(b),
		NewSetBrightnessTool(b),
		NewSetColorTempTool(b),
		NewSetAlarmStateTool(b, approver),
		NewLockDoorTool(b),
		NewUnlockDoorTool(approver),
		NewEnableCameraTool(b),
		NewSearchKnowledgeTool(search),
		NewCallServiceTool(b, approver, safety, climateCfg),
		NewLogTool(),
		NewGetStateTool(b),
	}
	for _, t := range all {
		if err := r.Register(t.Info().Name, t); err != nil {
			return err
		}
	}
	return nil
}

// SetDryRun flips the shared dry-run flag; writes are infrequent and
// tolerate eventual visibility.
func (r *Registry) SetDryRun(v bool) {
	r.dryRun.Store(v)
	slog.Info("Dry-run mode changed", "dry_run", v)
}

func (r *Registry) DryRun() bool {
	return r.dryRun.Load()
}

// Schemas returns the catalogue metadata for prompt construction, sorted by
// tool name.
func (r *Registry) Schemas() []ToolInfo {
	ts := r.List()
	infos := make([]ToolInfo, 0, len(ts))
	for _, t := range ts {
		infos = append(infos, t.Info())
	}
	return infos
}

// Execute runs one tool invocation end to end: lookup, schema validation,
// handler, metrics, and exactly one decision-log entry — success, validation
// failure, and handler error alike.
func (r *Registry) Execute(ctx context.Context, agentID, name string, args Args) Result {
	inv := Invocation{AgentID: agentID, DryRun: r.DryRun()}

	var result Result
	tool, ok := r.Get(name)
	switch {
	case !ok:
		result = Errorf("Unknown tool: %s", name)
	default:
		if err := ValidateArgs(tool.Info(), args); err != nil {
			result = Errorf("Invalid arguments for %s: %v", name, err)
		} else {
			result = tool.Execute(ctx, inv, args)
		}
	}

	outcome := classify(result, inv)
	metrics.ToolInvocations.WithLabelValues(name, outcome).Inc()
	r.record(agentID, name, args, inv, result)

	if msg := result.Err(); msg != "" {
		slog.Warn("Tool invocation failed", "agent", agentID, "tool", name, "error", msg)
	} else {
		slog.Debug("Tool invocation", "agent", agentID, "tool", name, "outcome", outcome)
	}
	return result
}

func classify(res Result, inv Invocation) string {
	switch {
	case res.Err() != "":
		return "error"
	case res.Queued():
		return "queued"
	case inv.DryRun && !res.Executed():
		return "dry_run"
	case res.Executed():
		return "executed"
	}
	return "noop"
}

func (r *Registry) record(agentID, name string, args Args, inv Invocation, result Result) {
	if r.log == nil {
		return
	}
	call, _ := json.Marshal(map[string]any{"tool": name, "parameters": args})
	res, _ := json.Marshal(result)
	entry := decisionlog.Entry{
		Timestamp: time.Now(),
		Decision:  call,
		Results:   res,
		DryRun:    inv.DryRun,
		Error:     result.Err(),
	}
	if _, err := r.log.Append(agentID, entry); err != nil {
		slog.Error("Failed to write tool log entry", "agent", agentID, "tool", name, "error", err)
	}
}
