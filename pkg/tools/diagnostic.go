package tools

import (
	"context"
	"log/slog"
)

// LogTool records an observation. The registry's decision log already
// captures every invocation, so the handler only needs to acknowledge.
type LogTool struct{}

func NewLogTool() *LogTool { return &LogTool{} }

func (t *LogTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "log",
		Description: "Log a message or observation (useful for noting gaps or tracking logic)",
		Parameters: []ToolParameter{
			{Name: "message", Type: "string", Description: "Message to log", Required: true},
		},
	}
}

func (t *LogTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	message := args.String("message")
	slog.Info("Agent note", "agent", inv.AgentID, "message", message)
	return Result{"action": "log", "message": message, "logged": true}
}

// GetStateTool reads any entity's current state. Read-only, ignores dry-run.
type GetStateTool struct {
	bus ServiceBus
}

func NewGetStateTool(b ServiceBus) *GetStateTool {
	return &GetStateTool{bus: b}
}

func (t *GetStateTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "get_state",
		Description: "Get the current state and attributes of any entity",
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Entity ID", Required: true},
		},
	}
}

func (t *GetStateTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	state, err := t.bus.GetState(ctx, args.String("entity_id"))
	if err != nil {
		return Errorf("failed to read state: %v", err)
	}
	return Result{
		"entity_id":  state.EntityID,
		"state":      state.State,
		"attributes": state.Attributes,
	}
}
