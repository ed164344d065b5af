// Package tools is the action surface agents act through. Every tool carries
// a schema validated before its handler runs, mutating tools honour the
// registry's dry-run flag, and the universal call_service tool funnels
// through a safety pipeline before it may reach the device bus.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/castellan/castellan/pkg/approval"
	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/knowledge"
)

// ToolParameter describes one schema parameter.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// ToolInfo is the metadata surfaced to models in the prompt.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`

	// Mutating tools honour the registry's dry-run flag; read-only tools
	// ignore it.
	Mutating bool `json:"-"`
}

// Invocation carries per-call context into a handler.
type Invocation struct {
	AgentID string
	DryRun  bool
}

// Args is the raw argument map from a parsed decision.
type Args map[string]any

func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func (a Args) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

func (a Args) Object(key string) map[string]any {
	m, _ := a[key].(map[string]any)
	return m
}

// Result is a tool's dictionary-shaped outcome, written verbatim into the
// decision log and handed back to the model on the next cycle.
type Result map[string]any

func (r Result) Err() string {
	s, _ := r["error"].(string)
	return s
}

func (r Result) Executed() bool {
	b, _ := r["executed"].(bool)
	return b
}

func (r Result) Queued() bool {
	s, _ := r["status"].(string)
	return s == "queued_for_approval"
}

// Errorf builds an error result; executed is always false.
func Errorf(format string, args ...any) Result {
	return Result{"error": fmt.Sprintf(format, args...), "executed": false}
}

// Tool is a named, schema-carrying action.
type Tool interface {
	Info() ToolInfo
	Execute(ctx context.Context, inv Invocation, args Args) Result
}

// ServiceBus is the slice of the device-bus client the tool layer needs.
type ServiceBus interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error)
	GetState(ctx context.Context, entityID string) (*bus.EntityState, error)
	ClimateState(ctx context.Context, entityID string) (*bus.ClimateState, error)
}

// Approver enqueues high-impact actions for human review.
type Approver interface {
	AddRequest(agentID, actionType string, actionData map[string]any, impact approval.ImpactLevel, reason string, timeout time.Duration) (*approval.Request, error)
}

// Searcher is the knowledge store behind the search_knowledge tool.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Result, error)
}
