package agent

import (
	"testing"

	"github.com/castellan/castellan/pkg/approval"
)

func TestParseDecisionCanonical(t *testing.T) {
	d := ParseDecision("heating", `{
		"reasoning": "too cold",
		"actions": [{"tool": "set_temperature", "parameters": {"entity_id": "climate.bedroom", "temperature": 21.0}}],
		"confidence": 0.8,
		"impact_level": "low"
	}`)

	if d.Reasoning != "too cold" {
		t.Errorf("unexpected reasoning: %q", d.Reasoning)
	}
	if len(d.Actions) != 1 || d.Actions[0].Tool != "set_temperature" {
		t.Fatalf("unexpected actions: %+v", d.Actions)
	}
	if d.Actions[0].Parameters["entity_id"] != "climate.bedroom" {
		t.Errorf("parameters lost: %+v", d.Actions[0].Parameters)
	}
	if d.ImpactLevel != approval.ImpactLow {
		t.Errorf("unexpected impact: %s", d.ImpactLevel)
	}
}

func TestParseDecisionMarkdownFence(t *testing.T) {
	d := ParseDecision("heating", "```json\n{\"reasoning\": \"ok\", \"actions\": []}\n```")
	if d.Reasoning != "ok" {
		t.Errorf("fenced JSON not parsed: %+v", d)
	}
	if len(d.Actions) != 0 {
		t.Errorf("expected no actions, got %+v", d.Actions)
	}
}

func TestParseDecisionCommentsAndTrailingCommas(t *testing.T) {
	d := ParseDecision("heating", `{
		// the model annotated its output
		"reasoning": "commented",
		"actions": [],
	}`)
	if d.Reasoning != "commented" {
		t.Errorf("comment/trailing-comma cleanup failed: %+v", d)
	}
}

func TestParseDecisionLegacyService(t *testing.T) {
	d := ParseDecision("lighting", `{
		"reasoning": "legacy shape",
		"actions": [{"service": "light.turn_on", "entity_id": "light.hall", "data": {"brightness_pct": 40}}]
	}`)

	if len(d.Actions) != 1 {
		t.Fatalf("expected 1 action, got %+v", d.Actions)
	}
	a := d.Actions[0]
	if a.Tool != "call_service" {
		t.Errorf("legacy service not mapped to call_service: %+v", a)
	}
	if a.Parameters["domain"] != "light" || a.Parameters["service"] != "turn_on" {
		t.Errorf("service not split into domain/service: %+v", a.Parameters)
	}
	if a.Parameters["entity_id"] != "light.hall" {
		t.Errorf("entity_id lost: %+v", a.Parameters)
	}
	if sd, ok := a.Parameters["service_data"].(map[string]any); !ok || sd["brightness_pct"] != 40.0 {
		t.Errorf("data not mapped to service_data: %+v", a.Parameters)
	}
}

func TestParseDecisionDropsActionsWithoutTool(t *testing.T) {
	d := ParseDecision("heating", `{
		"reasoning": "mixed",
		"actions": [{"parameters": {"x": 1}}, {"tool": "log", "parameters": {"message": "hi"}}]
	}`)
	if len(d.Actions) != 1 || d.Actions[0].Tool != "log" {
		t.Errorf("invalid action not dropped: %+v", d.Actions)
	}
}

func TestParseDecisionFailure(t *testing.T) {
	d := ParseDecision("heating", "I cannot decide right now.")
	if d.Reasoning != "parse failure" {
		t.Errorf("expected parse failure reasoning, got %q", d.Reasoning)
	}
	if len(d.Actions) != 0 {
		t.Errorf("parse failure must yield no actions, got %+v", d.Actions)
	}
	if d.AgentID != "heating" {
		t.Errorf("agent id lost: %q", d.AgentID)
	}
}

func TestActionImpactResolution(t *testing.T) {
	d := Decision{ImpactLevel: approval.ImpactMedium}
	if got := d.ActionImpact(Action{}); got != approval.ImpactMedium {
		t.Errorf("expected decision impact, got %s", got)
	}
	if got := d.ActionImpact(Action{ImpactLevel: approval.ImpactHigh}); got != approval.ImpactHigh {
		t.Errorf("per-action impact should win, got %s", got)
	}
	if got := (Decision{}).ActionImpact(Action{}); got != approval.ImpactLow {
		t.Errorf("default impact should be low, got %s", got)
	}
}
