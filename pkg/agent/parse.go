package agent

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/castellan/castellan/pkg/approval"
	"github.com/castellan/castellan/pkg/llms"
)

// ParseDecision turns raw model output into a Decision. Parse failures never
// propagate: the cycle continues with an empty action list and the failure
// recorded as the reasoning.
func ParseDecision(agentID, text string) Decision {
	d := Decision{AgentID: agentID, Timestamp: time.Now()}

	raw, err := llms.ExtractJSON(text)
	if err != nil {
		d.Reasoning = "parse failure"
		return d
	}

	var payload struct {
		Reasoning   string           `json:"reasoning"`
		Actions     []map[string]any `json:"actions"`
		Confidence  float64          `json:"confidence"`
		ImpactLevel string           `json:"impact_level"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		d.Reasoning = "parse failure"
		return d
	}

	d.Reasoning = payload.Reasoning
	if d.Reasoning == "" {
		d.Reasoning = "No reasoning provided"
	}
	d.Confidence = payload.Confidence
	if lvl, err := approval.ParseImpactLevel(payload.ImpactLevel); err == nil {
		d.ImpactLevel = lvl
	}

	for _, raw := range payload.Actions {
		if a, ok := normaliseAction(raw); ok {
			d.Actions = append(d.Actions, a)
		}
	}
	return d
}

// normaliseAction accepts both the canonical {tool, parameters} shape and
// the legacy {service, entity_id, data} shape, mapping the latter onto
// call_service. Actions without a resolvable tool name are dropped.
func normaliseAction(raw map[string]any) (Action, bool) {
	var a Action

	if tool, _ := raw["tool"].(string); tool != "" {
		a.Tool = tool
		a.Parameters, _ = raw["parameters"].(map[string]any)
		if a.Parameters == nil {
			a.Parameters = map[string]any{}
		}
	} else if svc, _ := raw["service"].(string); svc != "" {
		a.Tool = "call_service"
		a.Parameters = legacyServiceParams(svc, raw)
	} else {
		return Action{}, false
	}

	if lvlStr, _ := raw["impact_level"].(string); lvlStr != "" {
		if lvl, err := approval.ParseImpactLevel(lvlStr); err == nil {
			a.ImpactLevel = lvl
		}
	}
	return a, true
}

func legacyServiceParams(svc string, raw map[string]any) map[string]any {
	params := map[string]any{}
	if p, ok := raw["parameters"].(map[string]any); ok {
		for k, v := range p {
			params[k] = v
		}
	}

	if domain, service, found := strings.Cut(svc, "."); found {
		params["domain"] = domain
		params["service"] = service
	} else {
		params["service"] = svc
		if d, _ := raw["domain"].(string); d != "" {
			params["domain"] = d
		}
	}
	if id, _ := raw["entity_id"].(string); id != "" {
		params["entity_id"] = id
	}
	if data, ok := raw["data"].(map[string]any); ok {
		params["service_data"] = data
	} else if data, ok := raw["service_data"].(map[string]any); ok {
		params["service_data"] = data
	}
	return params
}
