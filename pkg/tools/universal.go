package tools

import (
	"context"
	"fmt"

	"github.com/castellan/castellan/pkg/config"
)

// CallServiceTool is the universal escape hatch: it can call any service on
// the device bus, so every call runs a safety pipeline first. The checks
// apply in order and the first failure wins:
//
//  1. blocklist — domains that execute arbitrary code are rejected outright;
//  2. allowlist — anything outside the controllable surface is rejected;
//  3. high-impact routing — listed services become approval requests and
//     never reach the bus directly;
//  4. cross-validation — calls that shadow a specialised tool must satisfy
//     that tool's bounds too.
type CallServiceTool struct {
	bus      ServiceBus
	approver Approver
	safety   *Safety
	climate  config.ClimateConfig
}

func NewCallServiceTool(b ServiceBus, approver Approver, safety *Safety, climate config.ClimateConfig) *CallServiceTool {
	return &CallServiceTool{bus: b, approver: approver, safety: safety, climate: climate}
}

func (t *CallServiceTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "call_service",
		Description: "Call any device-bus service on an entity",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "domain", Type: "string", Description: "Service domain (e.g. light, switch)", Required: true},
			{Name: "service", Type: "string", Description: "Service name (e.g. turn_on, toggle)", Required: true},
			{Name: "entity_id", Type: "string", Description: "Target entity ID", Required: true},
			{Name: "service_data", Type: "object", Description: "Additional service parameters"},
		},
	}
}

func (t *CallServiceTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	domain := args.String("domain")
	service := args.String("service")
	entityID := args.String("entity_id")
	serviceData := args.Object("service_data")

	if t.safety.Blocked(domain) {
		return Errorf("Domain '%s' is blocked for security reasons", domain)
	}
	if !t.safety.Allowed(domain) {
		return Errorf("Domain '%s' is not in the allowed list of controllable domains", domain)
	}
	if t.safety.HighImpact(domain, service) {
		message := fmt.Sprintf("Service %s.%s requires manual approval", domain, service)
		return queueForApproval(t.approver, inv.AgentID, domain+"."+service,
			map[string]any{"domain": domain, "service": service, "entity_id": entityID, "service_data": serviceData},
			message)
	}
	if err := t.crossValidate(domain, service, serviceData); err != nil {
		return Errorf("Safety validation failed: %v", err)
	}

	callData := map[string]any{}
	for k, v := range serviceData {
		callData[k] = v
	}
	if entityID != "" && entityID != "none" {
		callData["entity_id"] = entityID
	}

	if inv.DryRun {
		return Result{
			"action": "call_service", "domain": domain, "service": service,
			"data": callData, "executed": false, "dry_run": true,
		}
	}
	if _, err := t.bus.CallService(ctx, domain, service, callData); err != nil {
		return Errorf("service call failed: %v", err)
	}
	return Result{
		"action": "call_service", "domain": domain, "service": service,
		"data": callData, "executed": true,
	}
}

// crossValidate re-applies the specialised tools' bounds when the generic
// call shadows one of them.
func (t *CallServiceTool) crossValidate(domain, service string, data map[string]any) error {
	if domain == "climate" && service == "set_temperature" {
		temp, ok := Args(data).Float("temperature")
		if !ok {
			return fmt.Errorf("temperature is required for climate.set_temperature")
		}
		if temp < t.climate.MinTemp || temp > t.climate.MaxTemp {
			return fmt.Errorf("temperature %.1f°C outside allowed range %g-%g°C", temp, t.climate.MinTemp, t.climate.MaxTemp)
		}
	}
	if domain == "light" {
		if pct, ok := Args(data).Float("brightness_pct"); ok && (pct < 0 || pct > 100) {
			return fmt.Errorf("brightness_pct %.0f outside allowed range 0-100", pct)
		}
	}
	return nil
}
