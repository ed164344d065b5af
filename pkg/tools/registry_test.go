package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/castellan/castellan/pkg/approval"
	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/decisionlog"
	"github.com/castellan/castellan/pkg/knowledge"
)

type serviceCall struct {
	domain  string
	service string
	data    map[string]any
}

type fakeBus struct {
	calls   []serviceCall
	climate map[string]*bus.ClimateState
	states  map[string]*bus.EntityState
}

func (f *fakeBus) CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, serviceCall{domain, service, data})
	return json.RawMessage(`{}`), nil
}

func (f *fakeBus) GetState(ctx context.Context, entityID string) (*bus.EntityState, error) {
	if s, ok := f.states[entityID]; ok {
		return s, nil
	}
	return nil, &bus.EntityNotFoundError{EntityID: entityID}
}

func (f *fakeBus) ClimateState(ctx context.Context, entityID string) (*bus.ClimateState, error) {
	if s, ok := f.climate[entityID]; ok {
		return s, nil
	}
	return nil, &bus.EntityNotFoundError{EntityID: entityID}
}

type fakeApprover struct {
	requests []*approval.Request
	fail     bool
}

func (f *fakeApprover) AddRequest(agentID, actionType string, data map[string]any, impact approval.ImpactLevel, reason string, timeout time.Duration) (*approval.Request, error) {
	if f.fail {
		return nil, fmt.Errorf("store unavailable")
	}
	req := &approval.Request{
		ID:          fmt.Sprintf("req-%d", len(f.requests)+1),
		AgentID:     agentID,
		ActionType:  actionType,
		ActionData:  data,
		ImpactLevel: impact,
		Reason:      reason,
		Status:      approval.StatusPending,
	}
	f.requests = append(f.requests, req)
	return req, nil
}

type fakeSearcher struct {
	hits []knowledge.Result
}

func (f *fakeSearcher) Search(ctx context.Context, query string, topK int) ([]knowledge.Result, error) {
	return f.hits, nil
}

type fixture struct {
	registry *Registry
	bus      *fakeBus
	approver *fakeApprover
	logDir   string
}

func newFixture(t *testing.T, dryRun bool) *fixture {
	t.Helper()
	b := &fakeBus{
		climate: map[string]*bus.ClimateState{},
		states:  map[string]*bus.EntityState{},
	}
	approver := &fakeApprover{}
	logDir := t.TempDir()

	var cfg config.Config
	cfg.SetDefaults()

	r := NewRegistry(decisionlog.New(logDir), dryRun)
	if err := RegisterDefaults(r, b, approver, &fakeSearcher{}, cfg.Safety, cfg.Climate); err != nil {
		t.Fatalf("RegisterDefaults failed: %v", err)
	}
	return &fixture{registry: r, bus: b, approver: approver, logDir: logDir}
}

func (f *fixture) logEntries(t *testing.T, agentID string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.logDir, agentID))
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("failed to read log dir: %v", err)
	}
	return len(entries)
}

func TestDryRunSetTemperature(t *testing.T) {
	f := newFixture(t, true)

	res := f.registry.Execute(context.Background(), "heating", "set_temperature",
		Args{"entity_id": "climate.bedroom", "temperature": 21.0})

	if res.Executed() {
		t.Error("dry-run must not execute")
	}
	if dr, _ := res["dry_run"].(bool); !dr {
		t.Errorf("expected dry_run true, got %v", res)
	}
	if len(f.bus.calls) != 0 {
		t.Errorf("device bus called in dry-run mode: %v", f.bus.calls)
	}
	if n := f.logEntries(t, "heating"); n != 1 {
		t.Errorf("expected exactly 1 log entry, got %d", n)
	}
}

func TestBlockedDomain(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "heating", "call_service",
		Args{"domain": "shell_command", "service": "run", "entity_id": "none"})

	if !strings.Contains(res.Err(), "blocked for security reasons") {
		t.Errorf("expected blocked error, got %v", res)
	}
	if res.Executed() {
		t.Error("blocked call must not execute")
	}
	if len(f.bus.calls) != 0 {
		t.Errorf("device bus reached for blocked domain: %v", f.bus.calls)
	}
}

func TestDomainOutsideAllowlist(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "heating", "call_service",
		Args{"domain": "dangerous_domain", "service": "do_something", "entity_id": "none"})

	if !strings.Contains(res.Err(), "not in the allowed list") {
		t.Errorf("expected allowlist error, got %v", res)
	}
	if len(f.bus.calls) != 0 {
		t.Errorf("device bus reached for unlisted domain: %v", f.bus.calls)
	}
}

func TestHighImpactServiceQueued(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "security", "call_service",
		Args{"domain": "lock", "service": "unlock", "entity_id": "lock.front"})

	if !res.Queued() {
		t.Fatalf("expected queued_for_approval, got %v", res)
	}
	if msg, _ := res["message"].(string); !strings.Contains(msg, "requires manual approval") {
		t.Errorf("unexpected message: %v", res)
	}
	if len(f.approver.requests) != 1 {
		t.Fatalf("expected exactly 1 approval request, got %d", len(f.approver.requests))
	}
	req := f.approver.requests[0]
	if req.ImpactLevel != approval.ImpactHigh {
		t.Errorf("expected high impact, got %s", req.ImpactLevel)
	}
	if req.Status != approval.StatusPending {
		t.Errorf("expected pending, got %s", req.Status)
	}
	if len(f.bus.calls) != 0 {
		t.Errorf("device bus reached for high-impact service: %v", f.bus.calls)
	}
}

func TestCrossValidationTemperature(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "heating", "call_service",
		Args{
			"domain": "climate", "service": "set_temperature",
			"entity_id":    "climate.living_room",
			"service_data": map[string]any{"temperature": 50.0},
		})

	if !strings.Contains(res.Err(), "Safety validation failed") {
		t.Errorf("expected safety validation error, got %v", res)
	}
	if len(f.bus.calls) != 0 {
		t.Errorf("device bus reached after failed cross-validation: %v", f.bus.calls)
	}
}

func TestCrossValidationPassThrough(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "lighting", "call_service",
		Args{
			"domain": "light", "service": "turn_on",
			"entity_id":    "light.living_room",
			"service_data": map[string]any{"brightness_pct": 50.0},
		})

	if res.Err() != "" {
		t.Fatalf("valid call failed: %v", res)
	}
	if !res.Executed() {
		t.Errorf("expected executed, got %v", res)
	}
	if len(f.bus.calls) != 1 {
		t.Fatalf("expected 1 service call, got %d", len(f.bus.calls))
	}
	if f.bus.calls[0].data["entity_id"] != "light.living_room" {
		t.Errorf("entity_id not merged into service data: %v", f.bus.calls[0])
	}
}

func TestUnknownTool(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "heating", "warp_drive", Args{})
	if !strings.Contains(res.Err(), "Unknown tool") {
		t.Errorf("expected unknown-tool error, got %v", res)
	}
	if len(f.bus.calls) != 0 {
		t.Error("unknown tool must have no side effects")
	}
	if n := f.logEntries(t, "heating"); n != 1 {
		t.Errorf("expected 1 log entry for unknown tool, got %d", n)
	}
}

func TestValidationFailureStillLogged(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "heating", "set_temperature",
		Args{"entity_id": "climate.bedroom"})

	if !strings.Contains(res.Err(), "temperature is required") {
		t.Errorf("expected missing-parameter error, got %v", res)
	}
	if n := f.logEntries(t, "heating"); n != 1 {
		t.Errorf("expected 1 log entry for validation failure, got %d", n)
	}
}

func TestTemperatureBounds(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for _, tc := range []struct {
		temp float64
		ok   bool
	}{
		{10.0, true},
		{30.0, true},
		{9.9, false},
		{30.1, false},
	} {
		f.bus.calls = nil
		res := f.registry.Execute(ctx, "heating", "set_temperature",
			Args{"entity_id": "climate.bedroom", "temperature": tc.temp})
		if tc.ok && res.Err() != "" {
			t.Errorf("temperature %.1f rejected: %v", tc.temp, res)
		}
		if !tc.ok && res.Err() == "" {
			t.Errorf("temperature %.1f accepted", tc.temp)
		}
	}
}

func TestTemperatureChangeLimit(t *testing.T) {
	f := newFixture(t, false)
	target := 20.0
	f.bus.climate["climate.bedroom"] = &bus.ClimateState{
		EntityID:          "climate.bedroom",
		TargetTemperature: &target,
	}

	res := f.registry.Execute(context.Background(), "heating", "set_temperature",
		Args{"entity_id": "climate.bedroom", "temperature": 23.01})
	if !strings.Contains(res.Err(), "too large") {
		t.Errorf("3.01 degree change should be rejected, got %v", res)
	}
	if len(f.bus.calls) != 0 {
		t.Error("device bus reached despite rejected change")
	}

	res = f.registry.Execute(context.Background(), "heating", "set_temperature",
		Args{"entity_id": "climate.bedroom", "temperature": 22.5})
	if res.Err() != "" {
		t.Errorf("2.5 degree change rejected: %v", res)
	}
	if !res.Executed() {
		t.Errorf("expected executed, got %v", res)
	}
}

func TestUnlockDoorAlwaysQueued(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "security", "unlock_door",
		Args{"entity_id": "lock.front_door"})

	if !res.Queued() {
		t.Fatalf("expected queued_for_approval, got %v", res)
	}
	if len(f.approver.requests) != 1 || f.approver.requests[0].ActionType != "unlock_door" {
		t.Errorf("unexpected approval requests: %+v", f.approver.requests)
	}
	if len(f.bus.calls) != 0 {
		t.Error("unlock must never reach the device bus directly")
	}
}

func TestDisarmQueuedArmExecutes(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res := f.registry.Execute(ctx, "security", "set_alarm_state",
		Args{"entity_id": "alarm_control_panel.home", "state": "disarmed"})
	if !res.Queued() {
		t.Errorf("disarm should queue for approval, got %v", res)
	}

	res = f.registry.Execute(ctx, "security", "set_alarm_state",
		Args{"entity_id": "alarm_control_panel.home", "state": "armed_home"})
	if !res.Executed() {
		t.Errorf("arming should execute, got %v", res)
	}
	if len(f.bus.calls) != 1 || f.bus.calls[0].service != "alarm_arm_home" {
		t.Errorf("unexpected service calls: %v", f.bus.calls)
	}
}

func TestApprovalStoreFailureDropsAction(t *testing.T) {
	f := newFixture(t, false)
	f.approver.fail = true

	res := f.registry.Execute(context.Background(), "security", "unlock_door",
		Args{"entity_id": "lock.front_door"})

	if res.Err() == "" || res.Queued() {
		t.Errorf("store failure should surface as a tool error, got %v", res)
	}
	if len(f.bus.calls) != 0 {
		t.Error("action must be dropped on approval store failure")
	}
}

func TestReadOnlyToolsIgnoreDryRun(t *testing.T) {
	f := newFixture(t, true)
	f.bus.states["sensor.outdoor"] = &bus.EntityState{
		EntityID: "sensor.outdoor", State: "12.5",
		Attributes: map[string]any{"unit_of_measurement": "°C"},
	}

	res := f.registry.Execute(context.Background(), "heating", "get_state",
		Args{"entity_id": "sensor.outdoor"})
	if res.Err() != "" {
		t.Fatalf("get_state failed: %v", res)
	}
	if res["state"] != "12.5" {
		t.Errorf("unexpected state: %v", res)
	}
}

func TestLogTool(t *testing.T) {
	f := newFixture(t, false)

	res := f.registry.Execute(context.Background(), "heating", "log",
		Args{"message": "no climate entity found in zone"})
	if logged, _ := res["logged"].(bool); !logged {
		t.Errorf("expected logged true, got %v", res)
	}
	if n := f.logEntries(t, "heating"); n != 1 {
		t.Errorf("expected 1 log entry, got %d", n)
	}
}

func TestSchemasSorted(t *testing.T) {
	f := newFixture(t, false)
	infos := f.registry.Schemas()
	if len(infos) != 15 {
		t.Fatalf("expected 15 tools, got %d", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Name > infos[i].Name {
			t.Fatalf("schemas not sorted: %s before %s", infos[i-1].Name, infos[i].Name)
		}
	}
}
