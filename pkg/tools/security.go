package tools

import (
	"context"

	"github.com/castellan/castellan/pkg/approval"
)

var alarmServiceByState = map[string]string{
	"armed_home": "alarm_arm_home",
	"armed_away": "alarm_arm_away",
	"disarmed":   "alarm_disarm",
}

// SetAlarmStateTool arms or disarms the alarm panel. Arming executes
// directly; disarming always goes through the approval queue.
type SetAlarmStateTool struct {
	bus      ServiceBus
	approver Approver
}

func NewSetAlarmStateTool(b ServiceBus, approver Approver) *SetAlarmStateTool {
	return &SetAlarmStateTool{bus: b, approver: approver}
}

func (t *SetAlarmStateTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "set_alarm_state",
		Description: "Set alarm control panel state",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Alarm panel entity ID", Required: true},
			{Name: "state", Type: "string", Description: "Target alarm state", Required: true, Enum: []string{"armed_home", "armed_away", "disarmed"}},
		},
	}
}

func (t *SetAlarmStateTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	state := args.String("state")

	if state == "disarmed" {
		return queueForApproval(t.approver, inv.AgentID, "disarm",
			map[string]any{"entity_id": entityID, "state": state},
			"Disarming the alarm requires human approval")
	}

	if inv.DryRun {
		return Result{"action": "set_alarm_state", "entity_id": entityID, "state": state, "executed": false, "dry_run": true}
	}
	if _, err := t.bus.CallService(ctx, "alarm_control_panel", alarmServiceByState[state], map[string]any{"entity_id": entityID}); err != nil {
		return Errorf("failed to set alarm state: %v", err)
	}
	return Result{"action": "set_alarm_state", "entity_id": entityID, "state": state, "executed": true}
}

// LockDoorTool locks a door. Locking is the safe direction and executes
// directly.
type LockDoorTool struct {
	bus ServiceBus
}

func NewLockDoorTool(b ServiceBus) *LockDoorTool {
	return &LockDoorTool{bus: b}
}

func (t *LockDoorTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "lock_door",
		Description: "Lock a door",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Lock entity ID", Required: true},
		},
	}
}

func (t *LockDoorTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	if inv.DryRun {
		return Result{"action": "lock_door", "entity_id": entityID, "executed": false, "dry_run": true}
	}
	if _, err := t.bus.CallService(ctx, "lock", "lock", map[string]any{"entity_id": entityID}); err != nil {
		return Errorf("failed to lock door: %v", err)
	}
	return Result{"action": "lock_door", "entity_id": entityID, "executed": true}
}

// UnlockDoorTool never touches the device bus itself; every unlock becomes
// an approval request.
type UnlockDoorTool struct {
	approver Approver
}

func NewUnlockDoorTool(approver Approver) *UnlockDoorTool {
	return &UnlockDoorTool{approver: approver}
}

func (t *UnlockDoorTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "unlock_door",
		Description: "Unlock a door (requires approval)",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Lock entity ID", Required: true},
		},
	}
}

func (t *UnlockDoorTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	return queueForApproval(t.approver, inv.AgentID, "unlock_door",
		map[string]any{"entity_id": args.String("entity_id")},
		"Door unlock requires human approval")
}

// EnableCameraTool re-enables a camera, optionally with motion detection.
type EnableCameraTool struct {
	bus ServiceBus
}

func NewEnableCameraTool(b ServiceBus) *EnableCameraTool {
	return &EnableCameraTool{bus: b}
}

func (t *EnableCameraTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "enable_camera",
		Description: "Enable camera with motion detection",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Camera entity ID", Required: true},
			{Name: "motion_detection", Type: "boolean", Description: "Also enable motion detection"},
		},
	}
}

func (t *EnableCameraTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	motion := args.Bool("motion_detection", true)

	if inv.DryRun {
		return Result{"action": "enable_camera", "entity_id": entityID, "motion_detection": motion, "executed": false, "dry_run": true}
	}
	service := "turn_on"
	if motion {
		service = "enable_motion_detection"
	}
	if _, err := t.bus.CallService(ctx, "camera", service, map[string]any{"entity_id": entityID}); err != nil {
		return Errorf("failed to enable camera: %v", err)
	}
	return Result{"action": "enable_camera", "entity_id": entityID, "motion_detection": motion, "executed": true}
}

// queueForApproval enqueues a high-impact action and reports the routing. A
// store failure surfaces as a tool error and the action is dropped.
func queueForApproval(approver Approver, agentID, actionType string, data map[string]any, message string) Result {
	if approver == nil {
		return Errorf("approval queue unavailable: %s not executed", actionType)
	}
	req, err := approver.AddRequest(agentID, actionType, data, approval.ImpactHigh, message, 0)
	if err != nil {
		return Errorf("failed to queue approval request: %v", err)
	}
	return Result{
		"action":     actionType,
		"status":     "queued_for_approval",
		"request_id": req.ID,
		"message":    message,
		"executed":   false,
	}
}
