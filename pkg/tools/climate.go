package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/castellan/castellan/pkg/config"
)

var hvacModes = []string{"heat", "cool", "auto", "off", "dry", "fan_only"}

// SetTemperatureTool adjusts a climate entity's set-point within the
// configured bounds and refuses large single-call jumps.
type SetTemperatureTool struct {
	bus ServiceBus
	cfg config.ClimateConfig
}

func NewSetTemperatureTool(b ServiceBus, cfg config.ClimateConfig) *SetTemperatureTool {
	return &SetTemperatureTool{bus: b, cfg: cfg}
}

func (t *SetTemperatureTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "set_temperature",
		Description: "Set target temperature for a climate entity",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Climate entity ID", Required: true},
			{Name: "temperature", Type: "number", Description: fmt.Sprintf("Target temperature (%g-%g°C)", t.cfg.MinTemp, t.cfg.MaxTemp), Required: true, Minimum: ptr(t.cfg.MinTemp), Maximum: ptr(t.cfg.MaxTemp)},
			{Name: "hvac_mode", Type: "string", Description: "Optional HVAC mode", Enum: hvacModes},
		},
	}
}

func (t *SetTemperatureTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	temp, _ := args.Float("temperature")
	mode := args.String("hvac_mode")

	if inv.DryRun {
		return Result{
			"action": "set_temperature", "entity_id": entityID,
			"temperature": temp, "hvac_mode": mode,
			"executed": false, "dry_run": true,
			"message": "Dry-run mode: action logged but not executed",
		}
	}

	// Refuse large jumps relative to the current set-point. An unreadable
	// state is not a reason to refuse; the bounds check above still holds.
	if state, err := t.bus.ClimateState(ctx, entityID); err != nil {
		slog.Warn("Could not read current set-point", "entity", entityID, "error", err)
	} else if state.TargetTemperature != nil {
		change := math.Abs(temp - *state.TargetTemperature)
		if change > t.cfg.MaxTempChange {
			res := Errorf("Temperature change too large: %.1f°C (max %g°C per decision)", change, t.cfg.MaxTempChange)
			res["current"] = *state.TargetTemperature
			res["requested"] = temp
			return res
		}
	}

	data := map[string]any{"entity_id": entityID, "temperature": temp}
	if mode != "" {
		data["hvac_mode"] = mode
	}
	if _, err := t.bus.CallService(ctx, "climate", "set_temperature", data); err != nil {
		return Errorf("failed to set temperature: %v", err)
	}
	return Result{
		"action": "set_temperature", "entity_id": entityID,
		"temperature": temp, "hvac_mode": mode, "executed": true,
	}
}

// SetHVACModeTool switches a climate entity between modes.
type SetHVACModeTool struct {
	bus ServiceBus
}

func NewSetHVACModeTool(b ServiceBus) *SetHVACModeTool {
	return &SetHVACModeTool{bus: b}
}

func (t *SetHVACModeTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "set_hvac_mode",
		Description: "Set HVAC mode for a climate entity",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Climate entity ID", Required: true},
			{Name: "hvac_mode", Type: "string", Description: "HVAC mode", Required: true, Enum: hvacModes},
		},
	}
}

func (t *SetHVACModeTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	mode := args.String("hvac_mode")

	if inv.DryRun {
		return Result{
			"action": "set_hvac_mode", "entity_id": entityID, "hvac_mode": mode,
			"executed": false, "dry_run": true,
			"message": "Dry-run mode: action logged but not executed",
		}
	}

	data := map[string]any{"entity_id": entityID, "hvac_mode": mode}
	if _, err := t.bus.CallService(ctx, "climate", "set_hvac_mode", data); err != nil {
		return Errorf("failed to set HVAC mode: %v", err)
	}
	return Result{"action": "set_hvac_mode", "entity_id": entityID, "hvac_mode": mode, "executed": true}
}

// GetClimateStateTool reads a climate entity. Read-only, ignores dry-run.
type GetClimateStateTool struct {
	bus ServiceBus
}

func NewGetClimateStateTool(b ServiceBus) *GetClimateStateTool {
	return &GetClimateStateTool{bus: b}
}

func (t *GetClimateStateTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "get_climate_state",
		Description: "Get current state of a climate entity",
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Climate entity ID", Required: true},
		},
	}
}

func (t *GetClimateStateTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	state, err := t.bus.ClimateState(ctx, args.String("entity_id"))
	if err != nil {
		return Errorf("failed to read climate state: %v", err)
	}
	res := Result{
		"entity_id": state.EntityID,
		"state":     state.State,
		"hvac_mode": state.HVACMode,
	}
	if state.CurrentTemperature != nil {
		res["current_temperature"] = *state.CurrentTemperature
	}
	if state.TargetTemperature != nil {
		res["target_temperature"] = *state.TargetTemperature
	}
	if state.PresetMode != "" {
		res["preset_mode"] = state.PresetMode
	}
	return res
}
