package tools

import (
	"context"
)

// TurnOnLightTool turns a light on with optional brightness and colour
// temperature.
type TurnOnLightTool struct {
	bus ServiceBus
}

func NewTurnOnLightTool(b ServiceBus) *TurnOnLightTool {
	return &TurnOnLightTool{bus: b}
}

func (t *TurnOnLightTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "turn_on_light",
		Description: "Turn on a light with optional brightness and color temperature",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Light entity ID", Required: true},
			{Name: "brightness", Type: "integer", Description: "Brightness percentage", Minimum: ptr(0), Maximum: ptr(100)},
			{Name: "color_temp", Type: "integer", Description: "Color temperature in Kelvin", Minimum: ptr(2700), Maximum: ptr(6500)},
		},
	}
}

func (t *TurnOnLightTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	data := map[string]any{"entity_id": entityID}
	if b, ok := args.Float("brightness"); ok {
		data["brightness_pct"] = int(b)
	}
	if k, ok := args.Float("color_temp"); ok {
		data["color_temp_kelvin"] = int(k)
	}

	if inv.DryRun {
		return Result{"action": "turn_on_light", "entity_id": entityID, "data": data, "executed": false, "dry_run": true}
	}
	if _, err := t.bus.CallService(ctx, "light", "turn_on", data); err != nil {
		return Errorf("failed to turn on light: %v", err)
	}
	return Result{"action": "turn_on_light", "entity_id": entityID, "executed": true}
}

// TurnOffLightTool turns a light off.
type TurnOffLightTool struct {
	bus ServiceBus
}

func NewTurnOffLightTool(b ServiceBus) *TurnOffLightTool {
	return &TurnOffLightTool{bus: b}
}

func (t *TurnOffLightTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "turn_off_light",
		Description: "Turn off a light",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Light entity ID", Required: true},
		},
	}
}

func (t *TurnOffLightTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	if inv.DryRun {
		return Result{"action": "turn_off_light", "entity_id": entityID, "executed": false, "dry_run": true}
	}
	if _, err := t.bus.CallService(ctx, "light", "turn_off", map[string]any{"entity_id": entityID}); err != nil {
		return Errorf("failed to turn off light: %v", err)
	}
	return Result{"action": "turn_off_light", "entity_id": entityID, "executed": true}
}

// SetBrightnessTool sets a light's brightness as a percentage.
type SetBrightnessTool struct {
	bus ServiceBus
}

func NewSetBrightnessTool(b ServiceBus) *SetBrightnessTool {
	return &SetBrightnessTool{bus: b}
}

func (t *SetBrightnessTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "set_brightness",
		Description: "Set brightness of a light (0-100%)",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Light entity ID", Required: true},
			{Name: "brightness", Type: "integer", Description: "Brightness percentage", Required: true, Minimum: ptr(0), Maximum: ptr(100)},
		},
	}
}

func (t *SetBrightnessTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	brightness, _ := args.Float("brightness")
	if inv.DryRun {
		return Result{"action": "set_brightness", "entity_id": entityID, "brightness": int(brightness), "executed": false, "dry_run": true}
	}
	data := map[string]any{"entity_id": entityID, "brightness_pct": int(brightness)}
	if _, err := t.bus.CallService(ctx, "light", "turn_on", data); err != nil {
		return Errorf("failed to set brightness: %v", err)
	}
	return Result{"action": "set_brightness", "entity_id": entityID, "brightness": int(brightness), "executed": true}
}

// SetColorTempTool sets a light's colour temperature in Kelvin.
type SetColorTempTool struct {
	bus ServiceBus
}

func NewSetColorTempTool(b ServiceBus) *SetColorTempTool {
	return &SetColorTempTool{bus: b}
}

func (t *SetColorTempTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "set_color_temp",
		Description: "Set color temperature of a light (2700-6500K)",
		Mutating:    true,
		Parameters: []ToolParameter{
			{Name: "entity_id", Type: "string", Description: "Light entity ID", Required: true},
			{Name: "kelvin", Type: "integer", Description: "Color temperature in Kelvin", Required: true, Minimum: ptr(2700), Maximum: ptr(6500)},
		},
	}
}

func (t *SetColorTempTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	entityID := args.String("entity_id")
	kelvin, _ := args.Float("kelvin")
	if inv.DryRun {
		return Result{"action": "set_color_temp", "entity_id": entityID, "kelvin": int(kelvin), "executed": false, "dry_run": true}
	}
	data := map[string]any{"entity_id": entityID, "color_temp_kelvin": int(kelvin)}
	if _, err := t.bus.CallService(ctx, "light", "turn_on", data); err != nil {
		return Errorf("failed to set color temperature: %v", err)
	}
	return Result{"action": "set_color_temp", "entity_id": entityID, "kelvin": int(kelvin), "executed": true}
}
