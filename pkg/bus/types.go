package bus

import (
	"encoding/json"
	"time"
)

// EntityState is one entity's state record as reported by the device bus.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// Domain returns the part of the entity id before the first dot
// (e.g. "light" for "light.kitchen").
func (s EntityState) Domain() string {
	for i := 0; i < len(s.EntityID); i++ {
		if s.EntityID[i] == '.' {
			return s.EntityID[:i]
		}
	}
	return s.EntityID
}

// FriendlyName returns the human-readable name attribute, falling back to
// the entity id.
func (s EntityState) FriendlyName() string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return s.EntityID
}

// ClimateState is the condensed view of a climate entity used by the
// climate tools and agent context.
type ClimateState struct {
	EntityID           string         `json:"entity_id"`
	State              string         `json:"state"`
	CurrentTemperature *float64       `json:"current_temperature"`
	TargetTemperature  *float64       `json:"target_temperature"`
	HVACMode           string         `json:"hvac_mode,omitempty"`
	PresetMode         string         `json:"preset_mode,omitempty"`
	Attributes         map[string]any `json:"attributes,omitempty"`
}

// StateChangedEvent is delivered to subscription callbacks.
type StateChangedEvent struct {
	EventType string          `json:"event_type"`
	EntityID  string          `json:"entity_id"`
	OldState  *EntityState    `json:"old_state,omitempty"`
	NewState  *EntityState    `json:"new_state,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// EventHandler receives subscription events. Handlers run on the receiver
// goroutine and must not block.
type EventHandler func(StateChangedEvent)

// frame is one websocket message in either direction. The id correlates
// responses and events to the originating command.
type frame struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *busError       `json:"error,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`

	// Auth handshake fields.
	AccessToken string `json:"access_token,omitempty"`
	Message     string `json:"message,omitempty"`
}

type busError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type eventPayload struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string       `json:"entity_id"`
		OldState *EntityState `json:"old_state"`
		NewState *EntityState `json:"new_state"`
	} `json:"data"`
}
