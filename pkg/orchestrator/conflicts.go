package orchestrator

import (
	"fmt"

	"github.com/castellan/castellan/pkg/agent"
)

// resolveConflicts applies the declarative rule set to the aggregated
// decisions, in tie-break order: mutual exclusion first, security priority
// second, away comfort third. It mutates state.Decisions and records one
// Conflict per applied rule.
func resolveConflicts(state *State) {
	mutualExclusionHVAC(state)
	securityPriority(state)
	awayComfort(state)
}

// mutualExclusionHVAC drops both agents' actions when heating and cooling
// both want to act in the same cycle.
func mutualExclusionHVAC(state *State) {
	heating, hasHeating := state.Decisions["heating"]
	cooling, hasCooling := state.Decisions["cooling"]
	if !hasHeating || !hasCooling || len(heating.Actions) == 0 || len(cooling.Actions) == 0 {
		return
	}

	heating.Actions = nil
	cooling.Actions = nil
	state.Decisions["heating"] = heating
	state.Decisions["cooling"] = cooling
	state.Conflicts = append(state.Conflicts, Conflict{
		Kind:   ConflictMutualExclusion,
		Agents: []string{"heating", "cooling"},
		Detail: "heating and cooling both proposed actions; both dropped this cycle",
	})
}

// securityPriority drops lighting actions that touch entities the security
// agent is acting on.
func securityPriority(state *State) {
	security, hasSecurity := state.Decisions["security"]
	lighting, hasLighting := state.Decisions["lighting"]
	if !hasSecurity || !hasLighting || len(security.Actions) == 0 || len(lighting.Actions) == 0 {
		return
	}

	secured := make(map[string]bool)
	for _, a := range security.Actions {
		if id := actionEntity(a); id != "" {
			secured[id] = true
		}
	}

	var kept []agent.Action
	var dropped []string
	for _, a := range lighting.Actions {
		if id := actionEntity(a); id != "" && secured[id] {
			dropped = append(dropped, id)
			continue
		}
		kept = append(kept, a)
	}
	if len(dropped) == 0 {
		return
	}

	lighting.Actions = kept
	state.Decisions["lighting"] = lighting
	state.Conflicts = append(state.Conflicts, Conflict{
		Kind:   ConflictSecurityPriority,
		Agents: []string{"security", "lighting"},
		Detail: fmt.Sprintf("lighting actions dropped on secured entities %v", dropped),
	})
}

// awayComfort replaces explicit set-points with the eco preset while the
// home is in away mode.
func awayComfort(state *State) {
	if !awayModeActive(state) {
		return
	}

	var affected []string
	for _, id := range []string{"heating", "cooling"} {
		d, ok := state.Decisions[id]
		if !ok || len(d.Actions) == 0 {
			continue
		}

		var kept []agent.Action
		entities := make(map[string]bool)
		changed := false
		for _, a := range d.Actions {
			if a.Tool == "set_temperature" {
				if e := actionEntity(a); e != "" {
					entities[e] = true
				}
				changed = true
				continue
			}
			kept = append(kept, a)
		}
		if !changed {
			continue
		}
		for entity := range entities {
			kept = append(kept, agent.Action{
				Tool: "call_service",
				Parameters: map[string]any{
					"domain":       "climate",
					"service":      "set_preset_mode",
					"entity_id":    entity,
					"service_data": map[string]any{"preset_mode": "eco"},
				},
			})
		}
		d.Actions = kept
		state.Decisions[id] = d
		affected = append(affected, id)
	}
	if len(affected) == 0 {
		return
	}
	state.Conflicts = append(state.Conflicts, Conflict{
		Kind:   ConflictAwayComfort,
		Agents: affected,
		Detail: "away mode active; explicit set-points replaced with eco preset",
	})
}

// awayModeActive inspects the home snapshot for an away signal: an away
// toggle that is on, or an alarm panel armed away.
func awayModeActive(state *State) bool {
	for _, s := range state.Home {
		if s.Domain() == "input_boolean" && s.EntityID == "input_boolean.away_mode" && s.State == "on" {
			return true
		}
		if s.Domain() == "alarm_control_panel" && s.State == "armed_away" {
			return true
		}
	}
	return false
}

func actionEntity(a agent.Action) string {
	id, _ := a.Parameters["entity_id"].(string)
	return id
}
