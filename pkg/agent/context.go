package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/tools"
)

// discoveryCap bounds how many entities an agent without a configured list
// sees per cycle.
const discoveryCap = 50

// Context is one cycle's snapshot of the world the agent reasons over.
type Context struct {
	Timestamp  time.Time         `json:"timestamp"`
	TimeOfDay  string            `json:"time_of_day"`
	States     []bus.EntityState `json:"states"`
	Discovered bool              `json:"discovered,omitempty"`
}

// Domains returns the set of entity domains present in the snapshot.
func (c Context) Domains() map[string]bool {
	domains := make(map[string]bool)
	for _, s := range c.States {
		domains[s.Domain()] = true
	}
	return domains
}

// TimeOfDay buckets the hour for the prompt: models reason better over
// "evening" than over a raw timestamp.
func TimeOfDay(t time.Time) string {
	switch hour := t.Hour(); {
	case hour >= 6 && hour < 9:
		return "morning"
	case hour >= 9 && hour < 17:
		return "day"
	case hour >= 17 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// gatherContext snapshots the agent's entities. With a configured entity
// list the snapshot is exactly those entities; without one the agent
// discovers its scope, preferring a semantic lookup against its instruction
// and falling back to the controllable-domain subset of the full registry.
func gatherContext(ctx context.Context, cfg config.AgentConfig, b StateBus, finder EntityFinder) (Context, error) {
	now := time.Now()
	c := Context{Timestamp: now, TimeOfDay: TimeOfDay(now)}

	if len(cfg.Entities) > 0 {
		for _, id := range cfg.Entities {
			state, err := b.GetState(ctx, id)
			if err != nil {
				slog.Warn("Failed to read entity state", "agent", cfg.ID, "entity", id, "error", err)
				c.States = append(c.States, bus.EntityState{EntityID: id, State: "unknown"})
				continue
			}
			c.States = append(c.States, *state)
		}
		return c, nil
	}

	c.Discovered = true
	if finder != nil {
		ids, err := finder.SearchEntities(ctx, cfg.Instruction, discoveryCap)
		if err != nil {
			slog.Warn("Semantic entity discovery failed, falling back to heuristic", "agent", cfg.ID, "error", err)
		} else if len(ids) > 0 {
			for _, id := range ids {
				if state, err := b.GetState(ctx, id); err == nil {
					c.States = append(c.States, *state)
				}
			}
			if len(c.States) > 0 {
				return c, nil
			}
		}
	}

	all, err := b.GetStates(ctx)
	if err != nil {
		return c, err
	}
	controllable := tools.NewSafety(config.SafetyConfig{})
	for _, s := range all {
		if !controllable.Allowed(s.Domain()) {
			continue
		}
		c.States = append(c.States, s)
		if len(c.States) >= discoveryCap {
			break
		}
	}
	return c, nil
}
