package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/tools"
)

// Rules of engagement injected into every prompt, verbatim.
var promptRules = []string{
	"You MUST only use entity ids listed in ENTITY STATES.",
	"If the entity is absent, use the `log` tool to record the gap.",
	"Prefer specialised tools over `call_service`.",
	"Output standard JSON, no comments, no markdown.",
}

const promptExamples = `# EXAMPLES
Example response with an action:
{
  "reasoning": "Bedroom is 17.5C at night, below the comfort band. Raising set-point within limits.",
  "actions": [
    {"tool": "set_temperature", "parameters": {"entity_id": "climate.bedroom", "temperature": 19.0}}
  ],
  "confidence": 0.9,
  "impact_level": "low"
}

Example response when nothing needs doing:
{
  "reasoning": "All entities are within their target ranges.",
  "actions": [],
  "confidence": 0.95,
  "impact_level": "low"
}`

// BuildPrompt assembles the decision prompt: role banner, instruction,
// knowledge, entity states, time, tool schemas for the observed domains,
// the rules of engagement, and few-shot examples.
func BuildPrompt(cfg config.AgentConfig, c Context, schemas []tools.ToolInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# AGENT ROLE: %s (id: %s)\n", cfg.Name, cfg.ID)
	b.WriteString("You make autonomous home-automation decisions for your area of responsibility.\n\n")

	b.WriteString("# PRIMARY INSTRUCTION\n")
	b.WriteString(strings.TrimSpace(cfg.Instruction))
	b.WriteString("\n\n")

	if strings.TrimSpace(cfg.Knowledge) != "" {
		b.WriteString("# KNOWLEDGE\n")
		b.WriteString(strings.TrimSpace(cfg.Knowledge))
		b.WriteString("\n\n")
	}

	b.WriteString("# ENTITY STATES\n")
	if len(c.States) == 0 {
		b.WriteString("(no entities visible this cycle)\n")
	}
	for _, s := range c.States {
		name := s.FriendlyName()
		if name != "" && name != s.EntityID {
			fmt.Fprintf(&b, "- %s (%s): %s\n", name, s.EntityID, s.State)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", s.EntityID, s.State)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "# TIME\nCurrent time: %s\nTime of day: %s\n\n",
		c.Timestamp.Format("2006-01-02 15:04:05"), c.TimeOfDay)

	b.WriteString("# AVAILABLE TOOLS\n")
	relevant := filterSchemas(schemas, c.Domains())
	if data, err := json.MarshalIndent(relevant, "", "  "); err == nil {
		b.Write(data)
	}
	b.WriteString("\n\n")

	b.WriteString("# RULES OF ENGAGEMENT\n")
	for _, rule := range promptRules {
		b.WriteString("- ")
		b.WriteString(rule)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(promptExamples)
	b.WriteString("\n\n")

	b.WriteString(`Based on the current context and your instruction, decide what to do now. Respond with a JSON object: {"reasoning": string, "actions": [{"tool": string, "parameters": object}], "confidence": number, "impact_level": "low"|"medium"|"high"|"critical"}.`)
	b.WriteString("\n")

	return b.String()
}

// toolDomains maps domain-specific tools to the entity domain that makes
// them relevant; tools not listed are always included.
var toolDomains = map[string]string{
	"set_temperature":   "climate",
	"set_hvac_mode":     "climate",
	"get_climate_state": "climate",
	"turn_on_light":     "light",
	"turn_off_light":    "light",
	"set_brightness":    "light",
	"set_color_temp":    "light",
	"lock_door":         "lock",
	"unlock_door":       "lock",
	"set_alarm_state":   "alarm_control_panel",
	"enable_camera":     "camera",
}

func filterSchemas(schemas []tools.ToolInfo, domains map[string]bool) []tools.ToolInfo {
	out := make([]tools.ToolInfo, 0, len(schemas))
	for _, s := range schemas {
		if domain, ok := toolDomains[s.Name]; ok && !domains[domain] {
			continue
		}
		out = append(out, s)
	}
	return out
}
