package config

import (
	"fmt"
	"regexp"
	"time"
)

var agentIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// AgentConfig describes one specialist agent as persisted in agents.yaml.
type AgentConfig struct {
	// ID is the unique slug identifying the agent (e.g. "heating").
	ID string `yaml:"id" json:"id" jsonschema:"pattern=^[a-z][a-z0-9_-]*$,minLength=1,maxLength=64"`

	// Name is the human-readable display name.
	Name string `yaml:"name" json:"name"`

	// Instruction is the natural-language brief driving the agent's prompt.
	Instruction string `yaml:"instruction" json:"instruction"`

	// Entities lists the entity ids the agent controls. Empty means dynamic
	// discovery: a semantic lookup against the instruction, falling back to
	// a heuristic filter over controllable domains.
	Entities []string `yaml:"entities,omitempty" json:"entities,omitempty"`

	// Model references the language model. Empty uses the process default.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// DecisionInterval is the pause between decision cycles in seconds.
	DecisionInterval int `yaml:"decision_interval,omitempty" json:"decision_interval,omitempty"`

	// Knowledge is free-text domain knowledge injected into every prompt.
	Knowledge string `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`
}

func (a *AgentConfig) SetDefaults(defaults AgentDefaults) {
	if a.Name == "" {
		a.Name = a.ID
	}
	if a.Model == "" {
		a.Model = defaults.Model
	}
	if a.DecisionInterval == 0 {
		a.DecisionInterval = int(defaults.DecisionInterval / time.Second)
	}
}

func (a *AgentConfig) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if !agentIDPattern.MatchString(a.ID) {
		return fmt.Errorf("agent id '%s' must match %s", a.ID, agentIDPattern)
	}
	if a.Instruction == "" {
		return fmt.Errorf("agent '%s': instruction is required", a.ID)
	}
	if a.DecisionInterval < 0 {
		return fmt.Errorf("agent '%s': decision_interval cannot be negative", a.ID)
	}
	return nil
}

// Interval returns the decision interval as a duration.
func (a AgentConfig) Interval() time.Duration {
	return time.Duration(a.DecisionInterval) * time.Second
}
