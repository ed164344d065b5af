package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// agentsFile is the on-disk shape of agents.yaml.
type agentsFile struct {
	Agents []AgentConfig `yaml:"agents"`
}

// AgentStore owns the agents.yaml file. All mutations rewrite the file in
// place (atomically, via a temp file) and reject duplicate ids.
type AgentStore struct {
	path     string
	defaults AgentDefaults

	mu sync.Mutex
}

func NewAgentStore(path string, defaults AgentDefaults) *AgentStore {
	return &AgentStore{path: path, defaults: defaults}
}

func (s *AgentStore) Path() string { return s.path }

// Load parses agents.yaml, applying defaults and validating every entry.
// A missing file yields an empty set.
func (s *AgentStore) Load() ([]AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *AgentStore) loadLocked() ([]AgentConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}

	seen := make(map[string]bool, len(file.Agents))
	for i := range file.Agents {
		a := &file.Agents[i]
		a.SetDefaults(s.defaults)
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%s: duplicate agent id '%s'", s.path, a.ID)
		}
		seen[a.ID] = true
	}
	return file.Agents, nil
}

// Save appends a new agent. An existing id is rejected.
func (s *AgentStore) Save(cfg AgentConfig) error {
	cfg.SetDefaults(s.defaults)
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agents, err := s.loadLocked()
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.ID == cfg.ID {
			return fmt.Errorf("agent id '%s' already exists", cfg.ID)
		}
	}
	return s.writeLocked(append(agents, cfg))
}

// AgentPatch carries partial updates; nil fields are left untouched.
type AgentPatch struct {
	Name             *string   `json:"name,omitempty"`
	Instruction      *string   `json:"instruction,omitempty"`
	Entities         *[]string `json:"entities,omitempty"`
	Model            *string   `json:"model,omitempty"`
	DecisionInterval *int      `json:"decision_interval,omitempty"`
	Knowledge        *string   `json:"knowledge,omitempty"`
}

// Patch updates an existing agent in place and returns the merged config.
func (s *AgentStore) Patch(id string, patch AgentPatch) (AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents, err := s.loadLocked()
	if err != nil {
		return AgentConfig{}, err
	}

	for i := range agents {
		if agents[i].ID != id {
			continue
		}
		a := &agents[i]
		if patch.Name != nil {
			a.Name = *patch.Name
		}
		if patch.Instruction != nil {
			a.Instruction = *patch.Instruction
		}
		if patch.Entities != nil {
			a.Entities = *patch.Entities
		}
		if patch.Model != nil {
			a.Model = *patch.Model
		}
		if patch.DecisionInterval != nil {
			a.DecisionInterval = *patch.DecisionInterval
		}
		if patch.Knowledge != nil {
			a.Knowledge = *patch.Knowledge
		}
		if err := a.Validate(); err != nil {
			return AgentConfig{}, err
		}
		if err := s.writeLocked(agents); err != nil {
			return AgentConfig{}, err
		}
		return *a, nil
	}
	return AgentConfig{}, fmt.Errorf("agent '%s' not found", id)
}

// Delete removes an agent from the file.
func (s *AgentStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents, err := s.loadLocked()
	if err != nil {
		return err
	}

	kept := agents[:0]
	found := false
	for _, a := range agents {
		if a.ID == id {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return fmt.Errorf("agent '%s' not found", id)
	}
	return s.writeLocked(kept)
}

func (s *AgentStore) writeLocked(agents []AgentConfig) error {
	data, err := yaml.Marshal(agentsFile{Agents: agents})
	if err != nil {
		return fmt.Errorf("failed to marshal agents: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
