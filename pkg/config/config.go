// Package config holds the process configuration and the agents.yaml store.
package config

import (
	"fmt"
	"time"
)

// Config is the full process configuration, loaded from a single YAML file
// with environment-variable expansion.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging,omitempty" json:"logging,omitempty"`
	Bus          BusConfig          `yaml:"bus" json:"bus"`
	Providers    ProvidersConfig    `yaml:"providers,omitempty" json:"providers,omitempty"`
	Safety       SafetyConfig       `yaml:"safety,omitempty" json:"safety,omitempty"`
	Climate      ClimateConfig      `yaml:"climate,omitempty" json:"climate,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty" json:"orchestrator,omitempty"`
	Defaults     AgentDefaults      `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Paths        PathsConfig        `yaml:"paths,omitempty" json:"paths,omitempty"`
	Server       ServerConfig       `yaml:"server,omitempty" json:"server,omitempty"`

	// DryRun starts the tool registry in dry-run mode: mutating tools log
	// and return without touching the device bus.
	DryRun bool `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=text,enum=json,default=text"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// BusConfig describes the device-bus endpoint (a Home-Assistant-style
// websocket API).
type BusConfig struct {
	URL   string `yaml:"url" json:"url" jsonschema:"description=Base URL of the device bus (http(s)://host[:port])"`
	Token string `yaml:"token" json:"token" jsonschema:"description=Long-lived access token for the websocket auth handshake"`

	// RequestTimeout applies to ordinary commands; StatesTimeout applies to
	// full state dumps, which can be large.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
	StatesTimeout  time.Duration `yaml:"states_timeout,omitempty" json:"states_timeout,omitempty"`
}

// ProvidersConfig configures the language-model backends.
type ProvidersConfig struct {
	Local  LocalProviderConfig  `yaml:"local,omitempty" json:"local,omitempty"`
	Hosted HostedProviderConfig `yaml:"hosted,omitempty" json:"hosted,omitempty"`

	// EmbedModel is the embedding model backing the knowledge store.
	EmbedModel string `yaml:"embed_model,omitempty" json:"embed_model,omitempty" jsonschema:"default=nomic-embed-text"`
}

type LocalProviderConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"default=http://localhost:11434"`
}

type HostedProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// SafetyConfig overrides the tool layer's safety lists. Empty slices keep
// the built-in defaults.
type SafetyConfig struct {
	BlockedDomains     []string `yaml:"blocked_domains,omitempty" json:"blocked_domains,omitempty"`
	AllowedDomains     []string `yaml:"allowed_domains,omitempty" json:"allowed_domains,omitempty"`
	HighImpactServices []string `yaml:"high_impact_services,omitempty" json:"high_impact_services,omitempty"`
}

// ClimateConfig bounds climate tool parameters.
type ClimateConfig struct {
	MinTemp       float64 `yaml:"min_temp,omitempty" json:"min_temp,omitempty"`
	MaxTemp       float64 `yaml:"max_temp,omitempty" json:"max_temp,omitempty"`
	MaxTempChange float64 `yaml:"max_temp_change,omitempty" json:"max_temp_change,omitempty"`
}

type OrchestratorConfig struct {
	Model            string        `yaml:"model,omitempty" json:"model,omitempty"`
	PlanningInterval time.Duration `yaml:"planning_interval,omitempty" json:"planning_interval,omitempty"`
	AgentWait        time.Duration `yaml:"agent_wait,omitempty" json:"agent_wait,omitempty"`

	// LedgerRetain bounds the task ledger: at a cycle boundary only the most
	// recent N tasks per agent survive.
	LedgerRetain int `yaml:"ledger_retain,omitempty" json:"ledger_retain,omitempty"`
}

// AgentDefaults applies to agents that leave the field unset in agents.yaml.
type AgentDefaults struct {
	Model            string        `yaml:"model,omitempty" json:"model,omitempty"`
	DecisionInterval time.Duration `yaml:"decision_interval,omitempty" json:"decision_interval,omitempty"`
}

type PathsConfig struct {
	DataDir     string `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`
	AgentsFile  string `yaml:"agents_file,omitempty" json:"agents_file,omitempty"`
	ApprovalsDB string `yaml:"approvals_db,omitempty" json:"approvals_db,omitempty"`
	DecisionDir string `yaml:"decision_dir,omitempty" json:"decision_dir,omitempty"`
}

type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=8099"`
}

func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Bus.RequestTimeout == 0 {
		c.Bus.RequestTimeout = 10 * time.Second
	}
	if c.Bus.StatesTimeout == 0 {
		c.Bus.StatesTimeout = 60 * time.Second
	}
	if c.Providers.Local.Host == "" {
		c.Providers.Local.Host = "http://localhost:11434"
	}
	if c.Providers.EmbedModel == "" {
		c.Providers.EmbedModel = "nomic-embed-text"
	}
	if c.Climate.MinTemp == 0 {
		c.Climate.MinTemp = 10.0
	}
	if c.Climate.MaxTemp == 0 {
		c.Climate.MaxTemp = 30.0
	}
	if c.Climate.MaxTempChange == 0 {
		c.Climate.MaxTempChange = 3.0
	}
	if c.Orchestrator.Model == "" {
		c.Orchestrator.Model = "deepseek-r1:8b"
	}
	if c.Orchestrator.PlanningInterval == 0 {
		c.Orchestrator.PlanningInterval = 120 * time.Second
	}
	if c.Orchestrator.AgentWait == 0 {
		c.Orchestrator.AgentWait = 30 * time.Second
	}
	if c.Orchestrator.LedgerRetain == 0 {
		c.Orchestrator.LedgerRetain = 100
	}
	if c.Defaults.Model == "" {
		c.Defaults.Model = "mistral:7b-instruct"
	}
	if c.Defaults.DecisionInterval == 0 {
		c.Defaults.DecisionInterval = 120 * time.Second
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = "data"
	}
	if c.Paths.AgentsFile == "" {
		c.Paths.AgentsFile = c.Paths.DataDir + "/agents.yaml"
	}
	if c.Paths.ApprovalsDB == "" {
		c.Paths.ApprovalsDB = c.Paths.DataDir + "/approvals.db"
	}
	if c.Paths.DecisionDir == "" {
		c.Paths.DecisionDir = c.Paths.DataDir + "/decisions"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8099
	}
}

func (c *Config) Validate() error {
	if c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required")
	}
	if c.Bus.Token == "" {
		return fmt.Errorf("bus.token is required")
	}
	if c.Climate.MinTemp >= c.Climate.MaxTemp {
		return fmt.Errorf("climate.min_temp (%.1f) must be below climate.max_temp (%.1f)",
			c.Climate.MinTemp, c.Climate.MaxTemp)
	}
	if c.Climate.MaxTempChange <= 0 {
		return fmt.Errorf("climate.max_temp_change must be positive")
	}
	if c.Orchestrator.PlanningInterval < time.Second {
		return fmt.Errorf("orchestrator.planning_interval must be at least 1s")
	}
	return nil
}
