package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
bus:
  url: http://bus.local:8123
  token: tok
`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10*time.Second, cfg.Bus.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.Bus.StatesTimeout)
	assert.Equal(t, 10.0, cfg.Climate.MinTemp)
	assert.Equal(t, 30.0, cfg.Climate.MaxTemp)
	assert.Equal(t, 120*time.Second, cfg.Orchestrator.PlanningInterval)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.AgentWait)
	assert.Equal(t, 100, cfg.Orchestrator.LedgerRetain)
	assert.Equal(t, "nomic-embed-text", cfg.Providers.EmbedModel)
	assert.Equal(t, 8099, cfg.Server.Port)
	assert.Equal(t, "data/agents.yaml", cfg.Paths.AgentsFile)
	assert.False(t, cfg.DryRun)
}

func TestParseDurationStrings(t *testing.T) {
	cfg, err := Parse([]byte(`
bus:
  url: http://bus.local:8123
  token: tok
  request_timeout: 5s
orchestrator:
  planning_interval: 3m
defaults:
  decision_interval: 90s
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Bus.RequestTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Orchestrator.PlanningInterval)
	assert.Equal(t, 90*time.Second, cfg.Defaults.DecisionInterval)
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("BUS_TOKEN", "from-env")

	cfg, err := Parse([]byte(`
bus:
  url: ${BUS_URL:-http://fallback:8123}
  token: ${BUS_TOKEN}
`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Bus.Token)
	assert.Equal(t, "http://fallback:8123", cfg.Bus.URL)
}

func TestParseRejectsMissingBus(t *testing.T) {
	_, err := Parse([]byte(`logging: {level: debug}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.url")
}

func TestParseRejectsInvalidClimateBounds(t *testing.T) {
	_, err := Parse([]byte(`
bus:
  url: http://bus.local:8123
  token: tok
climate:
  min_temp: 25
  max_temp: 20
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_temp")
}

func TestValidateRejectsShortPlanningInterval(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.Bus.URL = "http://bus.local:8123"
	cfg.Bus.Token = "tok"
	cfg.Orchestrator.PlanningInterval = 100 * time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planning_interval")
}

func TestAgentConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  AgentConfig
		ok   bool
	}{
		{"valid", AgentConfig{ID: "heating", Instruction: "keep warm"}, true},
		{"missing id", AgentConfig{Instruction: "x"}, false},
		{"bad id", AgentConfig{ID: "Bad ID", Instruction: "x"}, false},
		{"missing instruction", AgentConfig{ID: "heating"}, false},
		{"negative interval", AgentConfig{ID: "heating", Instruction: "x", DecisionInterval: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAgentConfigDefaults(t *testing.T) {
	cfg := AgentConfig{ID: "heating", Instruction: "keep warm"}
	cfg.SetDefaults(AgentDefaults{Model: "mistral:7b-instruct", DecisionInterval: 2 * time.Minute})

	assert.Equal(t, "heating", cfg.Name)
	assert.Equal(t, "mistral:7b-instruct", cfg.Model)
	assert.Equal(t, 120, cfg.DecisionInterval)
	assert.Equal(t, 2*time.Minute, cfg.Interval())
}
