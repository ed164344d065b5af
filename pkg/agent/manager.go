package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/registry"
)

// Manager reconciles running agent instances against the agents.yaml
// configuration: new agents start, removed agents stop, changed agents
// hot-reload in place.
type Manager struct {
	deps Deps
	reg  *registry.BaseRegistry[*Instance]

	mu      sync.Mutex
	baseCtx context.Context
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	subs    []Subscriber
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:    deps,
		reg:     registry.NewBaseRegistry[*Instance](),
		cancels: make(map[string]context.CancelFunc),
	}
}

// SetLedger wires the shared progress sink. Must be called before Start;
// instances capture the deps at creation.
func (m *Manager) SetLedger(sink ProgressSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps.Ledger = sink
}

// Subscribe registers a status listener attached to every current and
// future instance.
func (m *Manager) Subscribe(sub Subscriber) {
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	instances := m.reg.List()
	m.mu.Unlock()
	for _, inst := range instances {
		inst.Subscribe(sub)
	}
}

// Start records the base context and launches the given agents. Apply may
// be called any time afterwards to reconcile.
func (m *Manager) Start(ctx context.Context, cfgs []config.AgentConfig) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
	m.Apply(cfgs)
}

// Apply reconciles the running set against cfgs.
func (m *Manager) Apply(cfgs []config.AgentConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseCtx == nil {
		return
	}

	wanted := make(map[string]config.AgentConfig, len(cfgs))
	for _, cfg := range cfgs {
		wanted[cfg.ID] = cfg
	}

	// Stop instances whose configuration disappeared.
	for _, id := range m.reg.Names() {
		if _, keep := wanted[id]; keep {
			continue
		}
		if cancel, ok := m.cancels[id]; ok {
			cancel()
			delete(m.cancels, id)
		}
		m.reg.Remove(id)
		slog.Info("Agent removed", "agent", id)
	}

	for id, cfg := range wanted {
		if inst, ok := m.reg.Get(id); ok {
			inst.UpdateConfig(cfg)
			continue
		}
		inst := NewInstance(cfg, m.deps)
		for _, sub := range m.subs {
			inst.Subscribe(sub)
		}
		if err := m.reg.Register(id, inst); err != nil {
			slog.Error("Failed to register agent", "agent", id, "error", err)
			continue
		}
		runCtx, cancel := context.WithCancel(m.baseCtx)
		m.cancels[id] = cancel
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			inst.Run(runCtx)
		}()
		slog.Info("Agent started", "agent", id, "name", cfg.Name)
	}
}

// Get returns the instance by id.
func (m *Manager) Get(id string) (*Instance, bool) {
	return m.reg.Get(id)
}

// Instances returns a copy-on-iterate snapshot of the running agents,
// sorted by id.
func (m *Manager) Instances() []*Instance {
	return m.reg.List()
}

// IDs returns the running agent ids, sorted.
func (m *Manager) IDs() []string {
	return m.reg.Names()
}

// Stop cancels all loops and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
