// Package runtime assembles the process: bus client, providers, knowledge
// store, tool registry, approval queue, agent manager and orchestrator, wired
// together and supervised under one context.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castellan/castellan/pkg/agent"
	"github.com/castellan/castellan/pkg/approval"
	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/decisionlog"
	"github.com/castellan/castellan/pkg/knowledge"
	"github.com/castellan/castellan/pkg/llms"
	"github.com/castellan/castellan/pkg/orchestrator"
	"github.com/castellan/castellan/pkg/tools"
)

// Runtime owns every long-lived component. Build with New, then Start; Close
// tears everything down in reverse order.
type Runtime struct {
	cfg *config.Config

	bus       *bus.Client
	providers *llms.ProviderRegistry
	know      *knowledge.Store
	log       *decisionlog.Log
	store     *approval.Store
	queue     *approval.Queue
	tools     *tools.Registry
	agents    *agent.Manager
	agentCfg  *config.AgentStore
	orch      *orchestrator.Orchestrator
}

// New wires the component graph without touching the network. Connectivity
// happens in Start.
func New(cfg *config.Config) (*Runtime, error) {
	busClient, err := bus.NewClient(cfg.Bus.URL, cfg.Bus.Token,
		bus.WithRequestTimeout(cfg.Bus.RequestTimeout),
		bus.WithStatesTimeout(cfg.Bus.StatesTimeout))
	if err != nil {
		return nil, err
	}

	providers, err := llms.NewProviderRegistryFromConfig(cfg.Providers)
	if err != nil {
		return nil, err
	}

	// Embeddings always go through the local backend; hosted chat models and
	// local embedding models coexist.
	embedder, ok := providers.Get("local")
	if !ok {
		embedder = providers.Default()
	}
	know := knowledge.NewStore(embedder, cfg.Providers.EmbedModel)

	log := decisionlog.New(cfg.Paths.DecisionDir)

	store, err := approval.NewStore(cfg.Paths.ApprovalsDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open approval store: %w", err)
	}
	queue := approval.NewQueue(store)

	reg := tools.NewRegistry(log, cfg.DryRun)
	if err := tools.RegisterDefaults(reg, busClient, queue, know, cfg.Safety, cfg.Climate); err != nil {
		store.Close()
		return nil, err
	}

	agentCfg := config.NewAgentStore(cfg.Paths.AgentsFile, cfg.Defaults)
	agents := agent.NewManager(agent.Deps{
		Bus:       busClient,
		Tools:     reg,
		Providers: providers,
		Finder:    know,
		Log:       log,
	})

	orch := orchestrator.New(cfg.Orchestrator, busClient, providers, reg, agents, queue, log)

	// Agents report into the orchestrator's progress ledger.
	r := &Runtime{
		cfg:       cfg,
		bus:       busClient,
		providers: providers,
		know:      know,
		log:       log,
		store:     store,
		queue:     queue,
		tools:     reg,
		agents:    agents,
		agentCfg:  agentCfg,
		orch:      orch,
	}
	r.agents.SetLedger(orch.Progress())

	// Surface pending approvals in the process log; the API inbox is the
	// actionable channel.
	queue.Subscribe(func(ev approval.Event) error {
		slog.Info("Approval required", "request", ev.RequestID, "agent", ev.AgentID,
			"action", ev.ActionType, "impact", ev.ImpactLevel, "reason", ev.Reason)
		return nil
	})
	return r, nil
}

// Start connects the bus, seeds the knowledge store, launches the agents and
// the orchestrator, and blocks until ctx is cancelled or a supervised
// component fails.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.connectBus(ctx); err != nil {
		return err
	}
	r.seedKnowledge(ctx)

	cfgs, err := r.agentCfg.Load()
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	r.agents.Start(gctx, cfgs)
	g.Go(func() error {
		<-gctx.Done()
		r.agents.Stop()
		return nil
	})

	g.Go(func() error {
		r.orch.Run(gctx)
		return nil
	})

	g.Go(func() error {
		err := r.agentCfg.Watch(gctx, r.agents.Apply)
		if err != nil && gctx.Err() == nil {
			return fmt.Errorf("agent config watcher failed: %w", err)
		}
		return nil
	})

	slog.Info("Runtime started", "agents", len(cfgs), "dry_run", r.tools.DryRun())
	return g.Wait()
}

// connectBus retries the initial dial for a short window; the device bus
// frequently comes up after us on host boot.
func (r *Runtime) connectBus(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		if lastErr = r.bus.Connect(ctx); lastErr == nil {
			return nil
		}
		var authErr *bus.AuthError
		if errors.As(lastErr, &authErr) {
			return lastErr
		}
		slog.Warn("Bus connection failed, retrying", "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		}
	}
	return fmt.Errorf("could not connect to device bus: %w", lastErr)
}

// seedKnowledge indexes the entity registry and per-agent knowledge notes.
// Best effort: a failure degrades entity discovery to the heuristic filter.
func (r *Runtime) seedKnowledge(ctx context.Context) {
	states, err := r.bus.GetStates(ctx)
	if err != nil {
		slog.Warn("Knowledge seed skipped, state dump failed", "error", err)
		return
	}
	if err := r.know.IngestStates(ctx, states); err != nil {
		slog.Warn("Entity indexing failed", "error", err)
		return
	}

	cfgs, err := r.agentCfg.Load()
	if err == nil {
		for _, cfg := range cfgs {
			if cfg.Knowledge == "" {
				continue
			}
			if err := r.know.IngestNote(ctx, "agent:"+cfg.ID, cfg.Knowledge); err != nil {
				slog.Warn("Knowledge note indexing failed", "agent", cfg.ID, "error", err)
			}
		}
	}
	slog.Info("Knowledge store seeded", "entities", len(states))
}

// Close releases resources not tied to the Start context.
func (r *Runtime) Close() {
	r.queue.Close()
	if err := r.store.Close(); err != nil {
		slog.Warn("Approval store close failed", "error", err)
	}
	if err := r.bus.Close(); err != nil {
		slog.Warn("Bus close failed", "error", err)
	}
}

func (r *Runtime) Config() *config.Config { return r.cfg }

func (r *Runtime) Bus() *bus.Client { return r.bus }

func (r *Runtime) Tools() *tools.Registry { return r.tools }

func (r *Runtime) Agents() *agent.Manager { return r.agents }

func (r *Runtime) AgentStore() *config.AgentStore { return r.agentCfg }

func (r *Runtime) Approvals() *approval.Queue { return r.queue }

func (r *Runtime) Orchestrator() *orchestrator.Orchestrator { return r.orch }

func (r *Runtime) DecisionLog() *decisionlog.Log { return r.log }
