// Command castellan runs the home-automation agent runtime: a set of
// LLM-driven specialist agents over a device bus, coordinated by an
// orchestrator and managed through an HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"

	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/logger"
	"github.com/castellan/castellan/pkg/runtime"
	"github.com/castellan/castellan/pkg/server"

	"golang.org/x/sync/errgroup"
)

var version = "dev"

type cli struct {
	Config string `short:"c" default:"castellan.yaml" type:"path" help:"Path to the configuration file."`

	Serve    serveCmd    `cmd:"" default:"withargs" help:"Run the agent runtime and management API."`
	Validate validateCmd `cmd:"" help:"Validate the configuration and agent files."`
	Schema   schemaCmd   `cmd:"" help:"Print the configuration JSON schema."`
	Version  versionCmd  `cmd:"" help:"Print the version."`
}

type serveCmd struct {
	DryRun bool `help:"Force dry-run mode regardless of configuration."`
}

func (s *serveCmd) Run(c *cli) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if s.DryRun {
		cfg.DryRun = true
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		return err
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	api := server.New(server.Deps{
		Config:       cfg.Server,
		AgentStore:   rt.AgentStore(),
		Agents:       rt.Agents(),
		Approvals:    rt.Approvals(),
		Orchestrator: rt.Orchestrator(),
		Tools:        rt.Tools(),
		DecisionLog:  rt.DecisionLog(),
		BusConnected: rt.Bus().Connected,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting castellan", "version", version, "dry_run", cfg.DryRun)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Start(gctx) })
	g.Go(func() error { return api.Run(gctx) })

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

type validateCmd struct{}

func (v *validateCmd) Run(c *cli) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	store := config.NewAgentStore(cfg.Paths.AgentsFile, cfg.Defaults)
	agents, err := store.Load()
	if err != nil {
		return err
	}

	fmt.Printf("%s: ok (%d agents)\n", c.Config, len(agents))
	return nil
}

type schemaCmd struct{}

func (s *schemaCmd) Run(c *cli) error {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&config.Config{})
	schema.Title = "Castellan configuration"

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type versionCmd struct{}

func (v *versionCmd) Run(c *cli) error {
	fmt.Println(version)
	return nil
}

func main() {
	// A .env next to the binary keeps tokens out of the YAML.
	_ = godotenv.Load()

	var c cli
	ktx := kong.Parse(&c,
		kong.Name("castellan"),
		kong.Description("LLM-driven home automation agents."),
		kong.UsageOnError(),
	)
	if err := ktx.Run(&c); err != nil {
		fmt.Fprintf(os.Stderr, "castellan: %v\n", err)
		os.Exit(1)
	}
}
