package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mtzanidakis/sminos/internal/chain"
	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/llm"
	"github.com/mtzanidakis/sminos/internal/market"
	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/notify"
	"github.com/mtzanidakis/sminos/internal/plugin"
	"github.com/mtzanidakis/sminos/internal/plugins"
	"github.com/mtzanidakis/sminos/internal/scheduler"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/swarm"
	"github.com/mtzanidakis/sminos/internal/vault"
	"github.com/mtzanidakis/sminos/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("sminos %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "export":
		if err := runExport(os.Args[2:]); err != nil {
			slog.Error("export failed", "error", err)
			os.Exit(1)
		}
	case "secret":
		if err := runSecret(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: sminos <command>

Commands:
  gateway    Start the swarm gateway service
  export     Export proposal history as a .tar.zst archive
  secret     Manage encrypted secrets
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting sminos gateway", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	deps, err := buildDeps(cfg, db)
	if err != nil {
		return err
	}

	loader := plugin.NewLoader(deps, cfg.Plugins.Dirs)
	plugins.RegisterBuiltins(loader)
	defer loader.Cleanup(context.Background())

	instances := loader.LoadAll(ctx)
	if len(instances) == 0 {
		return fmt.Errorf("no plugins loaded")
	}

	nc, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer nc.Close()

	agents := buildSwarm(cfg, instances, nc, db)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serveIPC(ctx, nc, agents, db)
	})

	sched := scheduler.New(cfg.Scheduler, func(name string) (scheduler.Proposer, bool) {
		agent, ok := agents[name]
		return agent, ok
	})
	g.Go(func() error {
		sched.Start(ctx)
		return nil
	})

	if cfg.Telegram.Token != "" {
		notifier, err := notify.New(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		g.Go(func() error {
			return notifier.Start(ctx, nc)
		})
	} else {
		slog.Warn("telegram token not set, notifications disabled")
	}

	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, loader, agents, cfg.Web, version)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	err = g.Wait()
	for _, agent := range agents {
		agent.Stop()
	}
	return err
}

// buildDeps assembles the shared collaborators handed to plugin factories.
// An unset LLM API key disables the LLM client rather than failing startup.
func buildDeps(cfg *config.Config, db *store.Store) (plugin.Deps, error) {
	deps := plugin.Deps{
		Chain: chain.NewRPCClient(cfg.Chain),
	}

	if cfg.LLM.APIKey != "" {
		client, err := llm.NewHTTPClient(cfg.LLM)
		if err != nil {
			return plugin.Deps{}, fmt.Errorf("init llm client: %w", err)
		}
		deps.LLM = client
	} else {
		slog.Warn("llm api key not set, llm-backed evaluation disabled")
	}

	mkt, err := market.NewClient(cfg.Market)
	if err != nil {
		return plugin.Deps{}, fmt.Errorf("init market client: %w", err)
	}
	deps.Market = mkt

	if pass := os.Getenv("SMINOS_VAULT_PASSPHRASE"); pass != "" {
		v := vault.New(pass)
		deps.Secrets = func(name string) (string, error) {
			sec, err := db.GetSecret(name)
			if err != nil {
				return "", err
			}
			if sec == nil {
				return "", fmt.Errorf("secret %s not found", name)
			}
			plaintext, err := v.Decrypt(sec.Value, sec.Nonce)
			if err != nil {
				return "", err
			}
			return string(plaintext), nil
		}
	}

	return deps, nil
}

// buildSwarm wraps every loaded plugin as a swarm agent, links them into a
// fully connected swarm and starts them.
func buildSwarm(cfg *config.Config, instances []*plugin.Instance, nc *natsbus.Client, db *store.Store) map[string]*swarm.Agent {
	agents := make(map[string]*swarm.Agent, len(instances))
	ordered := make([]*swarm.Agent, 0, len(instances))

	for _, inst := range instances {
		roleCfg := roleConfig(cfg.Swarm, inst.Config)
		agent := swarm.NewAgent(inst, roleCfg, swarm.WithBus(nc), swarm.WithStore(db))
		agents[agent.ID()] = agent
		ordered = append(ordered, agent)
	}

	for _, agent := range ordered {
		agent.JoinSwarm(ordered)
		agent.Start()
	}

	slog.Info("swarm assembled", "agents", len(ordered))
	return agents
}

// roleConfig derives an agent's swarm parameters from the global defaults,
// overridable per plugin through custom settings.
func roleConfig(defaults config.SwarmConfig, cfg plugin.Config) swarm.RoleConfig {
	rc := swarm.RoleConfig{
		Role:          swarm.ParseRole(cfg.Role),
		MinConfidence: defaults.MinConfidence,
		MinVotes:      defaults.MinVotes,
		Timeout:       defaults.Timeout,
		MaxRetries:    defaults.MaxRetries,
	}

	if v := cfg.SettingFloat("min_confidence", rc.MinConfidence); v > 0 {
		rc.MinConfidence = v
	}
	if v := int(cfg.SettingFloat("min_votes", float64(rc.MinVotes))); v > 0 {
		rc.MinVotes = v
	}
	if v := int(cfg.SettingFloat("max_retries", float64(rc.MaxRetries))); v > 0 {
		rc.MaxRetries = v
	}
	return rc
}
