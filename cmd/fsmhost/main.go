// Command fsmhost runs one state machine as a single OS process: load
// a YAML definition, claim (or default) a machine name, and run its
// tick loop until terminated (spec.md §6 "Run an engine").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsmhost/fsmhost/internal/actions"
	"github.com/fsmhost/fsmhost/internal/buildinfo"
	"github.com/fsmhost/fsmhost/internal/config"
	"github.com/fsmhost/fsmhost/internal/engine"
	"github.com/fsmhost/fsmhost/internal/eventbus"
	"github.com/fsmhost/fsmhost/internal/machinedef"
	"github.com/fsmhost/fsmhost/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to fsmhost.yaml")
	machineName := flag.String("machine-name", "", "override machine name (default: definition's config type)")
	initialContextJSON := flag.String("initial-context", "", "JSON object seeding the ExecutionContext")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: fsmhost <yaml> [--machine-name NAME] [--initial-context JSON] [--config PATH]")
		return 2
	}
	yamlPath := flag.Arg(0)
	// Flags may also follow the YAML path (the form start_fsm uses).
	if err := flag.CommandLine.Parse(flag.Args()[1:]); err != nil {
		return 2
	}

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	def, err := machinedef.Load(yamlPath)
	if err != nil {
		logger.Error("failed to load machine definition", "path", yamlPath, "error", err)
		return 1
	}

	name := *machineName
	if name == "" {
		name = def.MachineName()
	}

	var initialContext map[string]any
	if *initialContextJSON != "" {
		if err := json.Unmarshal([]byte(*initialContextJSON), &initialContext); err != nil {
			logger.Error("invalid --initial-context", "error", err)
			return 2
		}
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.StorePath, "error", err)
		return 1
	}
	defer st.Close()

	inbound, err := eventbus.Listen(cfg.MachineSocketPath(name))
	if err != nil {
		logger.Error("failed to bind inbound socket", "error", err)
		return 1
	}
	defer inbound.Close()

	registry := actions.NewRegistry()
	for state, list := range def.Actions {
		for _, a := range list {
			if _, ok := registry.Build(a.Type, &actions.Deps{}); !ok {
				logger.Error("unknown action type in machine definition", "state", state, "type", a.Type)
				return 1
			}
		}
	}
	m := engine.New(st, cfg, inbound, registry, def, name, initialContext)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received", "machine_name", name)
		cancel()
	}()

	logger.Info("engine starting", "machine_name", name, "config_type", def.Name, "version", buildinfo.Version)
	if err := m.Run(ctx); err != nil {
		logger.Error("engine exited with error", "error", err)
		return 1
	}

	logger.Info("engine stopped", "machine_name", name)
	return 0
}
