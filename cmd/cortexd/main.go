// Copyright 2025 Certen Protocol
//
// Command cortexd is the composition root for a standalone CORTEX memory
// engine process. It wires storage, journal, and the Memory Orchestrator
// together and blocks until told to shut down. It ships no HTTP, CLI, or
// MCP surface of its own (§1 Non-goals) — embedding that surface is left
// to the caller; this binary exists to prove the wiring.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/certen/cortex/pkg/config"
	"github.com/certen/cortex/pkg/engine"
	"github.com/certen/cortex/pkg/journal"
	"github.com/certen/cortex/pkg/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		engineConfigPath = flag.String("engine-config", "", "Path to engine YAML config (defaults built in if unset)")
		dev              = flag.Bool("dev", false, "Relax configuration validation for local development")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *dev {
		if err := cfg.ValidateForDevelopment(); err != nil {
			log.Fatalf("configuration invalid: %v", err)
		}
	} else if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}

	engineCfg, err := config.LoadEngineConfigWithDefaults(*engineConfigPath)
	if err != nil {
		log.Fatalf("failed to load engine config: %v", err)
	}

	log.Printf("connecting to database...")
	client, err := storage.NewClient(cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("applying pending migrations...")
	if err := client.MigrateUp(ctx); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	log.Printf("opening writer queue journal at %s...", cfg.JournalDir)
	if err := os.MkdirAll(cfg.JournalDir, 0o700); err != nil {
		log.Fatalf("failed to create journal directory: %v", err)
	}
	kv, err := journal.OpenGoLevelDB("cortex-journal", cfg.JournalDir)
	if err != nil {
		log.Fatalf("failed to open writer queue journal: %v", err)
	}
	defer kv.Close()

	eng, err := engine.Init(ctx, *engineCfg, client, kv)
	if err != nil {
		log.Fatalf("failed to initialize memory engine: %v", err)
	}
	defer eng.Close()

	log.Printf("cortexd ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
}
