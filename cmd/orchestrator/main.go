// Command orchestrator runs the wave state machine service: it accepts a
// start request from the Gateway, dispatches Generator/Analyzer work for one
// project at a time, and serves status/approve callbacks until the project
// reaches a terminal state.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/orchestrator"
	"github.com/sral/selfrefine/internal/store"
)

func main() {
	cfg, err := core.NewConfig(core.WithName("orchestrator"))
	if err != nil {
		log.Fatalf("orchestrator: config: %v", err)
	}

	logger := core.NewDefaultLogger()
	logger.SetLevel(cfg.Logging.Level)

	st, err := store.NewStore(cfg.Persistence.SQLitePath)
	if err != nil {
		log.Fatalf("orchestrator: store: %v", err)
	}
	defer st.Close()

	snap, err := store.NewSnapshotStore(cfg.Persistence.StateDir)
	if err != nil {
		log.Fatalf("orchestrator: snapshot store: %v", err)
	}

	blobs, err := blobstore.New(cfg.Blob.RootDir)
	if err != nil {
		log.Fatalf("orchestrator: blob store: %v", err)
	}

	orch, err := orchestrator.New(cfg, st, snap, blobs, logger)
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Rehydrate(ctx); err != nil {
		log.Fatalf("orchestrator: rehydrate: %v", err)
	}

	base := core.NewBaseService(cfg.Name, cfg, logger)
	orchestrator.NewService(orch, logger).Register(base)

	go func() {
		<-ctx.Done()
		orch.Close()
		_ = base.Stop(context.Background())
	}()

	logger.Info("orchestrator: starting", "port", cfg.Port)
	if err := base.Start(ctx, cfg.Port); err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
}
