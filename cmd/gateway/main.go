// Command gateway runs the thin external entry point: it validates a start
// request and forwards it to the configured Orchestrator instance.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/gateway"
)

func main() {
	cfg, err := core.NewConfig(core.WithName("gateway"))
	if err != nil {
		log.Fatalf("gateway: config: %v", err)
	}

	logger := core.NewDefaultLogger()
	logger.SetLevel(cfg.Logging.Level)

	svc := gateway.NewService(cfg.Peers.OrchestratorURL, logger)

	base := core.NewBaseService(cfg.Name, cfg, logger)
	svc.Register(base)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = base.Stop(context.Background())
	}()

	logger.Info("gateway: starting", "port", cfg.Port)
	if err := base.Start(ctx, cfg.Port); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}
