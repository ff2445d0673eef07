// Command evaluator runs the scoring service: it computes one weighted
// quality score for one artifact against a scorecard of heterogeneous
// tests, with per-test fault isolation.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/evaluator"
	"github.com/sral/selfrefine/internal/llm"
)

func main() {
	cfg, err := core.NewConfig(core.WithName("evaluator"))
	if err != nil {
		log.Fatalf("evaluator: config: %v", err)
	}

	logger := core.NewDefaultLogger()
	logger.SetLevel(cfg.Logging.Level)

	blobs, err := blobstore.New(cfg.Blob.RootDir)
	if err != nil {
		log.Fatalf("evaluator: blob store: %v", err)
	}

	llmClient, err := llm.NewFromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("evaluator: llm client: %v", err)
	}

	eval := evaluator.New(llmClient)

	base := core.NewBaseService(cfg.Name, cfg, logger)
	evaluator.NewService(eval, blobs, logger).Register(base)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = base.Stop(context.Background())
	}()

	logger.Info("evaluator: starting", "port", cfg.Port)
	if err := base.Start(ctx, cfg.Port); err != nil {
		log.Fatalf("evaluator: %v", err)
	}
}
