// Command analyzer runs the fan-out/fan-in scoring service: it evaluates
// every artifact in a wave against the Evaluator, ranks the results, and
// synthesizes the next wave's learnings via the LLM.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/analyzer"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/llm"
)

func main() {
	cfg, err := core.NewConfig(core.WithName("analyzer"))
	if err != nil {
		log.Fatalf("analyzer: config: %v", err)
	}

	logger := core.NewDefaultLogger()
	logger.SetLevel(cfg.Logging.Level)

	blobs, err := blobstore.New(cfg.Blob.RootDir)
	if err != nil {
		log.Fatalf("analyzer: blob store: %v", err)
	}

	llmClient, err := llm.NewFromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("analyzer: llm client: %v", err)
	}

	az := analyzer.New(cfg.Peers.EvaluatorURL, blobs, llmClient, logger)
	az.SetMaxConcurrency(cfg.Analyzer.EvaluationConcurrency)

	base := core.NewBaseService(cfg.Name, cfg, logger)
	analyzer.NewService(az, logger).Register(base)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = base.Stop(context.Background())
	}()

	logger.Info("analyzer: starting", "port", cfg.Port)
	if err := base.Start(ctx, cfg.Port); err != nil {
		log.Fatalf("analyzer: %v", err)
	}
}
