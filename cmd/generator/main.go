// Command generator runs the artifact synthesis service: it accepts a
// meta-prompt, returns 202 immediately, and does the model call, blob
// write, and callback POST on a background goroutine.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/generator"
	"github.com/sral/selfrefine/internal/llm"
)

func main() {
	cfg, err := core.NewConfig(core.WithName("generator"))
	if err != nil {
		log.Fatalf("generator: config: %v", err)
	}

	logger := core.NewDefaultLogger()
	logger.SetLevel(cfg.Logging.Level)

	blobs, err := blobstore.New(cfg.Blob.RootDir)
	if err != nil {
		log.Fatalf("generator: blob store: %v", err)
	}

	llmClient, err := llm.NewFromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("generator: llm client: %v", err)
	}

	svc := generator.NewService(llmClient, blobs, logger)

	base := core.NewBaseService(cfg.Name, cfg, logger)
	svc.Register(base)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = base.Stop(context.Background())
	}()

	logger.Info("generator: starting", "port", cfg.Port)
	if err := base.Start(ctx, cfg.Port); err != nil {
		log.Fatalf("generator: %v", err)
	}
}
