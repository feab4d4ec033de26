package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/emailfinder/internal/app"
	"github.com/ignite/emailfinder/internal/config"
	"github.com/ignite/emailfinder/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config YAML (optional)")
	fresh := flag.Bool("fresh", false, "ignore the saved checkpoint and start from the first record")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Redact())

	// A signal stops the run after the current batch; the checkpoint lets
	// the next run resume.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	res, err := a.Reindexer().Run(ctx, *fresh)
	if res != nil {
		log.Printf("reindex: batches=%d indexed=%d failed=%d completed=%v",
			res.Batches, res.Indexed, len(res.Failed), res.Completed)
	}
	if err != nil {
		log.Fatalf("reindex: %v", err)
	}
}
