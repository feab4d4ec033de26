package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ignite/emailfinder/internal/app"
	"github.com/ignite/emailfinder/internal/config"
	"github.com/ignite/emailfinder/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config YAML (optional)")
	prefix := flag.String("prefix", "", "import every .csv object under this prefix")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Redact())
	if cfg.Import.Bucket == "" {
		log.Fatal("IMPORT_BUCKET is required")
	}

	keys := flag.Args()
	if len(keys) == 0 && *prefix == "" {
		log.Fatal("usage: importer [-prefix p] [key ...]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	if *prefix != "" {
		objs, err := a.Objects.List(ctx, *prefix)
		if err != nil {
			log.Fatalf("list s3://%s/%s: %v", a.Objects.Bucket(), *prefix, err)
		}
		for _, o := range objs {
			if strings.HasSuffix(strings.ToLower(o.Key), ".csv") {
				keys = append(keys, o.Key)
			}
		}
		log.Printf("found %d csv objects under %s", len(keys), *prefix)
	}

	im := a.Importer()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	failed := 0
	for _, key := range keys {
		res, err := im.ImportObject(ctx, a.Objects, key)
		if res != nil {
			enc.Encode(res)
		}
		if err != nil {
			log.Printf("import %s: %v", key, err)
			failed++
			if ctx.Err() != nil {
				break
			}
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
