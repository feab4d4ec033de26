package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/emailfinder/internal/api"
	"github.com/ignite/emailfinder/internal/app"
	"github.com/ignite/emailfinder/internal/auth"
	"github.com/ignite/emailfinder/internal/config"
	"github.com/ignite/emailfinder/internal/pkg/logger"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config YAML (optional)")
	memory := flag.Bool("memory", os.Getenv("EMAILFINDER_MEMORY") == "true", "use in-memory store and index")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Redact())
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{Memory: *memory})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	deps := api.Deps{
		Contacts:    a.Service,
		Importer:    a.Importer(),
		Reindexer:   a.Reindexer(),
		MaxUploadMB: cfg.Server.MaxUploadMB,
	}
	if a.Ledger != nil {
		deps.Audit = a.Ledger
	}
	if cfg.Auth.JWTSecret != "" {
		deps.Auth = auth.NewAuthenticator(cfg.Auth)
		log.Printf("Bearer token auth enabled (admin role %q)", cfg.Auth.AdminRole)
	} else {
		log.Println("JWT_SECRET not set: all callers are anonymous and admin routes are disabled")
	}

	hc := api.NewHealthChecker(a.DB, a.Index, a.Redis)
	server := api.NewServer(cfg.Server, api.NewHandlers(deps), hc)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
