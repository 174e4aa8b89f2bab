package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/config"
	"github.com/pavilion-trust/amg-gateway/internal/gateway"
	"github.com/pavilion-trust/amg-gateway/internal/killswitch"
	"github.com/pavilion-trust/amg-gateway/internal/metrics"
	"github.com/pavilion-trust/amg-gateway/internal/policy"
	"github.com/pavilion-trust/amg-gateway/internal/server"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
	"github.com/pavilion-trust/amg-gateway/internal/storage/memadapter"
	"github.com/pavilion-trust/amg-gateway/internal/storage/pgadapter"
	"github.com/pavilion-trust/amg-gateway/internal/storage/rediscache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		log.Fatalf("failed to initialize storage backend %q: %v", cfg.StorageBackend, err)
	}

	engine := policy.NewEngine(nil, cfg.PolicyVersion)
	killSwitch := killswitch.New(adapter, cfg.PolicyVersion)
	builder := gateway.New(adapter, killSwitch, cfg.PolicyVersion)
	counters := metrics.New()

	srv := server.New(cfg, server.Deps{
		Adapter:    adapter,
		Engine:     engine,
		KillSwitch: killSwitch,
		Builder:    builder,
		Counters:   counters,
	})

	go func() {
		log.Printf("starting memory governance gateway on port %s (backend=%s)", cfg.Port, cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("gateway exited gracefully")
}

// buildAdapter selects the storage backend named by cfg.StorageBackend and,
// when a Redis address is configured, wraps it in a read-through query
// cache.
func buildAdapter(cfg *config.Config) (storage.Adapter, error) {
	var adapter storage.Adapter

	switch cfg.StorageBackend {
	case "postgres":
		pg, err := pgadapter.New(cfg.PostgresURL, cfg.PolicyVersion, pgadapter.TTLEnforcementLazy)
		if err != nil {
			return nil, err
		}
		adapter = pg
	default:
		adapter = memadapter.New(cfg.PolicyVersion)
	}

	if cfg.RedisAddr != "" {
		adapter = rediscache.New(adapter, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisCacheTTL)
	}

	return adapter, nil
}
