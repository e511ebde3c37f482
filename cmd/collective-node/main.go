package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/collective/internal/config"
	"github.com/dyluth/collective/internal/metrics"
	"github.com/dyluth/collective/internal/node"
	"github.com/dyluth/collective/pkg/blackboard"
)

const defaultConfigPath = "/etc/collective/collective.yml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, os.Getenv, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Node stopped")
}

// loadConfig reads COLLECTIVE_CONFIG (or the default path when present) and
// applies the REDIS_URL, COLLECTIVE_INSTANCE, COLLECTIVE_NODE_ID and
// COLLECTIVE_HEALTH_ADDR overrides.
// A node without an ID gets a fresh one.
func loadConfig(getenv func(string) string) (*config.CollectiveConfig, error) {
	path := getenv("COLLECTIVE_CONFIG")
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return nil, err
	}

	if v := getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := getenv("COLLECTIVE_INSTANCE"); v != "" {
		cfg.Redis.Instance = v
	}
	if v := getenv("COLLECTIVE_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := getenv("COLLECTIVE_HEALTH_ADDR"); v != "" {
		cfg.Health.Addr = v
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.New().String()
		log.Printf("[Node] No node ID configured, using ephemeral ID %s", cfg.Node.ID)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("REDIS_URL or redis.url must be set")
	}
	return cfg, nil
}

// run serves one node until ctx is cancelled. ready, when non-nil, receives
// the node once it is active.
func run(ctx context.Context, getenv func(string) string, ready chan<- *node.Node) error {
	cfg, err := loadConfig(getenv)
	if err != nil {
		return err
	}

	client, err := blackboard.NewClientFromURL(cfg.Redis.URL, cfg.Redis.Instance)
	if err != nil {
		return fmt.Errorf("failed to create blackboard client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("redis not accessible: %w", err)
	}

	reg := metrics.NewPrometheusRegistry("collective")
	n, err := node.NewRedisNode(cfg, client, reg)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	fmt.Printf("Node %s starting for instance '%s' (task=%q, strategy=%s)\n",
		n.ID(), cfg.Redis.Instance, cfg.Node.Task, n.Strategy())

	health := node.NewHealthServer(cfg.Health.Addr, map[string]metrics.Indicator{
		"node":  n,
		"redis": node.PingIndicator(client),
	}, reg.Handler())
	if err := health.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	if err := n.Initialize(ctx); err != nil {
		shutdownHealth(health)
		return fmt.Errorf("failed to initialize node: %w", err)
	}
	if ready != nil {
		ready <- n
	}

	<-ctx.Done()
	fmt.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := n.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down node: %w", err))
	}
	shutdownHealth(health)
	return errors.Join(errs...)
}

func shutdownHealth(h *node.HealthServer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		log.Printf("[Node] Failed to stop health server: %v", err)
	}
}
