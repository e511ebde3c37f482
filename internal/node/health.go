package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/collective/internal/metrics"
	"github.com/dyluth/collective/pkg/blackboard"
)

// Health reports the node's lifecycle status as a health report.
func (n *Node) Health(context.Context) metrics.Report {
	switch s := n.Status(); s {
	case blackboard.NodeStatusActive:
		return metrics.Up("active")
	case blackboard.NodeStatusSynchronizing:
		return metrics.Degraded("synchronizing")
	default:
		return metrics.Down(string(s))
	}
}

// PingIndicator reports Redis connectivity.
func PingIndicator(client *blackboard.Client) metrics.Indicator {
	return metrics.IndicatorFunc(func(ctx context.Context) metrics.Report {
		if err := client.Ping(ctx); err != nil {
			return metrics.Down(fmt.Sprintf("redis: %v", err))
		}
		return metrics.Up("redis connected")
	})
}

// HealthServer provides HTTP health and metrics endpoints for a node.
type HealthServer struct {
	addr       string
	indicators map[string]metrics.Indicator
	metrics    http.Handler
	server     *http.Server
	listener   net.Listener
}

// NewHealthServer creates a health server. metricsHandler may be nil.
func NewHealthServer(addr string, indicators map[string]metrics.Indicator, metricsHandler http.Handler) *HealthServer {
	return &HealthServer{
		addr:       addr,
		indicators: indicators,
		metrics:    metricsHandler,
	}
}

// Start binds the address and serves in the background.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[Node] Health server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (h *HealthServer) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Shutdown gracefully shuts down the health server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 unless the aggregate status is DOWN, then 503.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	report := metrics.Aggregate(ctx, h.indicators)

	w.Header().Set("Content-Type", "application/json")
	if report.Status == metrics.StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(report)
}
