// Package main implements the clusterd service, which keeps track of the
// Solana cluster an explorer is pointed at, switches between clusters on
// request and falls back automatically when the current one stops answering.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                clusterd                 │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health          - Liveness          │
//	│    /clusters        - Known endpoints   │
//	│    /cluster         - Current snapshot  │
//	│    /cluster/switch  - Switch clusters   │
//	│    /cluster/custom  - Custom endpoint   │
//	│    /cluster/events  - WebSocket stream  │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Registry     - Builtin + custom      │
//	│    Store        - Committed selection   │
//	│    Coordinator  - Switch state machine  │
//	│    Monitor      - Periodic health probe │
//	└─────────────────────────────────────────┘
//
// Configuration is read by internal/config from CLUSTERD_* environment
// variables, an optional clusterd.yaml and a .env file.
//
// Example usage:
//
//	CLUSTERD_SWITCH_FALLBACK=devnet ./clusterd
//
//	curl localhost:8080/cluster
//	curl -X POST localhost:8080/cluster/switch -d '{"cluster":"testnet"}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dreamware/clusterd/internal/cluster"
	"github.com/dreamware/clusterd/internal/config"
	"github.com/dreamware/clusterd/internal/coordinator"
	"github.com/dreamware/clusterd/internal/probe"
	"github.com/dreamware/clusterd/internal/registry"
	"github.com/dreamware/clusterd/internal/store"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	if err := loadDotenv(".env"); err != nil {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logFatal("config: %v", err)
	}

	srv, err := newServer(cfg, newProber(cfg))
	if err != nil {
		logFatal("init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.monitor.Start(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("clusterd listening on %s (cluster %s)", cfg.ListenAddr, srv.store.Current().Selection.Endpoint)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("clusterd stopped")
}

// loadDotenv loads path into the environment when it exists.
func loadDotenv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// newProber returns the JSON-RPC prober, chained with the WebSocket prober
// when health.websocket is enabled.
func newProber(cfg config.Config) probe.Prober {
	rpc := probe.NewRPCProber()
	if !cfg.Health.WebSocket {
		return rpc
	}
	return probe.Chain{RPC: rpc, WebSocket: probe.NewWebSocketProber()}
}

type server struct {
	registry *registry.Registry
	store    *store.Store
	coord    *coordinator.Coordinator
	monitor  *coordinator.HealthMonitor
	events   *eventHub
}

// newServer wires registry, store, coordinator, monitor and event hub from
// cfg. The monitor is not started.
func newServer(cfg config.Config, prober probe.Prober) (*server, error) {
	reg, err := registry.NewRegistry(cfg.Endpoints())
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if cfg.CustomURL != "" {
		ep, err := reg.RegisterCustom(cfg.CustomURL)
		if err != nil {
			return nil, fmt.Errorf("custom_url: %w", err)
		}
		log.Printf("registered custom endpoint %s", ep.URL)
	}

	initial, err := reg.Lookup(cfg.DefaultCluster)
	if err != nil {
		return nil, fmt.Errorf("default_cluster: %w", err)
	}
	st := store.New(initial)

	coord := coordinator.NewCoordinator(reg, st, prober)
	coord.SetTimeout(cfg.Switch.Timeout)
	coord.SetFallbacks(cfg.Switch.Fallback)

	monitor := coordinator.NewHealthMonitor(st, prober, cfg.Health.Interval)
	monitor.SetTimeout(cfg.Health.Timeout)
	monitor.SetSlowThreshold(cfg.Health.SlowThreshold)
	monitor.SetMaxFailures(cfg.Health.FailureThreshold)
	monitor.SetOnFallback(func(t coordinator.FallbackTrigger) {
		log.Printf("%s unreachable after %d probes (%s), trying fallbacks", t.Endpoint.Slug, t.Failures, t.LastError)
		err := coord.HandleFallback(context.Background(), t)
		switch {
		case errors.Is(err, coordinator.ErrSwitchInFlight):
			monitor.Rearm(t.Generation)
		case err != nil:
			log.Printf("fallback from %s: %v", t.Endpoint.Slug, err)
		}
	})

	events := newEventHub(st)
	coord.OnFailure(events.publishFailure)

	return &server{
		registry: reg,
		store:    st,
		coord:    coord,
		monitor:  monitor,
		events:   events,
	}, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/clusters", s.handleClusters)
	mux.HandleFunc("/cluster", s.handleCluster)
	mux.HandleFunc("/cluster/switch", s.handleSwitch)
	mux.HandleFunc("/cluster/custom", s.handleCustom)
	mux.HandleFunc("/cluster/events", s.events.handleEvents)
	return mux
}

func (s *server) close() {
	s.monitor.Stop()
	s.events.close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleClusters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Clusters []cluster.Endpoint `json:"clusters"`
	}{Clusters: s.registry.List()})
}

func (s *server) handleCluster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Current())
}

// SwitchRequest is the body of POST /cluster/switch.
type SwitchRequest struct {
	Cluster string `json:"cluster"`
}

func (s *server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Cluster == "" {
		http.Error(w, "missing cluster", http.StatusBadRequest)
		return
	}

	if _, err := s.coord.RequestSwitch(r.Context(), req.Cluster); err != nil {
		http.Error(w, err.Error(), switchStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, s.store.Current())
}

// switchStatus maps a RequestSwitch error to an HTTP status code.
func switchStatus(err error) int {
	switch {
	case errors.Is(err, cluster.ErrUnknownEndpoint):
		return http.StatusNotFound
	case errors.Is(err, cluster.ErrSwitchSuperseded):
		return http.StatusConflict
	case errors.Is(err, cluster.ErrProbeTimeout), errors.Is(err, cluster.ErrProbeFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CustomRequest is the body of POST /cluster/custom.
type CustomRequest struct {
	URL string `json:"url"`
}

func (s *server) handleCustom(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req CustomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		ep, err := s.registry.RegisterCustom(req.URL)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("registered custom endpoint %s", ep.URL)
		writeJSON(w, http.StatusCreated, ep)
	case http.MethodDelete:
		s.registry.RemoveCustom()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
