// Package main runs a local JSON-RPC node for developing and testing
// clusterd without a real cluster.
//
// The node answers getHealth, getVersion and getSlot on the listen address
// and accepts WebSocket connections on the next port, the layout real
// validators use and the one clusterd derives WebSocket URLs from.
//
// Configuration:
//   - RPCNODE_ID: Node identifier (default: "rpcnode")
//   - RPCNODE_LISTEN: JSON-RPC listen address (default: ":8899")
//   - RPCNODE_LATENCY: Delay added to every answer (default: "0s")
//   - RPCNODE_BEHIND: Slots behind, > 0 makes getHealth fail (default: "0")
//   - RPCNODE_WEBSOCKET: Serve WebSocket on port+1 (default: "true")
//
// Example usage:
//
//	RPCNODE_LISTEN=:8899 RPCNODE_LATENCY=1500ms ./rpcnode
//	CLUSTERD_CUSTOM_URL=http://127.0.0.1:8899 ./clusterd
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dreamware/clusterd/internal/rpcnode"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("load .env: %v", err)
		}
	}

	id := getenv("RPCNODE_ID", "rpcnode")
	listen := getenv("RPCNODE_LISTEN", ":8899")

	node := rpcnode.New(id)
	if err := configure(node); err != nil {
		logFatal("config: %v", err)
	}

	servers := []*http.Server{newHTTPServer(listen, node)}
	if getenv("RPCNODE_WEBSOCKET", "true") == "true" {
		addr, err := wsAddr(listen)
		if err != nil {
			logFatal("websocket address: %v", err)
		}
		servers = append(servers, newHTTPServer(addr, node))
	} else {
		node.SetWebSocket(false)
	}

	for _, s := range servers {
		go func(s *http.Server) {
			log.Printf("rpcnode[%s] listening on %s", id, s.Addr)
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logFatal("listen: %v", err)
			}
		}(s)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}
	log.Printf("rpcnode[%s] stopped after %d requests", id, node.Requests())
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// configure applies RPCNODE_LATENCY and RPCNODE_BEHIND to node.
func configure(node *rpcnode.Node) error {
	latency, err := time.ParseDuration(getenv("RPCNODE_LATENCY", "0s"))
	if err != nil {
		return fmt.Errorf("RPCNODE_LATENCY: %w", err)
	}
	behind, err := strconv.Atoi(getenv("RPCNODE_BEHIND", "0"))
	if err != nil {
		return fmt.Errorf("RPCNODE_BEHIND: %w", err)
	}
	if latency < 0 || behind < 0 {
		return errors.New("RPCNODE_LATENCY and RPCNODE_BEHIND must not be negative")
	}
	node.SetLatency(latency)
	node.SetBehind(behind)
	return nil
}

// wsAddr returns the listen address one port above addr.
func wsAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("port %q: %w", port, err)
	}
	if n <= 0 || n >= 65535 {
		return "", fmt.Errorf("port %d has no successor", n)
	}
	return net.JoinHostPort(host, strconv.Itoa(n+1)), nil
}

// getenv retrieves an environment variable with a fallback default value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
