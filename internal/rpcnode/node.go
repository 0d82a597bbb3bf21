// Package rpcnode implements a small Solana-style JSON-RPC node used to
// exercise probes, switches and health monitoring without a real cluster.
//
// The node answers getHealth, getVersion and getSlot over HTTP POST and over
// a WebSocket upgrade on the same path. Its latency, health and lag are
// controllable at runtime:
//
//	node := rpcnode.New("test-node")
//	srv := httptest.NewServer(node)
//	node.SetLatency(2 * time.Second) // every answer is delayed
//	node.SetHealthy(false)           // HTTP 503
//	node.SetBehind(42)               // getHealth returns error -32005
package rpcnode

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/clusterd/internal/cluster"
)

// Version is reported by getVersion.
const Version = "1.18.0-rpcnode"

// Node is a controllable JSON-RPC endpoint.
//
// Behavior knobs:
//   - latency: delay before every answer (aborted when the client goes away)
//   - healthy: false answers every request with HTTP 503
//   - behind: > 0 makes getHealth return the "node is behind" RPC error
//   - websocket: false rejects WebSocket upgrades
//
// Thread safety: all methods are safe for concurrent use.
type Node struct {
	ID string

	upgrader  websocket.Upgrader
	latency   time.Duration
	behind    int
	healthy   bool
	wsEnabled bool
	mu        sync.RWMutex
	slot      atomic.Uint64
	requests  atomic.Int64
}

// New creates a healthy node with no added latency and WebSocket enabled.
func New(id string) *Node {
	return &Node{
		ID:        id,
		healthy:   true,
		wsEnabled: true,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (n *Node) SetLatency(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latency = d
}

func (n *Node) SetHealthy(healthy bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.healthy = healthy
}

func (n *Node) SetBehind(slots int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.behind = slots
}

func (n *Node) SetWebSocket(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.wsEnabled = enabled
}

// Requests returns how many requests the node has received, including
// WebSocket upgrades.
func (n *Node) Requests() int64 {
	return n.requests.Load()
}

func (n *Node) settings() (latency time.Duration, healthy bool, behind int, ws bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.latency, n.healthy, n.behind, n.wsEnabled
}

func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.requests.Add(1)
	latency, healthy, _, ws := n.settings()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}
	}
	if !healthy {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		if !ws {
			http.Error(w, "websocket disabled", http.StatusNotFound)
			return
		}
		n.serveWebSocket(w, r)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cluster.RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(n.handle(req))
}

func (n *Node) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("rpcnode %s: upgrade failed: %v", n.ID, err)
		return
	}
	defer conn.Close()

	for {
		var req cluster.RPCRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if err := conn.WriteJSON(n.handle(req)); err != nil {
			return
		}
	}
}

func (n *Node) handle(req cluster.RPCRequest) cluster.RPCResponse {
	resp := cluster.RPCResponse{JSONRPC: "2.0", ID: req.ID}
	_, _, behind, _ := n.settings()

	var result any
	switch req.Method {
	case "getHealth":
		if behind > 0 {
			resp.Error = &cluster.RPCError{
				Code:    cluster.CodeNodeUnhealthy,
				Message: fmt.Sprintf("Node is behind by %d slots", behind),
			}
			return resp
		}
		result = "ok"
	case "getVersion":
		result = map[string]any{"solana-core": Version}
	case "getSlot":
		result = n.slot.Add(1)
	default:
		resp.Error = &cluster.RPCError{Code: -32601, Message: "Method not found"}
		return resp
	}

	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = &cluster.RPCError{Code: -32603, Message: err.Error()}
		return resp
	}
	resp.Result = raw
	return resp
}
