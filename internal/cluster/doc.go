// Package cluster defines the shared vocabulary of the cluster connection
// manager: endpoints, selections, health classifications, switch requests,
// and the error taxonomy every other package reports with.
//
// # Overview
//
// An explorer talks to exactly one blockchain RPC endpoint at a time. The
// endpoint can be one of the builtin networks (mainnet-beta, testnet,
// devnet) or a single user supplied custom URL. The rest of the module moves
// values of the types in this package around:
//
//	┌──────────────┐   Lookup    ┌──────────────┐
//	│   Registry   │◄────────────│  Coordinator │
//	│  []Endpoint  │             │ SwitchRequest│
//	└──────────────┘             └──────┬───────┘
//	                                    │ CommitSelection / CommitHealth
//	┌──────────────┐   CommitHealth     ▼
//	│ HealthMonitor│────────────►┌──────────────┐
//	│ HealthStatus │             │    Store     │──► subscribers
//	└──────────────┘             │  Selection   │
//	                             └──────────────┘
//
// # Core Types
//
// Endpoint: an immutable description of a cluster (name, slug, URL, origin,
// capability flags). Custom endpoints are replaced wholesale, never mutated.
//
// Selection: the committed endpoint plus a generation number. Generations
// strictly increase with every committed switch, which lets asynchronous
// probes detect that their result belongs to a superseded selection.
//
// HealthStatus: unknown, checking, healthy, degraded(reason) or
// unreachable(reason), always attached to a generation by the store.
//
// SwitchRequest and SwitchStatus: the transient description of a switch
// attempt and the phase the coordinator reports while running it.
//
// # Errors
//
// All failures are reported with the sentinels in errors.go, wrapped with
// fmt.Errorf("...: %w") so callers can branch with errors.Is:
//
//	if errors.Is(err, cluster.ErrUnknownEndpoint) {
//	    // no probe was made, selection unchanged
//	}
//
// # JSON-RPC
//
// CallRPC posts a JSON-RPC 2.0 request and decodes the result. It is the
// transport used by the probe package and by tests that talk to the fake
// node in internal/rpcnode.
//
// # See Also
//
//   - internal/registry: endpoint registry
//   - internal/store: committed state and subscriptions
//   - internal/coordinator: switch coordinator and health monitor
//   - internal/probe: reachability probes
package cluster
