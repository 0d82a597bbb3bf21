// Package coordinator implements the two writers of the cluster state store:
// the switch coordinator, which moves the explorer from one cluster to
// another, and the health monitor, which keeps classifying the cluster it is
// on.
//
// # Overview
//
// The store holds exactly one current selection. Everything in this package
// exists to change that selection safely or to describe how healthy it is,
// while tolerating slow endpoints, failing endpoints and users clicking
// through the cluster picker faster than probes complete.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            COORDINATOR              │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐   │
//	│  │   Switch Coordinator         │   │
//	│  │   - Validate against registry│   │
//	│  │   - Probe target (5s)        │   │
//	│  │   - Commit or roll back      │   │
//	│  │   - Supersede older attempts │   │
//	│  └──────────────────────────────┘   │
//	│                ▲ FallbackTrigger    │
//	│  ┌─────────────┴────────────────┐   │
//	│  │   Health Monitor             │   │
//	│  │   - Probe every interval     │   │
//	│  │   - Probe after each switch  │   │
//	│  │   - Classify health          │   │
//	│  │   - Count unreachable streak │   │
//	│  └──────────────────────────────┘   │
//	│                                     │
//	└─────────────────────────────────────┘
//	                 │ CommitSelection / CommitHealth
//	                 ▼
//	            store.Store
//
// # Switch State Machine
//
//	Idle ──► Validating ──► Connecting ──► Committed ──► Idle
//	              │              │
//	              │              └──► Failed ──► Idle   (one-shot SwitchFailure)
//	              └──► Idle  (UnknownEndpoint, no probe, no commit)
//
// A request that passes validation supersedes any attempt still connecting.
// The superseded attempt's probe context is cancelled and whatever it
// returns is discarded; its caller receives cluster.ErrSwitchSuperseded.
// Committing a switch writes the selection and a healthy status for the new
// generation under the coordinator lock, so the store is never observed
// half-switched by the coordinator's own later commits.
//
// # Generation Tagging
//
// Probes and switch attempts run concurrently with each other and with
// readers. Instead of preventing that, every health probe remembers the
// generation it started under. The store drops health for any other
// generation, and the monitor cancels a running probe as soon as it sees a
// newer generation committed.
//
// # Failure Handling
//
// Health classification:
//   - answered within the slow threshold: healthy
//   - answered above the slow threshold: degraded(slow-response)
//   - answered "node is behind": degraded(node-behind)
//   - timeout or error: unreachable(reason)
//
// Automatic fallback:
//   - Detection: 3 consecutive unreachable results (configurable)
//   - Trigger: one FallbackTrigger per streak, re-armed on recovery or switch
//   - Recovery: HandleFallback tries configured fallbacks in order
//   - Fail closed: stays on the unreachable endpoint when none answers
//
// User switches are never retried automatically.
//
// # Configuration
//
// Key configuration parameters:
//
//	HealthInterval:    15s   // Frequency of health probes
//	HealthTimeout:     3s    // Timeout for each health probe
//	SlowThreshold:     1s    // Latency counted as degraded
//	MaxFailures:       3     // Unreachable results before fallback
//	SwitchTimeout:     5s    // Timeout for the connect probe
//	Fallbacks:         []    // Endpoint references, tried in order
//
// # Usage Example
//
//	st := store.New(defaultEndpoint)
//	coord := NewCoordinator(reg, st, prober)
//	coord.SetFallbacks([]string{"devnet"})
//	coord.OnFailure(func(f SwitchFailure) {
//	    banner.Show(f.Request.Target.Name, f.Err)
//	})
//
//	monitor := NewHealthMonitor(st, prober, 15*time.Second)
//	monitor.SetOnFallback(func(t FallbackTrigger) {
//	    if errors.Is(coord.HandleFallback(ctx, t), ErrSwitchInFlight) {
//	        monitor.Rearm(t.Generation)
//	    }
//	})
//	go monitor.Start(ctx)
//
//	sel, err := coord.RequestSwitch(ctx, "testnet")
//
// # See Also
//
// Related packages:
//   - internal/cluster: Core types and error taxonomy
//   - internal/registry: Endpoint registry
//   - internal/store: Committed state and subscriptions
//   - internal/probe: Probe transports and classification
//   - cmd/clusterd: HTTP and WebSocket surface
package coordinator
