// Package coordinator provides the cluster switch coordinator and health monitor.
// This file implements health monitoring for the currently selected cluster.
package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dreamware/clusterd/internal/cluster"
	"github.com/dreamware/clusterd/internal/probe"
	"github.com/dreamware/clusterd/internal/store"
)

// FallbackTrigger is raised once the current selection has failed
// maxFailures consecutive probes. It is advisory: the switch coordinator
// decides whether and where to move.
type FallbackTrigger struct {
	Endpoint   cluster.Endpoint // Endpoint that stopped answering
	LastError  string           // Reason of the last unreachable result
	Generation uint64           // Selection generation the failures belong to
	Failures   int              // Consecutive unreachable results
}

// EndpointHealth tracks probe bookkeeping for the current selection.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type EndpointHealth struct {
	LastCheck        time.Time // Timestamp of the last probe that was applied
	LastHealthy      time.Time // Timestamp of the last healthy result
	Slug             string    // Endpoint slug of the tracked selection
	Generation       uint64    // Generation the counters belong to
	ConsecutiveFails int       // Number of consecutive unreachable results
	FallbackRaised   bool      // Whether a trigger fired for the current streak
}

// HealthMonitor periodically probes the currently selected cluster and
// commits the classification into the store, tagged with the generation
// active when the probe started.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	store         *store.Store          // Source of the selection, sink for health
	prober        probe.Prober          // Reachability check
	onFallback    func(FallbackTrigger) // Callback after maxFailures unreachable results
	ctx           context.Context       // Context for cancellation
	cancel        context.CancelFunc    // Cancel function for shutdown
	inflight      context.CancelFunc    // Cancels the running probe
	kick          chan struct{}         // Requests an immediate probe
	health        EndpointHealth        // Bookkeeping for the current generation
	interval      time.Duration         // How often to probe
	timeout       time.Duration         // Deadline of a single probe
	slowThreshold time.Duration         // Latency above which a probe counts as degraded
	inflightGen   uint64                // Generation the running probe belongs to
	seenGen       uint64                // Last generation observed through the store
	mu            sync.Mutex            // Protects the fields below ctx
	wg            sync.WaitGroup        // Wait group for graceful shutdown
	maxFailures   int                   // Unreachable results before a fallback trigger
}

// NewHealthMonitor creates a health monitor for the selection held by st.
// The monitor probes every interval, bounds each probe by 3 seconds, counts
// answers slower than 1 second as degraded and raises a fallback trigger
// after 3 consecutive unreachable results.
//
// Parameters:
//   - st: Store holding the current selection
//   - prober: Reachability check used for every probe
//   - interval: How often to probe (recommended: 15s)
//
// Returns:
//   - *HealthMonitor: Configured health monitor ready to start
//
// Example:
//
//	monitor := NewHealthMonitor(st, probe.NewRPCProber(), 15*time.Second)
//	monitor.SetOnFallback(func(t FallbackTrigger) { coord.HandleFallback(ctx, t) })
//	go monitor.Start(ctx)
func NewHealthMonitor(st *store.Store, prober probe.Prober, interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		store:         st,
		prober:        prober,
		interval:      interval,
		timeout:       3 * time.Second,
		slowThreshold: time.Second,
		maxFailures:   3,
		kick:          make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetOnFallback sets the callback invoked when the current selection has
// been unreachable maxFailures times in a row. The callback runs on its own
// goroutine and fires once per failure streak.
//
// Example:
//
//	monitor.SetOnFallback(func(t FallbackTrigger) {
//	    log.Printf("%s unreachable, trying fallbacks", t.Endpoint.Slug)
//	    coord.HandleFallback(ctx, t)
//	})
func (h *HealthMonitor) SetOnFallback(callback func(FallbackTrigger)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFallback = callback
}

// SetTimeout sets the deadline of a single health probe.
func (h *HealthMonitor) SetTimeout(timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = timeout
}

// SetSlowThreshold sets the latency above which a successful probe is
// classified degraded(slow-response). Zero disables the check.
func (h *HealthMonitor) SetSlowThreshold(threshold time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slowThreshold = threshold
}

// SetMaxFailures sets how many consecutive unreachable results raise a
// fallback trigger.
func (h *HealthMonitor) SetMaxFailures(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxFailures = n
}

// SetProber allows overriding the probe implementation.
// This is useful for testing or custom transports.
func (h *HealthMonitor) SetProber(p probe.Prober) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prober = p
}

// Start begins the health monitoring process in the current goroutine.
// It probes immediately, then every interval and after every committed
// switch. This method blocks until the context is canceled or Stop is called.
//
// Parameters:
//   - ctx: Context for cancellation (nil uses the monitor's internal context)
//
// Example:
//
//	go monitor.Start(ctx)
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	// Use the provided context or fall back to internal
	if ctx == nil {
		ctx = h.ctx
	}

	h.mu.Lock()
	h.seenGen = h.store.Generation()
	h.mu.Unlock()

	unsubscribe := h.store.Subscribe(h.observe)
	defer unsubscribe()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("Health monitor started with interval %v", h.interval)

	// Perform initial health check immediately
	h.check(ctx)

	for {
		select {
		case <-ticker.C:
			h.check(ctx)
		case <-h.kick:
			h.check(ctx)
		case <-ctx.Done():
			log.Println("Health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			log.Println("Health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop gracefully shuts down the health monitor.
// It cancels the monitoring goroutine and waits for it to complete.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	log.Println("Health monitor stopped")
}

// Refresh requests an immediate probe of the current selection.
// Requests made while one is already pending are coalesced.
func (h *HealthMonitor) Refresh() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// GetHealth returns a copy of the bookkeeping for the current selection.
func (h *HealthMonitor) GetHealth() EndpointHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health
}

// Rearm lets a failure streak of generation raise another fallback trigger.
// The next unreachable result raises it if the streak is still at or above
// maxFailures. It is a no-op once the selection has moved on.
func (h *HealthMonitor) Rearm(generation uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.health.Generation == generation {
		h.health.FallbackRaised = false
	}
}

// observe runs inside store notifications. On a generation change it
// cancels the probe of the superseded selection and requests a new one.
// It must not commit to the store.
func (h *HealthMonitor) observe(snap store.Snapshot) {
	gen := snap.Selection.Generation

	h.mu.Lock()
	if gen == h.seenGen {
		h.mu.Unlock()
		return
	}
	h.seenGen = gen
	if h.inflight != nil && h.inflightGen != gen {
		h.inflight()
	}
	h.mu.Unlock()

	h.Refresh()
}

// check probes the current selection once and commits the classification.
//
// Implementation:
//  1. Read the current selection and its generation
//  2. Commit "checking" if the generation still has no health
//  3. Probe with a deadline, registering a cancel func for supersession
//  4. Discard the result if the monitor is stopping or the generation
//     changed meanwhile
//  5. Commit the classification and update failure bookkeeping
func (h *HealthMonitor) check(ctx context.Context) {
	snap := h.store.Current()
	gen := snap.Selection.Generation
	ep := snap.Selection.Endpoint

	if snap.Health.State == cluster.HealthUnknown {
		h.store.CommitChecking(gen)
	}

	h.mu.Lock()
	prober, timeout, slow := h.prober, h.timeout, h.slowThreshold
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	h.inflight, h.inflightGen = cancel, gen
	h.mu.Unlock()

	// Stop reaches the probe even when Start was given its own context
	stopProbe := context.AfterFunc(h.ctx, cancel)

	defer func() {
		stopProbe()
		cancel()
		h.mu.Lock()
		if h.inflightGen == gen {
			h.inflight = nil
		}
		h.mu.Unlock()
	}()

	// The selection may have moved before the cancel func was registered
	if h.store.Generation() != gen {
		return
	}

	res := prober.Probe(probeCtx, ep)
	if ctx.Err() != nil || h.ctx.Err() != nil {
		log.Printf("Discarding probe result for %s: monitor stopping", ep.Slug)
		return
	}
	status := probe.Classify(res, slow)

	if !h.store.CommitHealth(gen, status) {
		log.Printf("Discarding %s probe result for %s: generation %d superseded", status, ep.Slug, gen)
		return
	}
	h.record(gen, ep, status)
}

// record updates failure bookkeeping for gen and raises a fallback trigger
// when the unreachable streak reaches maxFailures.
func (h *HealthMonitor) record(gen uint64, ep cluster.Endpoint, status cluster.HealthStatus) {
	h.mu.Lock()

	if h.health.Generation != gen {
		h.health = EndpointHealth{Slug: ep.Slug, Generation: gen}
	}
	h.health.LastCheck = time.Now()

	var trigger *FallbackTrigger
	callback := h.onFallback

	if status.State == cluster.HealthUnreachable {
		h.health.ConsecutiveFails++
		log.Printf("Health check failed for cluster %s (attempt %d/%d): %s",
			ep.Slug, h.health.ConsecutiveFails, h.maxFailures, status.Reason)

		if h.health.ConsecutiveFails >= h.maxFailures && !h.health.FallbackRaised {
			h.health.FallbackRaised = true
			log.Printf("Cluster %s unreachable after %d failures", ep.Slug, h.health.ConsecutiveFails)
			trigger = &FallbackTrigger{
				Endpoint:   ep,
				Generation: gen,
				Failures:   h.health.ConsecutiveFails,
				LastError:  status.Reason,
			}
		}
	} else {
		if h.health.ConsecutiveFails >= h.maxFailures {
			log.Printf("Cluster %s recovered and is now %s", ep.Slug, status)
		}
		h.health.ConsecutiveFails = 0
		h.health.FallbackRaised = false
		if status.State == cluster.HealthHealthy {
			h.health.LastHealthy = h.health.LastCheck
		}
	}
	h.mu.Unlock()

	// Call callback without holding the lock
	if trigger != nil && callback != nil {
		go callback(*trigger)
	}
}
