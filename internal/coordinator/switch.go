// Package coordinator provides the cluster switch coordinator and health monitor.
// This file implements the switch state machine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/clusterd/internal/cluster"
	"github.com/dreamware/clusterd/internal/probe"
	"github.com/dreamware/clusterd/internal/registry"
	"github.com/dreamware/clusterd/internal/store"
)

// ErrNoFallback is returned by HandleFallback when no fallback endpoint could
// be committed. The selection stays where it was.
var ErrNoFallback = errors.New("no fallback endpoint reachable")

// ErrSwitchInFlight is returned by HandleFallback when it drops a trigger
// because another switch attempt owns the state machine.
var ErrSwitchInFlight = errors.New("switch in flight")

// SwitchFailure is the one-shot notification emitted when a switch attempt
// fails. It is distinct from the persistent health status in the store.
type SwitchFailure struct {
	FailedAt time.Time
	Err      error
	Request  cluster.SwitchRequest
}

// Coordinator drives switches between clusters. Every attempt runs
// Validating → Connecting → Committed, or Validating → Connecting → Failed,
// and ends Idle. Selection and health are only ever committed together for
// a target that answered a probe; failed and superseded attempts leave the
// store untouched.
//
// Supersession:
//
//	t0  RequestSwitch(B) ── Connecting(seq=1) ───── probe B ... result ✗ discarded
//	t1  RequestSwitch(C) ── Connecting(seq=2) ── probe C ── Commit(C)
//
// The newest request that passed validation owns the attempt sequence; an
// older attempt's context is cancelled and its result ignored whatever it is.
type Coordinator struct {
	registry  *registry.Registry
	store     *store.Store
	prober    probe.Prober
	inFlight  context.CancelFunc // Cancels the attempt owning seq
	onFailure []func(SwitchFailure)
	fallbacks []string      // References tried in order by HandleFallback
	phase     cluster.Phase // Current state machine phase
	timeout   time.Duration // Deadline of the connect probe
	seq       uint64        // Sequence number of the newest attempt
	mu        sync.Mutex
}

// NewCoordinator creates a coordinator with a 5 second connect timeout and
// no fallback endpoints.
//
// Parameters:
//   - reg: Registry every target is validated against
//   - st: Store receiving committed selections
//   - prober: Reachability check run before committing
//
// Example:
//
//	coord := NewCoordinator(reg, st, probe.NewRPCProber())
//	coord.SetFallbacks([]string{"devnet"})
//	sel, err := coord.RequestSwitch(ctx, "testnet")
func NewCoordinator(reg *registry.Registry, st *store.Store, prober probe.Prober) *Coordinator {
	return &Coordinator{
		registry: reg,
		store:    st,
		prober:   prober,
		timeout:  5 * time.Second,
		phase:    cluster.PhaseIdle,
	}
}

// SetTimeout sets the deadline of the connect probe.
func (c *Coordinator) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// SetFallbacks sets the endpoint references HandleFallback tries, in order.
func (c *Coordinator) SetFallbacks(refs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks = slices.Clone(refs)
}

// OnFailure registers fn to receive every switch failure. Handlers run on
// the goroutine of the failed attempt after the coordinator is Idle again.
func (c *Coordinator) OnFailure(fn func(SwitchFailure)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = append(c.onFailure, fn)
}

// State returns the current phase of the state machine.
func (c *Coordinator) State() cluster.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// RequestSwitch switches to the endpoint identified by ref on behalf of the
// user. It blocks until the attempt commits, fails or is superseded.
//
// Returns:
//   - cluster.Selection: The committed selection on success
//   - error: *cluster.UnknownEndpointError when ref is not registered (no
//     probe, no store change); wraps cluster.ErrProbeTimeout or
//     cluster.ErrProbeFailure when the target did not answer; wraps
//     cluster.ErrSwitchSuperseded when a newer request replaced this one
//
// Failed user switches are not retried.
func (c *Coordinator) RequestSwitch(ctx context.Context, ref string) (cluster.Selection, error) {
	return c.requestSwitch(ctx, ref, cluster.TriggerUser)
}

func (c *Coordinator) requestSwitch(ctx context.Context, ref string, trigger cluster.Trigger) (cluster.Selection, error) {
	// Validating
	c.mu.Lock()
	if c.phase == cluster.PhaseIdle {
		c.phase = cluster.PhaseValidating
	}
	c.mu.Unlock()

	target, err := c.registry.Lookup(ref)
	if err != nil {
		c.mu.Lock()
		if c.phase == cluster.PhaseValidating {
			c.phase = cluster.PhaseIdle
		}
		c.mu.Unlock()
		log.Printf("Rejected %s switch to %q: %v", trigger, ref, err)
		return cluster.Selection{}, err
	}

	req := cluster.SwitchRequest{
		ID:          uuid.NewString(),
		Target:      target,
		RequestedAt: time.Now(),
		Trigger:     trigger,
	}

	// Connecting
	c.mu.Lock()
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.inFlight != nil {
		log.Printf("Switch %s to %s supersedes in-flight attempt", req.ID, target.Slug)
		c.inFlight()
	}
	c.seq++
	seq := c.seq
	c.inFlight = cancel
	c.phase = cluster.PhaseConnecting
	c.store.CommitSwitch(cluster.SwitchStatus{Phase: cluster.PhaseConnecting, Request: &req})
	c.mu.Unlock()

	log.Printf("Switch %s: connecting to %s (%s)", req.ID, target, trigger)
	res := c.prober.Probe(attemptCtx, target)

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		log.Printf("Switch %s to %s superseded, discarding result", req.ID, target.Slug)
		return cluster.Selection{}, fmt.Errorf("%w: %s", cluster.ErrSwitchSuperseded, req.ID)
	}
	c.inFlight = nil

	if probe.Reachable(res) {
		gen := c.store.CommitSelection(target)
		c.store.CommitHealth(gen, cluster.Healthy(res.Latency))
		c.phase = cluster.PhaseCommitted
		c.store.CommitSwitch(cluster.SwitchStatus{Phase: cluster.PhaseCommitted, Request: &req})
		c.store.CommitSwitch(cluster.SwitchStatus{Phase: cluster.PhaseIdle})
		c.phase = cluster.PhaseIdle
		sel := c.store.Current().Selection
		c.mu.Unlock()

		log.Printf("Switch %s: committed %s at generation %d in %v", req.ID, target.Slug, gen, res.Latency)
		return sel, nil
	}

	// Failed
	failErr := res.Err
	if !errors.Is(failErr, cluster.ErrProbeTimeout) && !errors.Is(failErr, cluster.ErrProbeFailure) {
		failErr = fmt.Errorf("%w: %v", cluster.ErrProbeFailure, failErr)
	}
	c.phase = cluster.PhaseFailed
	failure := SwitchFailure{Request: req, Err: failErr, FailedAt: time.Now()}
	handlers := slices.Clone(c.onFailure)
	c.store.CommitSwitch(cluster.SwitchStatus{Phase: cluster.PhaseFailed, Request: &req, LastError: failErr.Error()})
	c.store.CommitSwitch(cluster.SwitchStatus{Phase: cluster.PhaseIdle, LastError: failErr.Error()})
	c.phase = cluster.PhaseIdle
	c.mu.Unlock()

	log.Printf("Switch %s to %s failed: %v", req.ID, target.Slug, failErr)
	for _, fn := range handlers {
		fn(failure)
	}
	return cluster.Selection{}, fmt.Errorf("switch to %s: %w", target.Slug, failErr)
}

// HandleFallback reacts to a monitor trigger by trying the configured
// fallback endpoints in order through the full switch state machine.
//
// The trigger is ignored when its generation is no longer current, and
// dropped with ErrSwitchInFlight when another attempt is running so the
// caller can re-arm the monitor. Endpoints equal to the failing one are
// skipped. If none commits, the selection stays on the unreachable endpoint
// and ErrNoFallback is returned.
func (c *Coordinator) HandleFallback(ctx context.Context, trigger FallbackTrigger) error {
	c.mu.Lock()
	fallbacks := slices.Clone(c.fallbacks)
	busy := c.phase != cluster.PhaseIdle
	c.mu.Unlock()

	if c.store.Generation() != trigger.Generation {
		log.Printf("Ignoring stale fallback trigger for %s (generation %d)", trigger.Endpoint.Slug, trigger.Generation)
		return nil
	}
	if busy {
		log.Printf("Dropping fallback trigger for %s: switch in flight", trigger.Endpoint.Slug)
		return ErrSwitchInFlight
	}
	if len(fallbacks) == 0 {
		log.Printf("No fallback configured, staying on %s", trigger.Endpoint.Slug)
		return ErrNoFallback
	}

	for _, ref := range fallbacks {
		ep, err := c.registry.Lookup(ref)
		if err != nil {
			log.Printf("Skipping fallback %q: %v", ref, err)
			continue
		}
		if ep.URL == trigger.Endpoint.URL {
			continue
		}
		if c.store.Generation() != trigger.Generation {
			return nil
		}

		sel, err := c.requestSwitch(ctx, ref, cluster.TriggerFallback)
		if err == nil {
			log.Printf("Fell back from %s to %s", trigger.Endpoint.Slug, sel.Endpoint.Slug)
			return nil
		}
		if errors.Is(err, cluster.ErrSwitchSuperseded) {
			return err
		}
	}

	log.Printf("All fallbacks failed, staying on %s", trigger.Endpoint.Slug)
	return ErrNoFallback
}
