// Package probe implements bounded-time reachability checks against cluster
// endpoints and classifies their outcome into health states.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dreamware/clusterd/internal/cluster"
)

// Result is the raw outcome of one probe.
type Result struct {
	Err      error         // nil, or wraps one of the cluster probe errors
	Degraded string        // Non-fatal impairment found on a successful probe
	Latency  time.Duration // Time until the endpoint answered or failed
}

// Prober checks one endpoint. The deadline of ctx bounds the probe;
// implementations must return promptly once ctx is done.
type Prober interface {
	Probe(ctx context.Context, ep cluster.Endpoint) Result
}

// Func adapts an ordinary function to the Prober interface.
type Func func(ctx context.Context, ep cluster.Endpoint) Result

func (f Func) Probe(ctx context.Context, ep cluster.Endpoint) Result {
	return f(ctx, ep)
}

// WithTimeout runs p under a deadline of timeout.
//
// Example:
//
//	res := probe.WithTimeout(ctx, prober, ep, 5*time.Second)
//	if !probe.Reachable(res) {
//	    log.Printf("switch to %s failed: %v", ep, res.Err)
//	}
func WithTimeout(ctx context.Context, p Prober, ep cluster.Endpoint, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Probe(ctx, ep)
}

// Reachable reports whether the endpoint answered. A node that answers but
// reports it is behind is reachable.
func Reachable(res Result) bool {
	return res.Err == nil || errors.Is(res.Err, cluster.ErrNodeBehind)
}

// Classify maps a probe result to a health status.
//
// Policy:
//   - node answered "behind": degraded(node-behind)
//   - timeout: unreachable(timeout)
//   - any other error: unreachable(error text)
//   - answered slower than slow (when slow > 0): degraded(slow-response)
//   - answered with an impairment: degraded(impairment)
//   - otherwise: healthy
func Classify(res Result, slow time.Duration) cluster.HealthStatus {
	switch {
	case errors.Is(res.Err, cluster.ErrNodeBehind):
		return cluster.Degraded(cluster.ReasonNodeBehind, res.Latency)
	case errors.Is(res.Err, cluster.ErrProbeTimeout):
		return cluster.Unreachable(cluster.ReasonTimeout)
	case res.Err != nil:
		return cluster.Unreachable(res.Err.Error())
	case slow > 0 && res.Latency > slow:
		return cluster.Degraded(cluster.ReasonSlowResponse, res.Latency)
	case res.Degraded != "":
		return cluster.Degraded(res.Degraded, res.Latency)
	default:
		return cluster.Healthy(res.Latency)
	}
}

// wrapError turns a transport error into one of the cluster probe errors.
func wrapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *cluster.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == cluster.CodeNodeUnhealthy {
		return fmt.Errorf("%w: %s", cluster.ErrNodeBehind, rpcErr.Message)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", cluster.ErrProbeTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", cluster.ErrProbeTimeout, err)
	}
	return fmt.Errorf("%w: %v", cluster.ErrProbeFailure, err)
}
