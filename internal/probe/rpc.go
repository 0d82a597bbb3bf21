package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/dreamware/clusterd/internal/cluster"
)

// DefaultMethod is the JSON-RPC method used to probe an endpoint.
const DefaultMethod = "getHealth"

// RPCProber probes an endpoint with a JSON-RPC call over HTTP.
type RPCProber struct {
	Client *http.Client
	Method string
}

// NewRPCProber returns a prober calling getHealth. The client has no timeout
// of its own; the probe context carries the deadline.
func NewRPCProber() *RPCProber {
	return &RPCProber{
		Client: &http.Client{},
		Method: DefaultMethod,
	}
}

func (p *RPCProber) Probe(ctx context.Context, ep cluster.Endpoint) Result {
	method := p.Method
	if method == "" {
		method = DefaultMethod
	}

	start := time.Now()
	var out any
	err := cluster.CallRPC(ctx, p.Client, ep.URL, method, nil, &out)
	return Result{
		Latency: time.Since(start),
		Err:     wrapError(ctx, err),
	}
}
