package probe

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/clusterd/internal/cluster"
)

// WebSocketProber checks that the endpoint's pubsub socket accepts a
// connection. It dials, sends a close frame and hangs up.
type WebSocketProber struct {
	Dialer *websocket.Dialer
	// URL maps an endpoint to its socket URL. Defaults to Endpoint.WebSocketURL.
	URL func(cluster.Endpoint) (string, error)
}

func NewWebSocketProber() *WebSocketProber {
	return &WebSocketProber{
		Dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		URL:    cluster.Endpoint.WebSocketURL,
	}
}

func (p *WebSocketProber) Probe(ctx context.Context, ep cluster.Endpoint) Result {
	urlFn := p.URL
	if urlFn == nil {
		urlFn = cluster.Endpoint.WebSocketURL
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	wsURL, err := urlFn(ep)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", cluster.ErrProbeFailure, err)}
	}

	start := time.Now()
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	latency := time.Since(start)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%v (status %d)", err, resp.StatusCode)
		}
		return Result{Latency: latency, Err: wrapError(ctx, err)}
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Printf("websocket probe close for %s: %v", ep.Slug, err)
	}
	return Result{Latency: latency}
}

// Chain probes over JSON-RPC and, for endpoints that advertise the
// capability, also over WebSocket. A failed socket on an answering endpoint
// marks the result degraded instead of failing it.
type Chain struct {
	RPC       Prober
	WebSocket Prober
}

func (c Chain) Probe(ctx context.Context, ep cluster.Endpoint) Result {
	res := c.RPC.Probe(ctx, ep)
	if res.Err != nil || c.WebSocket == nil || !ep.Capabilities.WebSocket {
		return res
	}
	if ws := c.WebSocket.Probe(ctx, ep); ws.Err != nil {
		log.Printf("websocket probe failed for %s: %v", ep.Slug, ws.Err)
		res.Degraded = cluster.ReasonWebSocketUnavailable
	}
	return res
}
