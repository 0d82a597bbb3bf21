package cluster

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

type Origin string

const (
	OriginBuiltin Origin = "builtin"
	OriginCustom  Origin = "custom"
)

// CustomSlug is the reference under which the user supplied endpoint is registered.
const CustomSlug = "custom"

type Capabilities struct {
	WebSocket bool `json:"websocket"`
}

type Endpoint struct {
	Name         string       `json:"name"`
	Slug         string       `json:"slug"`
	URL          string       `json:"url"`
	Origin       Origin       `json:"origin"`
	Capabilities Capabilities `json:"capabilities"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s)", e.Slug, e.URL)
}

// WebSocketURL derives the subscription URL for the endpoint: http becomes
// ws, https becomes wss, and an explicit port is incremented by one.
func (e Endpoint) WebSocketURL() (string, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", e.URL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: scheme %q has no websocket form", ErrInvalidEndpoint, u.Scheme)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return "", fmt.Errorf("%w: port %q", ErrInvalidEndpoint, port)
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(n+1))
	}
	return u.String(), nil
}

type Selection struct {
	Endpoint    Endpoint  `json:"endpoint"`
	Generation  uint64    `json:"generation"`
	CommittedAt time.Time `json:"committed_at"`
}

type HealthState string

const (
	HealthUnknown     HealthState = "unknown"
	HealthChecking    HealthState = "checking"
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnreachable HealthState = "unreachable"
)

// Degraded and unreachable reasons produced by probe classification.
const (
	ReasonSlowResponse         = "slow-response"
	ReasonNodeBehind           = "node-behind"
	ReasonWebSocketUnavailable = "websocket-unavailable"
	ReasonTimeout              = "timeout"
)

type HealthStatus struct {
	State     HealthState   `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
	CheckedAt time.Time     `json:"checked_at,omitempty"`
}

func Unknown() HealthStatus { return HealthStatus{State: HealthUnknown} }

func Checking() HealthStatus { return HealthStatus{State: HealthChecking, CheckedAt: time.Now()} }

func Healthy(latency time.Duration) HealthStatus {
	return HealthStatus{State: HealthHealthy, Latency: latency, CheckedAt: time.Now()}
}

func Degraded(reason string, latency time.Duration) HealthStatus {
	return HealthStatus{State: HealthDegraded, Reason: reason, Latency: latency, CheckedAt: time.Now()}
}

func Unreachable(reason string) HealthStatus {
	return HealthStatus{State: HealthUnreachable, Reason: reason, CheckedAt: time.Now()}
}

func (h HealthStatus) String() string {
	if h.Reason == "" {
		return string(h.State)
	}
	return fmt.Sprintf("%s(%s)", h.State, h.Reason)
}

type Trigger string

const (
	TriggerUser     Trigger = "user"
	TriggerFallback Trigger = "fallback"
)

type SwitchRequest struct {
	ID          string    `json:"id"`
	Target      Endpoint  `json:"target"`
	RequestedAt time.Time `json:"requested_at"`
	Trigger     Trigger   `json:"trigger"`
}

// Phase is a state of the switch coordinator.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseConnecting Phase = "connecting"
	PhaseCommitted  Phase = "committed"
	PhaseFailed     Phase = "failed"
)

type SwitchStatus struct {
	Phase     Phase          `json:"phase"`
	Request   *SwitchRequest `json:"request,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}
