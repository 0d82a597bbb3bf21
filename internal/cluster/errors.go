package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEndpoint is returned when a custom URL is malformed or uses
	// a scheme other than http/https. Nothing is registered.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrUnknownEndpoint is returned when a switch target is not in the
	// registry. No probe is made and the selection is unchanged.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrProbeTimeout is returned when a probe does not finish before its deadline.
	ErrProbeTimeout = errors.New("probe timeout")

	// ErrProbeFailure is returned when a probe finishes with a transport or protocol error.
	ErrProbeFailure = errors.New("probe failure")

	// ErrNodeBehind is returned when the endpoint answers but reports it is
	// lagging behind the cluster.
	ErrNodeBehind = errors.New("node is behind")

	// ErrSwitchSuperseded is returned to the caller of a switch attempt whose
	// result was discarded because a newer request replaced it.
	ErrSwitchSuperseded = errors.New("switch superseded")
)

// UnknownEndpointError carries the reference that failed to resolve and the
// closest registered slug, if any.
type UnknownEndpointError struct {
	Ref        string
	Suggestion string
}

func (e *UnknownEndpointError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %q (did you mean %q?)", ErrUnknownEndpoint, e.Ref, e.Suggestion)
	}
	return fmt.Sprintf("%s: %q", ErrUnknownEndpoint, e.Ref)
}

func (e *UnknownEndpointError) Is(target error) bool {
	return target == ErrUnknownEndpoint
}
