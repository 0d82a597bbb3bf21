// Package registry keeps the endpoints a user may switch between: the
// builtin clusters configured at process start and at most one custom
// endpoint entered at runtime.
//
// # Overview
//
// The registry is pure data management. It validates custom URLs at the
// boundary so that only well-formed http/https endpoints ever reach the
// switch coordinator, and it answers lookups by slug, display name or URL.
//
//	reg, _ := registry.NewRegistry(cfg.Endpoints())
//	reg.List()                              // mainnet-beta, testnet, devnet
//	reg.RegisterCustom("http://localhost:8899")
//	reg.List()                              // ..., custom
//	reg.Lookup("devnett")                   // UnknownEndpointError, did you mean "devnet"
//
// # Ordering
//
// List always returns builtins in configured order followed by the custom
// endpoint. The order is part of the contract because cluster pickers render
// it directly.
//
// # Validation
//
// RegisterCustom rejects:
//   - empty or unparsable input
//   - schemes other than http and https
//   - URLs without a host
//
// Rejected input leaves the registry untouched and returns an error wrapping
// cluster.ErrInvalidEndpoint.
package registry
