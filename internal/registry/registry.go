// Package registry holds the list of clusters an explorer can connect to.
// See doc.go for complete package documentation.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"golang.org/x/exp/slices"

	"github.com/dreamware/clusterd/internal/cluster"
)

// maxSuggestionDistance bounds how far a mistyped reference may be from a
// registered slug before no suggestion is offered.
const maxSuggestionDistance = 3

// Registry manages the builtin cluster endpoints and the single optional
// custom endpoint, serving as the authoritative answer to "is this a cluster
// we may switch to".
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│             Registry                │
//	├─────────────────────────────────────┤
//	│  builtins: fixed order, immutable   │
//	│  custom:   nil or one Endpoint      │
//	│  mu: RWMutex for thread safety      │
//	├─────────────────────────────────────┤
//	│  "devnet" → Endpoint{devnet, ...}   │
//	│  "custom" → Endpoint{custom, ...}   │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - RegisterCustom/RemoveCustom use Lock
//   - Endpoints are values; callers cannot mutate registry state
//   - No network activity happens here
type Registry struct {
	// custom is the user supplied endpoint, replaced wholesale.
	custom *cluster.Endpoint

	// builtins keep the order they were configured in.
	builtins []cluster.Endpoint

	mu sync.RWMutex
}

// NewRegistry creates a registry from the configured builtin endpoints.
//
// Every builtin must have a unique, non-empty slug and a well-formed
// http/https URL. The slug "custom" is reserved for the user endpoint.
//
// Parameters:
//   - builtins: Endpoints in display order (at least one)
//
// Returns:
//   - *Registry: Registry listing the builtins in the given order
//   - error: If the list is empty or an entry is invalid
//
// Example:
//
//	reg, err := NewRegistry([]cluster.Endpoint{
//	    {Name: "Devnet", Slug: "devnet", URL: "https://api.devnet.solana.com"},
//	})
func NewRegistry(builtins []cluster.Endpoint) (*Registry, error) {
	if len(builtins) == 0 {
		return nil, errors.New("registry needs at least one builtin endpoint")
	}

	seen := make(map[string]bool, len(builtins))
	list := make([]cluster.Endpoint, 0, len(builtins))
	for _, ep := range builtins {
		slug := strings.ToLower(strings.TrimSpace(ep.Slug))
		if slug == "" {
			return nil, fmt.Errorf("builtin %q: slug is required", ep.Name)
		}
		if slug == cluster.CustomSlug {
			return nil, fmt.Errorf("builtin %q: slug %q is reserved", ep.Name, slug)
		}
		if seen[slug] {
			return nil, fmt.Errorf("builtin %q: duplicate slug %q", ep.Name, slug)
		}
		normalized, err := ValidateURL(ep.URL)
		if err != nil {
			return nil, fmt.Errorf("builtin %q: %w", slug, err)
		}
		seen[slug] = true

		ep.Slug = slug
		ep.URL = normalized
		ep.Origin = cluster.OriginBuiltin
		if ep.Name == "" {
			ep.Name = slug
		}
		list = append(list, ep)
	}

	return &Registry{builtins: list}, nil
}

// List returns all endpoints: builtins first in configured order, then the
// custom endpoint if one is registered. The returned slice is a copy.
func (r *Registry) List() []cluster.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.Endpoint, 0, len(r.builtins)+1)
	out = append(out, r.builtins...)
	if r.custom != nil {
		out = append(out, *r.custom)
	}
	return out
}

// RegisterCustom validates rawURL and registers it as the custom endpoint,
// replacing any previous one. On error the registry is unchanged.
//
// Parameters:
//   - rawURL: User supplied RPC URL (http or https, host required)
//
// Returns:
//   - cluster.Endpoint: The registered endpoint (slug "custom")
//   - error: Wraps cluster.ErrInvalidEndpoint when rawURL is rejected
//
// Example:
//
//	ep, err := reg.RegisterCustom("http://localhost:8899")
//	if errors.Is(err, cluster.ErrInvalidEndpoint) {
//	    // show validation message, nothing was registered
//	}
func (r *Registry) RegisterCustom(rawURL string) (cluster.Endpoint, error) {
	normalized, err := ValidateURL(rawURL)
	if err != nil {
		return cluster.Endpoint{}, err
	}

	ep := cluster.Endpoint{
		Name:   "Custom",
		Slug:   cluster.CustomSlug,
		URL:    normalized,
		Origin: cluster.OriginCustom,
		// Solana-compatible nodes serve pubsub next to RPC; the probe
		// downgrades to degraded if the socket is missing.
		Capabilities: cluster.Capabilities{WebSocket: true},
	}

	r.mu.Lock()
	r.custom = &ep
	r.mu.Unlock()

	return ep, nil
}

// RemoveCustom drops the custom endpoint. It is a no-op if none is set.
func (r *Registry) RemoveCustom() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom = nil
}

// Custom returns the custom endpoint and whether one is registered.
func (r *Registry) Custom() (cluster.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.custom == nil {
		return cluster.Endpoint{}, false
	}
	return *r.custom, true
}

// Lookup resolves a reference to a registered endpoint. A reference is a
// slug, a display name (both case-insensitive) or the exact URL of a
// registered endpoint.
//
// Returns:
//   - cluster.Endpoint: The matching endpoint
//   - error: *cluster.UnknownEndpointError (matches cluster.ErrUnknownEndpoint)
//     with the nearest slug as suggestion when one is close enough
func (r *Registry) Lookup(ref string) (cluster.Endpoint, error) {
	key := strings.ToLower(strings.TrimSpace(ref))
	all := r.List()

	idx := slices.IndexFunc(all, func(ep cluster.Endpoint) bool {
		return ep.Slug == key || strings.ToLower(ep.Name) == key
	})
	if idx < 0 && key != "" {
		if normalized, err := ValidateURL(ref); err == nil {
			idx = slices.IndexFunc(all, func(ep cluster.Endpoint) bool { return ep.URL == normalized })
		}
	}
	if idx >= 0 {
		return all[idx], nil
	}

	return cluster.Endpoint{}, &cluster.UnknownEndpointError{Ref: ref, Suggestion: suggest(key, all)}
}

// suggest returns the slug closest to key by edit distance, or "" when
// nothing is within maxSuggestionDistance.
func suggest(key string, all []cluster.Endpoint) string {
	if key == "" {
		return ""
	}
	best, bestDist := "", maxSuggestionDistance+1
	for _, ep := range all {
		if d := levenshtein.ComputeDistance(key, ep.Slug); d < bestDist {
			best, bestDist = ep.Slug, d
		}
	}
	return best
}

// ValidateURL checks that raw is an absolute http/https URL with a host and
// returns it without surrounding whitespace or a trailing slash.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty url", cluster.ErrInvalidEndpoint)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cluster.ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q not allowed", cluster.ErrInvalidEndpoint, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", cluster.ErrInvalidEndpoint)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
