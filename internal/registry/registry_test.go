package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/clusterd/internal/cluster"
)

func testBuiltins() []cluster.Endpoint {
	return []cluster.Endpoint{
		{Name: "Mainnet Beta", Slug: "mainnet-beta", URL: "https://api.mainnet-beta.solana.com"},
		{Name: "Testnet", Slug: "testnet", URL: "https://api.testnet.solana.com"},
		{Name: "Devnet", Slug: "devnet", URL: "https://api.devnet.solana.com/"},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(testBuiltins())
	require.NoError(t, err)
	return reg
}

func slugs(eps []cluster.Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.Slug
	}
	return out
}

// TestNewRegistry tests registry creation and builtin validation
func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name     string
		builtins []cluster.Endpoint
		errMsg   string
	}{
		{
			name:     "valid builtins",
			builtins: testBuiltins(),
		},
		{
			name:     "empty list",
			builtins: nil,
			errMsg:   "at least one builtin",
		},
		{
			name: "missing slug",
			builtins: []cluster.Endpoint{
				{Name: "Devnet", URL: "https://api.devnet.solana.com"},
			},
			errMsg: "slug is required",
		},
		{
			name: "duplicate slug",
			builtins: []cluster.Endpoint{
				{Slug: "devnet", URL: "https://a.example.com"},
				{Slug: "Devnet", URL: "https://b.example.com"},
			},
			errMsg: "duplicate slug",
		},
		{
			name: "reserved slug",
			builtins: []cluster.Endpoint{
				{Slug: "custom", URL: "https://a.example.com"},
			},
			errMsg: "reserved",
		},
		{
			name: "invalid url",
			builtins: []cluster.Endpoint{
				{Slug: "devnet", URL: "ftp://api.devnet.solana.com"},
			},
			errMsg: "invalid endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistry(tt.builtins)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, reg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, reg)
		})
	}
}

// TestListOrder verifies builtins come first in configured order and the
// custom endpoint last.
func TestListOrder(t *testing.T) {
	reg := newTestRegistry(t)

	list := reg.List()
	assert.Equal(t, []string{"mainnet-beta", "testnet", "devnet"}, slugs(list))
	for _, ep := range list {
		assert.Equal(t, cluster.OriginBuiltin, ep.Origin)
	}
	// Trailing slash is normalized away
	assert.Equal(t, "https://api.devnet.solana.com", list[2].URL)

	_, err := reg.RegisterCustom("http://localhost:8899")
	require.NoError(t, err)

	list = reg.List()
	assert.Equal(t, []string{"mainnet-beta", "testnet", "devnet", "custom"}, slugs(list))
	assert.Equal(t, cluster.OriginCustom, list[3].Origin)
}

// TestListReturnsCopy verifies callers cannot mutate registry state
func TestListReturnsCopy(t *testing.T) {
	reg := newTestRegistry(t)

	list := reg.List()
	list[0].URL = "https://evil.example.com"

	assert.Equal(t, "https://api.mainnet-beta.solana.com", reg.List()[0].URL)
}

// TestRegisterCustom tests validation of user supplied URLs
func TestRegisterCustom(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
		valid    bool
	}{
		{name: "http localhost", url: "http://localhost:8899", expected: "http://localhost:8899", valid: true},
		{name: "https with path", url: "https://rpc.example.com/key/", expected: "https://rpc.example.com/key", valid: true},
		{name: "surrounding whitespace", url: "  https://rpc.example.com  ", expected: "https://rpc.example.com", valid: true},
		{name: "not a url", url: "not a url"},
		{name: "empty", url: ""},
		{name: "websocket scheme", url: "wss://rpc.example.com"},
		{name: "file scheme", url: "file:///etc/passwd"},
		{name: "missing host", url: "http://"},
		{name: "bad escape", url: "http://exa mple.com/%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			before := reg.List()

			ep, err := reg.RegisterCustom(tt.url)
			if !tt.valid {
				require.Error(t, err)
				assert.True(t, errors.Is(err, cluster.ErrInvalidEndpoint), "expected ErrInvalidEndpoint, got %v", err)
				assert.Equal(t, before, reg.List(), "list must be unchanged after rejection")
				_, ok := reg.Custom()
				assert.False(t, ok)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, ep.URL)
			assert.Equal(t, cluster.CustomSlug, ep.Slug)
			assert.Equal(t, cluster.OriginCustom, ep.Origin)

			got, ok := reg.Custom()
			require.True(t, ok)
			assert.Equal(t, ep, got)
		})
	}
}

// TestRegisterCustomReplaces verifies a second custom endpoint replaces the first
func TestRegisterCustomReplaces(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.RegisterCustom("http://localhost:8899")
	require.NoError(t, err)
	_, err = reg.RegisterCustom("http://localhost:9999")
	require.NoError(t, err)

	list := reg.List()
	assert.Len(t, list, 4)
	assert.Equal(t, "http://localhost:9999", list[3].URL)

	// A rejected replacement keeps the previous custom endpoint
	_, err = reg.RegisterCustom("not a url")
	require.Error(t, err)
	ep, ok := reg.Custom()
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9999", ep.URL)
}

// TestRemoveCustom tests removal and the no-op case
func TestRemoveCustom(t *testing.T) {
	reg := newTestRegistry(t)

	// No-op when nothing is registered
	reg.RemoveCustom()
	assert.Len(t, reg.List(), 3)

	_, err := reg.RegisterCustom("http://localhost:8899")
	require.NoError(t, err)
	assert.Len(t, reg.List(), 4)

	reg.RemoveCustom()
	assert.Len(t, reg.List(), 3)
	_, err = reg.Lookup("custom")
	assert.ErrorIs(t, err, cluster.ErrUnknownEndpoint)
}

// TestLookup tests resolving slugs, names and URLs
func TestLookup(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.RegisterCustom("http://localhost:8899")
	require.NoError(t, err)

	tests := []struct {
		name     string
		ref      string
		expected string
	}{
		{name: "slug", ref: "devnet", expected: "devnet"},
		{name: "slug uppercase", ref: "DEVNET", expected: "devnet"},
		{name: "display name", ref: "Mainnet Beta", expected: "mainnet-beta"},
		{name: "url", ref: "https://api.testnet.solana.com", expected: "testnet"},
		{name: "url with trailing slash", ref: "https://api.testnet.solana.com/", expected: "testnet"},
		{name: "custom slug", ref: "custom", expected: "custom"},
		{name: "custom url", ref: "http://localhost:8899", expected: "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := reg.Lookup(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ep.Slug)
		})
	}
}

// TestLookupUnknown tests unknown references and suggestions
func TestLookupUnknown(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name       string
		ref        string
		suggestion string
	}{
		{name: "typo", ref: "devnett", suggestion: "devnet"},
		{name: "close to testnet", ref: "tstnet", suggestion: "testnet"},
		{name: "far away", ref: "localnet-cluster-xyz", suggestion: ""},
		{name: "empty", ref: "", suggestion: ""},
		{name: "unregistered url", ref: "https://rpc.example.com", suggestion: ""},
		{name: "custom when unset", ref: "custom", suggestion: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Lookup(tt.ref)
			require.Error(t, err)
			assert.ErrorIs(t, err, cluster.ErrUnknownEndpoint)

			var unknown *cluster.UnknownEndpointError
			require.ErrorAs(t, err, &unknown)
			assert.Equal(t, tt.ref, unknown.Ref)
			assert.Equal(t, tt.suggestion, unknown.Suggestion)
		})
	}
}

// TestConcurrentAccess tests concurrent registration and reads
func TestConcurrentAccess(t *testing.T) {
	reg := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				reg.RemoveCustom()
				return
			}
			_, err := reg.RegisterCustom(fmt.Sprintf("http://localhost:%d", 9000+i))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			list := reg.List()
			assert.GreaterOrEqual(t, len(list), 3)
			assert.LessOrEqual(t, len(list), 4)
		}()
	}
	wg.Wait()
}
