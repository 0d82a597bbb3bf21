package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/clusterd/internal/cluster"
	"github.com/dreamware/clusterd/internal/coordinator"
	"github.com/dreamware/clusterd/internal/probe"
	"github.com/dreamware/clusterd/internal/registry"
	"github.com/dreamware/clusterd/internal/rpcnode"
	"github.com/dreamware/clusterd/internal/store"
)

// TestSystem represents clusterd and two RPC nodes running as processes
type TestSystem struct {
	t          *testing.T
	service    *exec.Cmd
	nodes      []*exec.Cmd
	addr       string
	nodeAddrs  []string
	httpClient *http.Client
}

// NewTestSystem creates a new test system on high ports
func NewTestSystem(t *testing.T) *TestSystem {
	return &TestSystem{
		t:    t,
		addr: "http://127.0.0.1:18080", // Use high ports to avoid conflicts
		nodeAddrs: []string{
			"http://127.0.0.1:18899",
			"http://127.0.0.1:18909",
		},
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start launches the RPC nodes and clusterd pointed at them
func (ts *TestSystem) Start() error {
	for i := range ts.nodeAddrs {
		ts.t.Logf("Starting rpcnode %d...", i+1)
		node := exec.Command("./bin/rpcnode")
		node.Env = append(os.Environ(),
			fmt.Sprintf("RPCNODE_ID=n%d", i+1),
			fmt.Sprintf("RPCNODE_LISTEN=:%d", 18899+i*10),
		)
		node.Stdout = os.Stdout
		node.Stderr = os.Stderr
		if err := node.Start(); err != nil {
			return fmt.Errorf("failed to start rpcnode %d: %w", i+1, err)
		}
		ts.nodes = append(ts.nodes, node)
	}

	cfgPath := filepath.Join(ts.t.TempDir(), "clusterd.yaml")
	cfg := fmt.Sprintf(`listen_addr: ":18080"
default_cluster: alpha
clusters:
  - {name: Alpha, slug: alpha, url: %q, websocket: true}
  - {name: Beta, slug: beta, url: %q, websocket: true}
health:
  interval: 200ms
  websocket: true
switch:
  fallback: [beta]
`, ts.nodeAddrs[0], ts.nodeAddrs[1])
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		return err
	}

	ts.t.Log("Starting clusterd...")
	ts.service = exec.Command("./bin/clusterd")
	ts.service.Env = append(os.Environ(), "CLUSTERD_CONFIG="+cfgPath)
	ts.service.Stdout = os.Stdout
	ts.service.Stderr = os.Stderr
	if err := ts.service.Start(); err != nil {
		return fmt.Errorf("failed to start clusterd: %w", err)
	}
	return ts.waitForService(ts.addr + "/health")
}

// Stop shuts down all processes
func (ts *TestSystem) Stop() {
	if ts.service != nil && ts.service.Process != nil {
		ts.t.Log("Stopping clusterd...")
		ts.service.Process.Kill()
		ts.service.Wait()
	}
	for i, node := range ts.nodes {
		if node != nil && node.Process != nil {
			ts.t.Logf("Stopping rpcnode %d...", i+1)
			node.Process.Kill()
			node.Wait()
		}
	}
}

// waitForService waits for an HTTP service to become available
func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := ts.httpClient.Get(url)
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				return nil
			}
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Snapshot returns GET /cluster
func (ts *TestSystem) Snapshot() (store.Snapshot, error) {
	var snap store.Snapshot
	resp, err := ts.httpClient.Get(ts.addr + "/cluster")
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&snap)
	return snap, err
}

// Switch posts a switch request and returns the status code
func (ts *TestSystem) Switch(ref string) (int, error) {
	body, _ := json.Marshal(map[string]string{"cluster": ref})
	resp, err := ts.httpClient.Post(ts.addr+"/cluster/switch", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func TestClusterService(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Check if binaries exist before trying to run integration tests
	if _, err := os.Stat("./bin/clusterd"); os.IsNotExist(err) {
		t.Skip("Skipping integration test: clusterd binary not found (go build -o test/integration/bin/ ./cmd/...)")
	}
	if _, err := os.Stat("./bin/rpcnode"); os.IsNotExist(err) {
		t.Skip("Skipping integration test: rpcnode binary not found (go build -o test/integration/bin/ ./cmd/...)")
	}

	ts := NewTestSystem(t)
	if err := ts.Start(); err != nil {
		t.Fatalf("Failed to start test system: %v", err)
	}
	defer ts.Stop()

	t.Run("InitialHealth", func(t *testing.T) {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			snap, err := ts.Snapshot()
			if err == nil && snap.Health.State == cluster.HealthHealthy {
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
		t.Error("alpha never reported healthy")
	})

	t.Run("SwitchAndBack", func(t *testing.T) {
		for _, ref := range []string{"beta", "alpha"} {
			status, err := ts.Switch(ref)
			if err != nil {
				t.Fatalf("switch to %s: %v", ref, err)
			}
			if status != http.StatusOK {
				t.Errorf("switch to %s status = %d, want 200", ref, status)
			}
		}
		snap, err := ts.Snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if snap.Selection.Endpoint.Slug != "alpha" || snap.Selection.Generation != 3 {
			t.Errorf("selection = %s@%d, want alpha@3", snap.Selection.Endpoint.Slug, snap.Selection.Generation)
		}
	})

	t.Run("UnknownCluster", func(t *testing.T) {
		status, err := ts.Switch("gamma")
		if err != nil {
			t.Fatal(err)
		}
		if status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
	})

	t.Run("FallbackWhenNodeDies", func(t *testing.T) {
		ts.nodes[0].Process.Kill()
		ts.nodes[0].Wait()

		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			snap, err := ts.Snapshot()
			if err == nil && snap.Selection.Endpoint.Slug == "beta" {
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
		t.Error("service did not fall back to beta")
	})
}

// system is the in-process equivalent of clusterd wired against httptest
// RPC nodes.
type system struct {
	nodes   map[string]*rpcnode.Node
	store   *store.Store
	coord   *coordinator.Coordinator
	monitor *coordinator.HealthMonitor
}

func newSystem(t *testing.T, fallbacks []string, slugs ...string) *system {
	t.Helper()
	sys := &system{nodes: map[string]*rpcnode.Node{}}

	var builtins []cluster.Endpoint
	for _, slug := range slugs {
		node := rpcnode.New(slug)
		srv := httptest.NewServer(node)
		t.Cleanup(srv.Close)
		sys.nodes[slug] = node
		builtins = append(builtins, cluster.Endpoint{Name: slug, Slug: slug, URL: srv.URL})
	}

	reg, err := registry.NewRegistry(builtins)
	if err != nil {
		t.Fatal(err)
	}
	initial, err := reg.Lookup(slugs[0])
	if err != nil {
		t.Fatal(err)
	}

	prober := probe.NewRPCProber()
	sys.store = store.New(initial)
	sys.coord = coordinator.NewCoordinator(reg, sys.store, prober)
	sys.coord.SetTimeout(300 * time.Millisecond)
	sys.coord.SetFallbacks(fallbacks)

	sys.monitor = coordinator.NewHealthMonitor(sys.store, prober, 30*time.Millisecond)
	sys.monitor.SetTimeout(100 * time.Millisecond)
	sys.monitor.SetSlowThreshold(50 * time.Millisecond)
	sys.monitor.SetOnFallback(func(tr coordinator.FallbackTrigger) {
		if errors.Is(sys.coord.HandleFallback(context.Background(), tr), coordinator.ErrSwitchInFlight) {
			sys.monitor.Rearm(tr.Generation)
		}
	})
	go sys.monitor.Start(nil)
	t.Cleanup(sys.monitor.Stop)
	return sys
}

func (s *system) waitFor(t *testing.T, what string, cond func(store.Snapshot) bool) store.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap := s.store.Current(); cond(snap) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s (last %+v)", what, s.store.Current())
	return store.Snapshot{}
}

// TestFailoverScenarios drives health classification and fallback against
// in-process RPC nodes.
func TestFailoverScenarios(t *testing.T) {
	t.Run("HealthTransitions", func(t *testing.T) {
		sys := newSystem(t, nil, "alpha")
		node := sys.nodes["alpha"]

		sys.waitFor(t, "healthy", func(s store.Snapshot) bool { return s.Health.State == cluster.HealthHealthy })

		node.SetLatency(70 * time.Millisecond)
		snap := sys.waitFor(t, "slow", func(s store.Snapshot) bool { return s.Health.State == cluster.HealthDegraded })
		if snap.Health.Reason != cluster.ReasonSlowResponse {
			t.Errorf("reason = %q, want %q", snap.Health.Reason, cluster.ReasonSlowResponse)
		}

		node.SetLatency(0)
		node.SetBehind(30)
		sys.waitFor(t, "behind", func(s store.Snapshot) bool { return s.Health.Reason == cluster.ReasonNodeBehind })

		node.SetBehind(0)
		node.SetLatency(time.Second)
		snap = sys.waitFor(t, "timeout", func(s store.Snapshot) bool { return s.Health.State == cluster.HealthUnreachable })
		if snap.Health.Reason != cluster.ReasonTimeout {
			t.Errorf("reason = %q, want %q", snap.Health.Reason, cluster.ReasonTimeout)
		}

		node.SetLatency(0)
		sys.waitFor(t, "recovered", func(s store.Snapshot) bool { return s.Health.State == cluster.HealthHealthy })
	})

	t.Run("FallbackToSecondary", func(t *testing.T) {
		sys := newSystem(t, []string{"beta"}, "alpha", "beta")
		sys.waitFor(t, "healthy", func(s store.Snapshot) bool { return s.Health.State == cluster.HealthHealthy })

		sys.nodes["alpha"].SetHealthy(false)
		snap := sys.waitFor(t, "fallback", func(s store.Snapshot) bool {
			return s.Selection.Endpoint.Slug == "beta" && s.Health.State == cluster.HealthHealthy
		})
		if snap.Selection.Generation != 2 {
			t.Errorf("generation = %d, want 2", snap.Selection.Generation)
		}
	})

	t.Run("FailClosed", func(t *testing.T) {
		sys := newSystem(t, []string{"beta"}, "alpha", "beta")
		var failures int
		var mu sync.Mutex
		sys.coord.OnFailure(func(coordinator.SwitchFailure) {
			mu.Lock()
			failures++
			mu.Unlock()
		})

		sys.nodes["alpha"].SetHealthy(false)
		sys.nodes["beta"].SetHealthy(false)

		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			n := failures
			mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		snap := sys.store.Current()
		if snap.Selection.Endpoint.Slug != "alpha" || snap.Selection.Generation != 1 {
			t.Errorf("selection = %s@%d, want alpha@1", snap.Selection.Endpoint.Slug, snap.Selection.Generation)
		}
		if snap.Health.State != cluster.HealthUnreachable {
			t.Errorf("health = %s, want unreachable", snap.Health.State)
		}
		mu.Lock()
		if failures != 1 {
			t.Errorf("fallback failures = %d, want 1", failures)
		}
		mu.Unlock()
	})

	t.Run("RapidUserSwitches", func(t *testing.T) {
		sys := newSystem(t, nil, "alpha", "beta", "gamma")
		sys.nodes["beta"].SetLatency(150 * time.Millisecond)

		var wg sync.WaitGroup
		results := make(map[string]error)
		var mu sync.Mutex
		for i, ref := range []string{"beta", "gamma"} {
			wg.Add(1)
			go func(ref string, delay time.Duration) {
				defer wg.Done()
				time.Sleep(delay)
				_, err := sys.coord.RequestSwitch(context.Background(), ref)
				mu.Lock()
				results[ref] = err
				mu.Unlock()
			}(ref, time.Duration(i)*30*time.Millisecond)
		}
		wg.Wait()

		if results["gamma"] != nil {
			t.Errorf("gamma switch: %v", results["gamma"])
		}
		if results["beta"] == nil {
			t.Error("beta switch should have been superseded")
		}
		if got := sys.store.Current().Selection.Endpoint.Slug; got != "gamma" {
			t.Errorf("selection = %s, want gamma", got)
		}
	})
}
