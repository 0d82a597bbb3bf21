package store

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/clusterd/internal/cluster"
)

// Snapshot is the committed state visible to readers
type Snapshot struct {
	Selection cluster.Selection    `json:"selection"`
	Health    cluster.HealthStatus `json:"health"`
	Switch    cluster.SwitchStatus `json:"switch"`
}

// Listener receives a snapshot after every commit.
// Listeners run on the committing goroutine and must not commit themselves.
type Listener func(Snapshot)

type subscription struct {
	fn     Listener
	id     uint64
	active atomic.Bool
}

// Store is the single owner of the current cluster selection and its health.
// Readers call Current; the switch coordinator and the health monitor are
// the only writers.
type Store struct {
	current Snapshot        // Latest committed state
	subs    []*subscription // Notified in subscription order
	nextID  uint64
	mu      sync.RWMutex // Protects current
	subsMu  sync.Mutex   // Protects subs and nextID
	// commitMu serializes commits with their notifications so delivery
	// order equals commit order.
	commitMu sync.Mutex
}

// New creates a store whose first selection is initial at generation 1 with
// unknown health.
func New(initial cluster.Endpoint) *Store {
	return &Store{
		current: Snapshot{
			Selection: cluster.Selection{
				Endpoint:    initial,
				Generation:  1,
				CommittedAt: time.Now(),
			},
			Health: cluster.Unknown(),
			Switch: cluster.SwitchStatus{Phase: cluster.PhaseIdle},
		},
	}
}

// Current returns the latest committed snapshot
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Generation returns the generation of the current selection
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Selection.Generation
}

// Subscribe registers fn for every future commit and returns a function that
// removes it. Unsubscribing is idempotent, and a listener removed before a
// commit never observes that commit.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.subsMu.Lock()
	s.nextID++
	sub := &subscription{id: s.nextID, fn: fn}
	sub.active.Store(true)
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			s.subsMu.Lock()
			s.subs = slices.DeleteFunc(s.subs, func(x *subscription) bool { return x.id == sub.id })
			s.subsMu.Unlock()
		})
	}
}

// Subscribers returns the number of registered listeners
func (s *Store) Subscribers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// CommitSelection makes ep the current selection under a new generation and
// resets health to unknown. Returns the new generation.
func (s *Store) CommitSelection(ep cluster.Endpoint) uint64 {
	var gen uint64
	s.commit(func(snap *Snapshot) bool {
		gen = snap.Selection.Generation + 1
		snap.Selection = cluster.Selection{
			Endpoint:    ep,
			Generation:  gen,
			CommittedAt: time.Now(),
		}
		snap.Health = cluster.Unknown()
		return true
	})
	return gen
}

// CommitHealth applies status if generation is still current. Stale updates
// are dropped silently and reported with false.
func (s *Store) CommitHealth(generation uint64, status cluster.HealthStatus) bool {
	return s.commit(func(snap *Snapshot) bool {
		if snap.Selection.Generation != generation {
			return false
		}
		snap.Health = status
		return true
	})
}

// CommitChecking marks generation as being checked, but only while its
// health is still unknown. A status committed by someone else in the
// meantime is kept and false is returned.
func (s *Store) CommitChecking(generation uint64) bool {
	return s.commit(func(snap *Snapshot) bool {
		if snap.Selection.Generation != generation || snap.Health.State != cluster.HealthUnknown {
			return false
		}
		snap.Health = cluster.Checking()
		return true
	})
}

// CommitSwitch records the coordinator's switch phase. Selection and health
// are not touched.
func (s *Store) CommitSwitch(status cluster.SwitchStatus) {
	s.commit(func(snap *Snapshot) bool {
		snap.Switch = status
		return true
	})
}

// commit applies fn under the write lock and, if it reports a change,
// notifies every active listener with the resulting snapshot.
func (s *Store) commit(fn func(*Snapshot) bool) bool {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if !fn(&s.current) {
		s.mu.Unlock()
		return false
	}
	snap := s.current
	s.mu.Unlock()

	s.subsMu.Lock()
	subs := append([]*subscription(nil), s.subs...)
	s.subsMu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.fn(snap)
		}
	}
	return true
}
