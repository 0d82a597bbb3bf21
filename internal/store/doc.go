// Package store holds the process-wide cluster state: which endpoint is
// selected, how healthy it is, and what the switch coordinator is doing.
//
// # Overview
//
// The store is a single owned state container with an explicit
// subscribe/notify contract. Every other component either reads it or is one
// of its two writers:
//
//	┌─────────────────────────────────────┐
//	│    Switch Coordinator  (writer)     │── CommitSelection, CommitHealth, CommitSwitch
//	│    Health Monitor      (writer)     │── CommitHealth
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│              Store                  │
//	│  Selection{Endpoint, Generation}    │
//	│  Health                             │
//	│  Switch phase                       │
//	└─────────────────────────────────────┘
//	                 │ synchronous notify, subscription order
//	                 ▼
//	       modal / status button / banner / event stream
//
// # Generations
//
// Every CommitSelection increments the generation. CommitHealth carries the
// generation its probe started under and is dropped when that generation is
// no longer current, so a slow probe of a superseded endpoint can never paint
// the new selection with stale health.
//
// # Notification Contract
//
//   - Every successful commit notifies all active listeners synchronously,
//     in subscription order, on the committing goroutine.
//   - Commits are serialized together with their notifications: listeners
//     observe snapshots in commit order.
//   - A dropped (stale) health update does not notify.
//   - A listener unsubscribed before a commit is never invoked for it.
//   - Listeners may read the store and subscribe or unsubscribe, but must
//     not commit; doing so deadlocks the committing goroutine.
//
// # Concurrency and Thread Safety
//
// Current takes a read lock and never waits on listeners, so readers stay
// responsive while a slow listener is being notified.
package store
