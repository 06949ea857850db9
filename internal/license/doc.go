// Package license implements the LCP license validation engine.
//
// A validation run takes raw License Document (or Status Document) bytes and
// drives them through a finite-state workflow: parse the license, fetch and
// reconcile the server-side Status Document, acquire a passphrase, check the
// license integrity against the native crypto layer, and register the device
// with the status server. The run ends in exactly one terminal state: Valid,
// Failure or Cancelled.
//
// # Architecture
//
// The engine is split along three seams:
//
//   - transition: a pure, total mapping from (state, event) to the next state
//   - handle: the side-effect handler keyed on the state just entered; every
//     effect reports back by raising another event
//   - Validation: the façade owning the event queue, the observer registry
//     and the collaborator configuration
//
// Effects never mutate state directly. A failure inside an effect becomes an
// EventFailed, and the transition layer decides whether it is fatal: a failed
// status fetch falls back to checking the license alone, a failed license
// refresh proceeds with the license already held, and a failed device
// registration is logged and dropped.
//
// # Concurrency
//
// The engine assumes a single execution context. Events are processed in
// strict FIFO order; events raised while a dispatch is draining the queue are
// appended and handled in turn. Only the network, passphrase, CRL and device
// collaborators may block, and network fetches are bounded by a 5 second
// timeout. Concurrent Validate calls on one engine are not supported.
//
// # Observers
//
// Observers receive the terminal outcome. A Once observer is pruned after one
// notification; an Always observer persists. Attaching an observer to an
// engine that is already terminal notifies it synchronously.
package license
