// Package ackregistry coordinates per-destination one-shot waits used by
// the messaging layer to block on ACKs observed by the shared receive
// loop (spec §4.4). Exactly one outstanding waiter per UID is supported;
// registering a second waiter for the same UID cancels the first.
package ackregistry

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Waiter is a single-use synchronisation object returned by Register. The
// channel is buffered so Signal/Cancel never block on a caller that never
// waits (e.g. one that timed out and moved on just before being signalled).
type Waiter struct {
	done chan bool
}

// Wait blocks until the waiter is signalled (true), cancelled or
// superseded (false), or timeout elapses (false).
func (w *Waiter) Wait(timeout time.Duration) bool {
	select {
	case ok := <-w.done:
		return ok
	case <-time.After(timeout):
		return false
	}
}

// Registry is a thread-safe UID -> Waiter map.
type Registry struct {
	m *xsync.MapOf[string, *Waiter]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{m: xsync.NewMapOf[string, *Waiter]()}
}

// Register creates a new waiter for uid (the trimmed identifier). Any
// waiter already registered for that UID is superseded: it wakes with
// false, as spec §4.4 permits ("the first is considered cancelled").
func (r *Registry) Register(uid string) *Waiter {
	w := &Waiter{done: make(chan bool, 1)}
	old, loaded := r.m.LoadAndStore(uid, w)
	if loaded {
		old.done <- false
	}
	return w
}

// Signal wakes and consumes the waiter registered for uid, if any. It is a
// no-op if no waiter is currently registered — the receive loop calls this
// unconditionally for every ACK it sees, whether or not anyone is waiting.
func (r *Registry) Signal(uid string) {
	r.TrySignal(uid)
}

// TrySignal is Signal's report form: it wakes and consumes the waiter
// registered for uid, if any, and reports whether one was found. The
// receive loop uses the return value to decide whether a response frame
// was claimed as an ACK or should be forwarded to Discovery as an
// echo-reply (spec §4.5).
func (r *Registry) TrySignal(uid string) bool {
	w, ok := r.m.LoadAndDelete(uid)
	if !ok {
		return false
	}
	w.done <- true
	return true
}

// Cancel removes the waiter registered for uid without signalling success.
// Used when a send loop gives up (timeout or final failure) so a stray
// late ACK doesn't get attributed to the next registration under the same
// UID.
func (r *Registry) Cancel(uid string) {
	r.m.Delete(uid)
}
