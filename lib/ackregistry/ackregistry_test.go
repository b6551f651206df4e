package ackregistry

import (
	"testing"
	"time"
)

func TestSignalWakesWaiter(t *testing.T) {
	r := New()
	w := r.Register("bob")
	go r.Signal("bob")
	if !w.Wait(time.Second) {
		t.Fatal("expected waiter to be signalled")
	}
}

func TestSignalWithoutWaiterIsNoop(t *testing.T) {
	r := New()
	r.Signal("nobody-waiting") // must not panic or block
}

func TestTimeoutWithoutSignal(t *testing.T) {
	r := New()
	w := r.Register("bob")
	if w.Wait(10 * time.Millisecond) {
		t.Fatal("expected Wait to time out")
	}
}

func TestCancelRemovesWaiter(t *testing.T) {
	r := New()
	r.Register("bob")
	r.Cancel("bob")
	// A signal after Cancel must be a no-op, not a send on a waiter no one holds.
	r.Signal("bob")
}

func TestSecondRegisterSupersedesFirst(t *testing.T) {
	r := New()
	first := r.Register("bob")
	second := r.Register("bob")

	if first.Wait(time.Second) {
		t.Fatal("superseded waiter should wake with false, not true")
	}

	go r.Signal("bob")
	if !second.Wait(time.Second) {
		t.Fatal("the live registration should still be signallable")
	}
}
