package bridge

import (
	"testing"
	"time"
)

func TestFlusher_BatchBoundary(t *testing.T) {
	f := newFlusher(3, time.Hour)
	defer f.stop()

	if f.observe() {
		t.Error("commit after 1 frame")
	}
	if f.observe() {
		t.Error("commit after 2 frames")
	}
	if !f.observe() {
		t.Error("no commit at batch boundary")
	}
	if f.hasPending() {
		t.Error("pending after boundary commit")
	}
	// Boundary commit disarms the timer; nothing is buffered.
	if f.c() != nil {
		t.Error("timer armed with nothing pending")
	}
}

func TestFlusher_InactivityFire(t *testing.T) {
	f := newFlusher(10, 5*time.Millisecond)
	defer f.stop()

	f.observe()
	f.observe()

	ch := f.c()
	if ch == nil {
		t.Fatal("timer not armed after frames")
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("inactivity timer never fired")
	}
	if !f.fire() {
		t.Error("fire with pending frames returned false")
	}
	if f.hasPending() {
		t.Error("pending after fire")
	}
	if f.fire() {
		t.Error("second fire committed again")
	}
}

func TestFlusher_NoDoubleCommitInOneTick(t *testing.T) {
	f := newFlusher(2, 5*time.Millisecond)
	defer f.stop()

	f.observe()
	if !f.observe() {
		t.Fatal("no commit at boundary")
	}
	// The boundary commit already flushed; a stale timer tick must not
	// produce a second commit.
	if f.fire() {
		t.Error("timer fire committed after boundary commit")
	}
}

func TestFlusher_PendingOnStop(t *testing.T) {
	f := newFlusher(10, time.Hour)
	defer f.stop()

	for i := 0; i < 7; i++ {
		f.observe()
	}
	if !f.hasPending() {
		t.Fatal("7 of 10 frames not pending")
	}
	f.drop()
	if f.hasPending() {
		t.Error("pending after drop")
	}
}
