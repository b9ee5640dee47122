// Package bridges tracks in-flight bridged calls so shutdown can drain them.
package bridges

import (
	"context"
	"sync"
)

// Handle lets the tracker tear down one bridge.
type Handle struct {
	Cancel func()
}

type Tracker struct {
	mu      sync.Mutex
	bridges map[string]*trackedBridge
	wg      sync.WaitGroup
}

type trackedBridge struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		bridges: make(map[string]*trackedBridge),
	}
}

// Register tracks one bridge under its session id. Registering the same id
// again supersedes the previous entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedBridge{handle: h}

	t.mu.Lock()
	if t.bridges == nil {
		t.bridges = make(map[string]*trackedBridge)
	}
	old := t.bridges[sessionID]
	t.bridges[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedBridge) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.bridges != nil && t.bridges[sessionID] == entry {
			delete(t.bridges, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bridges)
}

// CancelAll tears down every tracked bridge.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.bridges {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every tracked bridge unregisters or ctx expires.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
