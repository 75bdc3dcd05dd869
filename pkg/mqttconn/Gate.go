package mqttconn

import (
	"context"
	"sync"
)

// Gate defers work until a connection is established.
// Work that is queued while disconnected runs exactly once on the next connect. The gate
// only tracks state, it does not connect by itself.
type Gate struct {
	mutex     sync.Mutex
	connected bool
	pending   []func()
}

// Ensure runs onReady immediately when connected or queues it until the next connect.
// onReady runs without holding the gate lock so it can use the gate itself.
func (gate *Gate) Ensure(onReady func()) {
	if onReady == nil {
		return
	}
	gate.mutex.Lock()
	if !gate.connected {
		gate.pending = append(gate.pending, onReady)
		gate.mutex.Unlock()
		return
	}
	gate.mutex.Unlock()
	onReady()
}

// Wait blocks until connected or ctx ends
func (gate *Gate) Wait(ctx context.Context) error {
	ready := make(chan struct{})
	gate.Ensure(func() { close(ready) })
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected returns the last state set on the gate
func (gate *Gate) IsConnected() bool {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()
	return gate.connected
}

// PendingCount returns the number of queued callbacks
func (gate *Gate) PendingCount() int {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()
	return len(gate.pending)
}

// SetConnected marks the gate as connected and runs all queued callbacks in the order they
// were queued.
func (gate *Gate) SetConnected() {
	gate.mutex.Lock()
	gate.connected = true
	pending := gate.pending
	gate.pending = nil
	gate.mutex.Unlock()

	for _, onReady := range pending {
		onReady()
	}
}

// SetDisconnected marks the gate as disconnected. Callbacks from now on are queued.
func (gate *Gate) SetDisconnected() {
	gate.mutex.Lock()
	gate.connected = false
	gate.mutex.Unlock()
}

// NewGate creates a gate in the disconnected state
func NewGate() *Gate {
	return &Gate{}
}
