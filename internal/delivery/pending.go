package delivery

import (
	"fmt"
	"sync"

	"edchat/internal/protocol"
)

// pendingTable correlates a client-chosen tempId with the send awaiting the
// durable-store acknowledgement. Entries are owned by the socket that
// created them; at most one entry may exist per (socketID, tempId) pair.
type pendingTable struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{} // socketID -> tempId set
}

func newPendingTable() *pendingTable {
	return &pendingTable{pending: make(map[string]map[string]struct{})}
}

// register claims a tempId for a socket. A duplicate before resolution is a
// client protocol violation, rejected rather than silently merged.
func (t *pendingTable) register(socketID, tempID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.pending[socketID]
	if set == nil {
		set = make(map[string]struct{})
		t.pending[socketID] = set
	}
	if _, dup := set[tempID]; dup {
		return fmt.Errorf("%w: %q still pending on socket %s", protocol.ErrDuplicateTempID, tempID, socketID)
	}
	set[tempID] = struct{}{}
	return nil
}

// resolve discards an entry once the send acked or definitively failed.
func (t *pendingTable) resolve(socketID, tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.pending[socketID]
	if set == nil {
		return
	}
	delete(set, tempID)
	if len(set) == 0 {
		delete(t.pending, socketID)
	}
}

// releaseSocket drops whatever the socket still has pending. In-flight sends
// resolve on their own; this only prevents leaks for sockets that vanished
// between register and resolve.
func (t *pendingTable) releaseSocket(socketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, socketID)
}
