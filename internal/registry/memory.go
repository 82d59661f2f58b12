package registry

import (
	"context"
	"sync"
)

// MemoryRegistry is the in-process Registry used by a single-instance
// relay.
type MemoryRegistry struct {
	mu     sync.RWMutex
	byUser map[string]string // userID -> connID
	byConn map[string]string // connID -> userID
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A connection re-registering as a different user drops its old
	// association first.
	if prev, ok := r.byConn[connID]; ok && r.byUser[prev] == connID {
		delete(r.byUser, prev)
	}

	if prevConn, ok := r.byUser[userID]; ok {
		delete(r.byConn, prevConn)
	}

	r.byUser[userID] = connID
	r.byConn[connID] = userID
	return nil
}

func (r *MemoryRegistry) DeregisterConn(ctx context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	delete(r.byConn, connID)
	if r.byUser[userID] == connID {
		delete(r.byUser, userID)
	}
	return nil
}

func (r *MemoryRegistry) Lookup(ctx context.Context, userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

func (r *MemoryRegistry) Close() error {
	return nil
}
