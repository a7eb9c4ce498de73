package ws

import (
	"fmt"
	"sync"

	"github.com/tbourn/go-chat-server/internal/services"
)

// Conn is a live transport session owned by one authenticated identity.
// The registry and the fan-out only ever see this interface; the concrete
// websocket client lives in client.go and tests substitute fakes.
type Conn interface {
	// ID returns the connection identifier, unique per transport session.
	ID() string
	// Send delivers one event frame to this connection. It must be safe
	// for concurrent use and must not block indefinitely; a closed or
	// saturated connection reports an error instead.
	Send(event string, payload any) error
}

// Registry maps live connections to the identities that own them. Many
// connections may belong to one identity (multiple devices or tabs).
//
// The registry is in-memory and process-local: it is rebuilt empty on
// every process start and requires safe concurrent mutation, not
// transactional semantics. All methods may be called from independent
// connection lifecycles concurrently.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]registryEntry
	byUser map[string]map[string]Conn
}

type registryEntry struct {
	userID string
	conn   Conn
}

// NewRegistry returns an empty registry, discarding any notion of state
// from a prior run.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Clear()
	return r
}

// Register records the mapping from a connection to its identity. It is
// idempotent per connection ID: re-registering the same connection for the
// same user is a no-op, and re-registering the ID under a new identity
// replaces the old mapping. Fails with services.ErrRegistration only when
// the connection is unusable.
func (r *Registry) Register(userID string, c Conn) error {
	if c == nil || c.ID() == "" || userID == "" {
		return fmt.Errorf("%w: connection and user id required", services.ErrRegistration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[c.ID()]; ok {
		r.removeLocked(prev.userID, c.ID())
	}
	r.byConn[c.ID()] = registryEntry{userID: userID, conn: c}
	conns := r.byUser[userID]
	if conns == nil {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	conns[c.ID()] = c
	return nil
}

// Unregister removes the mapping for a connection. Absent IDs are a no-op,
// not an error.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return
	}
	r.removeLocked(entry.userID, connID)
}

func (r *Registry) removeLocked(userID, connID string) {
	delete(r.byConn, connID)
	if conns, ok := r.byUser[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// Clear removes every mapping. The gateway invokes it exactly once at
// process start so that no stale state from a prior run survives.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn = make(map[string]registryEntry)
	r.byUser = make(map[string]map[string]Conn)
}

// ConnectionsForUser returns the (possibly empty) set of live connections
// for an identity; fan-out targets are resolved through it.
func (r *Registry) ConnectionsForUser(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// All returns every live connection across all users.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e.conn)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
