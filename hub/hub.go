package hub

import (
	"log/slog"
	"sync"

	"github.com/chloezql/breakingnews-sub001/domain"
)

type entry struct {
	conn domain.Connection
	peer domain.Peer
}

// Registry is the set of live connections and their classification. All
// read/mutate pairs run under mu, so a broadcast never sees a connection
// that is halfway through Unregister.
type Registry struct {
	clients map[string]*entry
	mu      sync.RWMutex
}

func New() *Registry {
	return &Registry{
		clients: make(map[string]*entry),
	}
}

func (r *Registry) Register(conn domain.Connection) {
	r.mu.Lock()
	if _, exists := r.clients[conn.ID()]; exists {
		r.mu.Unlock()
		return
	}
	r.clients[conn.ID()] = &entry{
		conn: conn,
		peer: domain.Peer{
			ConnID: conn.ID(),
			Role:   domain.RoleUnclassified,
		},
	}
	count := len(r.clients)
	r.mu.Unlock()

	slog.Info("client connected", "connId", conn.ID(), "clients", count)
}

// Classify records role and device identity for a connection. Only the first
// call for a connection takes effect; it reports whether this call did.
func (r *Registry) Classify(connID string, role domain.Role, deviceID, deviceType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.clients[connID]
	if !exists || e.peer.Classified() {
		return false
	}
	e.peer.Role = role
	e.peer.DeviceID = deviceID
	e.peer.DeviceType = deviceType
	return true
}

func (r *Registry) Unregister(conn domain.Connection) {
	r.mu.Lock()
	e, exists := r.clients[conn.ID()]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.clients, conn.ID())
	count := len(r.clients)
	r.mu.Unlock()

	slog.Info("client disconnected",
		"connId", conn.ID(),
		"role", e.peer.Role,
		"deviceId", e.peer.DeviceID,
		"clients", count,
	)
}

func (r *Registry) Lookup(connID string) (domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.clients[connID]
	if !exists {
		return domain.Peer{}, false
	}
	return e.peer, true
}

// ListByRole returns a snapshot of the connections currently holding role.
func (r *Registry) ListByRole(role domain.Role) []domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]domain.Connection, 0, len(r.clients))
	for _, e := range r.clients {
		if e.peer.Role == role {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

// Broadcast sends data to every connection listed under role except sender.
// Sends run on a snapshot, outside the lock. A failed delivery is logged and
// skipped; the rest are still attempted.
func (r *Registry) Broadcast(sender domain.Connection, role domain.Role, data []byte) (delivered, failed int) {
	for _, conn := range r.ListByRole(role) {
		if sender != nil && conn.ID() == sender.ID() {
			continue
		}
		if err := conn.Send(data); err != nil {
			failed++
			slog.Warn("delivery failed", "connId", conn.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered, failed
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) CountByRole() map[domain.Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[domain.Role]int{
		domain.RoleUnclassified: 0,
		domain.RoleScanner:      0,
		domain.RoleViewer:       0,
	}
	for _, e := range r.clients {
		counts[e.peer.Role]++
	}
	return counts
}
