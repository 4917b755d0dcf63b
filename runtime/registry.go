// Package runtime owns the live-connection state of the hub: the
// connection registry, presence tracking, message routing, and the
// per-connection session state machine.
package runtime

import (
	"sort"
	"sync"

	"chat-hub/contract"
	"chat-hub/domain"
	errs "chat-hub/errors"
)

type connSet map[domain.ConnectionID]contract.Connection

// Registry is the thread-safe mapping from UserID to that user's live
// connections, with a reverse index by connection id for O(1) removal.
// It is the only shared mutable structure of the hub; no caller ever
// iterates or mutates its maps directly.
type Registry struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]connSet
	byConn map[domain.ConnectionID]domain.UserID
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[domain.UserID]connSet),
		byConn: make(map[domain.ConnectionID]domain.UserID),
	}
}

// Register inserts a connection and reports whether it is the user's first
// live one. Registering the same connection id twice is a contract
// violation and fails with ErrDuplicateConnection without mutating state.
func (r *Registry) Register(userID domain.UserID, conn contract.Connection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[conn.ID()]; ok {
		return false, errs.ErrDuplicateConnection
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(connSet)
		r.byUser[userID] = set
	}
	first := len(set) == 0
	set[conn.ID()] = conn
	r.byConn[conn.ID()] = userID
	return first, nil
}

// Deregister removes a connection by id and reports whether it was the
// user's last one. An unknown id fails with ErrUnknownConnection; callers
// treat that as already-closed, non-fatal.
func (r *Registry) Deregister(connID domain.ConnectionID) (bool, domain.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return false, "", errs.ErrUnknownConnection
	}
	delete(r.byConn, connID)

	set := r.byUser[userID]
	delete(set, connID)
	if len(set) == 0 {
		// Absence of the key means the user is offline
		delete(r.byUser, userID)
		return true, userID, nil
	}
	return false, userID, nil
}

// ConnectionsFor returns a point-in-time snapshot, so callers are never
// racing with concurrent mutation nor holding the lock during delivery.
func (r *Registry) ConnectionsFor(userID domain.UserID) []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	conns := make([]contract.Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) IsOnline(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// OnlineUsers returns a snapshot of connected users for presence listing,
// sorted by user id for a stable output.
func (r *Registry) OnlineUsers() []domain.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]domain.OnlineUser, 0, len(r.byUser))
	for userID, set := range r.byUser {
		username := ""
		for _, c := range set {
			username = c.Username()
			break
		}
		users = append(users, domain.OnlineUser{UserID: userID, Username: username})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}
