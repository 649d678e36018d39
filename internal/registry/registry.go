package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsewire/pkg/interfaces"
)

// DefaultMaxConnectionsPerRoom bounds room fan-out cost and is the only
// admission control applied at registration time.
const DefaultMaxConnectionsPerRoom = 500

// ConnectionMetadata describes one live connection. A user may hold several
// connections (multiple tabs), each with its own connection id.
type ConnectionMetadata struct {
	ConnectionID  string    `json:"connection_id"`
	UserID        string    `json:"user_id"`
	UserEmail     string    `json:"user_email"`
	UserRole      string    `json:"user_role"`
	RoomID        string    `json:"room_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	MessageCount  int64     `json:"message_count"`
	BytesSent     int64     `json:"bytes_sent"`
	BytesReceived int64     `json:"bytes_received"`
}

// Member is the cross-boundary view of a registered connection: the live
// transport handle plus a value copy of its metadata. Callers may iterate
// and write without holding any registry lock.
type Member struct {
	Transport interfaces.Transport
	Meta      ConnectionMetadata
}

// entry is the internally owned record; meta is guarded by Registry.mu.
type entry struct {
	transport interfaces.Transport
	meta      ConnectionMetadata
}

// Registry owns the mapping from room to live connections. Rooms are pure
// grouping keys: a room's bucket is created on first member and deleted with
// its last member, so emptied rooms leave no residual allocation.
//
// Every read and mutation is serialized through a single RWMutex, and all
// cross-boundary returns are copies; no caller is ever handed a reference
// into internal state.
type Registry struct {
	mu         sync.RWMutex
	maxPerRoom int
	conns      map[string]*entry            // connectionID -> entry
	rooms      map[string]map[string]*entry // roomID -> connectionID -> entry
	users      map[string]map[string]*entry // userID -> connectionID -> entry
}

// NewRegistry creates a connection registry. maxPerRoom <= 0 selects the
// default capacity.
func NewRegistry(maxPerRoom int) *Registry {
	if maxPerRoom <= 0 {
		maxPerRoom = DefaultMaxConnectionsPerRoom
	}
	return &Registry{
		maxPerRoom: maxPerRoom,
		conns:      make(map[string]*entry),
		rooms:      make(map[string]map[string]*entry),
		users:      make(map[string]map[string]*entry),
	}
}

// AddConnection registers a live connection and returns its connection id.
// Fails with ErrRoomFull if the room already holds maxPerRoom connections;
// the caller must close the transport on this failure. Capacity is checked
// and enforced under the same lock that inserts, so the limit holds at every
// observable instant.
func (r *Registry) AddConnection(transport interfaces.Transport, roomID, userID, userEmail, userRole string) (string, error) {
	if transport == nil {
		return "", ErrNilTransport
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.rooms[roomID]) >= r.maxPerRoom {
		return "", ErrRoomFull
	}

	now := time.Now().UTC()
	e := &entry{
		transport: transport,
		meta: ConnectionMetadata{
			ConnectionID:  uuid.New().String(),
			UserID:        userID,
			UserEmail:     userEmail,
			UserRole:      userRole,
			RoomID:        roomID,
			ConnectedAt:   now,
			LastHeartbeat: now,
		},
	}

	connID := e.meta.ConnectionID
	r.conns[connID] = e

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*entry)
	}
	r.rooms[roomID][connID] = e

	if r.users[userID] == nil {
		r.users[userID] = make(map[string]*entry)
	}
	r.users[userID][connID] = e

	return connID, nil
}

// RemoveConnection deregisters a connection and returns the room it belonged
// to so the caller can run post-removal hooks. Idempotent: removing an
// unknown id reports ok=false without error. Removing the last connection of
// a room deletes the room's bucket.
func (r *Registry) RemoveConnection(connID string) (roomID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.conns[connID]
	if !exists {
		return "", false
	}

	roomID = e.meta.RoomID
	userID := e.meta.UserID
	delete(r.conns, connID)

	if room, exists := r.rooms[roomID]; exists {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if user, exists := r.users[userID]; exists {
		delete(user, connID)
		if len(user) == 0 {
			delete(r.users, userID)
		}
	}

	return roomID, true
}

// GetConnection returns a snapshot of one connection.
func (r *Registry) GetConnection(connID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.conns[connID]
	if !exists {
		return Member{}, false
	}
	return Member{Transport: e.transport, Meta: e.meta}, true
}

// GetRoomConnections returns a copy of the room's membership, not a live
// view, so callers can fan out without holding the registry lock during I/O.
func (r *Registry) GetRoomConnections(roomID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	members := make([]Member, 0, len(room))
	for _, e := range room {
		members = append(members, Member{Transport: e.transport, Meta: e.meta})
	}
	return members
}

// GetUserConnections returns snapshots of every live connection held by a
// user across all rooms (multi-tab sessions).
func (r *Registry) GetUserConnections(userID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user := r.users[userID]
	members := make([]Member, 0, len(user))
	for _, e := range user {
		members = append(members, Member{Transport: e.transport, Meta: e.meta})
	}
	return members
}

// CountTotal returns the number of live connections. O(1).
func (r *Registry) CountTotal() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountInRoom returns the number of live connections in a room. O(1).
func (r *Registry) CountInRoom(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomIDs returns the ids of all rooms with at least one connection.
func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// TouchHeartbeat stamps a connection's liveness. No-op for unknown ids.
func (r *Registry) TouchHeartbeat(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.conns[connID]; exists {
		e.meta.LastHeartbeat = time.Now().UTC()
	}
}

// RecordSent accumulates outbound observability counters for a connection.
func (r *Registry) RecordSent(connID string, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.conns[connID]; exists {
		e.meta.MessageCount++
		e.meta.BytesSent += int64(bytes)
	}
}

// RecordReceived accumulates inbound observability counters for a connection.
func (r *Registry) RecordReceived(connID string, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.conns[connID]; exists {
		e.meta.BytesReceived += int64(bytes)
	}
}

// StaleConnections returns the ids of connections silent beyond timeout,
// measured via LastHeartbeat. The caller decides eviction; a dead connection
// also self-evicts the next time a broadcast write to it fails.
func (r *Registry) StaleConnections(timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-timeout)
	var stale []string
	for connID, e := range r.conns {
		if e.meta.LastHeartbeat.Before(cutoff) {
			stale = append(stale, connID)
		}
	}
	return stale
}

// Stats returns registry counts for monitoring without exposing internal
// structure.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.conns),
		"active_rooms":      len(r.rooms),
	}
}
