package manager

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pulsewire/internal/metrics"
	"pulsewire/internal/queue"
	"pulsewire/internal/registry"
	"pulsewire/pkg/interfaces"
	"pulsewire/pkg/types"
)

// DefaultHeartbeatTimeout is the silence window after which a connection is
// eligible for eviction by the periodic sweep.
const DefaultHeartbeatTimeout = 5 * time.Minute

// Manager orchestrates connection lifecycle, broadcast fan-out, heartbeat
// emission and inbound message dispatch. It owns no shared mutable state of
// its own beyond the dispatch table; connection bookkeeping lives in the
// registry and undelivered messages in the offline queue.
type Manager struct {
	registry *registry.Registry
	queue    *queue.Queue
	metrics  *metrics.Metrics
	log      *zap.Logger

	dispatch *dispatchTable
	limiter  *rateLimiter

	totalCreated  atomic.Int64
	totalClosed   atomic.Int64
	totalSent     atomic.Int64
	totalReceived atomic.Int64
}

// Snapshot is a point-in-time view of the manager's counters. Values are
// advisory: they are not exactly consistent under concurrent mutation, which
// is acceptable for observability.
type Snapshot struct {
	ActiveConnections int       `json:"active_connections"`
	TotalCreated      int64     `json:"total_created"`
	TotalClosed       int64     `json:"total_closed"`
	TotalSent         int64     `json:"total_sent"`
	TotalReceived     int64     `json:"total_received"`
	QueuedMessages    int       `json:"queued_message_count"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewManager creates a connection manager. The chat and typing built-ins are
// pre-registered on the dispatch table; callers add their own handlers with
// RegisterHandler.
func NewManager(reg *registry.Registry, q *queue.Queue, m *metrics.Metrics, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}

	mgr := &Manager{
		registry: reg,
		queue:    q,
		metrics:  m,
		log:      log,
		dispatch: newDispatchTable(m, log),
		limiter:  newRateLimiter(DefaultInboundPerMinute),
	}
	mgr.registerBuiltins()
	return mgr
}

// Connect registers a transport and brings the new connection up to date:
// connection_established first, then the user's offline queue in original
// enqueue order, then the room membership snapshot, then a user_joined
// broadcast to peers. Register-then-flush guarantees a reconnecting user
// receives everything queued while absent before any new broadcast traffic.
//
// A capacity failure is returned untouched; the caller must close the
// transport and reject the handshake.
func (m *Manager) Connect(ctx context.Context, transport interfaces.Transport, roomID, userID, userEmail, userRole string) (string, error) {
	connID, err := m.registry.AddConnection(transport, roomID, userID, userEmail, userRole)
	if err != nil {
		return "", err
	}

	m.totalCreated.Add(1)
	m.metrics.ConnectsTotal.Inc()
	m.metrics.ActiveConnections.Set(float64(m.registry.CountTotal()))

	established := types.NewMessage(types.TypeConnectionEstablished, map[string]interface{}{
		"connection_id": connID,
		"user_id":       userID,
		"user_email":    userEmail,
		"user_role":     userRole,
	}).WithRoom(roomID).WithUser(userID)
	m.SendPersonal(established, transport)

	m.flushOfflineQueue(ctx, userID, transport)

	roomUsers := types.NewMessage(types.TypeRoomUsers, map[string]interface{}{
		"users": m.roomUserList(roomID),
	}).WithRoom(roomID)
	m.SendPersonal(roomUsers, transport)

	joined := types.NewMessage(types.TypeUserJoined, map[string]interface{}{
		"user_id":   userID,
		"user_role": userRole,
	}).WithRoom(roomID).WithUser(userID)
	m.BroadcastToRoom(roomID, joined, connID)

	m.log.Info("connection established",
		zap.String("connection_id", connID),
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("user_role", userRole))

	return connID, nil
}

// flushOfflineQueue delivers queued messages in FIFO order. If the transport
// dies mid-flush the remainder is re-queued so a later reconnect still sees
// it.
func (m *Manager) flushOfflineQueue(ctx context.Context, userID string, transport interfaces.Transport) {
	pending := m.queue.DequeueAll(ctx, userID)
	for i, msg := range pending {
		if !m.SendPersonal(msg, transport) {
			for _, remaining := range pending[i:] {
				m.queue.Enqueue(ctx, userID, remaining)
			}
			m.log.Warn("offline flush interrupted, remainder re-queued",
				zap.String("user_id", userID),
				zap.Int("requeued", len(pending)-i))
			return
		}
	}
	if len(pending) > 0 {
		m.log.Debug("offline queue flushed",
			zap.String("user_id", userID),
			zap.Int("delivered", len(pending)))
	}
}

// roomUserList builds the membership payload for a room_users snapshot,
// de-duplicating multi-tab users.
func (m *Manager) roomUserList(roomID string) []map[string]interface{} {
	members := m.registry.GetRoomConnections(roomID)
	seen := make(map[string]bool, len(members))
	users := make([]map[string]interface{}, 0, len(members))
	for _, member := range members {
		if seen[member.Meta.UserID] {
			continue
		}
		seen[member.Meta.UserID] = true
		users = append(users, map[string]interface{}{
			"user_id":    member.Meta.UserID,
			"user_email": member.Meta.UserEmail,
			"user_role":  member.Meta.UserRole,
		})
	}
	return users
}

// Disconnect removes a connection and notifies its room. Idempotent: calling
// it on an already-removed or unknown id is a no-op, since races between a
// natural disconnect and an administrative one are expected and benign.
func (m *Manager) Disconnect(connID string) {
	member, found := m.registry.GetConnection(connID)
	roomID, removed := m.registry.RemoveConnection(connID)
	if !removed {
		return
	}
	m.limiter.forget(connID)

	m.totalClosed.Add(1)
	m.metrics.DisconnectsTotal.Inc()
	m.metrics.ActiveConnections.Set(float64(m.registry.CountTotal()))

	if found {
		_ = member.Transport.Close()

		left := types.NewMessage(types.TypeUserLeft, map[string]interface{}{
			"user_id":   member.Meta.UserID,
			"user_role": member.Meta.UserRole,
		}).WithRoom(roomID).WithUser(member.Meta.UserID)
		m.BroadcastToRoom(roomID, left)

		m.log.Info("connection closed",
			zap.String("connection_id", connID),
			zap.String("room_id", roomID),
			zap.String("user_id", member.Meta.UserID))
	}
}

// SendPersonal attempts a direct write to one transport. Any transport error
// is converted to a false return, never a panic or propagated error; the
// broadcast loops use the boolean to decide eviction.
func (m *Manager) SendPersonal(msg *types.Message, transport interfaces.Transport) bool {
	if msg == nil || transport == nil {
		return false
	}
	if err := transport.WriteJSON(msg); err != nil {
		m.metrics.SendFailuresTotal.Inc()
		return false
	}
	m.totalSent.Add(1)
	m.metrics.MessagesSentTotal.Inc()
	return true
}

// BroadcastToRoom writes a message to every live member of a room except the
// excluded connection ids. Eviction of failed writers is deferred until the
// fan-out pass completes, so one failing peer cannot stall or skip delivery
// to healthy peers and the snapshot stays valid for the whole pass.
// Broadcasting into an empty room is a no-op.
func (m *Manager) BroadcastToRoom(roomID string, msg *types.Message, exclude ...string) {
	if msg.RoomID == "" {
		msg = msg.WithRoom(roomID)
	}
	m.metrics.BroadcastsTotal.WithLabelValues("room").Inc()
	m.fanOut(m.registry.GetRoomConnections(roomID), msg, nil, exclude)
}

// BroadcastToRole writes to room members whose role matches exactly. No role
// hierarchy is applied at this layer.
func (m *Manager) BroadcastToRole(roomID, role string, msg *types.Message) {
	if msg.RoomID == "" {
		msg = msg.WithRoom(roomID)
	}
	if msg.Role == "" {
		msg = msg.WithRole(role)
	}
	m.metrics.BroadcastsTotal.WithLabelValues("role").Inc()
	m.fanOut(m.registry.GetRoomConnections(roomID), msg, func(member registry.Member) bool {
		return member.Meta.UserRole == role
	}, nil)
}

// SendToUser delivers to every live connection the user holds (multi-tab).
// With no live connection the message is queued for the next connect; the
// same fallback applies when every live write fails.
func (m *Manager) SendToUser(ctx context.Context, userID string, msg *types.Message) int {
	if msg.UserID == "" {
		msg = msg.WithUser(userID)
	}
	members := m.registry.GetUserConnections(userID)
	if len(members) == 0 {
		m.queue.Enqueue(ctx, userID, msg)
		return 0
	}

	m.metrics.BroadcastsTotal.WithLabelValues("personal").Inc()
	delivered := m.fanOut(members, msg, nil, nil)
	if delivered == 0 {
		m.queue.Enqueue(ctx, userID, msg)
	}
	return delivered
}

// SendHeartbeat broadcasts a heartbeat message to a room and stamps each
// successful target's lastHeartbeat. Intended to be driven on a fixed
// interval by an external scheduler; the manager does not self-schedule.
func (m *Manager) SendHeartbeat(roomID string) {
	hb := types.NewMessage(types.TypeHeartbeat, map[string]interface{}{
		"server_time": time.Now().UTC().Format(time.RFC3339),
	}).WithRoom(roomID)

	m.metrics.BroadcastsTotal.WithLabelValues("heartbeat").Inc()

	members := m.registry.GetRoomConnections(roomID)
	size := approxSize(hb)
	var failed []string
	for _, member := range members {
		if m.SendPersonal(hb, member.Transport) {
			m.registry.TouchHeartbeat(member.Meta.ConnectionID)
			m.registry.RecordSent(member.Meta.ConnectionID, size)
		} else {
			failed = append(failed, member.Meta.ConnectionID)
		}
	}
	m.evict(failed)
}

// EvictStale disconnects connections silent beyond timeout. Advisory
// cleanup: a dead connection also self-evicts on its next failed write.
func (m *Manager) EvictStale(timeout time.Duration) int {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	stale := m.registry.StaleConnections(timeout)
	for _, connID := range stale {
		m.log.Info("evicting stale connection", zap.String("connection_id", connID))
		m.Disconnect(connID)
	}
	return len(stale)
}

// Metrics returns a point-in-time counter snapshot.
func (m *Manager) Metrics(ctx context.Context) Snapshot {
	queued := m.queue.Total(ctx)
	m.metrics.QueuedMessages.Set(float64(queued))
	return Snapshot{
		ActiveConnections: m.registry.CountTotal(),
		TotalCreated:      m.totalCreated.Load(),
		TotalClosed:       m.totalClosed.Load(),
		TotalSent:         m.totalSent.Load(),
		TotalReceived:     m.totalReceived.Load(),
		QueuedMessages:    queued,
		Timestamp:         time.Now().UTC(),
	}
}

// Registry exposes read access for the management surface.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// fanOut writes one message to a membership snapshot, skipping excluded
// connection ids and members rejected by the filter. Failed writers are
// collected and evicted after the full pass. Returns the delivery count.
func (m *Manager) fanOut(members []registry.Member, msg *types.Message, filter func(registry.Member) bool, exclude []string) int {
	size := approxSize(msg)
	delivered := 0
	var failed []string

	for _, member := range members {
		if containsID(exclude, member.Meta.ConnectionID) {
			continue
		}
		if filter != nil && !filter(member) {
			continue
		}
		if m.SendPersonal(msg, member.Transport) {
			m.registry.RecordSent(member.Meta.ConnectionID, size)
			delivered++
		} else {
			failed = append(failed, member.Meta.ConnectionID)
		}
	}

	m.evict(failed)
	return delivered
}

func (m *Manager) evict(connIDs []string) {
	for _, connID := range connIDs {
		m.log.Warn("evicting connection after write failure",
			zap.String("connection_id", connID))
		m.Disconnect(connID)
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// approxSize estimates the wire size of a message for per-connection byte
// counters, marshaling once per fan-out instead of once per target.
func approxSize(msg *types.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	return len(data)
}
