package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulsewire/internal/metrics"
	"pulsewire/pkg/types"
)

// Handler processes one inbound message. Handlers are invoked in
// registration order; a handler's failure is isolated and logged so one
// broken handler cannot block its siblings or crash dispatch.
type Handler func(ctx context.Context, msg *types.Message) error

// dispatchTable maps message types to their ordered handler lists.
type dispatchTable struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func newDispatchTable(m *metrics.Metrics, log *zap.Logger) *dispatchTable {
	return &dispatchTable{
		handlers: make(map[string][]Handler),
		metrics:  m,
		log:      log,
	}
}

func (d *dispatchTable) register(msgType string, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = append(d.handlers[msgType], h)
}

func (d *dispatchTable) invoke(ctx context.Context, msg *types.Message) {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers[msg.Type]))
	copy(handlers, d.handlers[msg.Type])
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := d.invokeOne(ctx, h, msg); err != nil {
			d.metrics.HandlerFailuresTotal.Inc()
			d.log.Error("message handler failed",
				zap.String("message_type", msg.Type),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}

// invokeOne converts a handler panic into an error so dispatch survives
// arbitrary handler code.
func (d *dispatchTable) invokeOne(ctx context.Context, h Handler, msg *types.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

// RegisterHandler adds a handler for a message type. Multiple handlers per
// type are supported and run in registration order.
func (m *Manager) RegisterHandler(msgType string, h Handler) {
	m.dispatch.register(msgType, h)
}

// Dispatch routes a message through the registered handlers for its type.
// Unknown types are a no-op.
func (m *Manager) Dispatch(ctx context.Context, msg *types.Message) {
	if msg == nil {
		return
	}
	m.dispatch.invoke(ctx, msg)
}

// HandleInbound processes one raw frame from a connection: liveness stamp,
// counters, parse, then either the heartbeat fast path or the dispatch
// table. Malformed JSON is reported back to the sender as an error message,
// never a connection drop.
func (m *Manager) HandleInbound(ctx context.Context, connID string, data []byte) {
	m.totalReceived.Add(1)
	m.metrics.MessagesReceivedTotal.Inc()
	m.registry.RecordReceived(connID, len(data))
	m.registry.TouchHeartbeat(connID)

	member, exists := m.registry.GetConnection(connID)
	if !exists {
		return
	}

	if !m.limiter.allow(connID) {
		errMsg := types.NewMessage(types.TypeError, map[string]interface{}{
			"error": "rate limit exceeded",
		}).WithUser(member.Meta.UserID)
		m.SendPersonal(errMsg, member.Transport)
		return
	}

	var inbound types.Message
	if err := json.Unmarshal(data, &inbound); err != nil {
		errMsg := types.NewMessage(types.TypeError, map[string]interface{}{
			"error": "malformed message payload",
		}).WithUser(member.Meta.UserID)
		m.SendPersonal(errMsg, member.Transport)
		return
	}

	switch inbound.Type {
	case types.TypeHeartbeat, types.TypePing:
		pong := types.NewMessage(types.TypePong, map[string]interface{}{
			"server_time": time.Now().UTC().Format(time.RFC3339),
		}).WithUser(member.Meta.UserID)
		m.SendPersonal(pong, member.Transport)
		return
	}

	// Rebuild the envelope server-side: trusted addressing comes from the
	// connection's metadata, never from the client payload.
	msg := types.NewMessage(inbound.Type, inbound.Data).
		WithRoom(member.Meta.RoomID).
		WithUser(member.Meta.UserID)
	if inbound.Priority.Valid() {
		msg = msg.WithPriority(inbound.Priority)
	}

	if err := msg.Validate(); err != nil {
		errMsg := types.NewMessage(types.TypeError, map[string]interface{}{
			"error": err.Error(),
		}).WithUser(member.Meta.UserID)
		m.SendPersonal(errMsg, member.Transport)
		return
	}

	m.Dispatch(ctx, msg)
}

// registerBuiltins wires the reference inbound table: chat content fans out
// to the sender's room, typing indicators likewise.
func (m *Manager) registerBuiltins() {
	chat := func(ctx context.Context, msg *types.Message) error {
		if msg.RoomID == "" {
			return nil
		}
		fanout := msg
		if msg.Type != types.TypeChat {
			fanout = types.NewMessage(types.TypeChat, msg.Data).
				WithRoom(msg.RoomID).
				WithUser(msg.UserID).
				WithPriority(msg.Priority)
		}
		m.BroadcastToRoom(msg.RoomID, fanout)
		return nil
	}
	m.RegisterHandler(types.TypeMessage, chat)
	m.RegisterHandler(types.TypeChat, chat)

	m.RegisterHandler(types.TypeTyping, func(ctx context.Context, msg *types.Message) error {
		if msg.RoomID == "" {
			return nil
		}
		m.BroadcastToRoom(msg.RoomID, msg)
		return nil
	})
}
