package stream

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pulsewire/internal/manager"
	"pulsewire/internal/metrics"
	"pulsewire/pkg/types"
)

// Subscriber observes a named domain event in-process. Synchronous and
// asynchronous consumers share this shape: a subscriber that needs deferred
// work starts it and returns, or blocks until done; Emit treats both the
// same way.
type Subscriber func(ctx context.Context, data map[string]interface{}) error

// Streamer is the routing facade between domain code and the connection
// manager. Domain triggers (demurrage escalation, compliance expiry,
// commission updates) hand it an event name plus payload and never import
// the manager directly, keeping transport concerns out of business code.
//
// It also carries an independent in-process subscriber registry so
// decoupled emitters can observe the same events.
type Streamer struct {
	manager *manager.Manager
	metrics *metrics.Metrics
	log     *zap.Logger

	mu   sync.RWMutex
	subs map[string][]Subscriber
}

// NewStreamer creates an event streamer over the given manager.
func NewStreamer(mgr *manager.Manager, m *metrics.Metrics, log *zap.Logger) *Streamer {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Streamer{
		manager: mgr,
		metrics: m,
		log:     log,
		subs:    make(map[string][]Subscriber),
	}
}

// Subscribe registers an in-process observer for an event type.
func (s *Streamer) Subscribe(eventType string, fn Subscriber) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[eventType] = append(s.subs[eventType], fn)
}

// Emit invokes every observer registered for the event type with the
// payload. Observers run concurrently and Emit waits for all of them; an
// observer's failure or panic is caught and logged, never aborting its
// siblings.
func (s *Streamer) Emit(ctx context.Context, eventType string, data map[string]interface{}) {
	s.mu.RLock()
	subs := make([]Subscriber, len(s.subs[eventType]))
	copy(subs, s.subs[eventType])
	s.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, fn := range subs {
		wg.Add(1)
		go func(fn Subscriber) {
			defer wg.Done()
			if err := s.invoke(ctx, fn, data); err != nil {
				s.metrics.HandlerFailuresTotal.Inc()
				s.log.Error("event subscriber failed",
					zap.String("event_type", eventType),
					zap.Error(err))
			}
		}(fn)
	}
	wg.Wait()
}

func (s *Streamer) invoke(ctx context.Context, fn Subscriber, data map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return fn(ctx, data)
}

// BroadcastNotification fans a notification out to a room at normal
// priority.
func (s *Streamer) BroadcastNotification(ctx context.Context, roomID string, data map[string]interface{}) {
	msg := types.NewMessage(types.TypeNotification, data).WithRoom(roomID)
	s.manager.BroadcastToRoom(roomID, msg)
	s.Emit(ctx, types.TypeNotification, data)
}

// BroadcastAlert fans an alert out to a room with the severity mapped onto
// the wire priority (critical -> critical, high -> high, else normal).
func (s *Streamer) BroadcastAlert(ctx context.Context, roomID, severity string, data map[string]interface{}) {
	payload := withField(data, "severity", severity)
	msg := types.NewMessage(types.TypeAlert, payload).
		WithRoom(roomID).
		WithPriority(types.PriorityFromSeverity(severity))
	s.manager.BroadcastToRoom(roomID, msg)
	s.Emit(ctx, types.TypeAlert, payload)
}

// BroadcastDashboardUpdate pushes a dashboard delta to every connection
// watching a room.
func (s *Streamer) BroadcastDashboardUpdate(ctx context.Context, roomID string, data map[string]interface{}) {
	msg := types.NewMessage(types.TypeDashboardUpdate, data).WithRoom(roomID)
	s.manager.BroadcastToRoom(roomID, msg)
	s.Emit(ctx, types.TypeDashboardUpdate, data)
}

// BroadcastMetricUpdate pushes a single metric delta to a room.
func (s *Streamer) BroadcastMetricUpdate(ctx context.Context, roomID, metric string, value interface{}) {
	data := map[string]interface{}{"metric": metric, "value": value}
	msg := types.NewMessage(types.TypeMetricUpdate, data).WithRoom(roomID)
	s.manager.BroadcastToRoom(roomID, msg)
	s.Emit(ctx, types.TypeMetricUpdate, data)
}

// BroadcastActivity records a user-visible activity event in a room.
func (s *Streamer) BroadcastActivity(ctx context.Context, roomID string, data map[string]interface{}) {
	msg := types.NewMessage(types.TypeActivity, data).WithRoom(roomID)
	s.manager.BroadcastToRoom(roomID, msg)
	s.Emit(ctx, types.TypeActivity, data)
}

// SendToUser addresses a typed message at one user, live or offline: live
// connections receive it immediately, otherwise it lands in the offline
// queue for the next connect. Returns the number of live deliveries.
func (s *Streamer) SendToUser(ctx context.Context, userID, msgType string, data map[string]interface{}, priority types.Priority) int {
	msg := types.NewMessage(msgType, data).WithUser(userID)
	if priority.Valid() {
		msg = msg.WithPriority(priority)
	}
	delivered := s.manager.SendToUser(ctx, userID, msg)
	s.Emit(ctx, msgType, data)
	return delivered
}

// withField copies data with one extra field, leaving the caller's map
// untouched.
func withField(data map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[key] = value
	return out
}
