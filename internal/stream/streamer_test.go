package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsewire/internal/manager"
	"pulsewire/internal/queue"
	"pulsewire/internal/registry"
	"pulsewire/pkg/types"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []*types.Message
}

func (f *fakeTransport) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := v.(*types.Message); ok {
		f.messages = append(f.messages, msg)
	}
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) lastOfType(msgType string) *types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].Type == msgType {
			return f.messages[i]
		}
	}
	return nil
}

func newTestStreamer(t *testing.T) (*Streamer, *manager.Manager) {
	t.Helper()
	reg := registry.NewRegistry(0)
	q := queue.NewQueue(queue.NewMemoryStore(100), time.Hour, nil)
	mgr := manager.NewManager(reg, q, nil, nil)
	return NewStreamer(mgr, nil, nil), mgr
}

func TestStreamer_SubscribeAndEmit(t *testing.T) {
	s, _ := newTestStreamer(t)

	var calls atomic.Int32
	s.Subscribe("demurrage_escalated", func(ctx context.Context, data map[string]interface{}) error {
		calls.Add(1)
		assert.Equal(t, "cntr-42", data["container_id"])
		return nil
	})
	s.Subscribe("demurrage_escalated", func(ctx context.Context, data map[string]interface{}) error {
		calls.Add(1)
		return nil
	})

	s.Emit(context.Background(), "demurrage_escalated", map[string]interface{}{"container_id": "cntr-42"})

	assert.Equal(t, int32(2), calls.Load())
}

func TestStreamer_EmitIsolatesFailures(t *testing.T) {
	s, _ := newTestStreamer(t)

	var healthyRan atomic.Bool
	s.Subscribe("event", func(ctx context.Context, data map[string]interface{}) error {
		panic("subscriber exploded")
	})
	s.Subscribe("event", func(ctx context.Context, data map[string]interface{}) error {
		return errors.New("subscriber failed")
	})
	s.Subscribe("event", func(ctx context.Context, data map[string]interface{}) error {
		healthyRan.Store(true)
		return nil
	})

	s.Emit(context.Background(), "event", nil)

	assert.True(t, healthyRan.Load(), "healthy subscriber must run despite sibling failures")
}

func TestStreamer_EmitUnknownEventIsNoop(t *testing.T) {
	s, _ := newTestStreamer(t)
	s.Emit(context.Background(), "never_subscribed", nil)
	s.Subscribe("event", nil) // nil subscriber ignored
	s.Emit(context.Background(), "event", nil)
}

func TestStreamer_BroadcastNotification(t *testing.T) {
	s, mgr := newTestStreamer(t)
	transport := &fakeTransport{}
	_, err := mgr.Connect(context.Background(), transport, "room-1", "alice", "", "")
	require.NoError(t, err)

	s.BroadcastNotification(context.Background(), "room-1", map[string]interface{}{"text": "shipment cleared"})

	msg := transport.lastOfType(types.TypeNotification)
	require.NotNil(t, msg)
	assert.Equal(t, "shipment cleared", msg.Data["text"])
	assert.Equal(t, "room-1", msg.RoomID)
	assert.Equal(t, types.PriorityNormal, msg.Priority)
}

func TestStreamer_BroadcastAlertSeverityMapping(t *testing.T) {
	tests := []struct {
		severity string
		want     types.Priority
	}{
		{"critical", types.PriorityCritical},
		{"high", types.PriorityHigh},
		{"medium", types.PriorityNormal},
		{"", types.PriorityNormal},
	}

	for _, tt := range tests {
		t.Run("severity "+tt.severity, func(t *testing.T) {
			s, mgr := newTestStreamer(t)
			transport := &fakeTransport{}
			_, err := mgr.Connect(context.Background(), transport, "room-1", "alice", "", "")
			require.NoError(t, err)

			s.BroadcastAlert(context.Background(), "room-1", tt.severity, map[string]interface{}{"text": "boom"})

			msg := transport.lastOfType(types.TypeAlert)
			require.NotNil(t, msg)
			assert.Equal(t, tt.want, msg.Priority)
			assert.Equal(t, tt.severity, msg.Data["severity"])
		})
	}
}

func TestStreamer_BroadcastAlertDoesNotMutateCallerData(t *testing.T) {
	s, mgr := newTestStreamer(t)
	_, err := mgr.Connect(context.Background(), &fakeTransport{}, "room-1", "alice", "", "")
	require.NoError(t, err)

	data := map[string]interface{}{"text": "boom"}
	s.BroadcastAlert(context.Background(), "room-1", "critical", data)

	_, leaked := data["severity"]
	assert.False(t, leaked)
}

func TestStreamer_BroadcastDashboardUpdate(t *testing.T) {
	s, mgr := newTestStreamer(t)
	transport := &fakeTransport{}
	_, err := mgr.Connect(context.Background(), transport, "room-1", "alice", "", "")
	require.NoError(t, err)

	s.BroadcastDashboardUpdate(context.Background(), "room-1", map[string]interface{}{"widget": "throughput"})

	msg := transport.lastOfType(types.TypeDashboardUpdate)
	require.NotNil(t, msg)
	assert.Equal(t, "throughput", msg.Data["widget"])
}

func TestStreamer_BroadcastMetricUpdate(t *testing.T) {
	s, mgr := newTestStreamer(t)
	transport := &fakeTransport{}
	_, err := mgr.Connect(context.Background(), transport, "room-1", "alice", "", "")
	require.NoError(t, err)

	s.BroadcastMetricUpdate(context.Background(), "room-1", "containers_in_yard", 128)

	msg := transport.lastOfType(types.TypeMetricUpdate)
	require.NotNil(t, msg)
	assert.Equal(t, "containers_in_yard", msg.Data["metric"])
	assert.Equal(t, 128, msg.Data["value"])
}

func TestStreamer_SendToUser_LiveAndOffline(t *testing.T) {
	s, mgr := newTestStreamer(t)
	ctx := context.Background()

	// Offline: message queued, zero deliveries reported.
	delivered := s.SendToUser(ctx, "alice", types.TypeNotification, map[string]interface{}{"text": "missed you"}, types.PriorityHigh)
	assert.Equal(t, 0, delivered)

	// Connect replays the queued message.
	transport := &fakeTransport{}
	_, err := mgr.Connect(ctx, transport, "room-1", "alice", "", "")
	require.NoError(t, err)

	queued := transport.lastOfType(types.TypeNotification)
	require.NotNil(t, queued)
	assert.Equal(t, "missed you", queued.Data["text"])
	assert.Equal(t, types.PriorityHigh, queued.Priority)

	// Live: delivered immediately.
	delivered = s.SendToUser(ctx, "alice", types.TypeNotification, map[string]interface{}{"text": "hello again"}, "")
	assert.Equal(t, 1, delivered)
}

func TestStreamer_SendToUserEmitsEvent(t *testing.T) {
	s, _ := newTestStreamer(t)

	var seen atomic.Bool
	s.Subscribe(types.TypeNotification, func(ctx context.Context, data map[string]interface{}) error {
		seen.Store(true)
		return nil
	})

	s.SendToUser(context.Background(), "alice", types.TypeNotification, nil, "")
	assert.True(t, seen.Load())
}
