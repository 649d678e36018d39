package types

import (
	"time"

	"github.com/google/uuid"
)

// Message type discriminators shared by both directions of the wire protocol.
const (
	// Inbound (client -> server)
	TypeMessage   = "message" // chat content, normalized to TypeChat on fan-out
	TypeChat      = "chat"
	TypeTyping    = "typing"
	TypeHeartbeat = "heartbeat"
	TypePing      = "ping"

	// Outbound (server -> client)
	TypeConnectionEstablished = "connection_established"
	TypeRoomUsers             = "room_users"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypePong                  = "pong"
	TypeError                 = "error"
	TypeNotification          = "notification"
	TypeAlert                 = "alert"
	TypeDashboardUpdate       = "dashboard_update"
	TypeActivity              = "activity"
	TypeMetricUpdate          = "metric_update"
)

// Priority is carried end-to-end for UI treatment. It is advisory and does
// not affect delivery ordering.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityFromSeverity maps domain alert severities onto wire priorities.
// Unknown severities degrade to normal rather than failing.
func PriorityFromSeverity(severity string) Priority {
	switch severity {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Message is the wire envelope exchanged over every connection in both
// directions. A Message is immutable after construction; the With* helpers
// derive an addressed or reprioritized copy instead of mutating in place.
type Message struct {
	ID        string                 `json:"message_id"`
	Type      string                 `json:"type"`
	Role      string                 `json:"role,omitempty"`
	Priority  Priority               `json:"priority"`
	UserID    string                 `json:"user_id,omitempty"`
	RoomID    string                 `json:"room_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewMessage constructs an envelope with a server-generated id and timestamp.
// Server controls message ids to prevent client tampering.
func NewMessage(msgType string, data map[string]interface{}) *Message {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Priority:  PriorityNormal,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// WithRoom returns a copy addressed to a room.
func (m *Message) WithRoom(roomID string) *Message {
	c := *m
	c.RoomID = roomID
	return &c
}

// WithUser returns a copy addressed to a user.
func (m *Message) WithUser(userID string) *Message {
	c := *m
	c.UserID = userID
	return &c
}

// WithRole returns a copy carrying a target-role filter.
func (m *Message) WithRole(role string) *Message {
	c := *m
	c.Role = role
	return &c
}

// WithPriority returns a copy at the given priority.
func (m *Message) WithPriority(p Priority) *Message {
	c := *m
	c.Priority = p
	return &c
}
